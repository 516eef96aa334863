// Package gateway implements the per-connection dispatch loop (spec
// §5): decode a wire frame, route it by biz_type to a handler, encode
// the response, with a non-blocking admission semaphore shielding the
// handler pool from an overload burst.
//
// Grounded on server/session.go's dispatch/dispatchRaw switch-based
// routing (decode -> switch on message kind -> handler method) and
// queueOut's non-blocking-with-timeout send (the same
// "never block the caller, count the rejection" shape applied here to
// admission instead of egress).
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/privchat/privchat/internal/metrics"
	"github.com/privchat/privchat/internal/wire"
)

// Session is the per-connection state the gateway dispatches against.
type Session struct {
	ID        string
	UserID    uint64
	DeviceID  string
	Authed    bool
	IPAddress string
}

// Handlers bundles the biz_type -> behavior bindings. Each field is
// optional: an unset Ping answers with a zero PongResponse, an unset
// Disconnect answers Ack=true, and any other unset handler makes
// Dispatch return an error with no response frame.
type Handlers struct {
	Authorization func(ctx context.Context, sess *Session, req wire.AuthorizationRequest) wire.AuthorizationResponse
	Ping          func(ctx context.Context, sess *Session, req wire.PingRequest) wire.PongResponse
	Disconnect    func(ctx context.Context, sess *Session, req wire.DisconnectRequest) wire.DisconnectResponse
	Subscribe     func(ctx context.Context, sess *Session, req wire.SubscribeRequest) wire.SubscribeResponse
	SendMessage   func(ctx context.Context, sess *Session, req wire.SendMessageRequest) wire.SendMessageResponse
	RPC           func(ctx context.Context, sess *Session, req wire.RPCRequest) wire.RPCResponse
}

// Gateway owns a bounded admission semaphore shared by every connection's
// handler dispatch, so a burst on one connection can't starve the rest.
type Gateway struct {
	handlers Handlers
	sem      chan struct{}
}

// New builds a Gateway with maxInFlight concurrent handler invocations
// admitted at once. A handler call beyond that limit is rejected
// immediately rather than queued.
func New(handlers Handlers, maxInFlight int) *Gateway {
	if maxInFlight <= 0 {
		maxInFlight = 1024
	}
	return &Gateway{handlers: handlers, sem: make(chan struct{}, maxInFlight)}
}

// ErrAdmissionRejected is returned when the handler semaphore is saturated.
var ErrAdmissionRejected = errors.New("gateway: handler admission rejected, server busy")

// Dispatch decodes one frame's body per its biz_type, invokes the bound
// handler under the admission semaphore, and returns the encoded
// response frame (biz_type + JSON body) ready to write back.
func (g *Gateway) Dispatch(ctx context.Context, sess *Session, biz wire.BizType, body []byte) (wire.BizType, []byte, error) {
	select {
	case g.sem <- struct{}{}:
		defer func() { <-g.sem }()
	default:
		metrics.HandlerRejectedTotal.Inc()
		return 0, nil, ErrAdmissionRejected
	}

	switch biz {
	case wire.BizAuthorization:
		return g.handleAuthorization(ctx, sess, body)
	case wire.BizPing:
		return g.handlePing(ctx, sess, body)
	case wire.BizDisconnect:
		return g.handleDisconnect(ctx, sess, body)
	case wire.BizSubscribe:
		return g.handleSubscribe(ctx, sess, body)
	case wire.BizSendMessage:
		return g.handleSendMessage(ctx, sess, body)
	case wire.BizRPC:
		return g.handleRPC(ctx, sess, body)
	default:
		return 0, nil, fmt.Errorf("gateway: unknown biz_type %d", biz)
	}
}

func (g *Gateway) handleAuthorization(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.AuthorizationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, fmt.Errorf("gateway: decode authorization: %w", err)
	}
	if g.handlers.Authorization == nil {
		return 0, nil, fmt.Errorf("gateway: no authorization handler bound")
	}
	resp := g.handlers.Authorization(ctx, sess, req)
	return encode(wire.BizAuthorization, resp)
}

func (g *Gateway) handlePing(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.PingRequest
	_ = json.Unmarshal(body, &req)
	if g.handlers.Ping == nil {
		return encode(wire.BizPing, wire.PongResponse{})
	}
	return encode(wire.BizPing, g.handlers.Ping(ctx, sess, req))
}

func (g *Gateway) handleDisconnect(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.DisconnectRequest
	_ = json.Unmarshal(body, &req)
	if g.handlers.Disconnect == nil {
		return encode(wire.BizDisconnect, wire.DisconnectResponse{Ack: true})
	}
	return encode(wire.BizDisconnect, g.handlers.Disconnect(ctx, sess, req))
}

func (g *Gateway) handleSubscribe(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.SubscribeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, fmt.Errorf("gateway: decode subscribe: %w", err)
	}
	if g.handlers.Subscribe == nil {
		return 0, nil, fmt.Errorf("gateway: no subscribe handler bound")
	}
	return encode(wire.BizSubscribe, g.handlers.Subscribe(ctx, sess, req))
}

func (g *Gateway) handleSendMessage(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.SendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, fmt.Errorf("gateway: decode send_message: %w", err)
	}
	req.FromUID = sess.UserID
	if g.handlers.SendMessage == nil {
		return 0, nil, fmt.Errorf("gateway: no send_message handler bound")
	}
	return encode(wire.BizSendMessage, g.handlers.SendMessage(ctx, sess, req))
}

func (g *Gateway) handleRPC(ctx context.Context, sess *Session, body []byte) (wire.BizType, []byte, error) {
	var req wire.RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, nil, fmt.Errorf("gateway: decode rpc: %w", err)
	}
	if g.handlers.RPC == nil {
		return 0, nil, fmt.Errorf("gateway: no rpc handler bound")
	}
	return encode(wire.BizRPC, g.handlers.RPC(ctx, sess, req))
}

func encode(biz wire.BizType, v any) (wire.BizType, []byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("gateway: encode response for biz_type %d: %v", biz, err)
		return 0, nil, err
	}
	return biz, body, nil
}
