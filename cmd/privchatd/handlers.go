package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/privchat/privchat/internal/channel"
	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/devicestate"
	"github.com/privchat/privchat/internal/gateway"
	"github.com/privchat/privchat/internal/loginrisk"
	"github.com/privchat/privchat/internal/message"
	"github.com/privchat/privchat/internal/metrics"
	"github.com/privchat/privchat/internal/session"
	"github.com/privchat/privchat/internal/store"
	syncsvc "github.com/privchat/privchat/internal/sync"
	"github.com/privchat/privchat/internal/wire"
)

// connDispatcher is the single conn.TransportSink handed to every
// internal/conn.Registry: it fans a (sessionID, packet) send out to
// whichever live *ws.Conn currently owns that session, since the
// registry itself only ever knows session IDs, not transport objects.
type connDispatcher struct {
	mu    sync.RWMutex
	sinks map[string]conn.TransportSink
}

func newConnDispatcher() *connDispatcher {
	return &connDispatcher{sinks: make(map[string]conn.TransportSink)}
}

func (d *connDispatcher) register(sessionID string, sink conn.TransportSink) {
	d.mu.Lock()
	d.sinks[sessionID] = sink
	d.mu.Unlock()
}

func (d *connDispatcher) unregister(sessionID string) {
	d.mu.Lock()
	delete(d.sinks, sessionID)
	d.mu.Unlock()
}

func (d *connDispatcher) Send(ctx context.Context, sessionID string, packet []byte) error {
	d.mu.RLock()
	sink, ok := d.sinks[sessionID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("privchatd: no live connection for session %s", sessionID)
	}
	return sink.Send(ctx, sessionID, packet)
}

func (d *connDispatcher) Disconnect(sessionID string, reason string) {
	d.mu.RLock()
	sink, ok := d.sinks[sessionID]
	d.mu.RUnlock()
	if ok {
		sink.Disconnect(sessionID, reason)
	}
}

var _ conn.TransportSink = (*connDispatcher)(nil)

// authorizationHandler implements spec §4.F's verification path: verify
// the token and device session, record a login-log row and score risk
// the first time this token is seen, then bind the session and register
// the connection for unicast push.
func authorizationHandler(
	devices *devicestate.Manager,
	risk *loginrisk.Scorer,
	logins store.LoginLogRepository,
	sessions *session.Registry,
	connReg *conn.Registry,
) func(context.Context, *gateway.Session, wire.AuthorizationRequest) wire.AuthorizationResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.AuthorizationRequest) wire.AuthorizationResponse {
		outcome, claims, err := devices.VerifyConnection(ctx, req.AuthToken, req.DeviceInfo.DeviceID)
		if err != nil {
			return wire.AuthorizationResponse{Success: false, ErrorCode: wire.ErrInvalidToken, ErrorMessage: err.Error()}
		}
		if outcome != devicestate.Valid {
			return wire.AuthorizationResponse{Success: false, ErrorCode: string(outcome)}
		}

		userID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			return wire.AuthorizationResponse{Success: false, ErrorCode: wire.ErrInvalidToken, ErrorMessage: "malformed subject claim"}
		}

		if alreadyLogged, err := risk.IsTokenLogged(ctx, claims.ID); err == nil && !alreadyLogged {
			result, err := risk.Score(ctx, userID, claims.DeviceID, sess.IPAddress)
			if err == nil {
				_ = logins.Insert(ctx, &store.LoginLog{
					UserID:         userID,
					DeviceID:       claims.DeviceID,
					TokenJTI:       claims.ID,
					TokenCreatedAt: claims.IssuedAt.Time,
					DeviceType:     deviceTypeFromWire(req.DeviceInfo.DeviceType),
					DeviceName:     req.DeviceInfo.DeviceName,
					DeviceModel:    req.DeviceInfo.DeviceModel,
					OSVersion:      req.DeviceInfo.OSVersion,
					AppID:          req.DeviceInfo.AppID,
					AppVersion:     req.DeviceInfo.AppVersion,
					IPAddress:      sess.IPAddress,
					LoginMethod:    "token",
					Status:         result.Status,
					RiskScore:      result.Score,
					IsNewDevice:    result.IsNewDevice,
					IsNewLocation:  result.IsNewLocation,
					RiskFactors:    result.Factors,
				})
				if result.Status == store.LoginBlocked {
					return wire.AuthorizationResponse{Success: false, ErrorCode: "LOGIN_BLOCKED", ErrorMessage: "connection blocked by risk policy"}
				}
			}
		}

		sess.UserID = userID
		sess.DeviceID = claims.DeviceID
		sess.Authed = true

		sessions.Bind(sess.ID, userID, claims.DeviceID, map[string]any{
			"jti":             claims.ID,
			"session_version": claims.SessionVersion,
		})
		connReg.Register(userID, claims.DeviceID, sess.ID)
		metrics.LiveSessions.Add(1)

		return wire.AuthorizationResponse{
			Success:           true,
			SessionID:         sess.ID,
			UserID:            userID,
			ConnectionID:      sess.ID,
			ServerInfo:        "privchatd",
			HeartbeatInterval: 30,
		}
	}
}

func deviceTypeFromWire(s string) store.DeviceType {
	switch s {
	case "ios":
		return store.DeviceIOS
	case "android":
		return store.DeviceAndroid
	case "macos":
		return store.DeviceMacOS
	case "windows":
		return store.DeviceWindows
	case "linux":
		return store.DeviceLinux
	case "web":
		return store.DeviceWeb
	default:
		return store.DeviceUnknown
	}
}

// rpcHandler dispatches wire.RPCRequest.Route to the sync, channel and
// message-revoke services, per spec §6's RPC routes.
func rpcHandler(sync *syncsvc.Service, channels *channel.Service, sessions *session.Registry, pipeline *message.Pipeline) func(context.Context, *gateway.Session, wire.RPCRequest) wire.RPCResponse {
	return func(ctx context.Context, sess *gateway.Session, req wire.RPCRequest) wire.RPCResponse {
		switch req.Route {
		case wire.RouteSessionReady:
			sessions.MarkReady(sess.ID)
			return wire.RPCResponse{Code: 0, Message: "ready"}

		case wire.RouteSyncChannel:
			channelID := paramUint(req.Params, "channel_id")
			clientPts := paramUint(req.Params, "client_pts")
			limit := int(paramUint(req.Params, "limit"))
			page, err := sync.SyncChannel(ctx, sess.ID, channelID, clientPts, limit)
			if err != nil {
				return wire.RPCResponse{Code: 500, Message: err.Error()}
			}
			return wire.RPCResponse{Code: 0, Result: page}

		case wire.RouteSyncEntities:
			sinceVersion := paramUint(req.Params, "since_version")
			limit := int(paramUint(req.Params, "limit"))
			page, err := sync.SyncEntities(ctx, sess.UserID, sinceVersion, limit)
			if err != nil {
				return wire.RPCResponse{Code: 500, Message: err.Error()}
			}
			return wire.RPCResponse{Code: 0, Result: page}

		case wire.RouteChannelMarkRead:
			channelID := paramUint(req.Params, "channel_id")
			readPts := paramUint(req.Params, "read_pts")
			newPts, err := channels.MarkReadPts(ctx, channelID, sess.UserID, readPts)
			if err != nil {
				return wire.RPCResponse{Code: 500, Message: err.Error()}
			}
			return wire.RPCResponse{Code: 0, Result: map[string]uint64{"last_read_pts": newPts}}

		case wire.RouteMessageRevoke:
			messageID := paramUint(req.Params, "message_id")
			resp := pipeline.RevokeMessage(ctx, sess.UserID, messageID)
			if resp.ReasonCode != wire.ReasonSuccess {
				return wire.RPCResponse{Code: 400, Message: resp.ReasonMessage}
			}
			return wire.RPCResponse{Code: 0, Result: resp}

		default:
			return wire.RPCResponse{Code: 404, Message: fmt.Sprintf("unknown route %q", req.Route)}
		}
	}
}

// paramUint reads an RPC param that arrived as a JSON number (decoded by
// encoding/json into float64 inside the map[string]any Params bag).
func paramUint(params map[string]any, key string) uint64 {
	v, ok := params[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case string:
		u, _ := strconv.ParseUint(n, 10, 64)
		return u
	default:
		return 0
	}
}

// registerDebugHandlers exposes the Prometheus registry and expvar
// counters on the debug mux, kept separate from the gateway's own
// listener so metrics scraping never competes with client traffic.
func registerDebugHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
