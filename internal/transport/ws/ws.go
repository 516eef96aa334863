// Package ws binds the gateway's generic frame dispatch to a WebSocket
// connection: one read pump decoding inbound frames, one write pump
// draining a per-connection outbound channel.
//
// Grounded on server/session.go's ws *websocket.Conn field and its
// send chan []byte / queueOut non-blocking-send idiom, adapted from a
// single shared outbound channel per logical session into one physical
// connection's read/write pump pair.
package ws

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/privchat/privchat/internal/conn"
	"github.com/privchat/privchat/internal/gateway"
	"github.com/privchat/privchat/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one live WebSocket connection bound to a gateway session.
type Conn struct {
	ws      *websocket.Conn
	session *gateway.Session
	gw      *gateway.Gateway
	send    chan []byte
	onClose func(sessionID string)
}

// Accept upgrades an HTTP request to a WebSocket and starts the
// connection's read/write pumps. It returns once the connection closes.
// onOpen, if non-nil, is called with the new session's ID and the Conn
// itself as a conn.TransportSink, so a caller can register it as the
// route a later push for this session should be sent through.
func Accept(w http.ResponseWriter, r *http.Request, gw *gateway.Gateway, onOpen func(sessionID string, sink conn.TransportSink), onClose func(sessionID string)) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Conn{
		ws:      wsConn,
		session: &gateway.Session{ID: uuid.NewString(), IPAddress: remoteIP(r)},
		gw:      gw,
		send:    make(chan []byte, sendBuffer),
		onClose: onClose,
	}

	if onOpen != nil {
		onOpen(c.session.ID, c)
	}

	go c.writePump()
	c.readPump()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Send implements conn.TransportSink for push fan-out from the message pipeline.
func (c *Conn) Send(ctx context.Context, sessionID string, packet []byte) error {
	select {
	case c.send <- packet:
		return nil
	case <-time.After(50 * time.Microsecond):
		return errWriteTimeout
	}
}

// Disconnect implements conn.TransportSink: force-closes the connection,
// used when a new login on the same device evicts this session.
func (c *Conn) Disconnect(sessionID string, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	c.ws.Close()
}

var _ conn.TransportSink = (*Conn)(nil)

var errWriteTimeout = errors.New("ws: send buffer full")

func (c *Conn) readPump() {
	defer func() {
		c.ws.Close()
		close(c.send)
		if c.onClose != nil {
			c.onClose(c.session.ID)
		}
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		biz, body, err := wire.ReadFrame(bytes.NewReader(raw))
		if err != nil {
			log.Printf("ws: malformed frame from session %s: %v", c.session.ID, err)
			continue
		}

		respBiz, respBody, err := c.gw.Dispatch(context.Background(), c.session, biz, body)
		if err != nil {
			log.Printf("ws: dispatch error for session %s biz_type %d: %v", c.session.ID, biz, err)
			continue
		}

		var out bytes.Buffer
		if err := wire.WriteFrame(&out, respBiz, respBody); err != nil {
			log.Printf("ws: encode response for session %s: %v", c.session.ID, err)
			continue
		}
		select {
		case c.send <- out.Bytes():
		default:
			log.Printf("ws: send buffer full for session %s, dropping response", c.session.ID)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
