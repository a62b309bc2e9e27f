// Package stream exposes the event bus over websockets, one duplex
// connection per session. A connecting observer optionally receives the
// session's full event history from the log before attaching to live
// updates, so late joiners see the same ordered record as early ones.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/event"
	"github.com/overwatch-ai/reins/internal/eventlog"
)

const (
	sendBufferSize  = 64
	maxInboundBytes = 1 << 20

	pingInterval = 15 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
)

// Gateway upgrades HTTP requests to websocket event streams. It owns no
// session state; it bridges the Bus and the event log to the wire.
type Gateway struct {
	sessions *agent.SessionStore
	history  *eventlog.Store
	bus      *event.Bus
	upgrader websocket.Upgrader
}

// NewGateway wires a streaming gateway over the given stores and bus.
func NewGateway(sessions *agent.SessionStore, history *eventlog.Store, bus *event.Bus) *Gateway {
	return &Gateway{
		sessions: sessions,
		history:  history,
		bus:      bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /v1/sessions/{sessionID}/stream. Unknown sessions are
// rejected with a policy-violation close frame after the upgrade, so the
// client sees a terminal close rather than a dangling connection. History
// replay is on by default; pass ?replay=0 to attach to live events only.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	exists, err := g.sessions.Exists(r.Context(), sessionID)
	if err != nil || !exists {
		reason := "unknown session"
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("stream_session_lookup_failed")
			reason = "session lookup failed"
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := &client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
	c.run(g, r)
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	done      chan struct{}
}

func (c *client) run(g *Gateway, r *http.Request) {
	defer c.conn.Close()

	if r.URL.Query().Get("replay") != "0" {
		if err := c.replay(r.Context(), g.history); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Msg("stream_replay_failed")
			return
		}
	}

	sub := g.bus.Subscribe(c.sessionID, c.enqueue)
	// Cleanup is unconditional: client close, network failure, and write
	// errors all land here.
	defer g.bus.Unsubscribe(sub)
	defer close(c.done)

	log.Debug().Str("session_id", c.sessionID).Msg("stream_attached")

	go c.writeLoop()
	c.readLoop()
}

// replay pushes the session's logged history down the wire before the live
// subscription starts, in log (sequence) order.
func (c *client) replay(ctx context.Context, history *eventlog.Store) error {
	events, err := history.BySession(ctx, c.sessionID)
	if err != nil {
		return err
	}
	for i := range events {
		data, err := json.Marshal(events[i])
		if err != nil {
			return err
		}
		if err := c.write(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// enqueue is the Bus bridge handler. It never blocks: a client that cannot
// keep up loses events rather than stalling the bus drain goroutine.
func (c *client) enqueue(ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("stream_event_marshal_failed")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().
			Str("session_id", c.sessionID).
			Str("event_type", string(ev.Type)).
			Msg("stream_event_dropped_slow_client")
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop keeps the connection's liveness accounting. Inbound data frames
// are ignorable noise; only pongs matter, and those extend the read deadline
// via the handler. Returns when the peer disconnects or goes silent past
// pongWait.
func (c *client) readLoop() {
	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
