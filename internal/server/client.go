// Package server manages individual WebSocket clients, handling read/write
// pumps, message rate limiting, and per-connection lifecycle state.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Time allowed to write a single frame to the peer.
const writeWait = 10 * time.Second

// heartbeatState tracks the liveness probe state machine for one connection.
type heartbeatState int

const (
	heartbeatAlive heartbeatState = iota
	heartbeatAwaitingPong
)

// Client represents one live WebSocket session: its identity, room
// memberships, outbound queue, and heartbeat bookkeeping.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	principal   Principal
	addr        string
	connectedAt time.Time

	send  chan []byte
	pings chan struct{}
	done  chan struct{}

	limiter *tokenBucket

	// rooms is guarded by the hub mutex, like all membership state.
	rooms map[string]struct{}

	mu          sync.Mutex
	closed      bool
	closeReason string
	hb          heartbeatState
	pingSentAt  time.Time
	lastPong    time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, principal Principal, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	now := time.Now()
	return &Client{
		id:          uuid.NewString(),
		hub:         hub,
		conn:        conn,
		principal:   principal,
		addr:        addr,
		connectedAt: now,
		send:        make(chan []byte, cfg.SendQueueSize),
		pings:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		limiter:     newTokenBucket(cfg.MessageRate.Burst, cfg.MessageRate.RefillInterval),
		rooms:       make(map[string]struct{}),
		lastPong:    now,
	}
}

// ID returns the server-generated connection id.
func (c *Client) ID() string {
	return c.id
}

// Principal returns the identity bound at handshake time.
func (c *Client) Principal() Principal {
	return c.principal
}

// markClosed flips the connection into the closed state exactly once and
// records the reason carried in the close frame.
func (c *Client) markClosed(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.closeReason = reason
	close(c.done)
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseReason returns the reason recorded when the connection was closed,
// or "" while it is still open.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// beginPing transitions ALIVE -> AWAITING_PONG. If a pong is already pending
// the original send timestamp is kept so the timeout still expires.
func (c *Client) beginPing(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if c.hb != heartbeatAwaitingPong {
		c.hb = heartbeatAwaitingPong
		c.pingSentAt = now
	}
	return true
}

// markAlive transitions back to ALIVE on any pong.
func (c *Client) markAlive(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hb = heartbeatAlive
	c.lastPong = now
}

// pingExpired reports whether the pending ping has outlived the heartbeat
// timeout.
func (c *Client) pingExpired(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hb == heartbeatAwaitingPong && now.Sub(c.pingSentAt) > timeout
}

// enqueue places a frame on the outbound queue. A full queue sheds the
// oldest message so the newest state wins; the dispatcher never blocks on a
// slow consumer.
func (c *Client) enqueue(message []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
	}
	select {
	case <-c.send:
		log.Warn().Str("clientId", c.id).Str("addr", c.addr).Msg("outbound queue full; dropped oldest message")
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) sendData(msgType string, data any) {
	frame, err := marshalServerMessage(msgType, data)
	if err != nil {
		log.Error().Err(err).Str("clientId", c.id).Msg("failed to marshal frame")
		return
	}
	c.enqueue(frame)
}

func (c *Client) sendError(err error) {
	c.sendData(msgError, errorData{
		Code:    errorCode(err).String(),
		Message: errorMessage(err),
	})
}

// readPump consumes inbound frames until the connection dies. It runs in its
// own goroutine; exit always funnels through the hub's Close.
func (c *Client) readPump() {
	defer c.hub.Close(c.id, ReasonTransportError)

	readWait := c.hub.cfg.Heartbeat.Interval + 2*c.hub.cfg.Heartbeat.Timeout
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.markAlive(time.Now())
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		// Any inbound traffic proves the transport is open, including
		// protocol-level pong messages from clients that never send
		// control frames.
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		if !c.limiter.allow() {
			log.Warn().Str("clientId", c.id).Str("addr", c.addr).Msg("message rate limit exceeded; discarding message")
			continue
		}
		c.handleMessage(raw)
	}
}

// handleMessage parses one inbound envelope and routes it. Malformed or
// unknown messages are logged and ignored, never fatal.
func (c *Client) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Str("clientId", c.id).Err(err).Msg("ignoring malformed message")
		return
	}

	switch msg.Type {
	case msgJoin:
		if err := c.hub.Join(c.id, msg.Room); err != nil {
			c.sendError(err)
			return
		}
		c.sendData(msgJoined, map[string]any{"room": msg.Room, "joinedAt": nowRFC3339()})
	case msgLeave:
		if err := c.hub.Leave(c.id, msg.Room); err != nil {
			c.sendError(err)
			return
		}
		c.sendData(msgLeft, map[string]any{"room": msg.Room, "leftAt": nowRFC3339()})
	case msgPong:
		c.markAlive(time.Now())
	case msgPing:
		c.sendData(msgPong, map[string]any{"serverTime": nowRFC3339()})
	default:
		log.Warn().Str("clientId", c.id).Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Str("clientId", c.id).Int64("limit", c.hub.cfg.MaxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Debug().Str("clientId", c.id).Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Debug().Str("clientId", c.id).Err(err).Msg("connection closed")
	default:
		log.Warn().Str("clientId", c.id).Err(err).Msg("websocket read error")
	}
}

// writePump owns all writes to the connection. Frames come from the send
// queue, pings from the heartbeat monitor, and shutdown from the done
// channel, after which remaining frames are flushed and a close frame with
// the recorded reason is written.
func (c *Client) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Debug().Str("clientId", c.id).Err(err).Msg("error closing connection")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.writeFrame(message) {
				c.hub.Close(c.id, ReasonTransportError)
				return
			}
		case <-c.pings:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug().Str("clientId", c.id).Err(err).Msg("error writing ping")
				}
				c.hub.Close(c.id, ReasonTransportError)
				return
			}
		case <-c.done:
			c.drainAndClose()
			return
		}
	}
}

func (c *Client) writeFrame(message []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Debug().Str("clientId", c.id).Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// drainAndClose flushes queued frames then sends the close frame carrying
// the close reason.
func (c *Client) drainAndClose() {
	for {
		select {
		case message := <-c.send:
			if !c.writeFrame(message) {
				return
			}
		default:
			reason := c.CloseReason()
			code := websocket.CloseNormalClosure
			if reason == ReasonHeartbeatTimeout || reason == ReasonTransportError {
				code = websocket.CloseGoingAway
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
				if !isExpectedCloseError(err) {
					log.Debug().Str("clientId", c.id).Err(err).Msg("error writing close frame")
				}
			}
			return
		}
	}
}
