// Package server coordinates connection registration, room membership, event
// fan-out, and connection cleanup via the Hub type.
package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HubStats is a read-only snapshot of hub state for health reporting.
type HubStats struct {
	ConnectionCount  int            `json:"connectionCount"`
	RoomCount        int            `json:"roomCount"`
	UptimeMs         int64          `json:"uptimeMs"`
	PerRoomCounts    map[string]int `json:"perRoomCounts"`
	TotalConnections uint64         `json:"totalConnections"`
	TotalMessages    uint64         `json:"totalMessages"`
	RoomsCreated     uint64         `json:"roomsCreated"`
}

// Hub owns the canonical connection table and room registry. Every mutation
// of shared state goes through the hub mutex, so concurrent Accept, Join,
// Leave, and Close calls are linearized: a Close always wins over a
// concurrent Join and membership never dangles.
type Hub struct {
	cfg *Config

	mu       sync.RWMutex
	clients  map[string]*Client
	registry *roomRegistry

	startTime        time.Time
	totalConnections atomic.Uint64
	totalMessages    atomic.Uint64
	draining         atomic.Bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to manage connections.
func NewHub(cfg *Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:       cfg,
		clients:   make(map[string]*Client),
		registry:  newRoomRegistry(cfg.Rooms),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Run drives the background loops: the heartbeat sweep and the empty-room
// cleanup sweep. Call it in its own goroutine; it exits when Shutdown is
// invoked.
func (h *Hub) Run() {
	defer close(h.done)

	heartbeat := time.NewTicker(h.cfg.Heartbeat.Interval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(h.sweepInterval())
	defer sweep.Stop()

	log.Info().Msg("hub started")
	for {
		select {
		case <-h.ctx.Done():
			return
		case now := <-heartbeat.C:
			h.checkHeartbeats(now)
		case now := <-sweep.C:
			h.sweepRooms(now)
		}
	}
}

func (h *Hub) sweepInterval() time.Duration {
	grace := h.cfg.Rooms.GracePeriod
	if grace <= 0 {
		grace = time.Minute
	}
	interval := grace / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Accept registers an authenticated connection, assigns it to the default
// room, and starts its pump goroutines. It fails with a capacity error when
// the global connection limit is reached or the server is draining.
func (h *Hub) Accept(conn *websocket.Conn, principal Principal, addr string) (*Client, error) {
	if h.draining.Load() {
		return nil, NewError(CodeCapacity, "server is shutting down")
	}

	c := newClient(h, conn, principal, addr)

	h.mu.Lock()
	if len(h.clients) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		return nil, NewError(CodeCapacity, "connection limit reached")
	}
	h.clients[c.id] = c
	if err := h.registry.join(c, RoomPublic, false); err != nil {
		delete(h.clients, c.id)
		h.mu.Unlock()
		return nil, err
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.totalConnections.Add(1)
	log.Info().
		Str("clientId", c.id).
		Str("addr", addr).
		Str("userId", principal.UserID).
		Int("connections", count).
		Msg("client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	return c, nil
}

// Join adds the connection to a room, creating the room lazily within the
// configured limits.
func (h *Hub) Join(connID, room string) error {
	if !validRoomName(room) {
		return NewError(CodeBadRequest, "invalid room name")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok || c.isClosed() {
		return NewError(CodeNotFound, "unknown connection")
	}
	if err := authorizeRoom(c.principal, room); err != nil {
		return err
	}
	if _, member := c.rooms[room]; member {
		return nil
	}
	if len(c.rooms) >= h.cfg.Rooms.MaxRoomsPerClient {
		return NewError(CodeRoomLimit, "per-client room limit reached")
	}
	if err := h.registry.join(c, room, true); err != nil {
		return err
	}

	log.Info().Str("clientId", connID).Str("room", room).Msg("client joined room")
	return nil
}

// Leave removes the connection from a room. Leaving a room the connection is
// not in is a no-op success.
func (h *Hub) Leave(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return NewError(CodeNotFound, "unknown connection")
	}
	h.registry.leave(c, room)
	log.Info().Str("clientId", connID).Str("room", room).Msg("client left room")
	return nil
}

// Close tears down a connection: removes it from every room, drops it from
// the connection table, and signals the write pump to flush and send the
// close frame. It is idempotent and safe to call concurrently from the
// heartbeat monitor, transport error paths, and shutdown.
func (h *Hub) Close(connID, reason string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if !c.markClosed(reason) {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	h.registry.removeAll(c)
	remaining := len(h.clients)
	h.mu.Unlock()

	log.Info().
		Str("clientId", connID).
		Str("reason", reason).
		Int("connections", remaining).
		Msg("client closed")
}

// Stats returns a consistent snapshot for the health endpoint.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	connections := len(h.clients)
	rooms := h.registry.roomCount()
	perRoom := h.registry.counts()
	created := h.registry.roomsCreate
	h.mu.RUnlock()

	return HubStats{
		ConnectionCount:  connections,
		RoomCount:        rooms,
		UptimeMs:         time.Since(h.startTime).Milliseconds(),
		PerRoomCounts:    perRoom,
		TotalConnections: h.totalConnections.Load(),
		TotalMessages:    h.totalMessages.Load(),
		RoomsCreated:     created,
	}
}

// roomMembers returns the member set of a room at the hub's serialization
// point.
func (h *Hub) roomMembers(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry.members(room)
}

// allClients snapshots every open connection.
func (h *Hub) allClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// checkHeartbeats runs once per heartbeat interval: it evicts connections
// whose ping went unanswered past the timeout and sends the next round of
// pings. This loop is the sole detector of half-open transports.
func (h *Hub) checkHeartbeats(now time.Time) {
	for _, c := range h.allClients() {
		if c.pingExpired(now, h.cfg.Heartbeat.Timeout) {
			log.Warn().Str("clientId", c.id).Str("addr", c.addr).Msg("heartbeat timeout")
			h.Close(c.id, ReasonHeartbeatTimeout)
			continue
		}
		if c.beginPing(now) {
			select {
			case c.pings <- struct{}{}:
			default:
			}
		}
	}
}

// sweepRooms reclaims rooms that outlived the empty-room grace period.
func (h *Hub) sweepRooms(now time.Time) {
	h.mu.Lock()
	removed := h.registry.sweep(now)
	h.mu.Unlock()
	for _, name := range removed {
		log.Debug().Str("room", name).Msg("empty room reclaimed")
	}
}

// Shutdown drains the hub: stops background loops, closes every connection
// with the server_shutdown reason, and waits for pump goroutines up to the
// timeout. Remaining transports are force-closed when the deadline passes.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.draining.Store(true)
	h.cancel()
	<-h.done

	clients := h.allClients()
	log.Info().Int("connections", len(clients)).Msg("draining client connections")
	for _, c := range clients {
		h.Close(c.id, ReasonServerShutdown)
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		for _, c := range clients {
			if c.conn != nil {
				_ = c.conn.Close()
			}
		}
		log.Warn().Msg("hub shutdown deadline reached; transports force-closed")
		return context.DeadlineExceeded
	}
}
