package server

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = "test-secret"
	return cfg
}

// addTestClient registers a client without a transport or pump goroutines so
// membership semantics can be exercised directly.
func addTestClient(t *testing.T, h *Hub, p Principal) *Client {
	t.Helper()
	c := newClient(h, nil, p, "127.0.0.1")
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	if err := h.registry.join(c, RoomPublic, false); err != nil {
		t.Fatalf("failed to join default room: %v", err)
	}
	return c
}

func roomCount(h *Hub, room string) int {
	return len(h.roomMembers(room))
}

func TestJoinLeaveMembership(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	if err := h.Join(c.ID(), "election-42"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := h.Join(c.ID(), "election-43"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if got := roomCount(h, "election-42"); got != 1 {
		t.Errorf("expected 1 member in election-42, got %d", got)
	}

	if err := h.Leave(c.ID(), "election-42"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if got := roomCount(h, "election-42"); got != 0 {
		t.Errorf("expected 0 members after leave, got %d", got)
	}
	if got := roomCount(h, "election-43"); got != 1 {
		t.Errorf("leave of one room must not affect another, got %d members", got)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	if err := h.Join(c.ID(), "election-42"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := h.Join(c.ID(), "election-42"); err != nil {
		t.Fatalf("duplicate Join should be a no-op success, got %v", err)
	}
	if got := roomCount(h, "election-42"); got != 1 {
		t.Errorf("expected 1 member after duplicate join, got %d", got)
	}
}

func TestJoinRejectsInvalidRoomName(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	for _, name := range []string{"", "room with spaces", "room/slash", string(make([]byte, 101))} {
		if err := h.Join(c.ID(), name); !IsCode(err, CodeBadRequest) {
			t.Errorf("Join(%q) = %v, want bad_request", name, err)
		}
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	h := NewHub(testConfig())
	if err := h.Join("no-such-id", "election-42"); !IsCode(err, CodeNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestRoomFull(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.MaxClientsPerRoom = 1
	h := NewHub(cfg)
	a := addTestClient(t, h, Principal{})
	b := addTestClient(t, h, Principal{})

	if err := h.Join(a.ID(), "election-42"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	err := h.Join(b.ID(), "election-42")
	if !IsCode(err, CodeRoomFull) {
		t.Fatalf("expected room_full_error, got %v", err)
	}
	if got := roomCount(h, "election-42"); got != 1 {
		t.Errorf("membership must be unchanged after rejected join, got %d", got)
	}
}

func TestRoomCountLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.MaxRooms = 2 // public plus one
	h := NewHub(cfg)
	c := addTestClient(t, h, Principal{})

	if err := h.Join(c.ID(), "election-1"); err != nil {
		t.Fatalf("join within room limit failed: %v", err)
	}
	if err := h.Join(c.ID(), "election-2"); !IsCode(err, CodeRoomLimit) {
		t.Errorf("expected room_limit_error, got %v", err)
	}
}

func TestPerClientRoomLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rooms.MaxRoomsPerClient = 2 // public counts as one
	h := NewHub(cfg)
	c := addTestClient(t, h, Principal{})

	if err := h.Join(c.ID(), "election-1"); err != nil {
		t.Fatalf("join within per-client limit failed: %v", err)
	}
	if err := h.Join(c.ID(), "election-2"); !IsCode(err, CodeRoomLimit) {
		t.Errorf("expected room_limit_error, got %v", err)
	}
}

func TestCloseRemovesAllMemberships(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	if err := h.Join(c.ID(), "election-42"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	h.Close(c.ID(), ReasonServerShutdown)

	if got := roomCount(h, "election-42"); got != 0 {
		t.Errorf("closed connection still member of election-42")
	}
	if got := roomCount(h, RoomPublic); got != 0 {
		t.Errorf("closed connection still member of default room")
	}
	if got := h.Stats().ConnectionCount; got != 0 {
		t.Errorf("expected 0 connections after close, got %d", got)
	}
	if got := c.CloseReason(); got != ReasonServerShutdown {
		t.Errorf("close reason = %q, want %q", got, ReasonServerShutdown)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	h.Close(c.ID(), ReasonHeartbeatTimeout)
	h.Close(c.ID(), ReasonServerShutdown)

	if got := c.CloseReason(); got != ReasonHeartbeatTimeout {
		t.Errorf("second close must not overwrite reason, got %q", got)
	}
}

func TestCloseWinsOverJoin(t *testing.T) {
	h := NewHub(testConfig())
	c := addTestClient(t, h, Principal{})

	h.Close(c.ID(), ReasonServerShutdown)
	if err := h.Join(c.ID(), "election-42"); !IsCode(err, CodeNotFound) {
		t.Errorf("join after close must fail with not_found, got %v", err)
	}
	if got := roomCount(h, "election-42"); got != 0 {
		t.Errorf("closed connection resurrected into a room")
	}
}

func TestConcurrentJoinLeaveClose(t *testing.T) {
	h := NewHub(testConfig())
	clients := make([]*Client, 20)
	for i := range clients {
		clients[i] = addTestClient(t, h, Principal{})
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_ = h.Join(c.ID(), "election-42")
			_ = h.Leave(c.ID(), "election-42")
			_ = h.Join(c.ID(), "election-42")
			h.Close(c.ID(), ReasonServerShutdown)
		}(c)
	}
	wg.Wait()

	stats := h.Stats()
	if stats.ConnectionCount != 0 {
		t.Errorf("expected 0 connections, got %d", stats.ConnectionCount)
	}
	if got := roomCount(h, "election-42"); got != 0 {
		t.Errorf("expected empty room after all closes, got %d members", got)
	}
}

func TestStatsSnapshot(t *testing.T) {
	h := NewHub(testConfig())
	a := addTestClient(t, h, Principal{})
	addTestClient(t, h, Principal{})
	if err := h.Join(a.ID(), "election-42"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	stats := h.Stats()
	if stats.ConnectionCount != 2 {
		t.Errorf("connectionCount = %d, want 2", stats.ConnectionCount)
	}
	if stats.RoomCount != 2 {
		t.Errorf("roomCount = %d, want 2 (public + election-42)", stats.RoomCount)
	}
	if stats.PerRoomCounts["election-42"] != 1 {
		t.Errorf("perRoomCounts[election-42] = %d, want 1", stats.PerRoomCounts["election-42"])
	}
	if stats.PerRoomCounts[RoomPublic] != 2 {
		t.Errorf("perRoomCounts[public] = %d, want 2", stats.PerRoomCounts[RoomPublic])
	}
	if stats.UptimeMs < 0 {
		t.Errorf("uptime must be non-negative, got %d", stats.UptimeMs)
	}
}

func TestHubRunAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Heartbeat.Interval = 10 * time.Millisecond
	h := NewHub(cfg)
	go h.Run()
	time.Sleep(30 * time.Millisecond)

	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case <-h.done:
	default:
		t.Error("run loop still active after shutdown")
	}
}

func TestErrorCodeMatching(t *testing.T) {
	err := WrapError(CodeRoomFull, "room is at capacity", errors.New("inner"))
	if !IsCode(err, CodeRoomFull) {
		t.Error("IsCode failed to match wrapped code")
	}
	if !errors.Is(err, NewError(CodeRoomFull, "")) {
		t.Error("errors.Is failed to match by code")
	}
	if errors.Is(err, NewError(CodeRoomLimit, "")) {
		t.Error("errors.Is matched a different code")
	}
}
