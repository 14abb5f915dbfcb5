package server

import (
	"encoding/json"
	"testing"
)

type decodedFrame struct {
	Type string `json:"type"`
	Data struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
		Room    string         `json:"room"`
	} `json:"data"`
}

func recvFrame(t *testing.T, c *Client) decodedFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame decodedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		return frame
	default:
		t.Fatal("expected a queued frame, queue is empty")
		return decodedFrame{}
	}
}

func TestPublishToRoom(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	b := addTestClient(t, h, Principal{})
	c := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")
	mustJoin(t, h, b, "election-42")
	mustJoin(t, h, c, "election-99")

	delivered := d.Publish(Event{
		Type:    EventBlockMined,
		Payload: map[string]any{"count": 17},
		Rooms:   []string{"election-42"},
	})
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}

	for _, member := range []*Client{a, b} {
		frame := recvFrame(t, member)
		if frame.Type != msgEvent {
			t.Errorf("frame type = %q, want event", frame.Type)
		}
		if frame.Data.Type != EventBlockMined {
			t.Errorf("event type = %q, want block_mined", frame.Data.Type)
		}
		if got := frame.Data.Payload["count"]; got != float64(17) {
			t.Errorf("payload count = %v, want 17", got)
		}
		if frame.Data.Room != "election-42" {
			t.Errorf("event room = %q, want election-42", frame.Data.Room)
		}
	}
	if len(c.send) != 0 {
		t.Errorf("client outside target room received %d frames", len(c.send))
	}
}

func TestPublishBroadcastReachesAllConnections(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	b := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")

	delivered := d.Publish(Event{
		Type:      EventBlockMined,
		Payload:   map[string]any{"count": 3},
		Broadcast: true,
	})
	if delivered != 2 {
		t.Fatalf("delivered = %d, want 2", delivered)
	}
	for _, member := range []*Client{a, b} {
		if frame := recvFrame(t, member); frame.Data.Type != EventBlockMined {
			t.Errorf("broadcast frame type = %q", frame.Data.Type)
		}
	}
}

func TestPublishSkipsDepartedMember(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	b := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")
	mustJoin(t, h, b, "election-42")
	if err := h.Leave(b.ID(), "election-42"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}

	delivered := d.Publish(Event{Type: EventVoteCast, Rooms: []string{"election-42"}})
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if len(b.send) != 0 {
		t.Errorf("departed member received %d frames", len(b.send))
	}
}

func TestPublishNeverReachesClosedConnection(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")
	h.Close(a.ID(), ReasonHeartbeatTimeout)

	delivered := d.Publish(Event{Type: EventVoteCast, Rooms: []string{"election-42"}})
	if delivered != 0 {
		t.Errorf("delivered = %d, want 0 after close", delivered)
	}
	if len(a.send) != 0 {
		t.Errorf("closed connection received %d frames", len(a.send))
	}
}

func TestPublishDeduplicatesAcrossRooms(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{UserID: "u1", Role: "user"})
	mustJoin(t, h, a, RoomVotes)
	mustJoin(t, h, a, "election-42")

	delivered := d.Publish(Event{
		Type:  EventVoteCast,
		Rooms: []string{RoomVotes, "election-42"},
	})
	if delivered != 1 {
		t.Errorf("delivered = %d, want exactly once per connection", delivered)
	}
	if len(a.send) != 1 {
		t.Errorf("connection in both target rooms got %d frames, want 1", len(a.send))
	}
}

func TestPublishOrderPreservedPerRoom(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")

	for i := 1; i <= 3; i++ {
		d.Publish(Event{
			Type:    EventBlockMined,
			Payload: map[string]any{"count": i},
			Rooms:   []string{"election-42"},
		})
	}
	for i := 1; i <= 3; i++ {
		frame := recvFrame(t, a)
		if got := frame.Data.Payload["count"]; got != float64(i) {
			t.Fatalf("event %d delivered out of order: got count %v", i, got)
		}
	}
}

func TestFullQueueDropsOldest(t *testing.T) {
	cfg := testConfig()
	cfg.SendQueueSize = 2
	h := NewHub(cfg)
	d := NewDispatcher(h)

	a := addTestClient(t, h, Principal{})
	mustJoin(t, h, a, "election-42")

	for i := 1; i <= 3; i++ {
		d.Publish(Event{
			Type:    EventBlockMined,
			Payload: map[string]any{"count": i},
			Rooms:   []string{"election-42"},
		})
	}

	first := recvFrame(t, a)
	if got := first.Data.Payload["count"]; got != float64(2) {
		t.Errorf("oldest frame should have been dropped; head of queue has count %v, want 2", got)
	}
	second := recvFrame(t, a)
	if got := second.Data.Payload["count"]; got != float64(3) {
		t.Errorf("newest frame missing; got count %v, want 3", got)
	}
}

func TestPublishVoteTargetsElectionRoom(t *testing.T) {
	h := NewHub(testConfig())
	d := NewDispatcher(h)

	watcher := addTestClient(t, h, Principal{UserID: "u1", Role: "user"})
	mustJoin(t, h, watcher, "election:42")

	delivered := d.PublishVote(map[string]any{
		"voteId":     "vote-1",
		"electionId": "42",
	})
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
	frame := recvFrame(t, watcher)
	if frame.Data.Type != EventVoteCast {
		t.Errorf("event type = %q, want vote_cast", frame.Data.Type)
	}
	if _, ok := frame.Data.Payload["timestamp"]; !ok {
		t.Error("vote payload missing timestamp")
	}
}

func mustJoin(t *testing.T, h *Hub, c *Client, room string) {
	t.Helper()
	if err := h.Join(c.ID(), room); err != nil {
		t.Fatalf("Join(%s, %s) failed: %v", c.ID(), room, err)
	}
}
