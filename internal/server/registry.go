// Package server maintains the authoritative room-to-members mapping. The
// registry is owned by the hub and must only be touched under the hub mutex.
package server

import (
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

var validRoomNameRe = regexp.MustCompile(`^[a-zA-Z0-9:_-]{1,100}$`)

func validRoomName(name string) bool {
	return validRoomNameRe.MatchString(name)
}

type roomState struct {
	name      string
	members   map[string]*Client
	createdAt time.Time
	// emptySince is non-zero while the room has no members; the cleanup
	// sweep reclaims it after the grace period.
	emptySince time.Time
}

type roomRegistry struct {
	rooms       map[string]*roomState
	cfg         RoomConfig
	roomsCreate uint64
}

func newRoomRegistry(cfg RoomConfig) *roomRegistry {
	return &roomRegistry{
		rooms: make(map[string]*roomState),
		cfg:   cfg,
	}
}

// join adds the client to a room, creating it lazily. Capacity checks are
// skipped for the default-room assignment made at accept time: that room is
// bounded by the global connection limit, which Validate caps at the
// per-room capacity, so its member count can never exceed MaxClientsPerRoom.
func (r *roomRegistry) join(c *Client, name string, enforceCapacity bool) error {
	room, exists := r.rooms[name]
	if !exists {
		if enforceCapacity && len(r.rooms) >= r.cfg.MaxRooms {
			return NewError(CodeRoomLimit, "room count limit reached")
		}
		room = &roomState{
			name:      name,
			members:   make(map[string]*Client),
			createdAt: time.Now(),
		}
		r.rooms[name] = room
		r.roomsCreate++
		log.Debug().Str("room", name).Msg("room created")
	}

	if _, member := room.members[c.id]; member {
		return nil
	}
	if enforceCapacity && len(room.members) >= r.cfg.MaxClientsPerRoom {
		return NewError(CodeRoomFull, "room "+name+" is at capacity")
	}

	room.members[c.id] = c
	room.emptySince = time.Time{}
	c.rooms[name] = struct{}{}
	return nil
}

// leave removes the client from a room. Leaving a room the client is not a
// member of is a no-op.
func (r *roomRegistry) leave(c *Client, name string) {
	room, exists := r.rooms[name]
	if !exists {
		return
	}
	delete(room.members, c.id)
	delete(c.rooms, name)
	if len(room.members) == 0 {
		room.emptySince = time.Now()
	}
}

// removeAll tears down every membership the client holds.
func (r *roomRegistry) removeAll(c *Client) {
	for name := range c.rooms {
		r.leave(c, name)
	}
}

// members returns the current member set of a room.
func (r *roomRegistry) members(name string) []*Client {
	room, exists := r.rooms[name]
	if !exists {
		return nil
	}
	out := make([]*Client, 0, len(room.members))
	for _, c := range room.members {
		out = append(out, c)
	}
	return out
}

func (r *roomRegistry) counts() map[string]int {
	counts := make(map[string]int, len(r.rooms))
	for name, room := range r.rooms {
		counts[name] = len(room.members)
	}
	return counts
}

func (r *roomRegistry) roomCount() int {
	return len(r.rooms)
}

// sweep reclaims rooms that have been empty longer than the grace period and
// returns their names. The delay avoids churn when the last member is mid
// reconnect.
func (r *roomRegistry) sweep(now time.Time) []string {
	if r.cfg.GracePeriod <= 0 {
		return nil
	}
	var removed []string
	for name, room := range r.rooms {
		if room.emptySince.IsZero() {
			continue
		}
		if now.Sub(room.emptySince) >= r.cfg.GracePeriod {
			delete(r.rooms, name)
			removed = append(removed, name)
		}
	}
	return removed
}
