// Package server fans events out from internal producers to the connections
// subscribed to the target rooms.
package server

import (
	"github.com/rs/zerolog/log"
)

// Event is an immutable notification to deliver. Scope is either a set of
// rooms or, when Broadcast is set, every open connection.
type Event struct {
	Type      string
	Payload   any
	Rooms     []string
	Broadcast bool
}

// Dispatcher resolves an event's target rooms through the hub and enqueues
// the event on every member connection. Delivery is fire-and-forget: a slow
// consumer drops its own oldest frame, never stalling the dispatcher or
// other connections.
type Dispatcher struct {
	hub *Hub
}

// NewDispatcher creates a Dispatcher publishing through the given hub.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// Publish delivers the event at most once to every connection that is a
// member of a target room at publish time, and returns the delivered count.
// Events published by one producer reach a room's members in publish order.
func (d *Dispatcher) Publish(ev Event) int {
	delivered := 0

	if ev.Broadcast {
		frame, err := marshalServerMessage(msgEvent, eventData{Type: ev.Type, Payload: ev.Payload})
		if err != nil {
			log.Error().Err(err).Str("eventType", ev.Type).Msg("failed to marshal event")
			return 0
		}
		for _, c := range d.hub.allClients() {
			if c.enqueue(frame) {
				delivered++
			}
		}
	} else {
		seen := make(map[string]struct{})
		for _, room := range ev.Rooms {
			frame, err := marshalServerMessage(msgEvent, eventData{Type: ev.Type, Payload: ev.Payload, Room: room})
			if err != nil {
				log.Error().Err(err).Str("eventType", ev.Type).Msg("failed to marshal event")
				return delivered
			}
			for _, c := range d.hub.roomMembers(room) {
				if _, dup := seen[c.id]; dup {
					continue
				}
				seen[c.id] = struct{}{}
				if c.enqueue(frame) {
					delivered++
				}
			}
		}
	}

	d.hub.totalMessages.Add(uint64(delivered))
	log.Debug().
		Str("eventType", ev.Type).
		Strs("rooms", ev.Rooms).
		Bool("broadcast", ev.Broadcast).
		Int("delivered", delivered).
		Msg("event published")
	return delivered
}

// PublishVote announces a cast vote on the votes channel and, when the vote
// names an election, on that election's room.
func (d *Dispatcher) PublishVote(vote map[string]any) int {
	payload := withTimestamp(vote)
	rooms := []string{RoomVotes}
	if electionID, ok := payload["electionId"].(string); ok && electionID != "" {
		rooms = append(rooms, "election:"+electionID)
	}
	return d.Publish(Event{Type: EventVoteCast, Payload: payload, Rooms: rooms})
}

// PublishBlock announces a newly mined block on the blockchain channel.
func (d *Dispatcher) PublishBlock(block map[string]any) int {
	return d.Publish(Event{
		Type:    EventBlockMined,
		Payload: withTimestamp(block),
		Rooms:   []string{RoomBlockchain},
	})
}

// PublishElectionResults announces updated results on the elections channel
// and the election's own room.
func (d *Dispatcher) PublishElectionResults(results map[string]any) int {
	payload := withTimestamp(results)
	rooms := []string{RoomElections}
	if electionID, ok := payload["electionId"].(string); ok && electionID != "" {
		rooms = append(rooms, "election:"+electionID)
	}
	return d.Publish(Event{Type: EventElectionResults, Payload: payload, Rooms: rooms})
}

// PublishAdminNotification delivers a notification to the admin channel.
func (d *Dispatcher) PublishAdminNotification(data map[string]any) int {
	return d.Publish(Event{
		Type:    EventAdminNotification,
		Payload: withTimestamp(data),
		Rooms:   []string{RoomAdmin},
	})
}

func withTimestamp(data map[string]any) map[string]any {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = nowRFC3339()
	}
	return payload
}
