// Package server defines the wire protocol exchanged with browser clients
// and the well-known room and event names shared with the REST backend.
package server

import (
	"encoding/json"
	"strings"
	"time"
)

// Well-known rooms. Channel rooms carry the "channel:" prefix; per-election
// rooms use "election:<id>".
const (
	RoomPublic     = "public"
	RoomVotes      = "channel:votes"
	RoomBlockchain = "channel:blockchain"
	RoomElections  = "channel:elections"
	RoomAdmin      = "channel:admin"
)

// Event types published by the platform.
const (
	EventBlockMined        = "block_mined"
	EventVoteCast          = "vote_cast"
	EventUserVerified      = "user_verified"
	EventElectionResults   = "election_results"
	EventAdminNotification = "admin_notification"
	EventNotification      = "notification"
)

// Close reasons sent in the close frame so clients can pick a reconnect
// strategy.
const (
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonServerShutdown   = "server_shutdown"
	ReasonTransportError   = "transport_error"
)

// Message types in the client/server envelope.
const (
	msgJoin      = "join"
	msgLeave     = "leave"
	msgPing      = "ping"
	msgPong      = "pong"
	msgConnected = "connected"
	msgJoined    = "joined"
	msgLeft      = "left"
	msgEvent     = "event"
	msgError     = "error"
)

// clientMessage is the envelope for inbound client messages.
type clientMessage struct {
	Type string `json:"type"`
	Room string `json:"room,omitempty"`
}

// serverMessage is the envelope for outbound frames.
type serverMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// eventData is the payload of an "event" frame.
type eventData struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Room    string `json:"room,omitempty"`
}

// errorData is the payload of an "error" frame.
type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalServerMessage(msgType string, data any) ([]byte, error) {
	return json.Marshal(serverMessage{Type: msgType, Data: data})
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
