// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the operational REST API used by the admin backend.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// handleWebSocket upgrades the HTTP connection after running the rate
// limiter and validating any presented bearer token, then hands the
// connection to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.limiter.Allow(ip) {
		log.Warn().Str("addr", ip).Msg("connection rate limit exceeded")
		writeJSONError(w, http.StatusTooManyRequests, CodeRateLimit, "connection rate limit exceeded")
		return
	}

	principal := Principal{}
	if token := bearerToken(r); token != "" {
		p, err := s.auth.Verify(token)
		if err != nil {
			log.Warn().Str("addr", ip).Err(err).Msg("handshake authentication failed")
			writeJSONError(w, http.StatusUnauthorized, CodeAuth, errorMessage(err))
			return
		}
		principal = p
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("addr", ip).Err(err).Msg("websocket upgrade failed")
		return
	}

	client, err := s.hub.Accept(conn, principal, ip)
	if err != nil {
		deadline := time.Now().Add(writeWait)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, errorMessage(err)), deadline)
		_ = conn.Close()
		return
	}

	client.sendData(msgConnected, map[string]any{
		"clientId":            client.ID(),
		"serverTime":          nowRFC3339(),
		"heartbeatIntervalMs": s.cfg.Heartbeat.Interval.Milliseconds(),
		"reconnect": map[string]any{
			"maxAttempts":    s.cfg.Reconnect.MaxAttempts,
			"initialDelayMs": s.cfg.Reconnect.InitialDelay.Milliseconds(),
			"maxDelayMs":     s.cfg.Reconnect.MaxDelay.Milliseconds(),
		},
	})

	if room := r.URL.Query().Get("room"); room != "" {
		if err := s.hub.Join(client.ID(), room); err != nil {
			client.sendError(err)
		} else {
			client.sendData(msgJoined, map[string]any{"room": room, "joinedAt": nowRFC3339()})
		}
	}
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   nowRFC3339(),
	})
}

// handleStats returns the hub snapshot plus process memory usage.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"connectionCount":  stats.ConnectionCount,
			"roomCount":        stats.RoomCount,
			"uptimeMs":         stats.UptimeMs,
			"perRoomCounts":    stats.PerRoomCounts,
			"totalConnections": stats.TotalConnections,
			"totalMessages":    stats.TotalMessages,
			"roomsCreated":     stats.RoomsCreated,
			"memoryMb":         processMemoryMB(),
		},
	})
}

// handleRooms returns per-room member counts.
func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.hub.Stats().PerRoomCounts,
	})
}

type notifyRequest struct {
	Channel string         `json:"channel"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// handleNotify lets the admin backend push a notification to a channel.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Channel == "" || req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, "channel and message required")
		return
	}

	payload := map[string]any{"message": req.Message}
	for k, v := range req.Data {
		payload[k] = v
	}
	delivered := s.dispatcher.Publish(Event{
		Type:    EventNotification,
		Payload: withTimestamp(payload),
		Rooms:   []string{"channel:" + req.Channel},
	})

	log.Info().Str("channel", req.Channel).Int("delivered", delivered).Msg("admin notification published")
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"channel": req.Channel, "delivered": delivered},
	})
}

type roomMessageRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// handleRoomMessage publishes an admin message into a single room.
func (s *Server) handleRoomMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	room := r.PathValue("room")
	if !validRoomName(room) {
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, "invalid room name")
		return
	}

	var req roomMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, CodeBadRequest, "message content required")
		return
	}
	eventType := req.Type
	if eventType == "" {
		eventType = EventAdminNotification
	}

	delivered := s.dispatcher.Publish(Event{
		Type:    eventType,
		Payload: withTimestamp(map[string]any{"message": req.Message, "from": "system"}),
		Rooms:   []string{room},
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"room": room, "delivered": delivered},
	})
}

// handleSimulateVote publishes a synthetic vote_cast event for manual
// testing of the notification pipeline.
func (s *Server) handleSimulateVote(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	vote := map[string]any{
		"voteId":      stringOr(body, "voteId", "vote_"+nowRFC3339()),
		"electionId":  stringOr(body, "electionId", "test-election"),
		"voterId":     stringOr(body, "voterId", "test-voter"),
		"candidateId": stringOr(body, "candidateId", "test-candidate"),
	}
	delivered := s.dispatcher.PublishVote(vote)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"vote": vote, "delivered": delivered},
	})
}

// handleSimulateBlock publishes a synthetic block_mined event.
func (s *Server) handleSimulateBlock(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	block := map[string]any{
		"count": numberOr(body, "count", 1),
		"hash":  stringOr(body, "hash", "0x0"),
		"miner": stringOr(body, "miner", "test-miner"),
	}
	delivered := s.dispatcher.PublishBlock(block)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"block": block, "delivered": delivered},
	})
}

// requireAdmin authenticates the request and checks for the admin role.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, CodeAuth, "bearer token required")
		return false
	}
	p, err := s.auth.Verify(token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, CodeAuth, errorMessage(err))
		return false
	}
	if !p.Admin() {
		writeJSONError(w, http.StatusForbidden, CodeAccessDenied, "admin role required")
		return false
	}
	return true
}

// bearerToken extracts the token from the Authorization header or the token
// query parameter (browsers cannot set headers on WebSocket upgrades).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

// clientIP resolves the originating address, honoring X-Forwarded-For set
// by the reverse proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func processMemoryMB() float64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1 << 20)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("error writing response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]any{"code": code.String(), "message": message},
	})
}

func stringOr(body map[string]any, key, fallback string) string {
	if v, ok := body[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func numberOr(body map[string]any, key string, fallback float64) float64 {
	if v, ok := body[key].(float64); ok {
		return v
	}
	return fallback
}
