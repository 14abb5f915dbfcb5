// Package server wires HTTP handlers into a ServeMux.
package server

import "net/http"

// routes configures the HTTP mux: health, websocket upgrade, and the
// operational REST API.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+s.cfg.WSPath, s.handleWebSocket)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("POST /api/notify", s.handleNotify)
	mux.HandleFunc("POST /api/rooms/{room}/message", s.handleRoomMessage)
	mux.HandleFunc("POST /api/simulate/vote", s.handleSimulateVote)
	mux.HandleFunc("POST /api/simulate/block", s.handleSimulateBlock)
	return mux
}
