// Package server constructs and starts the notification service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Server wires the hub, dispatcher, rate limiter, authenticator, and
// blockchain poller behind one HTTP listener.
type Server struct {
	cfg        *Config
	hub        *Hub
	dispatcher *Dispatcher
	limiter    *ConnectionLimiter
	auth       *Authenticator
	poller     *BlockPoller
	upgrader   websocket.Upgrader
	httpServer *http.Server

	allowedOrigins  map[string]struct{}
	allowAllOrigins bool

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewServer builds a fully wired Server from a validated configuration.
func NewServer(cfg *Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub(cfg)
	dispatcher := NewDispatcher(hub)

	s := &Server{
		cfg:        cfg,
		hub:        hub,
		dispatcher: dispatcher,
		limiter:    NewConnectionLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxConnections),
		auth:       NewAuthenticator(cfg.JWTSecret),
		poller:     NewBlockPoller(cfg.Blockchain, dispatcher),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.allowedOrigins, s.allowAllOrigins = buildOriginSet(cfg.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: cfg.AuthTimeout,
		CheckOrigin:      s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Dispatcher returns the broadcast dispatcher used by internal producers.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Handler returns the HTTP handler, usable with a test server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start launches the background loops and blocks serving HTTP until
// Shutdown is called or the listener fails.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.poller.Run(s.ctx)
	go s.limiterSweepLoop(s.ctx)

	log.Info().
		Str("addr", s.cfg.Addr()).
		Str("wsPath", s.cfg.WSPath).
		Strs("corsOrigins", s.cfg.AllowedOrigins).
		Msg("server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// limiterSweepLoop periodically drops expired rate-limit buckets.
func (s *Server) limiterSweepLoop(ctx context.Context) {
	interval := s.cfg.RateLimit.Window / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.limiter.Sweep(now)
		}
	}
}
