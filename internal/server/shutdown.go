// Package server coordinates graceful shutdown: stop accepting, drain
// connections, enforce a hard deadline.
package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Shutdown drains the server. It is idempotent against repeated signals and
// bounded by the timeout: the HTTP listener stops accepting, every open
// connection receives a close frame with reason server_shutdown, and any
// transport still open at the deadline is force-closed.
func (s *Server) Shutdown(timeout time.Duration) error {
	var err error
	s.shutdownOnce.Do(func() {
		log.Info().Dur("timeout", timeout).Msg("shutting down")
		s.cancel()

		// One deadline bounds the whole drain; the hub gets whatever the
		// HTTP listener left of it.
		deadline := time.Now().Add(timeout)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		if herr := s.httpServer.Shutdown(ctx); herr != nil {
			log.Warn().Err(herr).Msg("http server shutdown error")
			err = herr
		}

		if herr := s.hub.Shutdown(time.Until(deadline)); herr != nil {
			err = herr
		}
	})
	return err
}
