package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ballotwire/votepulse/internal/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if level, perr := zerolog.ParseLevel(cfg.LogLevel); perr == nil {
		zerolog.SetGlobalLevel(level)
	}

	srv := server.NewServer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("termination signal received")
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}
