package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShutdownBoundedBySingleDeadline(t *testing.T) {
	srv := NewServer(testConfig())
	go srv.hub.Run()

	// A pump that never finishes forces the drain to its deadline.
	srv.hub.wg.Add(1)
	t.Cleanup(srv.hub.wg.Done)

	start := time.Now()
	err := srv.Shutdown(200 * time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown = %v, want deadline exceeded", err)
	}
	if elapsed > 350*time.Millisecond {
		t.Errorf("drain took %v; the timeout must bound both shutdown phases together", elapsed)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := NewServer(testConfig())
	go srv.hub.Run()

	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("repeated Shutdown must be a no-op, got %v", err)
	}
}
