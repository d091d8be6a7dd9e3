// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/culture-thirst/fontaine/internal/logging"
)

type countingService struct {
	starts atomic.Int64
}

func (c *countingService) Serve(ctx context.Context) error {
	c.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	svc := &countingService{}
	tree.AddMessagingService(Named("counter", svc))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("service never started")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

type fakeHTTPServer struct {
	listening chan struct{}
	closed    chan struct{}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	close(f.listening)
	<-f.closed
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	close(f.closed)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := &fakeHTTPServer{listening: make(chan struct{}), closed: make(chan struct{})}
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case <-srv.listening:
	case <-time.After(time.Second):
		t.Fatal("server never listened")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	failing := failingServer{err: errors.New("bind: address already in use")}
	svc := NewHTTPService(failing, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || err.Error() != failing.err.Error() {
		t.Errorf("Serve() error = %v, want bind failure", err)
	}
}

type failingServer struct{ err error }

func (f failingServer) ListenAndServe() error          { return f.err }
func (f failingServer) Shutdown(context.Context) error { return nil }
