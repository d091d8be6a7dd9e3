// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer matches the *http.Server lifecycle methods the wrapper needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts a blocking ListenAndServe server to suture's
// context-aware Serve contract.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an HTTP server for supervision.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// result of a graceful shutdown and maps to ctx.Err().
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// ContextService matches components whose Serve already follows the
// suture contract (the realtime hub, the event router, the forwarder).
type ContextService interface {
	Serve(ctx context.Context) error
}

// NamedService gives a supervised component a stable name in suture logs.
type NamedService struct {
	name string
	svc  ContextService
}

// Named wraps a context-aware component for supervision.
func Named(name string, svc ContextService) *NamedService {
	return &NamedService{name: name, svc: svc}
}

// Serve implements suture.Service.
func (n *NamedService) Serve(ctx context.Context) error {
	return n.svc.Serve(ctx)
}

func (n *NamedService) String() string { return n.name }
