// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Package rollup forwards reconciled consumption deltas to the external
// rollup endpoint. The endpoint receives deltas, never cumulative totals;
// the two legacy conventions are incompatible and this codebase emits only
// the delta form.
package rollup

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/metrics"
	"github.com/culture-thirst/fontaine/internal/store"
)

// Config holds forwarder settings.
type Config struct {
	// Enabled turns forwarding on. Disabled deployments keep rollups local.
	Enabled bool

	// URL is the external rollup write endpoint.
	URL string

	// Timeout bounds each HTTP attempt.
	Timeout time.Duration

	// MaxRetries bounds attempts per delta before it is parked back on
	// the queue tail.
	MaxRetries int

	// RetryDelay is the initial backoff between attempts; it doubles per
	// attempt up to one minute.
	RetryDelay time.Duration

	// RatePerSecond paces outbound requests. Zero disables pacing.
	RatePerSecond float64

	// QueueSize bounds the in-memory delta queue.
	QueueSize int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Timeout:       10 * time.Second,
		MaxRetries:    5,
		RetryDelay:    time.Second,
		RatePerSecond: 2,
		QueueSize:     1024,
	}
}

// payload is the delta convention the endpoint accepts.
type payload struct {
	Date            string             `json:"date"`
	Department      string             `json:"department"`
	Serial          string             `json:"serial"`
	LastTransaction *store.RollupDelta `json:"lastTransaction"`
}

type queued struct {
	key   fountain.FlowKey
	delta store.RollupDelta
}

// Forwarder ships deltas over HTTP with circuit breaker protection, rate
// pacing and bounded backoff retries. Implements suture.Service.
type Forwarder struct {
	config  Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[int]
	limiter *rate.Limiter
	queue   chan queued
}

// New creates a forwarder.
func New(cfg Config) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	breaker := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "rollup-forwarder",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Rollup forwarder circuit breaker state changed")
		},
	})

	return &Forwarder{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: limiter,
		queue:   make(chan queued, cfg.QueueSize),
	}
}

// Enqueue queues a delta for forwarding. Never blocks; when the queue is
// full the delta is dropped with a metric, since the authoritative rollup
// already lives in the local store.
func (f *Forwarder) Enqueue(key fountain.FlowKey, delta store.RollupDelta) {
	if !f.config.Enabled {
		return
	}
	select {
	case f.queue <- queued{key: key, delta: delta}:
	default:
		metrics.RollupForwards.WithLabelValues("error").Inc()
		logging.Warn().Str("key", key.String()).Msg("Rollup forward queue full, delta dropped")
	}
}

// Serve drains the queue until ctx is canceled.
func (f *Forwarder) Serve(ctx context.Context) error {
	if !f.config.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-f.queue:
			f.forward(ctx, item)
		}
	}
}

// forward delivers one delta with bounded exponential backoff. After the
// retry budget the delta goes back on the queue tail so it is never lost
// while the process lives.
func (f *Forwarder) forward(ctx context.Context, item queued) {
	backoff := f.config.RetryDelay
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
		}

		err := f.post(ctx, item)
		if err == nil {
			metrics.RollupForwards.WithLabelValues("ok").Inc()
			return
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.RollupForwards.WithLabelValues("breaker_open").Inc()
		} else {
			metrics.RollupForwards.WithLabelValues("error").Inc()
			logging.Warn().
				Err(err).
				Str("key", item.key.String()).
				Int("attempt", attempt+1).
				Msg("Rollup forward attempt failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}

	// Budget exhausted. Requeue at the tail and move on.
	select {
	case f.queue <- item:
	default:
		logging.Error().Str("key", item.key.String()).Msg("Rollup forward abandoned, queue full")
	}
}

func (f *Forwarder) post(ctx context.Context, item queued) error {
	_, err := f.breaker.Execute(func() (int, error) {
		body, err := json.Marshal(payload{
			Date:            item.key.Date,
			Department:      item.key.Department,
			Serial:          item.key.Serial,
			LastTransaction: &item.delta,
		})
		if err != nil {
			return 0, fmt.Errorf("marshal rollup payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.URL, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("build rollup request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, fmt.Errorf("rollup endpoint returned %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	})
	return err
}
