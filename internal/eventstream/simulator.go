// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
)

// FlowPublisher is the slice of the Publisher the simulator needs.
type FlowPublisher interface {
	PublishEvent(ctx context.Context, event *FlowEvent) error
}

// FillSimulator stands in for the physical flow sensor on kiosks without
// one: while the fill button is held it accumulates water at the pump's
// fill rate and publishes cumulative flow snapshots; once the button has
// been released for the idle delay it publishes the session terminal and
// resets. Deployments with a real sensor push through the ingest endpoint
// instead and never press Start.
type FillSimulator struct {
	publisher FlowPublisher
	fountain  fountain.ID
	fillRate  float64 // liters per second
	idleDelay time.Duration
	tick      time.Duration

	mu          sync.Mutex
	filling     bool
	total       float64
	lastTick    time.Time
	lastRelease time.Time
}

// NewFillSimulator creates a simulator for one fountain.
func NewFillSimulator(publisher FlowPublisher, id fountain.ID, fillRate float64, idleDelay time.Duration) *FillSimulator {
	if fillRate <= 0 {
		fillRate = 0.008
	}
	if idleDelay <= 0 {
		idleDelay = 3 * time.Second
	}
	return &FillSimulator{
		publisher: publisher,
		fountain:  id,
		fillRate:  fillRate,
		idleDelay: idleDelay,
		tick:      500 * time.Millisecond,
	}
}

// Start marks the fill button pressed.
func (s *FillSimulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filling {
		s.filling = true
		s.lastTick = time.Now()
	}
}

// Stop marks the fill button released. The accumulated total survives
// until the idle delay elapses, so a user can press again mid-session.
func (s *FillSimulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filling {
		s.filling = false
		s.lastRelease = time.Now()
	}
}

// Serve runs the accumulation loop until the context is canceled.
func (s *FillSimulator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.step(ctx, now)
		}
	}
}

func (s *FillSimulator) step(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var event *FlowEvent
	switch {
	case s.filling:
		s.total += s.fillRate * now.Sub(s.lastTick).Seconds()
		s.lastTick = now
		event = NewFlowEvent(KindFlowSnapshot, s.key(), s.total)
	case s.total > 0 && now.Sub(s.lastRelease) >= s.idleDelay:
		event = NewFlowEvent(KindSessionTerminal, s.key(), s.total)
		s.total = 0
	}
	s.mu.Unlock()

	if event == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		logging.Warn().
			Err(err).
			Str("kind", event.Kind).
			Float64("liters", event.WaterLiters).
			Msg("Simulated flow event publish failed")
		if event.Kind == KindSessionTerminal {
			// Put the total back so the terminal retries next idle tick.
			s.mu.Lock()
			s.total += event.WaterLiters
			s.lastRelease = time.Now()
			s.mu.Unlock()
		}
	}
}

func (s *FillSimulator) key() fountain.FlowKey {
	return fountain.FlowKey{
		Date:       time.Now().UTC().Format("2006-01-02"),
		Department: s.fountain.Department,
		Serial:     s.fountain.Serial,
	}
}
