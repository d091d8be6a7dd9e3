// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/culture-thirst/fontaine/internal/fountain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*FlowEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event *FlowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []*FlowEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FlowEvent(nil), p.events...)
}

func simFixture() (*FillSimulator, *recordingPublisher) {
	pub := &recordingPublisher{}
	id := fountain.ID{Department: "EPHEC0", Serial: "1M02"}
	sim := NewFillSimulator(pub, id, 0.5, 2*time.Second)
	return sim, pub
}

func TestSimulatorAccumulatesWhileFilling(t *testing.T) {
	sim, pub := simFixture()
	ctx := context.Background()

	base := time.Now()
	sim.Start()
	sim.mu.Lock()
	sim.lastTick = base
	sim.mu.Unlock()

	sim.step(ctx, base.Add(time.Second))
	sim.step(ctx, base.Add(2*time.Second))

	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for _, e := range events {
		if e.Kind != KindFlowSnapshot {
			t.Errorf("Kind = %q, want %q", e.Kind, KindFlowSnapshot)
		}
		if e.Department != "EPHEC0" || e.Serial != "1M02" {
			t.Errorf("key = %s/%s", e.Department, e.Serial)
		}
	}
	// 0.5 L/s over two one-second ticks; snapshots are cumulative.
	if got := events[1].WaterLiters; got < 0.99 || got > 1.01 {
		t.Errorf("cumulative liters = %v, want ~1.0", got)
	}
	if events[0].WaterLiters >= events[1].WaterLiters {
		t.Error("snapshots must be monotonically increasing while filling")
	}
}

func TestSimulatorEmitsTerminalAfterIdle(t *testing.T) {
	sim, pub := simFixture()
	ctx := context.Background()

	base := time.Now()
	sim.Start()
	sim.mu.Lock()
	sim.lastTick = base
	sim.mu.Unlock()
	sim.step(ctx, base.Add(time.Second))
	sim.Stop()
	sim.mu.Lock()
	sim.lastRelease = base.Add(time.Second)
	sim.mu.Unlock()

	// Still idle-pending: no terminal yet.
	sim.step(ctx, base.Add(2*time.Second))
	events := pub.snapshot()
	if len(events) != 1 {
		t.Fatalf("events before idle elapsed = %d, want 1", len(events))
	}

	sim.step(ctx, base.Add(4*time.Second))
	events = pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("events after idle elapsed = %d, want 2", len(events))
	}
	terminal := events[1]
	if terminal.Kind != KindSessionTerminal {
		t.Fatalf("Kind = %q, want %q", terminal.Kind, KindSessionTerminal)
	}
	if terminal.WaterLiters < 0.49 || terminal.WaterLiters > 0.51 {
		t.Errorf("terminal liters = %v, want ~0.5", terminal.WaterLiters)
	}

	// The total reset with the terminal; nothing further is emitted.
	sim.step(ctx, base.Add(10*time.Second))
	if got := len(pub.snapshot()); got != 2 {
		t.Errorf("events after reset = %d, want 2", got)
	}
}

func TestSimulatorRestoresTotalOnTerminalPublishFailure(t *testing.T) {
	sim, pub := simFixture()
	ctx := context.Background()

	base := time.Now()
	sim.Start()
	sim.mu.Lock()
	sim.lastTick = base
	sim.mu.Unlock()
	sim.step(ctx, base.Add(time.Second))
	sim.Stop()
	sim.mu.Lock()
	sim.lastRelease = base.Add(time.Second)
	sim.mu.Unlock()

	pub.mu.Lock()
	pub.err = context.DeadlineExceeded
	pub.mu.Unlock()
	sim.step(ctx, base.Add(4*time.Second))

	sim.mu.Lock()
	total := sim.total
	sim.mu.Unlock()
	if total < 0.49 || total > 0.51 {
		t.Errorf("total after failed terminal = %v, want restored ~0.5", total)
	}
}

func TestSimulatorRepeatPressAccumulates(t *testing.T) {
	sim, pub := simFixture()
	ctx := context.Background()

	base := time.Now()
	sim.Start()
	sim.mu.Lock()
	sim.lastTick = base
	sim.mu.Unlock()
	sim.step(ctx, base.Add(time.Second))
	sim.Stop()

	// Second press before the idle delay keeps the running total.
	sim.Start()
	sim.mu.Lock()
	sim.lastTick = base.Add(time.Second)
	sim.mu.Unlock()
	sim.step(ctx, base.Add(2*time.Second))

	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if got := events[1].WaterLiters; got < 0.99 || got > 1.01 {
		t.Errorf("total after second press = %v, want ~1.0", got)
	}
}
