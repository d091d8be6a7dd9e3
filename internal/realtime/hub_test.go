// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package realtime

import (
	"context"
	"testing"
	"time"
)

func startTestHub(t *testing.T, snapshot SnapshotFunc) *Hub {
	t.Helper()
	h := NewHub(snapshot, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Hub did not stop after context cancel")
		}
	})
	return h
}

func newTestClient() *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		send: make(chan Message, 16),
	}
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m := <-c.send:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
		return Message{}
	}
}

func TestHubSendsInitSnapshotOnRegister(t *testing.T) {
	h := startTestHub(t, func() InitSnapshot {
		return InitSnapshot{MachineWater: 5.5, MachinePlastic: 210, DeptWater: 20, DeptPlastic: 840, IsPressed: true}
	})

	c := newTestClient()
	h.Register <- c

	m := recvMessage(t, c)
	if m.Kind != KindInit {
		t.Fatalf("Got kind %q, want init", m.Kind)
	}
	if m.Init.MachineWater != 5.5 || !m.Init.IsPressed {
		t.Errorf("Got snapshot %+v", m.Init)
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	h := startTestHub(t, nil)

	c1 := newTestClient()
	c2 := newTestClient()
	h.Register <- c1
	h.Register <- c2
	recvMessage(t, c1) // init
	recvMessage(t, c2)

	h.BroadcastFlow(0.75)

	for _, c := range []*Client{c1, c2} {
		m := recvMessage(t, c)
		if m.Kind != KindFlow || m.Flow != 0.75 {
			t.Errorf("Got %+v, want flow 0.75", m)
		}
	}
}

func TestHubUnregisterStopsDelivery(t *testing.T) {
	h := startTestHub(t, nil)

	c := newTestClient()
	h.Register <- c
	recvMessage(t, c)

	h.Unregister <- c

	// The hub closes the send channel on unregister.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("Expected closed channel after unregister")
		}
	case <-time.After(2 * time.Second):
		t.Error("Send channel not closed after unregister")
	}

	if got := h.ClientCount(); got != 0 {
		t.Errorf("Got %d clients, want 0", got)
	}
}

func TestHubEvictsSlowClient(t *testing.T) {
	h := startTestHub(t, nil)

	slow := &Client{id: clientIDCounter.Add(1), send: make(chan Message)} // unbuffered, never drained
	ok := newTestClient()
	h.Register <- slow
	h.Register <- ok
	recvMessage(t, ok)

	h.BroadcastUpdateDone()

	m := recvMessage(t, ok)
	if m.Kind != KindUpdateDone {
		t.Fatalf("Got kind %q, want update_done", m.Kind)
	}

	deadline := time.After(2 * time.Second)
	for h.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("Slow client not evicted, %d clients remain", h.ClientCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHubControlCallback(t *testing.T) {
	got := make(chan Message, 1)
	h := NewHub(nil, func(m Message) { got <- m })

	h.onControl(Message{Kind: KindStartFill})

	select {
	case m := <-got:
		if m.Kind != KindStartFill {
			t.Errorf("Got kind %q, want start_fill", m.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Control callback not invoked")
	}
}
