// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package rollup

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/store"
)

func testKey() fountain.FlowKey {
	return fountain.FlowKey{Date: "2026-08-28", Department: "EPHEC0", Serial: "1M02"}
}

func startForwarder(t *testing.T, cfg Config) *Forwarder {
	t.Helper()
	f := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Forwarder did not stop")
		}
	})
	return f
}

func TestForwarderDeliversDelta(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p payload
		if err := json.Unmarshal(body, &p); err != nil {
			t.Errorf("Bad payload: %v", err)
		}
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.URL = srv.URL
	cfg.RatePerSecond = 0
	f := startForwarder(t, cfg)

	f.Enqueue(testKey(), store.RollupDelta{WaterLiters: 1.2, PlasticRecycledGrams: 42})

	select {
	case p := <-received:
		if p.Date != "2026-08-28" || p.Department != "EPHEC0" || p.Serial != "1M02" {
			t.Errorf("Got key %s/%s/%s", p.Date, p.Department, p.Serial)
		}
		if p.LastTransaction == nil || p.LastTransaction.WaterLiters != 1.2 || p.LastTransaction.PlasticRecycledGrams != 42 {
			t.Errorf("Got delta %+v", p.LastTransaction)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Delta never delivered")
	}
}

func TestForwarderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{
		Enabled:    true,
		URL:        srv.URL,
		Timeout:    time.Second,
		MaxRetries: 5,
		QueueSize:  8,
	})
	// Drive forward directly to avoid real backoff sleeps dominating; the
	// first backoff is 1s, acceptable for this test.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	f.forward(ctx, queued{key: testKey(), delta: store.RollupDelta{WaterLiters: 0.5}})

	if got := calls.Load(); got != 3 {
		t.Errorf("Got %d calls, want 3 (two failures then success)", got)
	}
}

func TestForwarderDisabledDropsSilently(t *testing.T) {
	f := New(Config{Enabled: false, QueueSize: 1})
	f.Enqueue(testKey(), store.RollupDelta{WaterLiters: 1})

	select {
	case item := <-f.queue:
		t.Errorf("Disabled forwarder queued %+v", item)
	default:
	}
}
