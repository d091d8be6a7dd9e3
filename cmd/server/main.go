// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

// Command server runs the fountain kiosk backend: session tracking,
// reconciliation over the embedded JetStream pipeline, the realtime
// websocket channel, and the HTTP API, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/culture-thirst/fontaine/internal/api"
	"github.com/culture-thirst/fontaine/internal/config"
	"github.com/culture-thirst/fontaine/internal/eventstream"
	"github.com/culture-thirst/fontaine/internal/fountain"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/realtime"
	"github.com/culture-thirst/fontaine/internal/rollup"
	"github.com/culture-thirst/fontaine/internal/store"
	"github.com/culture-thirst/fontaine/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("fountain_id", cfg.FountainID()).
		Str("listen", cfg.Server.ListenAddr()).
		Msg("Starting fontaine server")

	st, err := store.Open(store.Config{Path: cfg.Database.Path, InMemory: cfg.Database.InMemory})
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Store close failed")
		}
	}()

	tracker := fountain.NewTracker(st)

	// The simulator exists only when the stream layer is up; until then
	// button presses just fan out to the displays.
	var sim *eventstream.FillSimulator
	hub := newHub(cfg, st, func(pressed bool) {
		if sim == nil {
			return
		}
		if pressed {
			sim.Start()
		} else {
			sim.Stop()
		}
	})

	forwarder := rollup.New(rollup.Config{
		Enabled:       cfg.Rollup.Enabled,
		URL:           cfg.Rollup.URL,
		Timeout:       cfg.Rollup.Timeout,
		MaxRetries:    cfg.Rollup.MaxRetries,
		RetryDelay:    cfg.Rollup.RetryDelay,
		RatePerSecond: cfg.Rollup.RatePerSec,
	})

	processor := eventstream.NewProcessor(tracker, st, hub, forwarder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddRealtimeService(supervisor.Named("realtime-hub", hub))
	tree.AddMessagingService(supervisor.Named("rollup-forwarder", forwarder))
	tree.AddMessagingService(supervisor.Named("idle-closer",
		eventstream.NewIdleCloser(tracker, processor, cfg.Fountain.IdleCloseDelay)))

	var publisher *eventstream.Publisher
	if cfg.NATS.Enabled {
		publisher = initEventStream(ctx, cfg, processor, tree)
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Publisher close failed")
			}
		}()

		fid := fountain.ID{Department: cfg.Fountain.Department, Serial: cfg.Fountain.Serial}
		sim = eventstream.NewFillSimulator(publisher, fid, cfg.Fountain.FillRate, cfg.Fountain.IdleCloseDelay)
		tree.AddMessagingService(supervisor.Named("fill-simulator", sim))
	} else {
		logging.Warn().Msg("Event stream disabled; sensor ingest endpoint will refuse events")
	}

	// Close intents left over from a previous run apply before any new
	// traffic arrives.
	if err := processor.ReplayPending(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to replay pending closes")
	}

	var pub api.EventPublisher
	if publisher != nil {
		pub = publisher
	}
	handler := api.NewHandler(cfg, st, tracker, hub, pub, processor)
	httpServer := api.NewServer(cfg, api.NewRouter(cfg, handler).Setup())
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, 10*time.Second))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service missed shutdown timeout")
		}
	}
	logging.Info().Msg("Fontaine server stopped")
}

// newHub builds the realtime hub: the init snapshot reads today's rollups
// so reconnecting kiosk displays resynchronize, and device control signals
// (fill button press and release) fan back out to every display.
func newHub(cfg *config.Config, st *store.Store, onFill func(pressed bool)) *realtime.Hub {
	var pressed atomic.Bool
	var hub *realtime.Hub

	snapshot := func() realtime.InitSnapshot {
		today := time.Now().UTC().Format("2006-01-02")
		key := fountain.FlowKey{Date: today, Department: cfg.Fountain.Department, Serial: cfg.Fountain.Serial}

		machine, err := st.GetMachineRollup(key)
		if err != nil {
			logging.Error().Err(err).Msg("Machine rollup read failed for init snapshot")
			machine = &store.Rollup{}
		}
		dept, err := st.GetDepartmentRollup(today, cfg.Fountain.Department)
		if err != nil {
			logging.Error().Err(err).Msg("Department rollup read failed for init snapshot")
			dept = &store.Rollup{}
		}
		return realtime.InitSnapshot{
			MachineWater:   machine.WaterLiters,
			MachinePlastic: machine.PlasticRecycledGrams,
			DeptWater:      dept.WaterLiters,
			DeptPlastic:    dept.PlasticRecycledGrams,
			IsPressed:      pressed.Load(),
		}
	}

	onControl := func(m realtime.Message) {
		switch m.Kind {
		case realtime.KindStartFill:
			pressed.Store(true)
			onFill(true)
		case realtime.KindStopFill:
			pressed.Store(false)
			onFill(false)
		}
		hub.Broadcast(m)
	}

	hub = realtime.NewHub(snapshot, onControl)
	return hub
}
