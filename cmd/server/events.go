// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package main

import (
	"context"

	"github.com/culture-thirst/fontaine/internal/config"
	"github.com/culture-thirst/fontaine/internal/eventstream"
	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/supervisor"
)

// initEventStream brings up the flow event pipeline: the embedded
// JetStream server (when configured), the FLOW stream, the publisher the
// ingest endpoint uses, and the consumer router feeding the processor.
// Failures here are fatal; the kiosk cannot reconcile without its stream.
func initEventStream(ctx context.Context, cfg *config.Config, processor *eventstream.Processor, tree *supervisor.Tree) *eventstream.Publisher {
	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		embedded, err := eventstream.NewEmbeddedServer(eventstream.ServerConfig{
			Host:      cfg.NATS.Host,
			Port:      cfg.NATS.Port,
			StoreDir:  cfg.NATS.StoreDir,
			MaxMemory: cfg.NATS.MaxMemory,
			MaxStore:  cfg.NATS.MaxStore,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		url = embedded.ClientURL()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.NATS.RouterCloseTimeout)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
			}
		}()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	streamCfg := eventstream.DefaultStreamConfig()
	if cfg.NATS.StreamName != "" {
		streamCfg.Name = cfg.NATS.StreamName
	}
	if cfg.NATS.RetentionAge > 0 {
		streamCfg.MaxAge = cfg.NATS.RetentionAge
	}
	if err := eventstream.EnsureStream(ctx, url, streamCfg); err != nil {
		logging.Fatal().Err(err).Str("stream", streamCfg.Name).Msg("Failed to provision flow stream")
	}

	wmLogger := eventstream.NewWatermillLogger()

	publisher, err := eventstream.NewPublisher(eventstream.PublisherConfig{URL: url}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create flow publisher")
	}

	subscriber, err := eventstream.NewSubscriber(eventstream.SubscriberConfig{
		URL:              url,
		StreamName:       streamCfg.Name,
		QueueGroup:       cfg.NATS.QueueGroup,
		DurableName:      cfg.NATS.DurableName,
		SubscribersCount: cfg.NATS.Subscribers,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create flow subscriber")
	}
	go func() {
		<-ctx.Done()
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Subscriber close failed")
		}
	}()

	routerCfg := eventstream.DefaultRouterConfig()
	if cfg.NATS.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	}
	if cfg.NATS.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	}
	if cfg.NATS.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
	}
	if cfg.NATS.RouterRetryMaxInterval > 0 {
		routerCfg.RetryMaxInterval = cfg.NATS.RouterRetryMaxInterval
	}
	if cfg.NATS.RouterPoisonQueueTopic != "" {
		routerCfg.PoisonQueueTopic = cfg.NATS.RouterPoisonQueueTopic
	}
	router, err := eventstream.NewRouter(routerCfg, publisher.WatermillPublisher(), wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event router")
	}

	processor.RegisterHandlers(router, subscriber)
	tree.AddMessagingService(supervisor.Named("event-router", router))

	return publisher
}
