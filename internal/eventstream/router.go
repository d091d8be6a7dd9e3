// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package eventstream

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	natsgo "github.com/nats-io/nats.go"

	"github.com/culture-thirst/fontaine/internal/metrics"
)

// RouterConfig holds Watermill router settings.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	// PoisonQueueTopic receives messages that exhaust their retries.
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      5,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
		PoisonQueueTopic:     "flow.poison",
	}
}

// Router wraps the Watermill router with the middleware stack in fixed
// order: panics become errors, transient failures retry with backoff, and
// permanent failures land on the poison queue instead of blocking the
// consumer.
type Router struct {
	router *message.Router
	config RouterConfig
	logger watermill.LoggerAdapter
}

// NewRouter builds the router. poisonPublisher may be nil to disable the
// poison queue (tests only).
func NewRouter(cfg RouterConfig, poisonPublisher message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retryMiddleware := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retryMiddleware.Middleware)

	if poisonPublisher != nil && cfg.PoisonQueueTopic != "" {
		counted := &poisonCountingPublisher{inner: poisonPublisher}
		poisonQueue, err := middleware.PoisonQueue(counted, cfg.PoisonQueueTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poisonQueue)
	}

	return &Router{router: wmRouter, config: cfg, logger: logger}, nil
}

// poisonCountingPublisher counts messages handed to the poison queue and
// rewrites their deduplication id before republishing.
type poisonCountingPublisher struct {
	inner message.Publisher
}

func (p *poisonCountingPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		// The consumed message still carries the dedup id of its original
		// publish, and the poison topic lands in the same stream. An
		// unchanged id inside the duplicate window would make JetStream
		// discard the poison copy. The rewritten id still collapses
		// repeated poisonings of the same message.
		if id := msg.Metadata.Get(natsgo.MsgIdHdr); id != "" {
			msg.Metadata.Set(natsgo.MsgIdHdr, "poison."+id)
		}
	}
	if err := p.inner.Publish(topic, messages...); err != nil {
		return err
	}
	metrics.EventsPoisoned.Add(float64(len(messages)))
	return nil
}

func (p *poisonCountingPublisher) Close() error {
	return p.inner.Close()
}

// AddConsumerHandler registers a no-output handler for a topic.
func (r *Router) AddConsumerHandler(name, topic string, subscriber message.Subscriber, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, subscriber, handler)
}

// Serve runs the router until ctx cancellation. Implements suture.Service.
func (r *Router) Serve(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running closes when the router has started all handlers.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close gracefully stops the router, waiting up to CloseTimeout.
func (r *Router) Close() error {
	return r.router.Close()
}
