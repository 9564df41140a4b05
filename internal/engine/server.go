package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config bundles the tunables a Server needs beyond its repositories and
// HTTP client: retry behavior and, when non-nil, batching behavior.
type Config struct {
	Retry    RetryConfig
	Batching *BatchingConfig
}

// Server owns the full reliable-dispatch pipeline: the New-event
// Subscription feeding an optional Batching Stage, a Dispatcher performing
// HTTP attempts, and a RetrySubsystem supervising per-webhook backoff. It is
// the single entry point embedders use to start and stop the engine and to
// observe its errors.
type Server struct {
	webhooks WebhookRepo
	events   WebhookEventRepo
	cfg      Config
	logger   *slog.Logger

	state *InternalState
	errors *ErrorHub

	subscription *Subscription
	batcher      *Batcher
	dispatcher   *Dispatcher
	retry        *RetrySubsystem

	startupLatch  *Latch
	shutdownLatch *Latch
}

// NewServer wires every stage but does not start any of them; call Start.
func NewServer(webhooks WebhookRepo, events WebhookEventRepo, http WebhookHTTPClient, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	state := NewInternalState()
	errors := NewErrorHub(0)
	changeQueue := make(chan toRetryingNotification, cfg.Retry.Capacity)

	stageCount := 2 // subscription + dispatcher's retry subsystem
	if cfg.Batching != nil {
		stageCount++
	}
	shutdownLatch := NewLatch(stageCount)

	dispatcher := NewDispatcher(http, events, state, errors, changeQueue, cfg.Retry, logger)

	var batcher *Batcher
	if cfg.Batching != nil {
		batcher = NewBatcher(*cfg.Batching, dispatcher, state, shutdownLatch, logger)
	}

	retry := NewRetrySubsystem(changeQueue, dispatcher, events, state, errors, cfg.Retry, shutdownLatch, logger)

	subscription := NewSubscription(webhooks, events, dispatcher, batcher, state, errors, NewLatch(1), shutdownLatch, logger)

	return &Server{
		webhooks:      webhooks,
		events:        events,
		cfg:           cfg,
		logger:        logger,
		state:         state,
		errors:        errors,
		subscription:  subscription,
		batcher:       batcher,
		dispatcher:    dispatcher,
		retry:         retry,
		startupLatch:  subscription.startupLatch,
		shutdownLatch: shutdownLatch,
	}
}

// Start recovers AtLeastOnce events left Delivering by a previous process, then
// forks every stage's fiber and blocks until the New-event Subscription has
// opened its dequeue.
func (s *Server) Start(ctx context.Context) error {
	if err := s.recoverDelivering(ctx); err != nil {
		return fmt.Errorf("recover delivering events: %w", err)
	}

	if s.batcher != nil {
		go s.batcher.Run(ctx)
	}
	go s.retry.Run(ctx)
	go s.subscription.Run(ctx)

	if err := s.startupLatch.Await(ctx); err != nil {
		return fmt.Errorf("await startup: %w", err)
	}
	s.logger.Info("webhook engine started")
	return nil
}

// recoverDelivering re-queues events a crashed process left in Delivering for
// available AtLeastOnce webhooks: since no in-memory retry state survives a
// restart, the safest recovery is to hand them back to the Dispatcher as
// fresh first attempts. Delivering events of AtMostOnce webhooks are left as
// they are.
func (s *Server) recoverDelivering(ctx context.Context) error {
	stuck, err := s.events.ListByStatus(ctx, EventDelivering)
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	s.logger.Warn("recovering events left delivering by a previous run", "count", len(stuck))
	for _, event := range stuck {
		webhook, ok, err := s.webhooks.GetWebhookByID(ctx, event.Key.WebhookID)
		if err != nil {
			s.errors.publishRepositoryError("lookup webhook during recovery", err)
			continue
		}
		if !ok {
			s.errors.Publish(MissingWebhookError{WebhookID: event.Key.WebhookID})
			continue
		}
		if !webhook.Available() || webhook.Mode.Semantics != AtLeastOnce {
			continue
		}
		dispatch := NewDispatch(webhook, []WebhookEvent{event})
		go s.dispatcher.Deliver(ctx, dispatch)
	}
	return nil
}

// Shutdown broadcasts the shutdown signal to every stage and waits, up to
// timeout, for each to finish its own cleanup. The shutdown flag only ever
// moves in one direction: once set, it never un-sets.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	s.state.Shutdown()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.shutdownLatch.Await(waitCtx); err != nil {
		return fmt.Errorf("webhook engine shutdown timed out: %w", err)
	}
	s.logger.Info("webhook engine shut down")
	return nil
}

// Errors returns a live subscription over every error surfaced by the
// engine's fibers. Callers must Close it when done.
func (s *Server) Errors() *ErrorSubscription {
	return s.errors.Subscribe()
}

// WebhookState exposes the in-memory state of a webhook, primarily for
// diagnostics and the admin API's status endpoint.
func (s *Server) WebhookState(id WebhookID) WebhookState {
	return s.state.Get(id)
}
