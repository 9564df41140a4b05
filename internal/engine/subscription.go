package engine

import (
	"context"
	"log/slog"
)

// Subscription is the New-event Subscription: it consumes events with status
// New, resolves their webhook, marks them Delivering, and hands them off to
// the Batching Stage or directly to the Dispatcher.
type Subscription struct {
	webhooks      WebhookRepo
	events        WebhookEventRepo
	dispatcher    *Dispatcher
	batcher       *Batcher // nil when batching is not configured
	state         *InternalState
	errors        *ErrorHub
	startupLatch  *Latch
	shutdownLatch *Latch
	logger        *slog.Logger
}

// NewSubscription wires a Subscription.
func NewSubscription(
	webhooks WebhookRepo,
	events WebhookEventRepo,
	dispatcher *Dispatcher,
	batcher *Batcher,
	state *InternalState,
	errors *ErrorHub,
	startupLatch *Latch,
	shutdownLatch *Latch,
	logger *slog.Logger,
) *Subscription {
	return &Subscription{
		webhooks:      webhooks,
		events:        events,
		dispatcher:    dispatcher,
		batcher:       batcher,
		state:         state,
		errors:        errors,
		startupLatch:  startupLatch,
		shutdownLatch: shutdownLatch,
		logger:        logger,
	}
}

// Run acquires the New-status dequeue and loops until shutdown, racing each
// take against the shutdown channel.
func (s *Subscription) Run(ctx context.Context) {
	dequeue, err := s.events.GetEventsByStatuses(ctx, []EventStatus{EventNew})
	if err != nil {
		s.errors.publishRepositoryError("subscribe to new events", err)
		s.startupLatch.CountDown()
		s.shutdownLatch.CountDown()
		return
	}
	defer dequeue.Close()

	s.startupLatch.CountDown()
	s.logger.Info("new-event subscription live")

	for {
		select {
		case <-s.state.ShutdownChannel():
			s.logger.Info("new-event subscription shutting down")
			s.shutdownLatch.CountDown()
			return

		case event, ok := <-dequeue.Events():
			if !ok {
				s.shutdownLatch.CountDown()
				return
			}
			// Uninterruptible: the status write and handoff below must not
			// be torn by a concurrent shutdown signal.
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Subscription) handleEvent(ctx context.Context, event WebhookEvent) {
	webhook, ok, err := s.webhooks.GetWebhookByID(ctx, event.Key.WebhookID)
	if err != nil {
		s.errors.publishRepositoryError("lookup webhook", err)
		return
	}
	if !ok {
		s.errors.Publish(MissingWebhookError{WebhookID: event.Key.WebhookID})
		return
	}
	if !webhook.Available() {
		// Disabled/Unavailable webhooks are ignored by ingestion.
		return
	}

	if err := s.events.SetEventStatus(ctx, event.Key, EventDelivering); err != nil {
		s.errors.publishRepositoryError("mark event delivering", err)
		return
	}
	event.Status = EventDelivering

	if webhook.Mode.Batching == Batched && s.batcher != nil {
		s.batcher.Offer(batchItem{Webhook: webhook, Event: event})
		return
	}

	dispatch := NewDispatch(webhook, []WebhookEvent{event})
	go s.dispatcher.Deliver(ctx, dispatch)
}
