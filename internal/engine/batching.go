package engine

import (
	"context"
	"log/slog"
	"time"
)

// BatchingConfig enables the Batching Stage when non-nil.
type BatchingConfig struct {
	Capacity    int
	MaxSize     int
	MaxWaitTime time.Duration
}

// batchItem is a single (webhook, event) pair offered onto the batching
// queue by the New-event Subscription.
type batchItem struct {
	Webhook Webhook
	Event   WebhookEvent
}

// groupKey groups events by webhook and content type: a single HTTP POST
// carries one content type, so events with differing content types for the
// same webhook form separate batches.
type groupKey struct {
	WebhookID   WebhookID
	ContentType string
}

type group struct {
	webhook Webhook
	events  []WebhookEvent
	timer   *time.Timer
}

// Batcher drains the batching queue on a single fiber, grouping events by
// (webhook, content-type) and flushing each group by size or time, whichever
// comes first.
type Batcher struct {
	in            chan batchItem
	cfg           BatchingConfig
	dispatcher    *Dispatcher
	state         *InternalState
	shutdownLatch *Latch
	logger        *slog.Logger
}

// NewBatcher creates a Batcher with an internal queue of cfg.Capacity items;
// the New-event Subscription offers (webhook, event) pairs onto it via Offer.
func NewBatcher(cfg BatchingConfig, dispatcher *Dispatcher, state *InternalState, shutdownLatch *Latch, logger *slog.Logger) *Batcher {
	return &Batcher{
		in:            make(chan batchItem, cfg.Capacity),
		cfg:           cfg,
		dispatcher:    dispatcher,
		state:         state,
		shutdownLatch: shutdownLatch,
		logger:        logger,
	}
}

// Offer hands a (webhook, event) pair to the batching stage. Uninterruptible
// by design: called only after the event has already been marked Delivering,
// so the offer must not be abandoned partway.
func (b *Batcher) Offer(item batchItem) {
	b.in <- item
}

// Run drains the batching queue until shutdown, then flushes any partial
// groups once (rather than dropping them) before releasing the shutdown
// latch.
func (b *Batcher) Run(ctx context.Context) {
	groups := make(map[groupKey]*group)
	flushCh := make(chan groupKey, 64)

	flush := func(key groupKey) {
		g, ok := groups[key]
		if !ok {
			return
		}
		delete(groups, key)
		dispatch := NewDispatch(g.webhook, g.events)
		go b.dispatcher.Deliver(ctx, dispatch)
	}

	for {
		select {
		case item := <-b.in:
			contentType, _ := item.Event.ContentType()
			key := groupKey{WebhookID: item.Webhook.ID, ContentType: contentType}
			g, ok := groups[key]
			if !ok {
				g = &group{webhook: item.Webhook}
				groups[key] = g
				waitTime := b.cfg.MaxWaitTime
				g.timer = time.AfterFunc(waitTime, func() {
					select {
					case flushCh <- key:
					default:
					}
				})
			}
			g.events = append(g.events, item.Event)
			if len(g.events) >= b.cfg.MaxSize {
				g.timer.Stop()
				flush(key)
			}

		case key := <-flushCh:
			flush(key)

		case <-b.state.ShutdownChannel():
			// Items offered before the signal but not yet taken join the
			// final flush; this fiber is the queue's only reader.
			for len(b.in) > 0 {
				item := <-b.in
				contentType, _ := item.Event.ContentType()
				key := groupKey{WebhookID: item.Webhook.ID, ContentType: contentType}
				if _, ok := groups[key]; !ok {
					groups[key] = &group{webhook: item.Webhook, timer: time.NewTimer(b.cfg.MaxWaitTime)}
				}
				groups[key].events = append(groups[key].events, item.Event)
			}
			pending := len(groups)
			for _, g := range groups {
				g.timer.Stop()
				b.dispatcher.Deliver(ctx, NewDispatch(g.webhook, g.events))
			}
			b.logger.Info("batching stage shut down", "flushed_groups", pending)
			b.shutdownLatch.CountDown()
			return
		}
	}
}
