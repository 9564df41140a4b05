// Package memstore provides in-memory implementations of the engine's
// repository ports, used by tests and by embedders that don't need
// durability across restarts.
package memstore

import (
	"context"
	"sync"

	"github.com/formbricks/webhook-engine/internal/engine"
)

// Store is a single in-memory backing for both engine.WebhookRepo and
// engine.WebhookEventRepo, guarded by one mutex for simplicity.
type Store struct {
	mu       sync.Mutex
	webhooks map[engine.WebhookID]engine.Webhook
	events   map[engine.WebhookEventKey]engine.WebhookEvent
	order    []engine.WebhookEventKey // insertion order, for deterministic polling
	nextID   int64

	subscribers map[*subscription]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		webhooks:    make(map[engine.WebhookID]engine.Webhook),
		events:      make(map[engine.WebhookEventKey]engine.WebhookEvent),
		subscribers: make(map[*subscription]struct{}),
	}
}

// PutWebhook inserts or replaces a webhook, used by tests to seed fixtures.
func (s *Store) PutWebhook(w engine.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = w
}

// Enqueue inserts a new event with status New and notifies any live
// subscriptions over that status.
func (s *Store) Enqueue(webhookID engine.WebhookID, payload string, headers []engine.Header) engine.WebhookEventKey {
	s.mu.Lock()
	s.nextID++
	key := engine.WebhookEventKey{WebhookID: webhookID, EventID: engine.WebhookEventID(s.nextID)}
	event := engine.WebhookEvent{Key: key, Status: engine.EventNew, Payload: payload, Headers: headers}
	s.events[key] = event
	s.order = append(s.order, key)
	subs := make([]*subscription, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.offer(event)
	}
	return key
}

// GetWebhookByID implements engine.WebhookRepo.
func (s *Store) GetWebhookByID(_ context.Context, id engine.WebhookID) (engine.Webhook, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	return w, ok, nil
}

// SetWebhookStatus implements engine.WebhookRepo.
func (s *Store) SetWebhookStatus(_ context.Context, id engine.WebhookID, status engine.WebhookStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[id]
	if !ok {
		return engine.MissingWebhookError{WebhookID: id}
	}
	w.Status = status
	s.webhooks[id] = w
	return nil
}

// GetEventsByStatuses implements engine.WebhookEventRepo. Only EventNew is
// meaningfully live-subscribable here; other statuses return an already
// closed, empty dequeue since nothing in this engine subscribes to them.
func (s *Store) GetEventsByStatuses(_ context.Context, statuses []engine.EventStatus) (engine.EventDequeue, error) {
	wantsNew := false
	for _, st := range statuses {
		if st == engine.EventNew {
			wantsNew = true
		}
	}
	sub := &subscription{ch: make(chan engine.WebhookEvent, 64), store: s}
	if !wantsNew {
		close(sub.ch)
		return sub, nil
	}

	s.mu.Lock()
	for _, key := range s.order {
		if ev := s.events[key]; ev.Status == engine.EventNew {
			sub.ch <- ev
		}
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

// ListByStatus implements engine.WebhookEventRepo.
func (s *Store) ListByStatus(_ context.Context, status engine.EventStatus) ([]engine.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []engine.WebhookEvent
	for _, key := range s.order {
		if ev := s.events[key]; ev.Status == status {
			out = append(out, ev)
		}
	}
	return out, nil
}

// SetEventStatus implements engine.WebhookEventRepo as a compare-and-set: the
// event only transitions if its current status is one CanTransition allows
// for status, matching the real store's race-avoidance contract.
func (s *Store) SetEventStatus(_ context.Context, key engine.WebhookEventKey, status engine.EventStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[key]
	if !ok {
		return engine.MissingEventError{Key: key}
	}
	if !ev.Status.CanTransition(status) {
		return engine.EventStatusConflictError{Key: key, Target: status}
	}
	ev.Status = status
	s.events[key] = ev
	return nil
}

// SetEventStatusMany implements engine.WebhookEventRepo.
func (s *Store) SetEventStatusMany(ctx context.Context, keys []engine.WebhookEventKey, status engine.EventStatus) error {
	for _, key := range keys {
		if err := s.SetEventStatus(ctx, key, status); err != nil {
			return err
		}
	}
	return nil
}

// SetAllAsFailedByWebhookID implements engine.WebhookEventRepo.
func (s *Store) SetAllAsFailedByWebhookID(_ context.Context, id engine.WebhookID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ev := range s.events {
		if key.WebhookID != id {
			continue
		}
		if ev.Status == engine.EventDelivered || ev.Status == engine.EventFailed {
			continue
		}
		ev.Status = engine.EventFailed
		s.events[key] = ev
	}
	return nil
}

// subscription is a live feed of EventNew rows, fed synchronously by Enqueue.
type subscription struct {
	ch    chan engine.WebhookEvent
	store *Store
	once  sync.Once
}

func (sub *subscription) Events() <-chan engine.WebhookEvent { return sub.ch }

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subscribers, sub)
		sub.store.mu.Unlock()
		close(sub.ch)
	})
	return nil
}

func (sub *subscription) offer(event engine.WebhookEvent) {
	select {
	case sub.ch <- event:
	default:
		// Slow consumer: drop this new event rather than block the writer.
		// It stays New in the store but is not offered to this feed again.
	}
}
