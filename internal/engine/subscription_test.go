package engine

import (
	"context"
	"testing"
	"time"
)

// memRepo is a minimal in-process WebhookRepo + WebhookEventRepo used by the
// Subscription and Server tests, avoiding an import cycle with internal/memstore
// (which itself depends on this package).
type memRepo struct {
	webhooks map[WebhookID]Webhook
	dequeue  chan WebhookEvent
	statuses map[WebhookEventKey]EventStatus
}

func newMemRepo() *memRepo {
	return &memRepo{
		webhooks: make(map[WebhookID]Webhook),
		dequeue:  make(chan WebhookEvent, 16),
		statuses: make(map[WebhookEventKey]EventStatus),
	}
}

func (m *memRepo) GetWebhookByID(_ context.Context, id WebhookID) (Webhook, bool, error) {
	w, ok := m.webhooks[id]
	return w, ok, nil
}
func (m *memRepo) SetWebhookStatus(context.Context, WebhookID, WebhookStatus) error { return nil }

func (m *memRepo) GetEventsByStatuses(context.Context, []EventStatus) (EventDequeue, error) {
	return &memDequeue{ch: m.dequeue}, nil
}
func (m *memRepo) ListByStatus(context.Context, EventStatus) ([]WebhookEvent, error) { return nil, nil }
func (m *memRepo) SetEventStatus(_ context.Context, key WebhookEventKey, status EventStatus) error {
	m.statuses[key] = status
	return nil
}
func (m *memRepo) SetEventStatusMany(ctx context.Context, keys []WebhookEventKey, status EventStatus) error {
	for _, k := range keys {
		m.statuses[k] = status
	}
	return nil
}
func (m *memRepo) SetAllAsFailedByWebhookID(context.Context, WebhookID) error { return nil }

type memDequeue struct{ ch chan WebhookEvent }

func (d *memDequeue) Events() <-chan WebhookEvent { return d.ch }
func (d *memDequeue) Close() error                { return nil }

func TestSubscription_SingleModeDispatchesDirectly(t *testing.T) {
	repo := newMemRepo()
	repo.webhooks[1] = testWebhook(1, DeliveryMode{Batching: Single, Semantics: AtMostOnce})

	key := WebhookEventKey{WebhookID: 1, EventID: 1}
	delivered := make(chan EventStatus, 1)
	http := &stubHTTPClient{post: func(context.Context, HTTPRequest) (HTTPResponse, error) {
		// Capture the stored status at the moment of the POST.
		delivered <- repo.statuses[key]
		return HTTPResponse{StatusCode: 200}, nil
	}}

	state := NewInternalState()
	errs := NewErrorHub(4)
	changeQueue := make(chan toRetryingNotification, 1)
	dispatcher := NewDispatcher(http, repo, state, errs, changeQueue, RetryConfig{Capacity: 1, ExponentialBase: time.Millisecond, ExponentialFactor: 2, Timeout: time.Second}, newTestLogger())

	startupLatch := NewLatch(1)
	shutdownLatch := NewLatch(1)
	sub := NewSubscription(repo, repo, dispatcher, nil, state, errs, startupLatch, shutdownLatch, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	if err := startupLatch.Await(context.Background()); err != nil {
		t.Fatalf("subscription never started: %v", err)
	}

	repo.dequeue <- WebhookEvent{Key: WebhookEventKey{WebhookID: 1, EventID: 1}, Status: EventNew, Payload: "{}"}

	var got EventStatus
	select {
	case got = <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the event to be dispatched")
	}

	if got != EventDelivering {
		t.Fatalf("expected event marked Delivering before dispatch, got %v", got)
	}
}

func TestSubscription_UnknownWebhookSurfacesError(t *testing.T) {
	repo := newMemRepo()
	http := &stubHTTPClient{post: func(context.Context, HTTPRequest) (HTTPResponse, error) {
		t.Fatal("should never reach the HTTP client for a missing webhook")
		return HTTPResponse{}, nil
	}}

	state := NewInternalState()
	errs := NewErrorHub(4)
	sub := errs.Subscribe()
	defer sub.Close()

	changeQueue := make(chan toRetryingNotification, 1)
	dispatcher := NewDispatcher(http, repo, state, errs, changeQueue, RetryConfig{Capacity: 1, ExponentialBase: time.Millisecond, ExponentialFactor: 2, Timeout: time.Second}, newTestLogger())

	startupLatch := NewLatch(1)
	shutdownLatch := NewLatch(1)
	subscription := NewSubscription(repo, repo, dispatcher, nil, state, errs, startupLatch, shutdownLatch, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go subscription.Run(ctx)
	_ = startupLatch.Await(context.Background())

	repo.dequeue <- WebhookEvent{Key: WebhookEventKey{WebhookID: 99, EventID: 1}, Status: EventNew}

	select {
	case err := <-sub.Errors():
		if _, ok := err.(MissingWebhookError); !ok {
			t.Fatalf("expected MissingWebhookError, got %#v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a MissingWebhookError to be published")
	}
}
