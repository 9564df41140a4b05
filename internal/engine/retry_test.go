package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetrySubsystem_SucceedsAfterTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	var delivered atomic.Bool

	events := &stubEventRepo{
		setStatus: func(_ context.Context, _ WebhookEventKey, status EventStatus) error {
			if status == EventDelivered {
				delivered.Store(true)
			}
			return nil
		},
	}
	http := &stubHTTPClient{post: func(context.Context, HTTPRequest) (HTTPResponse, error) {
		if attempts.Add(1) < 3 {
			return HTTPResponse{StatusCode: 503}, nil
		}
		return HTTPResponse{StatusCode: 200}, nil
	}}

	state := NewInternalState()
	errs := NewErrorHub(4)
	changeQueue := make(chan toRetryingNotification, 1)
	retryCfg := RetryConfig{Capacity: 1, ExponentialBase: time.Millisecond, ExponentialFactor: 1.5, Timeout: 5 * time.Second}
	dispatcher := NewDispatcher(http, events, state, errs, changeQueue, retryCfg, newTestLogger())

	shutdownLatch := NewLatch(1)
	retry := NewRetrySubsystem(changeQueue, dispatcher, events, state, errs, retryCfg, shutdownLatch, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go retry.Run(ctx)

	webhook := testWebhook(20, DeliveryMode{Batching: Single, Semantics: AtLeastOnce})
	event := WebhookEvent{Key: WebhookEventKey{WebhookID: 20, EventID: 1}, Status: EventDelivering, Payload: "{}"}
	dispatch := NewDispatch(webhook, []WebhookEvent{event})

	dispatcher.Deliver(context.Background(), dispatch)

	deadline := time.After(3 * time.Second)
	for !delivered.Load() {
		select {
		case <-deadline:
			t.Fatalf("expected eventual delivery after retries, attempts=%d", attempts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	deadline = time.After(time.Second)
	for state.Get(20).Kind != StateEnabled {
		select {
		case <-deadline:
			t.Fatalf("expected webhook back to Enabled after the retry drained, got %v", state.Get(20).Kind)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRetrySubsystem_ShutdownDoesNotAbortInFlightRetryAttempt(t *testing.T) {
	var attempts atomic.Int32
	var inFlight atomic.Bool
	var canceledMidFlight atomic.Bool
	var delivered atomic.Bool
	release := make(chan struct{})

	events := &stubEventRepo{
		setStatus: func(_ context.Context, _ WebhookEventKey, status EventStatus) error {
			if status == EventDelivered {
				delivered.Store(true)
			}
			return nil
		},
	}
	http := &stubHTTPClient{post: func(ctx context.Context, _ HTTPRequest) (HTTPResponse, error) {
		if attempts.Add(1) == 1 {
			return HTTPResponse{StatusCode: 503}, nil
		}
		// The retry attempt: signal it is in flight, wait for the test to
		// trigger shutdown, then keep running long enough that a canceled
		// context would have already been observable.
		inFlight.Store(true)
		<-release
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			canceledMidFlight.Store(true)
		}
		return HTTPResponse{StatusCode: 200}, nil
	}}

	state := NewInternalState()
	errs := NewErrorHub(4)
	changeQueue := make(chan toRetryingNotification, 1)
	retryCfg := RetryConfig{Capacity: 1, ExponentialBase: time.Millisecond, ExponentialFactor: 1.1, Timeout: 5 * time.Second}
	dispatcher := NewDispatcher(http, events, state, errs, changeQueue, retryCfg, newTestLogger())

	shutdownLatch := NewLatch(1)
	retry := NewRetrySubsystem(changeQueue, dispatcher, events, state, errs, retryCfg, shutdownLatch, newTestLogger())

	go retry.Run(context.Background())

	webhook := testWebhook(22, DeliveryMode{Batching: Single, Semantics: AtLeastOnce})
	event := WebhookEvent{Key: WebhookEventKey{WebhookID: 22, EventID: 1}, Status: EventDelivering, Payload: "{}"}
	dispatch := NewDispatch(webhook, []WebhookEvent{event})

	dispatcher.Deliver(context.Background(), dispatch)

	deadline := time.After(2 * time.Second)
	for !inFlight.Load() {
		select {
		case <-deadline:
			t.Fatal("expected the retry attempt to become in flight")
		case <-time.After(5 * time.Millisecond):
		}
	}

	state.Shutdown()
	close(release)

	deadline = time.After(2 * time.Second)
	for !delivered.Load() {
		select {
		case <-deadline:
			t.Fatal("expected the in-flight retry attempt to run to completion despite shutdown")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if canceledMidFlight.Load() {
		t.Fatal("shutdown canceled the context of an in-flight retry HTTP attempt")
	}
}

func TestRetrySubsystem_QuarantinesAfterTimeout(t *testing.T) {
	events := &stubEventRepo{}
	http := &stubHTTPClient{post: func(context.Context, HTTPRequest) (HTTPResponse, error) {
		return HTTPResponse{StatusCode: 503}, nil
	}}

	state := NewInternalState()
	errs := NewErrorHub(4)
	changeQueue := make(chan toRetryingNotification, 1)
	retryCfg := RetryConfig{Capacity: 1, ExponentialBase: time.Millisecond, ExponentialFactor: 1.1, Timeout: 50 * time.Millisecond}
	dispatcher := NewDispatcher(http, events, state, errs, changeQueue, retryCfg, newTestLogger())

	shutdownLatch := NewLatch(1)
	retry := NewRetrySubsystem(changeQueue, dispatcher, events, state, errs, retryCfg, shutdownLatch, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go retry.Run(ctx)

	webhook := testWebhook(21, DeliveryMode{Batching: Single, Semantics: AtLeastOnce})
	event := WebhookEvent{Key: WebhookEventKey{WebhookID: 21, EventID: 1}, Status: EventDelivering, Payload: "{}"}
	dispatch := NewDispatch(webhook, []WebhookEvent{event})

	dispatcher.Deliver(context.Background(), dispatch)

	deadline := time.After(2 * time.Second)
	for state.Get(21).Kind != StateUnavailable {
		select {
		case <-deadline:
			t.Fatalf("expected webhook to be quarantined as Unavailable, got %v", state.Get(21).Kind)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
