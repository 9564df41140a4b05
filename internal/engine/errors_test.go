package engine

import (
	"errors"
	"testing"
	"time"
)

func TestErrorHub_PublishDeliversToSubscriber(t *testing.T) {
	hub := NewErrorHub(4)
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(MissingWebhookError{WebhookID: 7})

	select {
	case err := <-sub.Errors():
		var missing MissingWebhookError
		if !errors.As(err, &missing) {
			t.Fatalf("expected MissingWebhookError, got %#v", err)
		}
		if missing.WebhookID != 7 {
			t.Fatalf("expected webhook id 7, got %d", missing.WebhookID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published error")
	}
}

func TestErrorHub_PublishNilIsNoop(t *testing.T) {
	hub := NewErrorHub(1)
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(nil)

	select {
	case err := <-sub.Errors():
		t.Fatalf("expected no error delivered, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestErrorHub_SlidesWindowWhenSubscriberFallsBehind(t *testing.T) {
	hub := NewErrorHub(2)
	sub := hub.Subscribe()
	defer sub.Close()

	hub.Publish(MissingWebhookError{WebhookID: 1})
	hub.Publish(MissingWebhookError{WebhookID: 2})
	hub.Publish(MissingWebhookError{WebhookID: 3}) // buffer full: drops webhook 1

	first := <-sub.Errors()
	var missing MissingWebhookError
	if !errors.As(first, &missing) || missing.WebhookID != 2 {
		t.Fatalf("expected oldest surviving error to be for webhook 2, got %#v", first)
	}

	second := <-sub.Errors()
	if !errors.As(second, &missing) || missing.WebhookID != 3 {
		t.Fatalf("expected next error to be for webhook 3, got %#v", second)
	}
}
