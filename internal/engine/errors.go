package engine

import (
	"fmt"
	"sync"
)

// WebhookError is the taxonomy of server-side errors surfaced on the error
// hub. All of them satisfy the standard error interface.
type WebhookError interface {
	error
	webhookError()
}

// MissingWebhookError is emitted when an event references a webhook id that
// no longer exists.
type MissingWebhookError struct {
	WebhookID WebhookID
}

func (e MissingWebhookError) Error() string {
	return fmt.Sprintf("webhook %d not found", e.WebhookID)
}
func (MissingWebhookError) webhookError() {}

// MissingEventError is reserved for repository lookups that expect an event
// to exist and find none.
type MissingEventError struct {
	Key WebhookEventKey
}

func (e MissingEventError) Error() string {
	return fmt.Sprintf("event %+v not found", e.Key)
}
func (MissingEventError) webhookError() {}

// EventStatusConflictError is returned by WebhookEventRepo.SetEventStatus when
// the event exists but its stored status is not one CanTransition allows for
// the requested target: a concurrent writer already moved it elsewhere.
type EventStatusConflictError struct {
	Key    WebhookEventKey
	Target EventStatus
}

func (e EventStatusConflictError) Error() string {
	return fmt.Sprintf("event %+v cannot transition to %s: current status is not an eligible prior state", e.Key, e.Target)
}
func (EventStatusConflictError) webhookError() {}

// HTTPClientError is a transport-level failure from WebhookHTTPClient. A
// non-2xx response is not an error; it is a delivery failure handled by the
// webhook's semantics.
type HTTPClientError struct {
	WebhookID WebhookID
	Err       error
}

func (e HTTPClientError) Error() string {
	return fmt.Sprintf("http client error delivering to webhook %d: %v", e.WebhookID, e.Err)
}
func (e HTTPClientError) Unwrap() error { return e.Err }
func (HTTPClientError) webhookError()   {}

// repositoryWebhookError adapts RepositoryError (defined in ports.go, shared
// with non-hub callers) onto the WebhookError taxonomy.
type repositoryWebhookError struct{ RepositoryError }

func (repositoryWebhookError) webhookError() {}

// UnexpectedStateError is published when the Dispatcher observes a webhook in
// Disabled/Unavailable state while handling a dispatch that should not have
// reached it — treated as recoverable, not fatal.
type UnexpectedStateError struct {
	WebhookID WebhookID
	State     StatusKind
}

func (e UnexpectedStateError) Error() string {
	return fmt.Sprintf("dispatch for webhook %d observed unexpected in-memory state %s", e.WebhookID, e.State)
}
func (UnexpectedStateError) webhookError() {}

const defaultErrorSubscriberBuffer = 32

// ErrorHub is a broadcast channel of WebhookError with a sliding (drop-oldest)
// discard policy per subscriber: publishing never blocks, and a slow
// subscriber loses its oldest buffered errors rather than stalling the
// publisher.
type ErrorHub struct {
	mu          sync.Mutex
	subscribers map[*ErrorSubscription]struct{}
	capacity    int
}

// NewErrorHub creates a hub whose per-subscriber buffer holds capacity
// errors before the oldest are dropped to make room for new ones.
func NewErrorHub(capacity int) *ErrorHub {
	if capacity <= 0 {
		capacity = defaultErrorSubscriberBuffer
	}
	return &ErrorHub{
		subscribers: make(map[*ErrorSubscription]struct{}),
		capacity:    capacity,
	}
}

// ErrorSubscription is a scoped dequeue of WebhookError. Close unregisters it
// from the hub.
type ErrorSubscription struct {
	hub *ErrorHub
	ch  chan WebhookError
	mu  sync.Mutex
}

// Errors returns the live feed of errors. The channel is never closed by the
// hub; callers stop reading once they call Close.
func (s *ErrorSubscription) Errors() <-chan WebhookError { return s.ch }

// Close unregisters the subscription from its hub.
func (s *ErrorSubscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subscribers, s)
	s.hub.mu.Unlock()
}

// Subscribe registers a new live feed of errors.
func (h *ErrorHub) Subscribe() *ErrorSubscription {
	sub := &ErrorSubscription{hub: h, ch: make(chan WebhookError, h.capacity)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish broadcasts err to every current subscriber without blocking: a
// subscriber whose buffer is full has its oldest error dropped to make room.
func (h *ErrorHub) Publish(err WebhookError) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		sub.mu.Lock()
		select {
		case sub.ch <- err:
		default:
			// Buffer full: slide the window by dropping the oldest entry,
			// then retry the send. If a concurrent reader drained it first
			// the send below will simply succeed.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- err:
			default:
			}
		}
		sub.mu.Unlock()
	}
}

// publishRepositoryError is a convenience used throughout the engine to wrap
// and surface a repository failure without halting the calling fiber.
func (h *ErrorHub) publishRepositoryError(op string, err error) {
	if err == nil {
		return
	}
	h.Publish(repositoryWebhookError{RepositoryError{Op: op, Err: err}})
}
