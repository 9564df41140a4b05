package engine

import (
	"context"
	"fmt"
)

// WebhookRepo is the persistence surface for webhook destinations.
// Implementations may be in-memory test doubles or a real store; the engine
// never assumes more than this interface.
type WebhookRepo interface {
	GetWebhookByID(ctx context.Context, id WebhookID) (Webhook, bool, error)
	SetWebhookStatus(ctx context.Context, id WebhookID, status WebhookStatus) error
}

// EventDequeue is a scoped subscription over events with status New. Close
// releases the underlying subscription; Events is closed once the repository
// is done delivering events to this subscriber (on Close, or on an
// unrecoverable repository error).
type EventDequeue interface {
	Events() <-chan WebhookEvent
	Close() error
}

// WebhookEventRepo is the persistence surface for webhook events.
type WebhookEventRepo interface {
	// GetEventsByStatuses opens a live subscription over events matching any
	// of the given statuses. Used by the New-event Subscription.
	GetEventsByStatuses(ctx context.Context, statuses []EventStatus) (EventDequeue, error)

	// ListByStatus performs a one-shot query, used for restart recovery of
	// in-flight Delivering events rather than live subscription.
	ListByStatus(ctx context.Context, status EventStatus) ([]WebhookEvent, error)

	// SetEventStatus performs a compare-and-set transition: it only applies if
	// the event's current status is one EventStatus.CanTransition allows for
	// status. Returns MissingEventError if the key doesn't exist, or
	// EventStatusConflictError if it exists but is in an ineligible prior
	// status.
	SetEventStatus(ctx context.Context, key WebhookEventKey, status EventStatus) error
	SetEventStatusMany(ctx context.Context, keys []WebhookEventKey, status EventStatus) error
	SetAllAsFailedByWebhookID(ctx context.Context, id WebhookID) error
}

// WebhookStateRepo is the out-of-process recovery persistence surface. The
// core engine reconstructs in-memory retry state from WebhookEventRepo on
// restart rather than from a serialized queue; this interface is reserved for
// implementations that want to persist additional recovery hints (e.g. the
// last backoff applied) and is optional — a nil WebhookStateRepo is valid.
type WebhookStateRepo interface {
	SaveRetryHint(ctx context.Context, id WebhookID, attempt int) error
	LoadRetryHint(ctx context.Context, id WebhookID) (attempt int, ok bool, err error)
}

// HTTPRequest is built from a Dispatch: body is the newline-join of event
// payloads, headers are the last event's headers.
type HTTPRequest struct {
	URL     string
	Body    string
	Headers []Header
}

// HTTPResponse is the result of a successful round trip. A response is a
// delivery success iff StatusCode == 200.
type HTTPResponse struct {
	StatusCode int
}

// WebhookHTTPClient performs the actual POST. Any non-2xx or transport error
// is a delivery failure, not necessarily a WebhookHTTPClient error: only
// transport-level failures (DNS, connection refused, timeout, ...) return an
// error; a non-2xx status is returned as a zero-error HTTPResponse.
type WebhookHTTPClient interface {
	Post(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
}

// BuildRequest constructs the HTTP request for a dispatch following the
// documented, deterministic body/header policy.
func BuildRequest(d *Dispatch) HTTPRequest {
	bodies := make([]string, len(d.Events))
	for i, e := range d.Events {
		bodies[i] = e.Payload
	}
	body := bodies[0]
	for _, b := range bodies[1:] {
		body += "\n" + b
	}
	return HTTPRequest{
		URL:     d.Webhook.URL,
		Body:    body,
		Headers: d.Events[len(d.Events)-1].Headers,
	}
}

// RepositoryError wraps a failure from WebhookRepo/WebhookEventRepo/
// WebhookStateRepo, surfaced on the error hub rather than propagated out of a
// long-running fiber.
type RepositoryError struct {
	Op  string
	Err error
}

func (e RepositoryError) Error() string { return fmt.Sprintf("repository error during %s: %v", e.Op, e.Err) }
func (e RepositoryError) Unwrap() error { return e.Err }
