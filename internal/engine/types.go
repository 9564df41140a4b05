// Package engine implements the reliable-dispatch core: ingesting new webhook
// events, optionally batching them, delivering them over HTTP, and driving a
// per-webhook retry state machine with exponential backoff.
package engine

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// WebhookID identifies a webhook destination.
type WebhookID int64

// WebhookEventID identifies a single event queued for delivery.
type WebhookEventID int64

// WebhookEventKey uniquely identifies an event within a webhook.
type WebhookEventKey struct {
	WebhookID WebhookID
	EventID   WebhookEventID
}

// EventStatus is the lifecycle state of a WebhookEvent.
type EventStatus int

const (
	EventNew EventStatus = iota
	EventDelivering
	EventDelivered
	EventFailed
)

func (s EventStatus) String() string {
	switch s {
	case EventNew:
		return "new"
	case EventDelivering:
		return "delivering"
	case EventDelivered:
		return "delivered"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanTransition reports whether a status change from s to next is permitted.
// Events only ever advance: New -> Delivering -> (Delivered | Failed).
func (s EventStatus) CanTransition(next EventStatus) bool {
	switch {
	case s == EventNew && next == EventDelivering:
		return true
	case s == EventDelivering && (next == EventDelivered || next == EventFailed):
		return true
	default:
		return false
	}
}

// Header is a single (name, value) HTTP header pair carried by an event.
type Header struct {
	Name  string
	Value string
}

// WebhookEvent is a single event queued for delivery to a webhook.
type WebhookEvent struct {
	Key     WebhookEventKey
	Status  EventStatus
	Payload string
	Headers []Header
}

// ContentType looks up the Content-Type header case-insensitively; it drives
// the batching key.
func (e WebhookEvent) ContentType() (string, bool) {
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, "content-type") {
			return h.Value, true
		}
	}
	return "", false
}

// Batching describes whether events for a webhook are delivered individually
// or grouped into one HTTP POST per flush.
type Batching int

const (
	Single Batching = iota
	Batched
)

// Semantics describes whether a webhook's failed deliveries are retried.
type Semantics int

const (
	AtMostOnce Semantics = iota
	AtLeastOnce
)

// DeliveryMode is the cross-product of Batching and Semantics that governs
// how a webhook's events are grouped and retried.
type DeliveryMode struct {
	Batching  Batching
	Semantics Semantics
}

// StatusKind is the persisted state of a webhook.
type StatusKind int

const (
	StatusEnabled StatusKind = iota
	StatusDisabled
	StatusRetrying
	StatusUnavailable
)

func (k StatusKind) String() string {
	switch k {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	case StatusRetrying:
		return "retrying"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// WebhookStatus is the persisted status of a webhook. Since is meaningful only
// for Retrying and Unavailable, recording when that state began.
type WebhookStatus struct {
	Kind  StatusKind
	Since time.Time
}

func EnabledStatus() WebhookStatus     { return WebhookStatus{Kind: StatusEnabled} }
func DisabledStatus() WebhookStatus    { return WebhookStatus{Kind: StatusDisabled} }
func RetryingStatus(t time.Time) WebhookStatus {
	return WebhookStatus{Kind: StatusRetrying, Since: t}
}
func UnavailableStatus(t time.Time) WebhookStatus {
	return WebhookStatus{Kind: StatusUnavailable, Since: t}
}

// Webhook is a destination that events are dispatched to.
type Webhook struct {
	ID     WebhookID
	URL    string
	Label  string
	Status WebhookStatus
	Mode   DeliveryMode
}

// Available reports whether the webhook should receive new dispatches.
func (w Webhook) Available() bool {
	return w.Status.Kind != StatusDisabled && w.Status.Kind != StatusUnavailable
}

// Dispatch is a single HTTP POST attempt targeting a webhook's URL, carrying
// one or more events. Dispatch equality for retry bookkeeping is by pointer
// identity of the containing value, not by content.
type Dispatch struct {
	Webhook Webhook
	Events  []WebhookEvent
}

// NewDispatch builds a Dispatch from a non-empty slice of events sharing a
// webhook. It panics if events is empty: a dispatch is never an empty chunk.
func NewDispatch(webhook Webhook, events []WebhookEvent) *Dispatch {
	if len(events) == 0 {
		panic("engine: dispatch must carry at least one event")
	}
	return &Dispatch{Webhook: webhook, Events: events}
}

// Size returns the number of events in the dispatch.
func (d *Dispatch) Size() int { return len(d.Events) }

// Keys returns the event keys carried by the dispatch, in order.
func (d *Dispatch) Keys() []WebhookEventKey {
	keys := make([]WebhookEventKey, len(d.Events))
	for i, e := range d.Events {
		keys[i] = e.Key
	}
	return keys
}

// Retry tracks one webhook's in-flight retry attempt for a single dispatch.
type Retry struct {
	Dispatch *Dispatch
	Backoff  *time.Duration // nil for the first attempt
	Base     time.Duration
	Factor   float64
	Attempt  int
}

// Next computes the Retry for the following attempt: backoff = base *
// factor^attempt, attempt incremented. The first computed backoff corresponds
// to attempt 1 (the second wire attempt); the initial attempt has no backoff.
func (r *Retry) Next() *Retry {
	next := r.Attempt + 1
	backoff := time.Duration(float64(r.Base) * math.Pow(r.Factor, float64(r.Attempt)))
	return &Retry{
		Dispatch: r.Dispatch,
		Backoff:  &backoff,
		Base:     r.Base,
		Factor:   r.Factor,
		Attempt:  next,
	}
}
