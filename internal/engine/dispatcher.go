package engine

import (
	"context"
	"log/slog"
	"time"
)

// Dispatcher performs one HTTP POST attempt per dispatch and applies the
// outcome to event statuses and retry bookkeeping.
type Dispatcher struct {
	http        WebhookHTTPClient
	events      WebhookEventRepo
	state       *InternalState
	errors      *ErrorHub
	changeQueue chan<- toRetryingNotification
	retryCfg    RetryConfig
	logger      *slog.Logger
}

// RetryConfig bounds the retry subsystem: capacity is the per-webhook
// dispatch queue size, exponential base/factor drive the backoff formula, and
// timeout bounds a webhook's total time in Retrying before it is quarantined
// as Unavailable.
type RetryConfig struct {
	Capacity          int
	ExponentialBase   time.Duration
	ExponentialFactor float64
	Timeout           time.Duration
}

// NewDispatcher wires a Dispatcher. changeQueue is the channel the
// RetrySubsystem drains ToRetrying notifications from.
func NewDispatcher(
	httpClient WebhookHTTPClient,
	events WebhookEventRepo,
	state *InternalState,
	errors *ErrorHub,
	changeQueue chan<- toRetryingNotification,
	retryCfg RetryConfig,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		http:        httpClient,
		events:      events,
		state:       state,
		errors:      errors,
		changeQueue: changeQueue,
		retryCfg:    retryCfg,
		logger:      logger,
	}
}

// Deliver performs a first-attempt dispatch: attempt delivery, and on
// failure branch on the webhook's semantics,
// possibly transitioning it into Retrying. Never returns an error to the
// caller; failures are applied to event status or surfaced on the error hub.
func (d *Dispatcher) Deliver(ctx context.Context, dispatch *Dispatch) {
	success := d.attemptOnce(ctx, dispatch)
	if success {
		return
	}

	webhook := dispatch.Webhook
	if webhook.Mode.Semantics == AtMostOnce {
		d.markStatus(ctx, dispatch, EventFailed)
		return
	}

	d.routeForRetry(ctx, dispatch)
}

// attemptOnce performs exactly one HTTP POST attempt and, on success, marks
// every event in the dispatch Delivered and clears any retry bookkeeping for
// it. It returns whether the attempt succeeded; it never marks events Failed
// itself (the caller decides that based on semantics).
func (d *Dispatcher) attemptOnce(ctx context.Context, dispatch *Dispatch) bool {
	ok := d.post(ctx, dispatch)
	if !ok {
		return false
	}
	d.markStatus(ctx, dispatch, EventDelivered)
	d.state.RemoveRetry(dispatch.Webhook.ID, dispatch)
	d.logger.Info("webhook delivered",
		"webhook_id", dispatch.Webhook.ID,
		"url", dispatch.Webhook.URL,
		"size", dispatch.Size())
	return true
}

// post performs the bare HTTP POST attempt shared by the first-attempt path
// and the retry subsystem, publishing a transport error but leaving status
// and retry bookkeeping to the caller.
func (d *Dispatcher) post(ctx context.Context, dispatch *Dispatch) bool {
	req := BuildRequest(dispatch)
	resp, err := d.http.Post(ctx, req)
	if err != nil {
		d.errors.Publish(HTTPClientError{WebhookID: dispatch.Webhook.ID, Err: err})
		d.logger.Warn("webhook post failed",
			"webhook_id", dispatch.Webhook.ID,
			"url", dispatch.Webhook.URL,
			"size", dispatch.Size(),
			"error", err)
		return false
	}

	if resp.StatusCode != 200 {
		d.logger.Warn("webhook post rejected",
			"webhook_id", dispatch.Webhook.ID,
			"url", dispatch.Webhook.URL,
			"status", resp.StatusCode,
			"size", dispatch.Size())
		return false
	}

	return true
}

// AttemptRetry performs one retry-subsystem delivery attempt: a bare POST
// that, on success, marks the dispatch's events Delivered. Retry-specific
// bookkeeping (backoff scheduling, Unavailable quarantine) stays with the
// caller.
func (d *Dispatcher) AttemptRetry(ctx context.Context, dispatch *Dispatch) bool {
	ok := d.post(ctx, dispatch)
	if !ok {
		return false
	}
	d.markStatus(ctx, dispatch, EventDelivered)
	d.logger.Info("webhook retry delivered",
		"webhook_id", dispatch.Webhook.ID,
		"url", dispatch.Webhook.URL,
		"size", dispatch.Size())
	return true
}

// markStatus applies a terminal status to every event in the dispatch, using
// the batch call when the dispatch carries more than one event.
func (d *Dispatcher) markStatus(ctx context.Context, dispatch *Dispatch, status EventStatus) {
	var err error
	if dispatch.Size() == 1 {
		err = d.events.SetEventStatus(ctx, dispatch.Events[0].Key, status)
	} else {
		err = d.events.SetEventStatusMany(ctx, dispatch.Keys(), status)
	}
	if err != nil {
		d.errors.publishRepositoryError("set event status", err)
	}
}

// routeForRetry handles the AtLeastOnce branch on failure: consult the
// webhook's in-memory state and either start a new Retrying pipeline or
// enqueue onto the existing one.
func (d *Dispatcher) routeForRetry(ctx context.Context, dispatch *Dispatch) {
	id := dispatch.Webhook.ID
	state := d.state.Get(id)

	switch state.Kind {
	case StateEnabled:
		// Unseen webhooks default to Enabled, covering the ordinary
		// first-failure path as well as an explicit Enabled observation.
		rs := d.state.BeginRetrying(id, d.retryCfg.Capacity, time.Now())
		rs.DispatchQueue <- dispatch
		select {
		case d.changeQueue <- toRetryingNotification{WebhookID: id, Queue: rs}:
		case <-ctx.Done():
		}

	case StateRetrying:
		select {
		case state.Retrying.DispatchQueue <- dispatch:
		case <-ctx.Done():
		}

	case StateDisabled:
		// Should not occur for a dispatch originating from an available
		// webhook; treated as a recoverable, surfaced error rather than a
		// silent drop.
		d.errors.Publish(UnexpectedStateError{WebhookID: id, State: StatusDisabled})

	case StateUnavailable:
		d.errors.Publish(UnexpectedStateError{WebhookID: id, State: StatusUnavailable})
	}
}
