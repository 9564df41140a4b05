package engine

import (
	"context"
	"log/slog"
	"time"
)

// RetrySubsystem forks one supervised retry loop per webhook that enters
// Retrying, and retires each loop once its queue drains or its timeout
// expires.
type RetrySubsystem struct {
	changeQueue   <-chan toRetryingNotification
	dispatcher    *Dispatcher
	events        WebhookEventRepo
	state         *InternalState
	errors        *ErrorHub
	retryCfg      RetryConfig
	shutdownLatch *Latch
	logger        *slog.Logger
}

// NewRetrySubsystem wires a RetrySubsystem. changeQueue is the same channel
// passed as the Dispatcher's changeQueue.
func NewRetrySubsystem(
	changeQueue <-chan toRetryingNotification,
	dispatcher *Dispatcher,
	events WebhookEventRepo,
	state *InternalState,
	errors *ErrorHub,
	retryCfg RetryConfig,
	shutdownLatch *Latch,
	logger *slog.Logger,
) *RetrySubsystem {
	return &RetrySubsystem{
		changeQueue:   changeQueue,
		dispatcher:    dispatcher,
		events:        events,
		state:         state,
		errors:        errors,
		retryCfg:      retryCfg,
		shutdownLatch: shutdownLatch,
		logger:        logger,
	}
}

// Run forks a retry loop for every ToRetrying notification until shutdown.
// Loops already running are supervised independently and are not torn down
// by this method returning; each one observes the shutdown channel itself.
func (r *RetrySubsystem) Run(ctx context.Context) {
	for {
		select {
		case <-r.state.ShutdownChannel():
			r.logger.Info("retry subsystem shut down")
			r.shutdownLatch.CountDown()
			return

		case notice := <-r.changeQueue:
			go r.runRetryLoop(ctx, notice.WebhookID, notice.Queue)
		}
	}
}

// runRetryLoop supervises a single webhook's Retrying lifetime: a feeder
// fiber admits newly-queued dispatches, a worker fiber serializes delivery
// attempts and backoff through an unbuffered ready channel, and the whole
// loop is bounded by retryCfg.Timeout measured from when Retrying began.
//
// The feeder and the worker run on two distinct contexts derived from the
// same deadline: feedCtx governs only admission and is cancelable
// independently, while loopCtx is the one threaded into attempt()'s HTTP
// POST and is never canceled by a shutdown signal, only by the deadline
// expiring. Shutdown therefore stops new work from being admitted and waits
// for the worker's current attempt, if any, to run to completion before the
// fiber pair tears down.
func (r *RetrySubsystem) runRetryLoop(ctx context.Context, id WebhookID, rs *RetryingState) {
	deadline := rs.Since.Add(r.retryCfg.Timeout)
	loopCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	feedCtx, cancelFeed := context.WithCancel(loopCtx)
	defer cancelFeed()

	ready := make(chan *Dispatch) // capacity 0: the worker pulls one at a time
	feederDone := make(chan struct{})
	workerDone := make(chan struct{})

	go r.feed(feedCtx, id, rs, ready, feederDone)
	go r.work(loopCtx, feedCtx, id, rs, ready, workerDone)

	select {
	case <-workerDone:
		// Drained: no dispatch left in flight and none pending admission.
		cancel()
		<-feederDone
		r.logger.Info("retry loop drained", "webhook_id", id)

	case <-r.state.ShutdownChannel():
		// Stop admitting new dispatches but let loopCtx run: a delivery
		// attempt in flight right now must complete, not be aborted.
		cancelFeed()
		<-feederDone
		<-workerDone
		r.logger.Info("retry loop interrupted by shutdown", "webhook_id", id)

	case <-loopCtx.Done():
		<-feederDone
		<-workerDone
		r.quarantine(context.WithoutCancel(ctx), id, rs)
	}
}

// feed admits dispatches newly routed into Retrying, seeding their initial
// Retry bookkeeping before handing them to the worker. ctx is feedCtx: when
// it is canceled, feed stops admitting and closes ready so the worker can
// observe that no more dispatches are coming.
func (r *RetrySubsystem) feed(ctx context.Context, id WebhookID, rs *RetryingState, ready chan<- *Dispatch, done chan<- struct{}) {
	defer close(done)
	defer close(ready)
	for {
		select {
		case <-ctx.Done():
			return
		case dispatch, ok := <-rs.DispatchQueue:
			if !ok {
				return
			}
			// A re-admission after a failed attempt already carries
			// bookkeeping from work's SetRetry call; only a first admission
			// needs the attempt-0 entry seeded here.
			r.state.SetRetryIfAbsent(id, dispatch, &Retry{
				Dispatch: dispatch,
				Base:     r.retryCfg.ExponentialBase,
				Factor:   r.retryCfg.ExponentialFactor,
				Attempt:  0,
			})
			select {
			case ready <- dispatch:
			case <-ctx.Done():
				return
			}
		}
	}
}

// work serializes delivery attempts through ready: only one attempt for this
// webhook is ever in flight at a time. On failure it
// schedules the dispatch's re-admission after the next exponential backoff;
// on success it clears bookkeeping and, once the retry set is empty and no
// more dispatches are pending, reports the webhook Enabled and returns. ctx
// is loopCtx: it is never canceled by a shutdown signal, so an attempt
// already in flight when shutdown begins always runs to completion; ready
// closing (feed stopped admitting) is how work learns to stop instead.
// feedCtx is only used to bound the deferred re-admission below, since feed
// is its sole reader and stops consuming rs.DispatchQueue as soon as feedCtx
// is done.
func (r *RetrySubsystem) work(ctx, feedCtx context.Context, id WebhookID, rs *RetryingState, ready <-chan *Dispatch, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return

		case dispatch, ok := <-ready:
			if !ok {
				return
			}
			ok = r.attempt(ctx, id, dispatch)
			if ok {
				r.state.RemoveRetry(id, dispatch)
				if r.state.RetriesEmpty(id) {
					r.state.SetEnabled(id)
					return
				}
				continue
			}

			next := r.nextRetry(id, dispatch)
			r.state.SetRetry(id, dispatch, next)
			delay := *next.Backoff
			time.AfterFunc(delay, func() {
				select {
				case rs.DispatchQueue <- dispatch:
				case <-feedCtx.Done():
				}
			})
		}
	}
}

func (r *RetrySubsystem) nextRetry(id WebhookID, dispatch *Dispatch) *Retry {
	current := &Retry{
		Dispatch: dispatch,
		Base:     r.retryCfg.ExponentialBase,
		Factor:   r.retryCfg.ExponentialFactor,
		Attempt:  0,
	}
	if st := r.state.Get(id); st.Kind == StateRetrying {
		if existing, ok := st.Retrying.Retries[dispatch]; ok {
			current = existing
		}
	}
	return current.Next()
}

func (r *RetrySubsystem) attempt(ctx context.Context, id WebhookID, dispatch *Dispatch) bool {
	return r.dispatcher.AttemptRetry(ctx, dispatch)
}

// quarantine marks every event still pending for this webhook Failed and
// transitions it to Unavailable: its retry budget is exhausted.
func (r *RetrySubsystem) quarantine(ctx context.Context, id WebhookID, rs *RetryingState) {
	r.state.SetUnavailable(id)
	r.logger.Warn("webhook exhausted retry budget, marking unavailable", "webhook_id", id)

	if err := r.events.SetAllAsFailedByWebhookID(ctx, id); err != nil {
		r.errors.publishRepositoryError("fail remaining events for exhausted webhook", err)
	}
}
