package engine

import (
	"sync"
	"time"
)

// RetryingState is the payload of a webhook in the Retrying in-memory state:
// a dispatch queue feeding a retry pipeline, and the set of dispatches
// currently being retried.
type RetryingState struct {
	Since       time.Time
	DispatchQueue chan *Dispatch
	Retries     map[*Dispatch]*Retry
}

// StateKind is the in-memory counterpart of StatusKind: WebhookState tracks
// live delivery state, distinct from the persisted WebhookStatus.
type StateKind int

const (
	StateEnabled StateKind = iota
	StateDisabled
	StateRetrying
	StateUnavailable
)

// WebhookState is a tagged union over the four in-memory states a webhook can
// be in. Retrying is non-nil iff Kind == StateRetrying.
type WebhookState struct {
	Kind     StateKind
	Retrying *RetryingState
}

func enabledState() WebhookState     { return WebhookState{Kind: StateEnabled} }
func disabledState() WebhookState    { return WebhookState{Kind: StateDisabled} }
func unavailableState() WebhookState { return WebhookState{Kind: StateUnavailable} }

// retryingEmpty reports whether a Retrying state has nothing left in flight:
// no retry bookkeeping and nothing queued.
func (s *RetryingState) retryingEmpty() bool {
	return len(s.Retries) == 0 && len(s.DispatchQueue) == 0
}

// InternalState is the single shared, mutex-guarded cell holding the
// shutdown flag plus the per-webhook in-memory state map. A closed-once
// channel broadcasts the shutdown transition to every reader; a dedicated
// changeQueue (owned by the caller wiring Dispatcher to RetrySubsystem)
// carries ToRetrying notifications, kept out of this type to match the
// design note that a subscription and a snapshot read are not the same thing.
type InternalState struct {
	mu         sync.Mutex
	webhooks   map[WebhookID]WebhookState
	isShutdown bool
	shutdownCh chan struct{}
}

// NewInternalState creates an empty cell; webhooks default to Enabled the
// first time they are observed.
func NewInternalState() *InternalState {
	return &InternalState{
		webhooks:   make(map[WebhookID]WebhookState),
		shutdownCh: make(chan struct{}),
	}
}

// ShutdownChannel is closed exactly once, when Shutdown is called.
func (s *InternalState) ShutdownChannel() <-chan struct{} {
	return s.shutdownCh
}

// IsShutdown reports the current shutdown flag.
func (s *InternalState) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isShutdown
}

// Shutdown sets the shutdown flag and closes the broadcast channel. It is
// idempotent and monotonic: once set, it never un-sets.
func (s *InternalState) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isShutdown {
		return
	}
	s.isShutdown = true
	close(s.shutdownCh)
}

// Get returns the current in-memory state of a webhook, defaulting to
// Enabled for one that has never been recorded.
func (s *InternalState) Get(id WebhookID) WebhookState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.webhooks[id]
	if !ok {
		return enabledState()
	}
	return st
}

// UpdateWebhookState replaces a webhook's in-memory state wholesale. All
// mutators are total: they never fail.
func (s *InternalState) UpdateWebhookState(id WebhookID, state WebhookState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[id] = state
}

// BeginRetrying transitions a webhook into Retrying with a freshly created
// dispatch queue of the given capacity, returning that queue so the caller
// can enqueue the triggering dispatch and notify the retry subsystem.
func (s *InternalState) BeginRetrying(id WebhookID, queueCapacity int, now time.Time) *RetryingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := &RetryingState{
		Since:         now,
		DispatchQueue: make(chan *Dispatch, queueCapacity),
		Retries:       make(map[*Dispatch]*Retry),
	}
	s.webhooks[id] = WebhookState{Kind: StateRetrying, Retrying: rs}
	return rs
}

// SetRetry records dispatch's current Retry for id. A no-op if the webhook is
// not currently Retrying.
func (s *InternalState) SetRetry(id WebhookID, dispatch *Dispatch, retry *Retry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.webhooks[id]
	if !ok || st.Kind != StateRetrying {
		return
	}
	st.Retrying.Retries[dispatch] = retry
}

// SetRetryIfAbsent records dispatch's initial Retry for id unless bookkeeping
// for it already exists (a re-admission after a failed attempt, which already
// carries its own Attempt/Backoff set by SetRetry). A no-op if the webhook is
// not currently Retrying.
func (s *InternalState) SetRetryIfAbsent(id WebhookID, dispatch *Dispatch, retry *Retry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.webhooks[id]
	if !ok || st.Kind != StateRetrying {
		return
	}
	if _, exists := st.Retrying.Retries[dispatch]; exists {
		return
	}
	st.Retrying.Retries[dispatch] = retry
}

// RemoveRetry removes dispatch from id's retry bookkeeping. A no-op if the
// webhook is not currently Retrying.
func (s *InternalState) RemoveRetry(id WebhookID, dispatch *Dispatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.webhooks[id]
	if !ok || st.Kind != StateRetrying {
		return
	}
	delete(st.Retrying.Retries, dispatch)
}

// RetriesEmpty reports whether id's Retrying bookkeeping is currently empty.
// Returns true for a webhook that isn't Retrying at all.
func (s *InternalState) RetriesEmpty(id WebhookID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.webhooks[id]
	if !ok || st.Kind != StateRetrying {
		return true
	}
	return st.Retrying.retryingEmpty()
}

// SetEnabled transitions a webhook back to Enabled (retry loop succeeded).
func (s *InternalState) SetEnabled(id WebhookID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[id] = enabledState()
}

// SetUnavailable transitions a webhook to Unavailable (retry loop timed out).
func (s *InternalState) SetUnavailable(id WebhookID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[id] = unavailableState()
}

// SetDisabled marks a webhook Disabled in memory (e.g. mirroring a persisted
// Disabled status observed by the subscription).
func (s *InternalState) SetDisabled(id WebhookID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[id] = disabledState()
}
