package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/formbricks/webhook-engine/internal/engine"
	"github.com/formbricks/webhook-engine/internal/store/ent"
	"github.com/formbricks/webhook-engine/internal/store/ent/schema"
	"github.com/formbricks/webhook-engine/internal/store/ent/webhookevent"
)

// WebhookRepo implements engine.WebhookRepo on top of an ent client.
type WebhookRepo struct {
	client *ent.Client
}

// NewWebhookRepo wraps an ent client.
func NewWebhookRepo(client *ent.Client) *WebhookRepo {
	return &WebhookRepo{client: client}
}

// GetWebhookByID looks up a webhook, translating ent's not-found into the
// (Webhook{}, false, nil) shape engine.WebhookRepo expects.
func (r *WebhookRepo) GetWebhookByID(ctx context.Context, id engine.WebhookID) (engine.Webhook, bool, error) {
	row, err := r.client.Webhook.Get(ctx, int64(id))
	if err != nil {
		if ent.IsNotFound(err) {
			return engine.Webhook{}, false, nil
		}
		return engine.Webhook{}, false, fmt.Errorf("get webhook %d: %w", id, err)
	}
	return fromEntWebhook(row), true, nil
}

// SetWebhookStatus persists a status transition.
func (r *WebhookRepo) SetWebhookStatus(ctx context.Context, id engine.WebhookID, status engine.WebhookStatus) error {
	update := r.client.Webhook.UpdateOneID(int64(id)).
		SetStatus(statusKindToString(status.Kind))
	if status.Kind == engine.StatusRetrying || status.Kind == engine.StatusUnavailable {
		update = update.SetStatusSince(status.Since)
	} else {
		update = update.ClearStatusSince()
	}
	if err := update.Exec(ctx); err != nil {
		return fmt.Errorf("set webhook %d status: %w", id, err)
	}
	return nil
}

// IngestRepo provides the write path the admin API uses to enqueue new
// events, kept separate from EventRepo since ingestion is a distinct
// capability from the engine's own read path.
type IngestRepo struct {
	client *ent.Client
}

// NewIngestRepo wraps an ent client.
func NewIngestRepo(client *ent.Client) *IngestRepo {
	return &IngestRepo{client: client}
}

// Enqueue inserts a new event with status New for the given webhook.
func (r *IngestRepo) Enqueue(ctx context.Context, webhookID engine.WebhookID, payload string, headers []engine.Header) (engine.WebhookEventKey, error) {
	entHeaders := make([]schema.Header, len(headers))
	for i, h := range headers {
		entHeaders[i] = schema.Header{Name: h.Name, Value: h.Value}
	}

	row, err := r.client.WebhookEvent.Create().
		SetWebhookID(int64(webhookID)).
		SetPayload(payload).
		SetHeaders(entHeaders).
		SetStatus(eventStatusToString(engine.EventNew)).
		Save(ctx)
	if err != nil {
		return engine.WebhookEventKey{}, fmt.Errorf("enqueue event for webhook %d: %w", webhookID, err)
	}

	return engine.WebhookEventKey{WebhookID: webhookID, EventID: engine.WebhookEventID(row.ID)}, nil
}

// EventRepo implements engine.WebhookEventRepo on top of an ent client.
type EventRepo struct {
	client       *ent.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewEventRepo wraps an ent client. pollInterval governs how often a
// GetEventsByStatuses subscription re-queries for newly matching rows, since
// plain PostgreSQL polling (not LISTEN/NOTIFY) is used here.
func NewEventRepo(client *ent.Client, pollInterval time.Duration, logger *slog.Logger) *EventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRepo{client: client, pollInterval: pollInterval, logger: logger}
}

// GetEventsByStatuses opens a polling dequeue over events in any of the given
// statuses, ordered oldest first.
func (r *EventRepo) GetEventsByStatuses(ctx context.Context, statuses []engine.EventStatus) (engine.EventDequeue, error) {
	strs := make([]string, len(statuses))
	for i, s := range statuses {
		strs[i] = eventStatusToString(s)
	}

	d := &pollingDequeue{
		client:   r.client,
		statuses: strs,
		events:   make(chan engine.WebhookEvent),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   r.logger,
	}
	go d.run(ctx, r.pollInterval)
	return d, nil
}

// ListByStatus performs a one-shot query, used for restart recovery.
func (r *EventRepo) ListByStatus(ctx context.Context, status engine.EventStatus) ([]engine.WebhookEvent, error) {
	rows, err := r.client.WebhookEvent.Query().
		Where(webhookevent.StatusEQ(eventStatusToString(status))).
		Order(ent.Asc(webhookevent.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events by status %s: %w", status, err)
	}
	out := make([]engine.WebhookEvent, len(rows))
	for i, row := range rows {
		out[i] = fromEntEvent(row)
	}
	return out, nil
}

// allowedPriorStatuses returns the persisted status strings that CanTransition
// permits advancing from into target, keeping the SQL predicate below in sync
// with the state machine in engine.EventStatus.CanTransition.
func allowedPriorStatuses(target engine.EventStatus) []string {
	all := []engine.EventStatus{engine.EventNew, engine.EventDelivering, engine.EventDelivered, engine.EventFailed}
	allowed := make([]string, 0, len(all))
	for _, s := range all {
		if s.CanTransition(target) {
			allowed = append(allowed, eventStatusToString(s))
		}
	}
	return allowed
}

// SetEventStatus performs a compare-and-set update: the row only transitions
// if its current status is one CanTransition allows for target, avoiding a
// read-modify-write race between the Subscription, Dispatcher and
// RetrySubsystem fibers touching the same event concurrently. A 0-row result
// is disambiguated: a missing id is MissingEventError, an existing row stuck
// in an ineligible prior status is EventStatusConflictError.
func (r *EventRepo) SetEventStatus(ctx context.Context, key engine.WebhookEventKey, status engine.EventStatus) error {
	n, err := r.client.WebhookEvent.Update().
		Where(
			webhookevent.IDEQ(int64(key.EventID)),
			webhookevent.WebhookIDEQ(int64(key.WebhookID)),
			webhookevent.StatusIn(allowedPriorStatuses(status)...),
		).
		SetStatus(eventStatusToString(status)).
		Save(ctx)
	if err != nil {
		return fmt.Errorf("set event %+v status: %w", key, err)
	}
	if n == 0 {
		exists, err := r.client.WebhookEvent.Query().
			Where(
				webhookevent.IDEQ(int64(key.EventID)),
				webhookevent.WebhookIDEQ(int64(key.WebhookID)),
			).
			Exist(ctx)
		if err != nil {
			return fmt.Errorf("check existence of event %+v: %w", key, err)
		}
		if !exists {
			return engine.MissingEventError{Key: key}
		}
		return engine.EventStatusConflictError{Key: key, Target: status}
	}
	return nil
}

// SetEventStatusMany applies the same status to every key in one statement,
// used when a batched dispatch resolves.
func (r *EventRepo) SetEventStatusMany(ctx context.Context, keys []engine.WebhookEventKey, status engine.EventStatus) error {
	ids := make([]int64, len(keys))
	for i, k := range keys {
		ids[i] = int64(k.EventID)
	}
	if _, err := r.client.WebhookEvent.Update().
		Where(webhookevent.IDIn(ids...)).
		SetStatus(eventStatusToString(status)).
		Save(ctx); err != nil {
		return fmt.Errorf("set %d events status: %w", len(keys), err)
	}
	return nil
}

// SetAllAsFailedByWebhookID fails every non-terminal event for a webhook that
// just exhausted its retry budget.
func (r *EventRepo) SetAllAsFailedByWebhookID(ctx context.Context, id engine.WebhookID) error {
	if _, err := r.client.WebhookEvent.Update().
		Where(
			webhookevent.WebhookIDEQ(int64(id)),
			webhookevent.StatusNEQ(eventStatusToString(engine.EventDelivered)),
			webhookevent.StatusNEQ(eventStatusToString(engine.EventFailed)),
		).
		SetStatus(eventStatusToString(engine.EventFailed)).
		Save(ctx); err != nil {
		return fmt.Errorf("fail remaining events for webhook %d: %w", id, err)
	}
	return nil
}

// pollingDequeue implements engine.EventDequeue by re-querying on a ticker
// rather than LISTEN/NOTIFY.
type pollingDequeue struct {
	client   *ent.Client
	statuses []string
	events   chan engine.WebhookEvent
	stop     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

func (d *pollingDequeue) Events() <-chan engine.WebhookEvent { return d.events }

func (d *pollingDequeue) Close() error {
	close(d.stop)
	<-d.done
	return nil
}

func (d *pollingDequeue) run(ctx context.Context, interval time.Duration) {
	defer close(d.done)
	defer close(d.events)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *pollingDequeue) poll(ctx context.Context) {
	rows, err := d.client.WebhookEvent.Query().
		Where(func(s *sql.Selector) {
			s.Where(sql.In(webhookevent.FieldStatus, toAnySlice(d.statuses)...))
		}).
		Order(ent.Asc(webhookevent.FieldCreatedAt)).
		Limit(256).
		All(ctx)
	if err != nil {
		d.logger.Warn("poll for new-status events failed", "error", err)
		return
	}
	for _, row := range rows {
		select {
		case d.events <- fromEntEvent(row):
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		}
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func fromEntWebhook(row *ent.Webhook) engine.Webhook {
	status := engine.WebhookStatus{Kind: stringToStatusKind(row.Status)}
	if row.StatusSince != nil {
		status.Since = *row.StatusSince
	}
	return engine.Webhook{
		ID:    engine.WebhookID(row.ID),
		URL:   row.URL,
		Label: row.Label,
		Status: status,
		Mode: engine.DeliveryMode{
			Batching:  stringToBatching(row.Batching),
			Semantics: stringToSemantics(row.Semantics),
		},
	}
}

func fromEntEvent(row *ent.WebhookEvent) engine.WebhookEvent {
	headers := make([]engine.Header, len(row.Headers))
	for i, h := range row.Headers {
		headers[i] = engine.Header{Name: h.Name, Value: h.Value}
	}
	return engine.WebhookEvent{
		Key: engine.WebhookEventKey{
			WebhookID: engine.WebhookID(row.WebhookID),
			EventID:   engine.WebhookEventID(row.ID),
		},
		Status:  stringToEventStatus(row.Status),
		Payload: row.Payload,
		Headers: headers,
	}
}

func statusKindToString(k engine.StatusKind) string {
	switch k {
	case engine.StatusEnabled:
		return "enabled"
	case engine.StatusDisabled:
		return "disabled"
	case engine.StatusRetrying:
		return "retrying"
	case engine.StatusUnavailable:
		return "unavailable"
	default:
		return "enabled"
	}
}

func stringToStatusKind(s string) engine.StatusKind {
	switch s {
	case "disabled":
		return engine.StatusDisabled
	case "retrying":
		return engine.StatusRetrying
	case "unavailable":
		return engine.StatusUnavailable
	default:
		return engine.StatusEnabled
	}
}

func stringToBatching(s string) engine.Batching {
	if s == "batched" {
		return engine.Batched
	}
	return engine.Single
}

func stringToSemantics(s string) engine.Semantics {
	if s == "at_least_once" {
		return engine.AtLeastOnce
	}
	return engine.AtMostOnce
}

func eventStatusToString(s engine.EventStatus) string {
	switch s {
	case engine.EventDelivering:
		return "delivering"
	case engine.EventDelivered:
		return "delivered"
	case engine.EventFailed:
		return "failed"
	default:
		return "new"
	}
}

func stringToEventStatus(s string) engine.EventStatus {
	switch s {
	case "delivering":
		return engine.EventDelivering
	case "delivered":
		return engine.EventDelivered
	case "failed":
		return engine.EventFailed
	default:
		return engine.EventNew
	}
}
