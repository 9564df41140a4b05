// Integration tests for the ent-backed repositories. These spin up a real
// PostgreSQL container with testcontainers-go.
//
// Requirements:
//   - Docker must be running
//   - Run tests: go test ./internal/store/
package store

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/formbricks/webhook-engine/internal/engine"
	"github.com/formbricks/webhook-engine/internal/store/ent"
)

func setupTestClient(t *testing.T) (*ent.Client, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	client, err := ent.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := client.Schema.Create(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close database connection: %v", err)
		}
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return client, cleanup
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestWebhookRepo_GetByIDRoundTrips(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	created, err := client.Webhook.Create().
		SetURL("https://example.test/hook").
		SetLabel("checkout events").
		Save(ctx)
	if err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	repo := NewWebhookRepo(client)
	got, ok, err := repo.GetWebhookByID(ctx, engine.WebhookID(created.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected the seeded webhook to be found")
	}
	if got.URL != "https://example.test/hook" {
		t.Fatalf("expected url to round-trip, got %q", got.URL)
	}
	if got.Status.Kind != engine.StatusEnabled {
		t.Fatalf("expected a newly created webhook to default to enabled, got %v", got.Status.Kind)
	}

	_, ok, err = repo.GetWebhookByID(ctx, engine.WebhookID(999999))
	if err != nil {
		t.Fatalf("unexpected error for a missing webhook: %v", err)
	}
	if ok {
		t.Fatal("expected a missing webhook to report found=false, not an error")
	}
}

func TestWebhookRepo_SetWebhookStatusPersistsRetryingSince(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	created, err := client.Webhook.Create().SetURL("https://example.test/hook").Save(ctx)
	if err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	repo := NewWebhookRepo(client)
	since := time.Now().Truncate(time.Second)
	if err := repo.SetWebhookStatus(ctx, engine.WebhookID(created.ID), engine.WebhookStatus{Kind: engine.StatusRetrying, Since: since}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _, err := repo.GetWebhookByID(ctx, engine.WebhookID(created.ID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status.Kind != engine.StatusRetrying {
		t.Fatalf("expected retrying status, got %v", got.Status.Kind)
	}
	if got.Status.Since.IsZero() {
		t.Fatal("expected status_since to be persisted for a retrying webhook")
	}
}

func TestIngestAndEventRepo_RoundTripsThroughStatusTransitions(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	webhook, err := client.Webhook.Create().SetURL("https://example.test/hook").Save(ctx)
	if err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	ingest := NewIngestRepo(client)
	key, err := ingest.Enqueue(ctx, engine.WebhookID(webhook.ID), `{"hello":"world"}`, []engine.Header{
		{Name: "X-Test", Value: "1"},
	})
	if err != nil {
		t.Fatalf("failed to enqueue event: %v", err)
	}
	if key.WebhookID != engine.WebhookID(webhook.ID) {
		t.Fatalf("expected the event key to carry the webhook id, got %d", key.WebhookID)
	}

	events := NewEventRepo(client, 20*time.Millisecond, newTestLogger())

	rows, err := events.ListByStatus(ctx, engine.EventNew)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != key {
		t.Fatalf("expected exactly the enqueued event to be listed as New, got %+v", rows)
	}

	if err := events.SetEventStatus(ctx, key, engine.EventDelivering); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	delivering, err := events.ListByStatus(ctx, engine.EventDelivering)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delivering) != 1 {
		t.Fatalf("expected the event to have moved to Delivering, got %+v", delivering)
	}

	unknownKey := engine.WebhookEventKey{WebhookID: engine.WebhookID(webhook.ID), EventID: 999999}
	err = events.SetEventStatus(ctx, unknownKey, engine.EventDelivered)
	if err == nil {
		t.Fatal("expected an error for a compare-and-set against a nonexistent event")
	}
	if _, ok := err.(engine.MissingEventError); !ok {
		t.Fatalf("expected MissingEventError for a nonexistent event, got %#v", err)
	}

	// The row is Delivering, not New: re-applying New -> Delivering is not an
	// eligible prior state and must surface as a conflict, not silently
	// succeed or report "missing".
	err = events.SetEventStatus(ctx, key, engine.EventDelivering)
	if err == nil {
		t.Fatal("expected an error for a compare-and-set against a row in the wrong prior status")
	}
	if _, ok := err.(engine.EventStatusConflictError); !ok {
		t.Fatalf("expected EventStatusConflictError for a same-row wrong-prior-status update, got %#v", err)
	}

	delivering, err = events.ListByStatus(ctx, engine.EventDelivering)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delivering) != 1 {
		t.Fatalf("expected the conflicting update to leave the row's status untouched, got %+v", delivering)
	}
}

func TestEventRepo_GetEventsByStatusesDeliversNewlyInsertedEvents(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	webhook, err := client.Webhook.Create().SetURL("https://example.test/hook").Save(ctx)
	if err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	events := NewEventRepo(client, 20*time.Millisecond, newTestLogger())
	dequeue, err := events.GetEventsByStatuses(ctx, []engine.EventStatus{engine.EventNew})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer dequeue.Close()

	ingest := NewIngestRepo(client)
	if _, err := ingest.Enqueue(ctx, engine.WebhookID(webhook.ID), "{}", nil); err != nil {
		t.Fatalf("failed to enqueue event: %v", err)
	}

	select {
	case event := <-dequeue.Events():
		if event.Key.WebhookID != engine.WebhookID(webhook.ID) {
			t.Fatalf("expected the event to belong to the seeded webhook, got %d", event.Key.WebhookID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected the polling dequeue to surface the newly inserted event")
	}
}

func TestEventRepo_SetAllAsFailedByWebhookIDSkipsTerminalStatuses(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()
	ctx := context.Background()

	webhook, err := client.Webhook.Create().SetURL("https://example.test/hook").Save(ctx)
	if err != nil {
		t.Fatalf("failed to seed webhook: %v", err)
	}

	ingest := NewIngestRepo(client)
	deliveredKey, err := ingest.Enqueue(ctx, engine.WebhookID(webhook.ID), "{}", nil)
	if err != nil {
		t.Fatalf("failed to enqueue event: %v", err)
	}
	stuckKey, err := ingest.Enqueue(ctx, engine.WebhookID(webhook.ID), "{}", nil)
	if err != nil {
		t.Fatalf("failed to enqueue event: %v", err)
	}

	events := NewEventRepo(client, 20*time.Millisecond, newTestLogger())
	if err := events.SetEventStatus(ctx, deliveredKey, engine.EventDelivering); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := events.SetEventStatus(ctx, deliveredKey, engine.EventDelivered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := events.SetAllAsFailedByWebhookID(ctx, engine.WebhookID(webhook.ID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deliveredRow, err := client.WebhookEvent.Get(ctx, int64(deliveredKey.EventID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deliveredRow.Status != "delivered" {
		t.Fatalf("expected the already-delivered event to stay delivered, got %q", deliveredRow.Status)
	}

	stuckRow, err := client.WebhookEvent.Get(ctx, int64(stuckKey.EventID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stuckRow.Status != "failed" {
		t.Fatalf("expected the non-terminal event to be marked failed, got %q", stuckRow.Status)
	}
}
