package api

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/formbricks/webhook-engine/internal/engine"
)

// EventHeader mirrors engine.Header for the wire format.
type EventHeader struct {
	Name  string `json:"name" doc:"Header name"`
	Value string `json:"value" doc:"Header value"`
}

// CreateEventInput is the body of a new-event request.
type CreateEventInput struct {
	Body struct {
		WebhookID int64         `json:"webhook_id" doc:"Destination webhook id"`
		Payload   string        `json:"payload" doc:"Raw event payload"`
		Headers   []EventHeader `json:"headers,omitempty" doc:"Headers to carry on delivery; content-type drives batching"`
	}
}

// CreateEventOutput is the response to a successful enqueue.
type CreateEventOutput struct {
	Body struct {
		WebhookID int64 `json:"webhook_id"`
		EventID   int64 `json:"event_id"`
	}
}

// RegisterEventRoutes registers the event-ingestion endpoint.
func RegisterEventRoutes(api huma.API, ingester Ingester, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "create-event",
		Method:      "POST",
		Path:        "/v1/events",
		Summary:     "Enqueue a new webhook event",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *CreateEventInput) (*CreateEventOutput, error) {
		headers := make([]engine.Header, len(input.Body.Headers))
		for i, h := range input.Body.Headers {
			headers[i] = engine.Header{Name: h.Name, Value: h.Value}
		}

		key, err := ingester.Enqueue(ctx, engine.WebhookID(input.Body.WebhookID), input.Body.Payload, headers)
		if err != nil {
			logger.Error("failed to enqueue event", "webhook_id", input.Body.WebhookID, "error", err)
			return nil, huma.Error500InternalServerError("failed to enqueue event")
		}

		out := &CreateEventOutput{}
		out.Body.WebhookID = int64(key.WebhookID)
		out.Body.EventID = int64(key.EventID)
		return out, nil
	})
}
