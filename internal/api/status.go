package api

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/formbricks/webhook-engine/internal/engine"
)

// WebhookStatusInput identifies the webhook to query.
type WebhookStatusInput struct {
	WebhookID int64 `path:"webhook_id" doc:"Webhook id"`
}

// WebhookStatusOutput reports the webhook's current in-memory state.
type WebhookStatusOutput struct {
	Body struct {
		WebhookID int64  `json:"webhook_id"`
		State     string `json:"state" doc:"enabled, disabled, retrying, or unavailable"`
		InFlight  int    `json:"in_flight_retries" doc:"Dispatches currently being retried, 0 unless state is retrying"`
	}
}

// RegisterStatusRoutes registers the webhook status endpoint.
func RegisterStatusRoutes(api huma.API, eng *engine.Server, logger *slog.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "get-webhook-status",
		Method:      "GET",
		Path:        "/v1/webhooks/{webhook_id}/status",
		Summary:     "Get a webhook's current in-memory delivery state",
		Tags:        []string{"Webhooks"},
	}, func(ctx context.Context, input *WebhookStatusInput) (*WebhookStatusOutput, error) {
		state := eng.WebhookState(engine.WebhookID(input.WebhookID))

		out := &WebhookStatusOutput{}
		out.Body.WebhookID = input.WebhookID
		switch state.Kind {
		case engine.StateEnabled:
			out.Body.State = "enabled"
		case engine.StateDisabled:
			out.Body.State = "disabled"
		case engine.StateUnavailable:
			out.Body.State = "unavailable"
		case engine.StateRetrying:
			out.Body.State = "retrying"
			if state.Retrying != nil {
				out.Body.InFlight = len(state.Retrying.Retries)
			}
		}
		return out, nil
	})
}
