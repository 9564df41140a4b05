package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// WebhookEvent holds the schema definition for the WebhookEvent entity: a
// single event queued for delivery to a webhook.
type WebhookEvent struct {
	ent.Schema
}

// Fields of the WebhookEvent.
func (WebhookEvent) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id").
			Immutable(),
		field.Int64("webhook_id").
			Immutable(),
		field.String("status").
			Default("new").
			Comment("new, delivering, delivered, failed"),
		field.Text("payload"),
		field.JSON("headers", []Header{}).
			Optional().
			Comment("ordered (name, value) pairs; last event in a batch wins"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Header mirrors engine.Header for JSON storage without importing the engine
// package from the schema (ent schemas must stay dependency-light).
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Edges of the WebhookEvent.
func (WebhookEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("webhook", Webhook.Type).
			Ref("events").
			Field("webhook_id").
			Unique().
			Required(),
	}
}

// Indexes of the WebhookEvent.
func (WebhookEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("webhook_id", "status"),
	}
}
