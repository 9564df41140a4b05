package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Webhook holds the schema definition for the Webhook entity: a single
// destination events are dispatched to.
type Webhook struct {
	ent.Schema
}

// Fields of the Webhook.
func (Webhook) Fields() []ent.Field {
	return []ent.Field{
		field.Int64("id").
			Immutable(),
		field.String("url").
			NotEmpty().
			Comment("POST target URL"),
		field.String("label").
			Optional().
			Comment("Human-readable name shown in the admin API"),
		field.String("status").
			Default("enabled").
			Comment("enabled, disabled, retrying, unavailable"),
		field.Time("status_since").
			Optional().
			Nillable().
			Comment("When the current status began; set for retrying/unavailable"),
		field.String("batching").
			Default("single").
			Comment("single or batched"),
		field.String("semantics").
			Default("at_most_once").
			Comment("at_most_once or at_least_once"),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Webhook.
func (Webhook) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("events", WebhookEvent.Type),
	}
}

// Indexes of the Webhook.
func (Webhook) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("status"),
	}
}
