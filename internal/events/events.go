// Package events defines the envelope the service publishes to Kafka and
// the publisher abstraction the domain depends on.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Topics.
const (
	TopicOrderPlaced            = "order.placed"
	TopicOrderConfirmed         = "order.confirmed"
	TopicOrderStatusChanged     = "order.status_changed"
	TopicReconciliationRequired = "order.reconciliation_required"
	TopicStockLevel             = "stock.level"
)

// Version is the envelope schema version.
const Version = 1

// Payload is an event body that knows how to encode itself.
type Payload interface {
	EventType() string
	Encode(e *jx.Encoder)
}

// Event is a payload addressed to a topic. Key selects the partition so all
// events of one order (or product) stay ordered.
type Event struct {
	Topic   string
	Key     string
	Payload Payload
}

// Publisher delivers events. Implementations must not block on the broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Envelope wraps a payload with delivery metadata.
type Envelope struct {
	ID            uuid.UUID
	Type          string
	Version       int
	OccurredAt    time.Time
	Producer      string
	CorrelationID string
	TraceID       string
	Payload       Payload
}

// NewEnvelope stamps a payload with a fresh id and the current time.
func NewEnvelope(producer string, ev Event, traceID string, now time.Time) Envelope {
	return Envelope{
		ID:            uuid.New(),
		Type:          ev.Payload.EventType(),
		Version:       Version,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: ev.Key,
		TraceID:       traceID,
		Payload:       ev.Payload,
	}
}

// Encode writes the envelope as a JSON object.
func (env Envelope) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("event_id", func(e *jx.Encoder) { e.Str(env.ID.String()) })
		e.Field("event_type", func(e *jx.Encoder) { e.Str(env.Type) })
		e.Field("event_version", func(e *jx.Encoder) { e.Int(env.Version) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(env.OccurredAt.Format(time.RFC3339Nano)) })
		e.Field("producer", func(e *jx.Encoder) { e.Str(env.Producer) })
		if env.CorrelationID != "" {
			e.Field("correlation_id", func(e *jx.Encoder) { e.Str(env.CorrelationID) })
		}
		if env.TraceID != "" {
			e.Field("trace_id", func(e *jx.Encoder) { e.Str(env.TraceID) })
		}
		e.Field("payload", env.Payload.Encode)
	})
}

// Bytes returns the encoded envelope.
func (env Envelope) Bytes() []byte {
	var e jx.Encoder
	env.Encode(&e)
	return e.Bytes()
}
