package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Meta describes a published event.
type Meta struct {
	// Trace / request correlation ID
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event ID
	ID string `json:"id"`
	// Emitting service
	Producer *string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. message.received.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type GenericEnvelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// NewEnvelope wraps data with a fresh event id. Empty producer and
// correlation id are omitted.
func NewEnvelope(typ, producer, correlationID string, data any) Envelope {
	meta := Meta{ID: uuid.NewString(), Time: time.Now().UTC(), Type: typ}
	if producer != "" {
		meta.Producer = &producer
	}
	if correlationID != "" {
		meta.CorrelationID = &correlationID
	}
	return Envelope{Meta: meta, Data: data}
}

// Decode parses an envelope body into a typed envelope.
func Decode[T any](body []byte) (GenericEnvelope[T], error) {
	var env GenericEnvelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
