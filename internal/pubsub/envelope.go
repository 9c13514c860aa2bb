package pubsub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wire format. Required fields are event_id,
// schema_version, topic, occurred_at and producer; everything else is
// optional and, outside strict mode, round-trips even if this engine
// doesn't recognize it (Extra).
type Envelope struct {
	EventID       string          `json:"event_id"`
	SchemaVersion int             `json:"schema_version"`
	Topic         string          `json:"topic"`
	Producer      string          `json:"producer"`
	OccurredAt    time.Time       `json:"occurred_at"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	MessageType   string          `json:"message_type,omitempty"`
	Domain        string          `json:"domain,omitempty"`
	Resource      string          `json:"resource,omitempty"`
	Action        string          `json:"action,omitempty"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`

	// Extra preserves unknown top-level fields when strict mode is off.
	// It is never populated in strict mode, where unknown fields fail decode.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownEnvelopeFields lists the JSON keys understood natively, used to
// split unknown keys off into Extra during non-strict decode.
var knownEnvelopeFields = map[string]struct{}{
	"event_id": {}, "schema_version": {}, "topic": {}, "producer": {},
	"occurred_at": {}, "trace_id": {}, "correlation_id": {}, "message_type": {},
	"domain": {}, "resource": {}, "action": {}, "resource_id": {},
	"message": {}, "payload": {},
}

// NewEnvelope stamps event_id (if empty), occurred_at and producer, and
// returns the populated Envelope. Callers supply topic and message already
// marshaled to JSON.
func NewEnvelope(topic, producer string, message json.RawMessage, opts ...EnvelopeOption) Envelope {
	e := Envelope{
		EventID:       uuid.NewString(),
		SchemaVersion: 1,
		Topic:         topic,
		Producer:      producer,
		OccurredAt:    time.Now().UTC(),
		Message:       message,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// EnvelopeOption customizes an Envelope built by NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithEventID overrides the generated event_id with a caller-supplied one.
func WithEventID(id string) EnvelopeOption {
	return func(e *Envelope) {
		if id != "" {
			e.EventID = id
		}
	}
}

// WithTraceID sets the trace_id field.
func WithTraceID(id string) EnvelopeOption {
	return func(e *Envelope) { e.TraceID = id }
}

// WithCorrelationID sets the correlation_id field.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithMessageType sets the message_type field.
func WithMessageType(t string) EnvelopeOption {
	return func(e *Envelope) { e.MessageType = t }
}

// WithSchemaVersion overrides the default schema_version of 1.
func WithSchemaVersion(v int) EnvelopeOption {
	return func(e *Envelope) { e.SchemaVersion = v }
}

// WithDRA sets the domain/resource/action/resource_id convenience fields.
func WithDRA(domain, resource, action, resourceID string) EnvelopeOption {
	return func(e *Envelope) {
		e.Domain, e.Resource, e.Action, e.ResourceID = domain, resource, action, resourceID
	}
}

// Encode serializes the envelope to its wire JSON form, re-merging Extra
// fields that were preserved from a prior non-strict decode.
func (e Envelope) Encode() ([]byte, error) {
	base := map[string]json.RawMessage{}
	for k, v := range e.Extra {
		base[k] = v
	}

	type alias Envelope
	raw, err := json.Marshal(alias(e))
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	for k, v := range fields {
		base[k] = v
	}

	out, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return out, nil
}

// Decode parses wire bytes into an Envelope. In strict mode, any top-level
// field not in knownEnvelopeFields fails decode with ErrMalformedMessage;
// otherwise unknown fields are preserved in Extra. Required fields
// (event_id, schema_version, topic, occurred_at, producer) are validated
// regardless of mode.
func Decode(data []byte, strict bool) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	extra := map[string]json.RawMessage{}
	for k, v := range fields {
		if _, known := knownEnvelopeFields[k]; known {
			continue
		}
		if strict {
			return Envelope{}, fmt.Errorf("%w: unknown field %q in strict mode", ErrMalformedMessage, k)
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		e.Extra = extra
	}

	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrMalformedMessage)
	}
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("%w: event_id must be a UUID: %v", ErrMalformedMessage, err)
	}
	if e.SchemaVersion < 1 {
		return fmt.Errorf("%w: schema_version must be >= 1", ErrMalformedMessage)
	}
	if e.Topic == "" {
		return fmt.Errorf("%w: topic is required", ErrMalformedMessage)
	}
	if e.Producer == "" {
		return fmt.Errorf("%w: producer is required", ErrMalformedMessage)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrMalformedMessage)
	}
	return nil
}
