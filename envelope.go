package xemit

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps one emitted payload. It is built once per Emit call and
// shared by every subscriber of that call; treat it as read-only.
type Envelope struct {
	// Topic is the concrete topic passed to Emit.
	Topic string
	// TimeStamp is the emission time (from the emitter's clock).
	TimeStamp time.Time
	// Data is the payload passed to Emit.
	Data any
	// Metadata holds fields added by a custom EnvelopeBuilder (sender id, trace id, ...).
	Metadata map[string]any
}

// Meta returns a metadata field.
func (e *Envelope) Meta(key string) (any, bool) {
	if e == nil || e.Metadata == nil {
		return nil, false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// EnvelopeBuilder constructs the envelope for an Emit call.
type EnvelopeBuilder func(topic string, data any, now time.Time) *Envelope

// DefaultEnvelope returns {Topic, TimeStamp, Data}.
func DefaultEnvelope(topic string, data any, now time.Time) *Envelope {
	return &Envelope{
		Topic:     topic,
		TimeStamp: now,
		Data:      data,
	}
}

// MetaKeyID is the metadata key set by EnvelopeWithID.
const MetaKeyID = "id"

// EnvelopeWithID decorates a builder so every envelope carries a unique id.
func EnvelopeWithID(next EnvelopeBuilder) EnvelopeBuilder {
	if next == nil {
		next = DefaultEnvelope
	}
	return func(topic string, data any, now time.Time) *Envelope {
		env := next(topic, data, now)
		if env.Metadata == nil {
			env.Metadata = make(map[string]any, 1)
		}
		env.Metadata[MetaKeyID] = uuid.NewString()
		return env
	}
}
