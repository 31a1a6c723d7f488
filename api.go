package xemit

import (
	"context"

	"github.com/trickstertwo/xemit/resolver"
)

// Handler receives one delivery. A returned error (or a panic) marks the
// subscription failed; it never reaches the emitter's caller.
type Handler func(ctx context.Context, data any, env *Envelope) error

// Middleware composes processing steps around a Handler. A step stops the
// delivery by returning without calling next.
type Middleware func(next Handler) Handler

// Predicate decides whether a delivery continues down the pipeline.
type Predicate func(data any, env *Envelope) bool

// Resolver is the Strategy deciding whether a binding pattern matches a topic.
// *resolver.Resolver is the default implementation.
type Resolver interface {
	Matches(pattern, topic string) bool
	Reset()
	Purge(opts ...resolver.PurgeOption)
}

// Observer receives emitter lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e Event)
}

// Broadcaster is the emitter capability a host type gains by embedding *Emitter.
type Broadcaster interface {
	On(pattern string, h Handler) *Subscription
	Once(pattern string, h Handler) *Subscription
	Off(req OffRequest) int
	Emit(topic string, data any)
	GetEnvelope(topic string, data any) *Envelope
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

var (
	_ HealthChecker = (*Emitter)(nil)
	_ Broadcaster   = (*Emitter)(nil)
	_ Resolver      = (*resolver.Resolver)(nil)
)
