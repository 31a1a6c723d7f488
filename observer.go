package xemit

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// EventType enumerates emitter lifecycle events for the Observer pattern.
type EventType string

const (
	Subscribed     EventType = "subscribed"
	Unsubscribed   EventType = "unsubscribed"
	EmitStart      EventType = "emit_start"
	EmitDone       EventType = "emit_done"
	Delivered      EventType = "delivered"
	DeliveryFailed EventType = "delivery_failed"
)

// Event carries telemetry for observers.
type Event struct {
	Type           EventType
	Topic          string
	Pattern        string
	SubscriptionID string
	Matched        int
	Duration       time.Duration
	Err            error

	// Internal: attached for async dispatch
	observers []Observer
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that reports emitter events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	if e.Err != nil {
		o.Logger.Debug().
			Err(e.Err).
			Str("type", string(e.Type)).
			Str("topic", e.Topic).
			Str("pattern", e.Pattern).
			Str("subscription_id", e.SubscriptionID).
			Msg("xemit event")
		return
	}
	o.Logger.Debug().
		Str("type", string(e.Type)).
		Str("topic", e.Topic).
		Str("pattern", e.Pattern).
		Str("subscription_id", e.SubscriptionID).
		Float64("duration_ms", float64(e.Duration)/float64(time.Millisecond)).
		Msg("xemit event")
}
