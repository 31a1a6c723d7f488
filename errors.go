package xemit

import (
	"errors"
	"fmt"
)

var (
	// ErrNilHandler is raised when a nil Handler is registered.
	ErrNilHandler = errors.New("xemit: handler must not be nil")

	// ErrHandlerPanic matches any *PanicError via errors.Is.
	ErrHandlerPanic = errors.New("xemit: handler panicked")

	// ErrInvalidConfig wraps Config validation failures.
	ErrInvalidConfig = errors.New("xemit: invalid config")

	// ErrObserverPoolShutdownTimeout is returned when observer workers do not drain in time.
	ErrObserverPoolShutdownTimeout = errors.New("xemit: observer pool shutdown timeout")
)

// ArgumentError reports misuse of a configuration API. Fluent configurators
// panic with it so mistakes surface where the subscription is built.
type ArgumentError struct {
	Op     string
	Arg    string
	Reason string
	// Err is an optional sentinel such as ErrNilHandler.
	Err error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("xemit: %s: invalid %s: %s", e.Op, e.Arg, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

func argumentError(op, arg, reason string) *ArgumentError {
	return &ArgumentError{Op: op, Arg: arg, Reason: reason}
}

// PanicError carries a value recovered from a panicking handler or step.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("xemit: panic recovered: %v", e.Value)
}

// Is lets errors.Is(err, ErrHandlerPanic) match.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// DeliveryError records one failed delivery in the emitter's error log.
type DeliveryError struct {
	SubscriptionID string
	Pattern        string
	Topic          string
	Envelope       *Envelope
	Err            error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("xemit: delivery to %s (%q) on %q failed: %v", e.SubscriptionID, e.Pattern, e.Topic, e.Err)
}

func (e DeliveryError) Unwrap() error { return e.Err }
