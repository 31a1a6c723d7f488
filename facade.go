package xemit

import (
	"sync"
)

var (
	defaultEmitter   *Emitter
	defaultEmitterMu sync.Mutex
)

// Default returns the process-wide singleton Emitter.
func Default() *Emitter {
	defaultEmitterMu.Lock()
	defer defaultEmitterMu.Unlock()

	if defaultEmitter == nil {
		defaultEmitter = NewEmitter()
	}
	return defaultEmitter
}

// SetDefault replaces the process-wide default Emitter.
func SetDefault(e *Emitter) {
	if e == nil {
		panic("xemit: SetDefault called with nil Emitter")
	}
	defaultEmitterMu.Lock()
	defaultEmitter = e
	defaultEmitterMu.Unlock()
}

// On is the Facade using the default emitter.
func On(pattern string, h Handler) *Subscription {
	return Default().On(pattern, h)
}

// Once is the Facade using the default emitter.
func Once(pattern string, h Handler) *Subscription {
	return Default().Once(pattern, h)
}

// Off is the Facade using the default emitter.
func Off(req OffRequest) int {
	return Default().Off(req)
}

// Emit is the Facade using the default emitter.
func Emit(topic string, data any) {
	Default().Emit(topic, data)
}
