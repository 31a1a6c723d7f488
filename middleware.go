package xemit

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
)

// RecoveryMiddleware prevents panics from escaping a delivery and converts them into *PanicError.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, data, env)
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// RetryConfig controls RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	RetryIf func(err error) bool
}

// RetryMiddleware re-runs the rest of the pipeline when it fails. Attempts
// run back to back inside the same delivery; emits are synchronous, so there
// is no backoff.
func RetryMiddleware(cfg RetryConfig) Middleware {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	shouldRetry := cfg.RetryIf
	if shouldRetry == nil {
		shouldRetry = func(error) bool { return true }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			var lastErr error
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, data, env)
				if lastErr == nil {
					return nil
				}
				if ctx.Err() != nil || i == attempts || !shouldRetry(lastErr) {
					return lastErr
				}
			}
			return lastErr
		}
	}
}

// ConstraintMiddleware stops the delivery when pred returns false.
func ConstraintMiddleware(pred Predicate) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			if !pred(data, env) {
				return nil
			}
			return next(ctx, data, env)
		}
	}
}

// DistinctMiddleware drops payloads equal to any payload it has already let
// through. history > 0 keeps only the most recent history payloads.
// Top-level slices and maps are copied when remembered; anything reachable
// through pointers is shared with the publisher.
func DistinctMiddleware(history int) Middleware {
	var (
		mu   sync.Mutex
		seen []any
	)
	return func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			mu.Lock()
			for _, p := range seen {
				if Equal(p, data) {
					mu.Unlock()
					return nil
				}
			}
			seen = append(seen, snapshot(data))
			if history > 0 && len(seen) > history {
				seen = seen[len(seen)-history:]
			}
			mu.Unlock()
			return next(ctx, data, env)
		}
	}
}

// DistinctUntilChangedMiddleware drops a payload equal to the one immediately before it.
// The remembered payload is copied the same way as in DistinctMiddleware.
func DistinctUntilChangedMiddleware() Middleware {
	var (
		mu       sync.Mutex
		previous any
		primed   bool
	)
	return func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			mu.Lock()
			same := primed && Equal(previous, data)
			previous, primed = snapshot(data), true
			mu.Unlock()
			if same {
				return nil
			}
			return next(ctx, data, env)
		}
	}
}

// snapshot returns a shallow copy of slice and map payloads so a publisher
// mutating them in place cannot rewrite the remembered value.
func snapshot(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(cp, rv)
		return cp.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		cp := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		for it := rv.MapRange(); it.Next(); {
			cp.SetMapIndex(it.Key(), it.Value())
		}
		return cp.Interface()
	}
	return v
}

// exportAll lets cmp compare unexported struct fields instead of panicking.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// Equal reports deep structural equality of two payloads.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, exportAll)
}
