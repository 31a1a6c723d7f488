package xemit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Delay postpones the rest of the pipeline by d. Emit returns immediately;
// the handler runs later on a timer goroutine if the subscription is still active.
func (s *Subscription) Delay(d time.Duration) *Subscription {
	if d < 0 {
		panic(argumentError("Delay", "duration", "must not be negative"))
	}
	return s.Use(func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			s.schedule(d, func() { s.resume(ctx, next, data, env) })
			return nil
		}
	})
}

// Defer delivers on a later tick instead of inside Emit.
func (s *Subscription) Defer() *Subscription {
	return s.Delay(0)
}

// Debounce delivers only after d has passed without another event, using the
// latest payload. With immediate set, the first event of a burst is delivered
// right away and the rest of the burst is dropped.
func (s *Subscription) Debounce(d time.Duration, immediate bool) *Subscription {
	if d < 0 {
		panic(argumentError("Debounce", "duration", "must not be negative"))
	}
	var (
		mu    sync.Mutex
		timer *clock.Timer
		last  delivery
	)
	return s.Use(func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			mu.Lock()
			callNow := immediate && timer == nil
			s.cancel(timer)
			last = delivery{ctx: ctx, data: data, env: env}

			var t *clock.Timer
			t = s.schedule(d, func() {
				mu.Lock()
				if timer != t {
					mu.Unlock()
					return
				}
				timer = nil
				pending := last
				mu.Unlock()
				if !immediate {
					s.resume(pending.ctx, next, pending.data, pending.env)
				}
			})
			timer = t
			mu.Unlock()

			if callNow {
				return next(ctx, data, env)
			}
			return nil
		}
	})
}

// Throttle delivers at most once per d. The first event goes through at once;
// events inside the window collapse into one trailing delivery of the latest
// payload when the window closes.
func (s *Subscription) Throttle(d time.Duration) *Subscription {
	if d <= 0 {
		panic(argumentError("Throttle", "duration", "must be greater than zero"))
	}
	sched := s.emitter.scheduler
	var (
		mu      sync.Mutex
		lastRun time.Time
		primed  bool
		timer   *clock.Timer
		latest  delivery
	)
	return s.Use(func(next Handler) Handler {
		return func(ctx context.Context, data any, env *Envelope) error {
			mu.Lock()
			now := sched.Now()
			var remaining time.Duration
			if primed {
				remaining = d - now.Sub(lastRun)
			}
			if remaining <= 0 || remaining > d {
				s.cancel(timer)
				timer = nil
				lastRun, primed = now, true
				mu.Unlock()
				return next(ctx, data, env)
			}

			latest = delivery{ctx: ctx, data: data, env: env}
			if timer == nil {
				var t *clock.Timer
				t = s.schedule(remaining, func() {
					mu.Lock()
					if timer != t {
						mu.Unlock()
						return
					}
					timer = nil
					lastRun, primed = sched.Now(), true
					pending := latest
					mu.Unlock()
					s.resume(pending.ctx, next, pending.data, pending.env)
				})
				timer = t
			}
			mu.Unlock()
			return nil
		}
	})
}

// delivery holds the arguments of a postponed pipeline call.
type delivery struct {
	ctx  context.Context
	data any
	env  *Envelope
}
