package xemit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Subscription is one listener registered on an Emitter. Configure it with
// the fluent methods right after On; each returns the same *Subscription.
//
//	em.On("orders.#", handle).
//		WithReceiver(svc).
//		Constraint(isPaid).
//		DistinctUntilChanged().
//		DisposeAfter(10)
//
// A Subscription belongs to exactly one Emitter. Once inactive it never
// becomes active again.
type Subscription struct {
	id      string
	pattern string
	handler Handler
	emitter *Emitter

	active   atomic.Bool
	failed   atomic.Bool
	calls    atomic.Int64
	maxCalls atomic.Int64

	mu       sync.Mutex
	receiver any
	steps    []Middleware
	chain    Handler
	catch    func(err error, data any)

	// timersMu guards the deferred run queue.
	timersMu sync.Mutex
	tasks    []*deferred
	draining bool

	// cacheKeys lists the match-cache topics referencing this subscription.
	// Guarded by emitter.mu.
	cacheKeys []string
}

func newSubscription(pattern string, h Handler, e *Emitter) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		handler: h,
		emitter: e,
	}
	s.active.Store(true)
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the binding pattern the subscription was registered with.
func (s *Subscription) Pattern() string { return s.pattern }

// IsActive reports whether the subscription still receives deliveries.
func (s *Subscription) IsActive() bool { return s.active.Load() }

// Failed reports whether any delivery to this subscription has failed.
func (s *Subscription) Failed() bool { return s.failed.Load() }

// Calls returns how many times the handler has been invoked.
func (s *Subscription) Calls() int64 { return s.calls.Load() }

// Receiver returns the value bound with WithReceiver.
func (s *Subscription) Receiver() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver
}

// WithReceiver binds v to the subscription. Handlers read it with
// ReceiverFromContext, and Off(ByReceiver(v)) removes every subscription bound to it.
func (s *Subscription) WithReceiver(v any) *Subscription {
	s.mu.Lock()
	s.receiver = v
	s.mu.Unlock()
	return s
}

// Use appends a pipeline step. Steps run in registration order before the handler.
func (s *Subscription) Use(mw Middleware) *Subscription {
	if mw == nil {
		panic(argumentError("Use", "step", "must not be nil"))
	}
	s.mu.Lock()
	s.steps = append(s.steps, mw)
	s.chain = nil
	s.mu.Unlock()
	return s
}

// Constraint stops a delivery when pred returns false.
func (s *Subscription) Constraint(pred Predicate) *Subscription {
	if pred == nil {
		panic(argumentError("Constraint", "predicate", "must not be nil"))
	}
	return s.Use(ConstraintMiddleware(pred))
}

// Constraints adds several predicates, each as its own step.
func (s *Subscription) Constraints(preds ...Predicate) *Subscription {
	for _, p := range preds {
		s.Constraint(p)
	}
	return s
}

// Distinct drops any payload deeply equal to a payload already let through.
func (s *Subscription) Distinct() *Subscription {
	return s.Use(DistinctMiddleware(s.emitter.cfg.DistinctHistory))
}

// DistinctUntilChanged drops a payload deeply equal to the previous one.
func (s *Subscription) DistinctUntilChanged() *Subscription {
	return s.Use(DistinctUntilChangedMiddleware())
}

// DisposeAfter unsubscribes once the handler has run n more times.
func (s *Subscription) DisposeAfter(n int) *Subscription {
	if n <= 0 {
		panic(argumentError("DisposeAfter", "count", "must be greater than zero"))
	}
	s.maxCalls.Store(s.calls.Load() + int64(n))
	return s
}

// Once is DisposeAfter(1).
func (s *Subscription) Once() *Subscription {
	return s.DisposeAfter(1)
}

// CatchErrors receives every delivery error in addition to the emitter's own handling.
func (s *Subscription) CatchErrors(fn func(err error, data any)) *Subscription {
	if fn == nil {
		panic(argumentError("CatchErrors", "handler", "must not be nil"))
	}
	s.mu.Lock()
	s.catch = fn
	s.mu.Unlock()
	return s
}

// Unsubscribe deactivates the subscription and removes it from its emitter.
// Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.dispose()
}

// Off is an alias for Unsubscribe.
func (s *Subscription) Off() {
	s.dispose()
}

// dispose reports whether this call performed the transition to inactive.
func (s *Subscription) dispose() bool {
	if !s.active.CompareAndSwap(true, false) {
		return false
	}
	s.stopTimers()
	s.emitter.remove(s)
	return true
}

// Invoke runs one delivery through the pipeline. Errors are handled here and
// never returned, so one subscriber cannot affect another.
func (s *Subscription) Invoke(data any, env *Envelope) {
	if !s.active.Load() {
		return
	}
	ctx := s.emitter.handlerContext(s)
	if err := s.pipeline()(ctx, data, env); err != nil {
		s.fail(err, data, env)
	}
}

// pipeline returns the composed chain, building it once per set of steps.
func (s *Subscription) pipeline() Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chain != nil {
		return s.chain
	}
	mws := make([]Middleware, 0, len(s.emitter.middlewares)+len(s.steps)+1)
	mws = append(mws, RecoveryMiddleware())
	mws = append(mws, s.emitter.middlewares...)
	mws = append(mws, s.steps...)
	s.chain = Chain(s.terminal, mws...)
	return s.chain
}

// terminal is the last pipeline step: it enforces the dispose limit and calls the handler.
func (s *Subscription) terminal(ctx context.Context, data any, env *Envelope) error {
	if !s.active.Load() {
		return nil
	}
	limit := s.maxCalls.Load()
	var n int64
	for {
		n = s.calls.Load()
		if limit > 0 && n >= limit {
			return nil
		}
		if s.calls.CompareAndSwap(n, n+1) {
			n++
			break
		}
	}

	err := s.call(ctx, data, env)
	if limit > 0 && n == limit {
		s.dispose()
	}
	if err == nil {
		s.emitter.delivered(s, env)
	}
	return err
}

func (s *Subscription) call(ctx context.Context, data any, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return s.handler(ctx, data, env)
}

// resume continues a deferred delivery on a timer goroutine.
func (s *Subscription) resume(ctx context.Context, next Handler, data any, env *Envelope) {
	if !s.active.Load() {
		return
	}
	if err := RecoveryMiddleware()(next)(ctx, data, env); err != nil {
		s.fail(err, data, env)
	}
}

func (s *Subscription) fail(err error, data any, env *Envelope) {
	s.failed.Store(true)
	s.mu.Lock()
	catch := s.catch
	s.mu.Unlock()
	if catch != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.emitter.logger.Warn().
						Str("subscription_id", s.id).
						Str("pattern", s.pattern).
						Msg("xemit: error handler panic (recovered)")
				}
			}()
			catch(err, data)
		}()
	}
	s.emitter.recordFailure(s, env, err)
}

// deferred is one scheduled continuation. The queue is ordered by due time,
// then by scheduling order.
type deferred struct {
	due   time.Time
	timer *clock.Timer
	fn    func()
	ready bool
}

// schedule runs fn after d on the emitter's scheduler and tracks the timer
// so Unsubscribe can stop it. Returns nil when the subscription is inactive.
//
// Continuations of one subscription run one at a time in due order, never
// concurrently, even though timers fire on their own goroutines.
func (s *Subscription) schedule(d time.Duration, fn func()) *clock.Timer {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if !s.active.Load() {
		return nil
	}
	task := &deferred{due: s.emitter.scheduler.Now().Add(d), fn: fn}
	task.timer = s.emitter.scheduler.AfterFunc(d, func() { s.fire(task) })

	i := sort.Search(len(s.tasks), func(i int) bool { return s.tasks[i].due.After(task.due) })
	s.tasks = slices.Insert(s.tasks, i, task)
	return task.timer
}

func (s *Subscription) fire(task *deferred) {
	s.timersMu.Lock()
	task.ready = true
	s.timersMu.Unlock()
	s.drain()
}

// drain runs ready continuations from the head of the queue. Only one
// goroutine drains at a time; a continuation whose timer has not fired yet
// holds back everything due after it.
func (s *Subscription) drain() {
	s.timersMu.Lock()
	if s.draining {
		s.timersMu.Unlock()
		return
	}
	s.draining = true
	for len(s.tasks) > 0 && s.tasks[0].ready {
		next := s.tasks[0]
		s.tasks = slices.Delete(s.tasks, 0, 1)
		s.timersMu.Unlock()
		next.fn()
		s.timersMu.Lock()
	}
	s.draining = false
	s.timersMu.Unlock()
}

func (s *Subscription) cancel(t *clock.Timer) {
	if t == nil {
		return
	}
	s.timersMu.Lock()
	t.Stop()
	i := slices.IndexFunc(s.tasks, func(d *deferred) bool { return d.timer == t })
	if i >= 0 {
		s.tasks = slices.Delete(s.tasks, i, i+1)
	}
	// Removing the head may unblock continuations that already fired.
	kick := i == 0 && len(s.tasks) > 0 && s.tasks[0].ready && !s.draining
	s.timersMu.Unlock()
	if kick {
		// Callers may hold step locks the continuations need.
		go s.drain()
	}
}

func (s *Subscription) stopTimers() {
	s.timersMu.Lock()
	for _, d := range s.tasks {
		d.timer.Stop()
	}
	s.tasks = nil
	s.timersMu.Unlock()
}

// pendingTimers returns the number of scheduled continuations.
func (s *Subscription) pendingTimers() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.tasks)
}
