package xemit

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xemit/resolver"
)

// Emitter routes emitted topics to subscriptions whose binding pattern matches.
// Delivery is synchronous in the caller of Emit, except for subscriptions
// that use Delay, Debounce or Throttle.
type Emitter struct {
	cfg         Config
	clock       xclock.Clock
	scheduler   clock.Clock
	logger      *xlog.Logger
	resolver    Resolver
	envelope    EnvelopeBuilder
	middlewares []Middleware
	baseCtx     context.Context

	mu       sync.Mutex
	subs     map[string][]*Subscription
	patterns []string
	cache    map[string][]*Subscription

	errMu  sync.Mutex
	errLog []DeliveryError

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	metrics   *emitterMetrics
	closed    atomic.Bool
	closeOnce sync.Once
}

// emitterMetrics uses lock-free atomics.
type emitterMetrics struct {
	emitted       atomic.Uint64
	delivered     atomic.Uint64
	failed        atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	subscriptions atomic.Int64
	dispatchNs    atomic.Int64
}

// On registers h under pattern and returns the new subscription for further
// configuration. Existing match-cache entries for topics the pattern matches
// are extended in place.
func (e *Emitter) On(pattern string, h Handler) *Subscription {
	if h == nil {
		panic(&ArgumentError{Op: "On", Arg: "handler", Reason: "must not be nil", Err: ErrNilHandler})
	}
	s := newSubscription(pattern, h, e)

	e.mu.Lock()
	list, ok := e.subs[pattern]
	if !ok {
		e.patterns = append(e.patterns, pattern)
	}
	e.subs[pattern] = append(list, s)
	for topic, cached := range e.cache {
		if e.resolver.Matches(pattern, topic) {
			e.cache[topic] = append(cached, s)
			s.cacheKeys = append(s.cacheKeys, topic)
		}
	}
	e.mu.Unlock()

	e.metrics.subscriptions.Add(1)
	e.notify(Event{Type: Subscribed, Pattern: pattern, SubscriptionID: s.id})
	return s
}

// Once registers h for a single delivery.
func (e *Emitter) Once(pattern string, h Handler) *Subscription {
	return e.On(pattern, h).Once()
}

// Off unsubscribes the subscriptions selected by req and returns how many
// were removed. Subscriptions owned by another emitter are ignored.
func (e *Emitter) Off(req OffRequest) int {
	var targets []*Subscription

	e.mu.Lock()
	switch req.kind {
	case offAll:
		for _, p := range e.patterns {
			for _, s := range e.subs[p] {
				s.cacheKeys = nil
				targets = append(targets, s)
			}
		}
		e.subs = make(map[string][]*Subscription)
		e.patterns = nil
		e.cache = make(map[string][]*Subscription)
	case offSubscription:
		if req.sub != nil && req.sub.emitter == e {
			targets = append(targets, req.sub)
		}
	case offPattern, offPatternReceiver:
		for _, s := range e.subs[req.pattern] {
			if req.selects(s) {
				targets = append(targets, s)
			}
		}
	default:
		for _, p := range e.patterns {
			for _, s := range e.subs[p] {
				if req.selects(s) {
					targets = append(targets, s)
				}
			}
		}
	}
	e.mu.Unlock()

	removed := 0
	for _, s := range targets {
		if s.dispose() {
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug().
			Str("request", req.String()).
			Float64("removed", float64(removed)).
			Msg("xemit: off")
	}
	return removed
}

// Emit delivers data to every active subscription whose pattern matches topic.
// Handler errors and panics are isolated per subscription and never reach the caller.
func (e *Emitter) Emit(topic string, data any) {
	start := e.clock.Now()
	env := e.GetEnvelope(topic, data)

	e.mu.Lock()
	list, hit := e.cache[topic]
	if !hit {
		list = e.match(topic)
		e.cache[topic] = list
	}
	targets := slices.Clone(list)
	e.mu.Unlock()

	e.metrics.emitted.Add(1)
	if hit {
		e.metrics.cacheHits.Add(1)
	} else {
		e.metrics.cacheMisses.Add(1)
	}
	e.notify(Event{Type: EmitStart, Topic: topic, Matched: len(targets)})

	for _, s := range targets {
		s.Invoke(data, env)
	}

	dur := e.clock.Since(start)
	e.recordDispatchTime(dur.Nanoseconds())
	e.notify(Event{Type: EmitDone, Topic: topic, Matched: len(targets), Duration: dur})
}

// match scans the registry in pattern registration order. Caller holds e.mu.
func (e *Emitter) match(topic string) []*Subscription {
	out := []*Subscription{}
	for _, p := range e.patterns {
		if !e.resolver.Matches(p, topic) {
			continue
		}
		for _, s := range e.subs[p] {
			if !s.IsActive() {
				continue
			}
			out = append(out, s)
			s.cacheKeys = append(s.cacheKeys, topic)
		}
	}
	return out
}

// GetEnvelope builds the envelope Emit hands to every subscriber.
func (e *Emitter) GetEnvelope(topic string, data any) *Envelope {
	if env := e.envelope(topic, data, e.clock.Now()); env != nil {
		return env
	}
	return DefaultEnvelope(topic, data, e.clock.Now())
}

// remove detaches s from the registry and from every match-cache entry that
// references it. Entries left empty are deleted so the next Emit recomputes them.
func (e *Emitter) remove(s *Subscription) {
	purge := false

	e.mu.Lock()
	if list, ok := e.subs[s.pattern]; ok {
		if i := slices.Index(list, s); i >= 0 {
			list = slices.Delete(list, i, i+1)
			if len(list) == 0 {
				delete(e.subs, s.pattern)
				if j := slices.Index(e.patterns, s.pattern); j >= 0 {
					e.patterns = slices.Delete(e.patterns, j, j+1)
				}
				purge = true
			} else {
				e.subs[s.pattern] = list
			}
		}
	}
	for _, topic := range s.cacheKeys {
		list, ok := e.cache[topic]
		if !ok {
			continue
		}
		i := slices.Index(list, s)
		if i < 0 {
			continue
		}
		list = slices.Delete(list, i, i+1)
		if len(list) == 0 {
			delete(e.cache, topic)
		} else {
			e.cache[topic] = list
		}
	}
	s.cacheKeys = nil
	e.mu.Unlock()

	if purge {
		e.resolver.Purge(resolver.ForPattern(s.pattern))
	}
	e.metrics.subscriptions.Add(-1)
	e.notify(Event{Type: Unsubscribed, Pattern: s.pattern, SubscriptionID: s.id})
}

func (e *Emitter) handlerContext(s *Subscription) context.Context {
	return injectSubscription(e.baseCtx, s)
}

func (e *Emitter) delivered(s *Subscription, env *Envelope) {
	e.metrics.delivered.Add(1)
	e.notify(Event{Type: Delivered, Topic: topicOf(env), Pattern: s.pattern, SubscriptionID: s.id})
}

func (e *Emitter) recordFailure(s *Subscription, env *Envelope, err error) {
	e.metrics.failed.Add(1)
	topic := topicOf(env)

	if e.cfg.TrackErrors {
		e.errMu.Lock()
		e.errLog = append(e.errLog, DeliveryError{
			SubscriptionID: s.id,
			Pattern:        s.pattern,
			Topic:          topic,
			Envelope:       env,
			Err:            err,
		})
		if over := len(e.errLog) - e.cfg.ErrorLogSize; over > 0 {
			e.errLog = slices.Delete(e.errLog, 0, over)
		}
		e.errMu.Unlock()
	}

	if e.cfg.Debug {
		e.logger.Warn().
			Err(err).
			Str("topic", topic).
			Str("pattern", s.pattern).
			Str("subscription_id", s.id).
			Msg("xemit: delivery failed")
	} else {
		e.logger.Debug().
			Err(err).
			Str("topic", topic).
			Str("pattern", s.pattern).
			Str("subscription_id", s.id).
			Msg("xemit: delivery failed")
	}

	e.notify(Event{Type: DeliveryFailed, Topic: topic, Pattern: s.pattern, SubscriptionID: s.id, Err: err})
}

func topicOf(env *Envelope) string {
	if env == nil {
		return ""
	}
	return env.Topic
}

// Errors returns a copy of the error log, oldest first. The log is only
// populated when Config.TrackErrors is set.
func (e *Emitter) Errors() []DeliveryError {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return slices.Clone(e.errLog)
}

// ClearErrors empties the error log.
func (e *Emitter) ClearErrors() {
	e.errMu.Lock()
	e.errLog = nil
	e.errMu.Unlock()
}

// Resolver returns the topic matcher used by this emitter.
func (e *Emitter) Resolver() Resolver { return e.resolver }

// GetMetrics returns current emitter metrics.
func (e *Emitter) GetMetrics() Metrics {
	m := Metrics{
		Emitted:           e.metrics.emitted.Load(),
		Delivered:         e.metrics.delivered.Load(),
		Failed:            e.metrics.failed.Load(),
		CacheHits:         e.metrics.cacheHits.Load(),
		CacheMisses:       e.metrics.cacheMisses.Load(),
		Subscriptions:     e.metrics.subscriptions.Load(),
		AvgDispatchTimeMs: float64(e.metrics.dispatchNs.Load()) / 1e6,
	}
	if e.observerPool != nil {
		m.EventsDropped = e.observerPool.Stats().Dropped
	}
	return m
}

// Health reports "unhealthy" once closed and "degraded" when more than 5% of
// deliveries failed.
func (e *Emitter) Health(ctx context.Context) HealthStatus {
	if e.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: e.clock.Now(),
			Message:   "emitter is closed",
		}
	}

	metrics := e.GetMetrics()
	status := "healthy"
	if attempts := metrics.Delivered + metrics.Failed; metrics.Failed > 0 && attempts > 0 {
		if float64(metrics.Failed)/float64(attempts) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: e.clock.Now(),
	}
}

// Close unsubscribes everything and drains the observer pool. The pool waits
// until ctx's deadline, or five seconds without one. Idempotent.
func (e *Emitter) Close(ctx context.Context) error {
	var closeErr error

	e.closeOnce.Do(func() {
		e.Off(All())
		e.closed.Store(true)

		if e.observerPool != nil {
			timeout := 5 * time.Second
			if deadline, ok := ctx.Deadline(); ok {
				timeout = time.Until(deadline)
			}
			if err := e.observerPool.Close(timeout); err != nil {
				e.logger.Warn().Err(err).Msg("xemit: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (e *Emitter) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, obs)
	e.observersMu.Unlock()
}

// RemoveObserver removes an observer. Observers of uncomparable types, such
// as ObserverFunc, cannot be removed.
func (e *Emitter) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	e.observersMu.Lock()
	defer e.observersMu.Unlock()

	for i, o := range e.observers {
		if identical(o, obs) {
			e.observers = slices.Delete(e.observers, i, i+1)
			break
		}
	}
}

// notify hands the event to the observer pool, or calls observers inline
// when no pool is configured.
func (e *Emitter) notify(ev Event) {
	if e.closed.Load() {
		return
	}

	e.observersMu.RLock()
	if len(e.observers) == 0 {
		e.observersMu.RUnlock()
		return
	}
	observers := slices.Clone(e.observers)
	e.observersMu.RUnlock()

	if e.observerPool != nil {
		e.observerPool.Notify(ev, observers)
		return
	}
	for _, obs := range observers {
		func() {
			defer func() { _ = recover() }()
			obs.OnEvent(ev)
		}()
	}
}

// recordDispatchTime keeps an exponential moving average of Emit duration.
func (e *Emitter) recordDispatchTime(ns int64) {
	const alpha = 0.2
	current := e.metrics.dispatchNs.Load()
	if current == 0 {
		e.metrics.dispatchNs.Store(ns)
		return
	}
	e.metrics.dispatchNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}
