package xemit

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xemit/resolver"
)

// EmitterBuilder constructs Emitter instances (Builder pattern).
type EmitterBuilder struct {
	cfg         Config
	logger      *xlog.Logger
	clock       xclock.Clock
	scheduler   clock.Clock
	resolver    Resolver
	envelope    EnvelopeBuilder
	middlewares []Middleware
	observers   []Observer

	poolWorkers int
	poolBuffer  int
	usePool     bool
}

// NewEmitterBuilder returns a builder with Defaults().
func NewEmitterBuilder() *EmitterBuilder {
	return &EmitterBuilder{cfg: Defaults()}
}

func (eb *EmitterBuilder) WithConfig(cfg Config) *EmitterBuilder {
	eb.cfg = cfg
	return eb
}

func (eb *EmitterBuilder) WithLogger(l *xlog.Logger) *EmitterBuilder {
	eb.logger = l
	return eb
}

// WithClock sets the clock used for envelope timestamps and dispatch timings.
func (eb *EmitterBuilder) WithClock(c xclock.Clock) *EmitterBuilder {
	eb.clock = c
	return eb
}

// WithScheduler sets the timer source for Delay, Debounce and Throttle.
// Tests pass clock.NewMock().
func (eb *EmitterBuilder) WithScheduler(c clock.Clock) *EmitterBuilder {
	eb.scheduler = c
	return eb
}

// WithResolver replaces the shared resolver.Default() with a private matcher.
func (eb *EmitterBuilder) WithResolver(r Resolver) *EmitterBuilder {
	eb.resolver = r
	return eb
}

func (eb *EmitterBuilder) WithEnvelopeBuilder(fn EnvelopeBuilder) *EmitterBuilder {
	eb.envelope = fn
	return eb
}

// WithMiddleware adds steps that run before every subscription's own steps.
func (eb *EmitterBuilder) WithMiddleware(mw ...Middleware) *EmitterBuilder {
	for _, m := range mw {
		if m != nil {
			eb.middlewares = append(eb.middlewares, m)
		}
	}
	return eb
}

func (eb *EmitterBuilder) WithObserver(obs ...Observer) *EmitterBuilder {
	for _, o := range obs {
		if o != nil {
			eb.observers = append(eb.observers, o)
		}
	}
	return eb
}

// WithObserverPool dispatches observer events on worker goroutines.
// Non-positive values fall back to 4 workers and a 1000-event buffer.
func (eb *EmitterBuilder) WithObserverPool(workers, bufferSize int) *EmitterBuilder {
	eb.usePool = true
	eb.poolWorkers = workers
	eb.poolBuffer = bufferSize
	return eb
}

func (eb *EmitterBuilder) Build() (*Emitter, error) {
	if err := eb.cfg.Validate(); err != nil {
		return nil, err
	}

	clk := eb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	sched := eb.scheduler
	if sched == nil {
		sched = clock.New()
	}
	lg := eb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	var res Resolver = resolver.Default()
	if eb.resolver != nil {
		res = eb.resolver
	}
	env := eb.envelope
	if env == nil {
		env = DefaultEnvelope
	}

	baseCtx := context.Background()
	baseCtx = injectLogger(baseCtx, lg)
	baseCtx = injectClock(baseCtx, clk)

	e := &Emitter{
		cfg:         eb.cfg,
		clock:       clk,
		scheduler:   sched,
		logger:      lg,
		resolver:    res,
		envelope:    env,
		middlewares: eb.middlewares,
		baseCtx:     baseCtx,
		subs:        make(map[string][]*Subscription),
		cache:       make(map[string][]*Subscription),
		metrics:     &emitterMetrics{},
	}
	if eb.usePool {
		e.observerPool = NewObserverPool(context.Background(), eb.poolWorkers, eb.poolBuffer)
	}

	hasLoggingObserver := false
	for _, o := range eb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		e.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range eb.observers {
		e.AddObserver(o)
	}

	return e, nil
}

// New constructs an Emitter via Builder and returns a close func for convenience.
func New(init func(b *EmitterBuilder)) (*Emitter, func() error, error) {
	b := NewEmitterBuilder()
	if init != nil {
		init(b)
	}
	e, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return e.Close(context.Background()) }
	return e, closeFn, nil
}

// NewEmitter returns an Emitter with the default configuration.
func NewEmitter() *Emitter {
	e, err := NewEmitterBuilder().Build()
	if err != nil {
		panic(fmt.Sprintf("xemit: failed to build emitter: %v", err))
	}
	return e
}
