package xemit

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xemit (prevents collisions).
type ctxKey string

const (
	loggerCtxKey       ctxKey = "xemit:logger"
	clockCtxKey        ctxKey = "xemit:clock"
	subscriptionCtxKey ctxKey = "xemit:subscription"
	receiverCtxKey     ctxKey = "xemit:receiver"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the emitter's logger inside a Handler.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext returns the emitter's clock inside a Handler.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// injectSubscription attaches the delivering subscription and its receiver.
func injectSubscription(ctx context.Context, s *Subscription) context.Context {
	ctx = context.WithValue(ctx, subscriptionCtxKey, s)
	if r := s.Receiver(); r != nil {
		ctx = context.WithValue(ctx, receiverCtxKey, r)
	}
	return ctx
}

// SubscriptionFromContext returns the subscription being delivered to.
func SubscriptionFromContext(ctx context.Context) (*Subscription, bool) {
	if v := ctx.Value(subscriptionCtxKey); v != nil {
		if s, ok := v.(*Subscription); ok && s != nil {
			return s, true
		}
	}
	return nil, false
}

// ReceiverFromContext returns the value bound with Subscription.WithReceiver.
func ReceiverFromContext(ctx context.Context) (any, bool) {
	v := ctx.Value(receiverCtxKey)
	return v, v != nil
}
