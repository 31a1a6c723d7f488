package xemit

import "reflect"

type offKind uint8

const (
	offAll offKind = iota
	offPattern
	offSubscription
	offReceiver
	offPatternReceiver
)

// OffRequest selects the subscriptions removed by Emitter.Off.
// Build one with All, ByPattern, BySubscription, ByReceiver or ByPatternAndReceiver.
type OffRequest struct {
	kind     offKind
	pattern  string
	sub      *Subscription
	receiver any
}

// All selects every subscription and also clears the registry and match cache.
func All() OffRequest { return OffRequest{kind: offAll} }

// ByPattern selects the subscriptions registered under exactly pattern.
// Wildcards are not expanded: ByPattern("a.*") does not remove "a.b".
func ByPattern(pattern string) OffRequest {
	return OffRequest{kind: offPattern, pattern: pattern}
}

// BySubscription selects a single subscription.
func BySubscription(s *Subscription) OffRequest {
	return OffRequest{kind: offSubscription, sub: s}
}

// ByReceiver selects every subscription bound to v with WithReceiver.
func ByReceiver(v any) OffRequest {
	return OffRequest{kind: offReceiver, receiver: v}
}

// ByPatternAndReceiver selects subscriptions under pattern that are bound to v.
func ByPatternAndReceiver(pattern string, v any) OffRequest {
	return OffRequest{kind: offPatternReceiver, pattern: pattern, receiver: v}
}

func (r OffRequest) String() string {
	switch r.kind {
	case offAll:
		return "all"
	case offPattern:
		return "pattern(" + r.pattern + ")"
	case offSubscription:
		if r.sub == nil {
			return "subscription(<nil>)"
		}
		return "subscription(" + r.sub.ID() + ")"
	case offReceiver:
		return "receiver"
	case offPatternReceiver:
		return "pattern(" + r.pattern + ")+receiver"
	default:
		return "unknown"
	}
}

// selects reports whether s is removed by r. offAll and offSubscription are
// handled by the emitter directly.
func (r OffRequest) selects(s *Subscription) bool {
	switch r.kind {
	case offPattern:
		return s.pattern == r.pattern
	case offReceiver:
		return identical(s.Receiver(), r.receiver)
	case offPatternReceiver:
		return s.pattern == r.pattern && identical(s.Receiver(), r.receiver)
	default:
		return false
	}
}

// identical compares by identity. Values of different dynamic types or of
// uncomparable types never match, and a nil receiver never matches anything.
func identical(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.ValueOf(a).Comparable() {
		return false
	}
	return a == b
}
