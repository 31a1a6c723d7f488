package xemit

import "time"

// Metrics defines observable telemetry for the emitter.
type Metrics struct {
	Emitted           uint64
	Delivered         uint64
	Failed            uint64
	CacheHits         uint64
	CacheMisses       uint64
	Subscriptions     int64
	EventsDropped     uint64
	AvgDispatchTimeMs float64
}

// HealthStatus indicates emitter health for readiness probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
