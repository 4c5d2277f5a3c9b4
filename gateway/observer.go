package gateway

import "time"

// Observer receives gateway traffic events. The Prometheus collector
// in internal/metrics implements it; tests plug in counters.
type Observer interface {
	// ObserveGenerate records one completed gateway call. status is
	// "ok", "cached", or the terminal error code.
	ObserveGenerate(tenantID, providerType, status string, elapsed time.Duration)

	// ObserveAttempt records one provider attempt inside the failover
	// loop. code is empty on success.
	ObserveAttempt(tenantID, providerType string, code ErrorCode, elapsed time.Duration)

	// ObserveCache records a cache lookup outcome.
	ObserveCache(tenantID string, hit bool)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) ObserveGenerate(string, string, string, time.Duration)   {}
func (NopObserver) ObserveAttempt(string, string, ErrorCode, time.Duration) {}
func (NopObserver) ObserveCache(string, bool)                               {}
