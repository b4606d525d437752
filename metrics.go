package sagastore

import "time"

// Metrics captures unit-of-work telemetry.
type Metrics interface {
	// ObserveUnitOfWork records the duration of one Process call.
	ObserveUnitOfWork(duration time.Duration)
	// AddDispatched increments the count of dispatched outgoing operations.
	AddDispatched(count int)
	// AddDuplicates increments the count of redelivered messages.
	AddDuplicates(count int)
	// AddConflicts increments the count of saga concurrency conflicts.
	AddConflicts(count int)
	// AddFailures increments the count of failed units of work.
	AddFailures(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveUnitOfWork implements Metrics.
func (NopMetrics) ObserveUnitOfWork(time.Duration) {}

// AddDispatched implements Metrics.
func (NopMetrics) AddDispatched(int) {}

// AddDuplicates implements Metrics.
func (NopMetrics) AddDuplicates(int) {}

// AddConflicts implements Metrics.
func (NopMetrics) AddConflicts(int) {}

// AddFailures implements Metrics.
func (NopMetrics) AddFailures(int) {}
