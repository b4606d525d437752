// Package otelmetrics records sagastore metrics with OpenTelemetry instruments.
package otelmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/velmie/sagastore"
)

const meterName = "github.com/velmie/sagastore"

// Metrics implements sagastore.Metrics.
type Metrics struct {
	unitOfWork metric.Float64Histogram
	dispatched metric.Int64Counter
	duplicates metric.Int64Counter
	conflicts  metric.Int64Counter
	failures   metric.Int64Counter
}

var _ sagastore.Metrics = (*Metrics)(nil)

// New creates the instruments on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(meterName)

	var (
		m   Metrics
		err error
	)

	m.unitOfWork, err = meter.Float64Histogram(
		"sagastore.unit_of_work.duration",
		metric.WithDescription("Time taken to process one incoming message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sagastore.unit_of_work.duration histogram: %w", err)
	}

	m.dispatched, err = meter.Int64Counter(
		"sagastore.outbox.dispatched",
		metric.WithDescription("Number of outbox operations handed to the dispatcher"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sagastore.outbox.dispatched counter: %w", err)
	}

	m.duplicates, err = meter.Int64Counter(
		"sagastore.outbox.duplicates",
		metric.WithDescription("Number of redelivered messages whose outbox record already existed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sagastore.outbox.duplicates counter: %w", err)
	}

	m.conflicts, err = meter.Int64Counter(
		"sagastore.saga.conflicts",
		metric.WithDescription("Number of saga updates rejected by the version check"),
		metric.WithUnit("{conflict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sagastore.saga.conflicts counter: %w", err)
	}

	m.failures, err = meter.Int64Counter(
		"sagastore.unit_of_work.failures",
		metric.WithDescription("Number of units of work that returned an error"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sagastore.unit_of_work.failures counter: %w", err)
	}

	return &m, nil
}

// ObserveUnitOfWork implements sagastore.Metrics.
func (m *Metrics) ObserveUnitOfWork(d time.Duration) {
	m.unitOfWork.Record(context.Background(), d.Seconds())
}

// AddDispatched implements sagastore.Metrics.
func (m *Metrics) AddDispatched(n int) {
	m.dispatched.Add(context.Background(), int64(n))
}

// AddDuplicates implements sagastore.Metrics.
func (m *Metrics) AddDuplicates(n int) {
	m.duplicates.Add(context.Background(), int64(n))
}

// AddConflicts implements sagastore.Metrics.
func (m *Metrics) AddConflicts(n int) {
	m.conflicts.Add(context.Background(), int64(n))
}

// AddFailures implements sagastore.Metrics.
func (m *Metrics) AddFailures(n int) {
	m.failures.Add(context.Background(), int64(n))
}
