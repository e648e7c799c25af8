package saga

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Run outcome values reported to metrics.
const (
	OutcomeSuccess     = "success"
	OutcomeCompensated = "compensated"
)

// Step result values reported to metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// MetricsRecorder records saga execution metrics using OpenTelemetry.
//
// Metrics recorded:
//   - saga_runs_total: Counter of saga runs by outcome
//   - saga_step_executions_total: Counter of step attempts by step name and result
//   - saga_compensations_total: Counter of compensation calls by step name and result
//   - saga_manual_interventions_total: Counter of compensation failures needing reconciliation
//   - saga_run_duration_seconds: Histogram of run duration
//   - saga_step_duration_seconds: Histogram of step attempt duration
//   - saga_active_runs: Gauge of currently executing runs
//
// All methods are nil-safe; a nil *MetricsRecorder is a no-op.
//
// Example:
//
//	recorder := saga.NewMetricsRecorder("guildforge")
//	orch, err := saga.New("mission-completion", steps,
//	    saga.WithMetrics(recorder),
//	)
type MetricsRecorder struct {
	meterName string
	meter     metric.Meter

	runs                metric.Int64Counter
	stepExecutions      metric.Int64Counter
	compensations       metric.Int64Counter
	manualInterventions metric.Int64Counter

	runDuration  metric.Float64Histogram
	stepDuration metric.Float64Histogram

	activeRuns  int64
	activeGauge metric.Int64ObservableGauge

	initOnce sync.Once
	initErr  error
}

// NewMetricsRecorder creates a metrics recorder. The meterName should be
// unique to your application (e.g. "guildforge").
func NewMetricsRecorder(meterName string) *MetricsRecorder {
	return &MetricsRecorder{
		meterName: meterName,
	}
}

// init lazily creates the instruments so the recorder can be constructed
// before the OTel SDK is configured.
func (m *MetricsRecorder) init() error {
	m.initOnce.Do(func() {
		m.meter = otel.Meter(m.meterName)

		m.runs, m.initErr = m.meter.Int64Counter(
			"saga_runs_total",
			metric.WithDescription("Total number of saga runs"),
			metric.WithUnit("{run}"),
		)
		if m.initErr != nil {
			return
		}

		m.stepExecutions, m.initErr = m.meter.Int64Counter(
			"saga_step_executions_total",
			metric.WithDescription("Total number of step attempts"),
			metric.WithUnit("{execution}"),
		)
		if m.initErr != nil {
			return
		}

		m.compensations, m.initErr = m.meter.Int64Counter(
			"saga_compensations_total",
			metric.WithDescription("Total number of compensation calls"),
			metric.WithUnit("{execution}"),
		)
		if m.initErr != nil {
			return
		}

		m.manualInterventions, m.initErr = m.meter.Int64Counter(
			"saga_manual_interventions_total",
			metric.WithDescription("Total number of failed compensations requiring manual reconciliation"),
			metric.WithUnit("{failure}"),
		)
		if m.initErr != nil {
			return
		}

		m.runDuration, m.initErr = m.meter.Float64Histogram(
			"saga_run_duration_seconds",
			metric.WithDescription("Duration of saga runs in seconds"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
		)
		if m.initErr != nil {
			return
		}

		m.stepDuration, m.initErr = m.meter.Float64Histogram(
			"saga_step_duration_seconds",
			metric.WithDescription("Duration of individual step attempts in seconds"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
		)
		if m.initErr != nil {
			return
		}

		m.activeGauge, m.initErr = m.meter.Int64ObservableGauge(
			"saga_active_runs",
			metric.WithDescription("Number of currently executing saga runs"),
			metric.WithUnit("{run}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(atomic.LoadInt64(&m.activeRuns))
				return nil
			}),
		)
	})

	return m.initErr
}

// RecordRunStart records the start of a saga run.
func (m *MetricsRecorder) RecordRunStart(ctx context.Context, sagaName string) {
	if m == nil {
		return
	}
	if err := m.init(); err != nil {
		return
	}
	atomic.AddInt64(&m.activeRuns, 1)
}

// RecordRunEnd records the end of a saga run with its outcome.
func (m *MetricsRecorder) RecordRunEnd(ctx context.Context, sagaName, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if err := m.init(); err != nil {
		return
	}

	atomic.AddInt64(&m.activeRuns, -1)

	attrs := metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("outcome", outcome),
	)

	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStep records one step attempt. The result is one of ResultSuccess,
// ResultFailure or ResultSkipped.
func (m *MetricsRecorder) RecordStep(ctx context.Context, sagaName, stepName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if err := m.init(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("step_name", stepName),
		attribute.String("result", result),
	)

	m.stepExecutions.Add(ctx, 1, attrs)
	if result != ResultSkipped {
		m.stepDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// RecordCompensation records one compensation call.
func (m *MetricsRecorder) RecordCompensation(ctx context.Context, sagaName, stepName, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if err := m.init(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("step_name", stepName),
		attribute.String("result", result),
	)

	m.compensations.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordManualIntervention counts a compensation failure that needs
// manual reconciliation.
func (m *MetricsRecorder) RecordManualIntervention(ctx context.Context, sagaName, stepName string) {
	if m == nil {
		return
	}
	if err := m.init(); err != nil {
		return
	}

	m.manualInterventions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga_name", sagaName),
		attribute.String("step_name", stepName),
	))
}
