package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3/health"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a notification is dropped because the
// send budget is exhausted.
var ErrRateLimited = errors.New("notify: rate limit exceeded")

// Metrics provides OpenTelemetry metrics for notification delivery.
//
// All methods are nil-safe; calling methods on a nil *Metrics is a no-op.
//
// Available metrics:
//   - notify_sent_total: Counter of delivered notifications
//   - notify_dropped_total: Counter of rate-limited notifications
//   - notify_errors_total: Counter of downstream delivery failures
type Metrics struct {
	sentCounter    metric.Int64Counter
	droppedCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
}

// metricsOptions holds configuration for Metrics.
type metricsOptions struct {
	meterProvider metric.MeterProvider
	namespace     string
}

// MetricsOption is a functional option for configuring Metrics.
type MetricsOption func(*metricsOptions)

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// If not set, the global meter provider is used.
func WithMeterProvider(provider metric.MeterProvider) MetricsOption {
	return func(o *metricsOptions) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}

// WithMetricsNamespace sets a prefix for metric names.
//
// Example: WithMetricsNamespace("guildforge") produces
// "guildforge_notify_sent_total".
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(o *metricsOptions) {
		o.namespace = namespace
	}
}

// NewMetrics creates a Metrics instance with OpenTelemetry instruments.
func NewMetrics(opts ...MetricsOption) (*Metrics, error) {
	o := &metricsOptions{
		meterProvider: otel.GetMeterProvider(),
		namespace:     "",
	}
	for _, opt := range opts {
		opt(o)
	}

	prefix := ""
	if o.namespace != "" {
		prefix = o.namespace + "_"
	}
	meter := o.meterProvider.Meter("github.com/guildforge/guildforge/notify")

	m := &Metrics{}
	var err error

	m.sentCounter, err = meter.Int64Counter(
		prefix+"notify_sent_total",
		metric.WithDescription("Total number of delivered notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sent counter: %w", err)
	}

	m.droppedCounter, err = meter.Int64Counter(
		prefix+"notify_dropped_total",
		metric.WithDescription("Total number of rate-limited notifications"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}

	m.errorCounter, err = meter.Int64Counter(
		prefix+"notify_errors_total",
		metric.WithDescription("Total number of downstream delivery failures"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create error counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordSent(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.sentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordDropped(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) recordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// LimitedNotifier wraps a Notifier with a token-bucket send budget.
// Notifications over budget are dropped with ErrRateLimited rather than
// queued; the saga step that sends them is optional, so a drop never
// fails a completion.
type LimitedNotifier struct {
	next    Notifier
	limiter *rate.Limiter
	metrics *Metrics
}

// NewLimitedNotifier wraps next with a token bucket refilled at perSecond
// with the given burst capacity. Metrics may be nil.
func NewLimitedNotifier(next Notifier, perSecond rate.Limit, burst int, metrics *Metrics) *LimitedNotifier {
	return &LimitedNotifier{
		next:    next,
		limiter: rate.NewLimiter(perSecond, burst),
		metrics: metrics,
	}
}

// Notify delivers the notification if the budget allows it.
func (l *LimitedNotifier) Notify(ctx context.Context, actorID string, n Notification) error {
	if !l.limiter.Allow() {
		l.metrics.recordDropped(ctx, n.Kind)
		return ErrRateLimited
	}

	if err := l.next.Notify(ctx, actorID, n); err != nil {
		l.metrics.recordError(ctx, n.Kind)
		return err
	}

	l.metrics.recordSent(ctx, n.Kind)
	return nil
}

// Health reports the wrapper's budget state.
//
// Returns health.StatusDegraded when less than 10% of the burst capacity
// remains, health.StatusHealthy otherwise. When the wrapped notifier is
// itself a health.Checker and reports unhealthy, that result is passed
// through.
func (l *LimitedNotifier) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if checker, ok := l.next.(health.Checker); ok {
		if res := checker.Health(ctx); res != nil && res.Status == health.StatusUnhealthy {
			return res
		}
	}

	tokens := l.limiter.Tokens()
	burst := l.limiter.Burst()

	status := health.StatusHealthy
	message := ""

	threshold := float64(burst) / 10
	if threshold < 1 {
		threshold = 1
	}
	if tokens < threshold {
		status = health.StatusDegraded
		message = fmt.Sprintf("low send budget: %.1f/%d tokens remaining", tokens, burst)
	}

	return &health.Result{
		Status:    status,
		Message:   message,
		Latency:   time.Since(start),
		CheckedAt: start,
		Details: map[string]any{
			"tokens": tokens,
			"burst":  burst,
			"limit":  float64(l.limiter.Limit()),
		},
	}
}

// Compile-time checks
var (
	_ Notifier       = (*LimitedNotifier)(nil)
	_ health.Checker = (*LimitedNotifier)(nil)
)
