package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/lessongate"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	LoginsTotal               metric.Int64Counter
	ExpiryUpdateFailuresTotal metric.Int64Counter
	AccessChecksTotal         metric.Int64Counter

	// Attendance metrics
	AttendanceTotal    metric.Int64Counter
	PartialWritesTotal metric.Int64Counter

	// Directory metrics
	DirectoryCallDuration metric.Float64Histogram
	DirectoryErrorsTotal  metric.Int64Counter

	// Countdown metrics
	ActiveCountdowns metric.Int64UpDownCounter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	// Session metrics
	m.LoginsTotal, _ = meter.Int64Counter(
		"lessongate.logins.total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("{login}"),
	)

	m.ExpiryUpdateFailuresTotal, _ = meter.Int64Counter(
		"lessongate.logins.expiry_update_failures.total",
		metric.WithDescription("Total number of renewals whose remote expiry update failed"),
		metric.WithUnit("{error}"),
	)

	m.AccessChecksTotal, _ = meter.Int64Counter(
		"lessongate.access.checks.total",
		metric.WithDescription("Total number of protected content access checks by outcome"),
		metric.WithUnit("{check}"),
	)

	// Attendance metrics
	m.AttendanceTotal, _ = meter.Int64Counter(
		"lessongate.attendance.total",
		metric.WithDescription("Total number of attendance actions by outcome"),
		metric.WithUnit("{action}"),
	)

	m.PartialWritesTotal, _ = meter.Int64Counter(
		"lessongate.attendance.partial_writes.total",
		metric.WithDescription("Total number of attendance writes whose history append failed"),
		metric.WithUnit("{write}"),
	)

	// Directory metrics
	m.DirectoryCallDuration, _ = meter.Float64Histogram(
		"lessongate.directory.call.duration",
		metric.WithDescription("Duration of remote directory calls"),
		metric.WithUnit("ms"),
	)

	m.DirectoryErrorsTotal, _ = meter.Int64Counter(
		"lessongate.directory.errors.total",
		metric.WithDescription("Total number of failed remote directory calls"),
		metric.WithUnit("{error}"),
	)

	// Countdown metrics
	m.ActiveCountdowns, _ = meter.Int64UpDownCounter(
		"lessongate.countdowns.active",
		metric.WithDescription("Number of running countdowns"),
		metric.WithUnit("{countdown}"),
	)

	return m
}

// Outcome records one event on counter tagged with outcome.
func Outcome(ctx context.Context, counter metric.Int64Counter, outcome string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// ObserveDirectoryCall records the duration and, on failure, the error of a directory call.
func (m *Metrics) ObserveDirectoryCall(ctx context.Context, op string, started time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", op))
	m.DirectoryCallDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	if err != nil {
		m.DirectoryErrorsTotal.Add(ctx, 1, attrs)
	}
}
