// Package observe provides application-wide observability primitives for
// voxtable: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus handler returned by [InitProvider]. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxtable metrics.
const meterName = "github.com/MrWong99/voxtable"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CapabilityDuration tracks one remote AI capability call end to end
	// (vision, suggest, voice). Use with attribute:
	//   attribute.String("capability", ...)
	CapabilityDuration metric.Float64Histogram

	// StoreDuration tracks table persistence latency. Use with attributes:
	//   attribute.String("driver", ...), attribute.String("op", ...)
	StoreDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// GuidedSteps counts guided steps that were left, by outcome. Use with attribute:
	//   attribute.String("outcome", "written"|"skipped")
	GuidedSteps metric.Int64Counter

	// VoiceCommands counts interpreted voice commands. Use with attribute:
	//   attribute.String("action", ...)
	VoiceCommands metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// SaveErrors counts background table saves that failed.
	SaveErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live guided sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// calls with image input routinely take several seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CapabilityDuration, err = m.Float64Histogram("voxtable.capability.duration",
		metric.WithDescription("Latency of remote AI capability calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("voxtable.store.duration",
		metric.WithDescription("Latency of table store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxtable.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.GuidedSteps, err = m.Int64Counter("voxtable.guided.steps",
		metric.WithDescription("Guided steps completed, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCommands, err = m.Int64Counter("voxtable.voice.commands",
		metric.WithDescription("Interpreted voice commands by action."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxtable.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.SaveErrors, err = m.Int64Counter("voxtable.store.save_errors",
		metric.WithDescription("Background table saves that failed."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxtable.active_sessions",
		metric.WithDescription("Number of live guided sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxtable.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCapability records the duration of one capability call.
func (m *Metrics) RecordCapability(ctx context.Context, capability string, seconds float64) {
	m.CapabilityDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("capability", capability)),
	)
}

// RecordGuidedStep records that a guided step was left with the given
// outcome ("written" or "skipped").
func (m *Metrics) RecordGuidedStep(ctx context.Context, outcome string) {
	m.GuidedSteps.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordVoiceCommand records one interpreted voice command.
func (m *Metrics) RecordVoiceCommand(ctx context.Context, action string) {
	m.VoiceCommands.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordStoreOp records the latency of one store operation.
func (m *Metrics) RecordStoreOp(ctx context.Context, driver, op string, seconds float64) {
	m.StoreDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("driver", driver),
			attribute.String("op", op),
		),
	)
}
