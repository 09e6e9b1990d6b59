package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName = "github.com/wolfeidau/hakbot"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Authentication metrics
	AuthAttemptsTotal metric.Int64Counter
	AuthFailuresTotal metric.Int64Counter
	AuthDeniedTotal   metric.Int64Counter

	// Access key lifecycle metrics
	KeysGeneratedTotal   metric.Int64Counter
	KeysRegeneratedTotal metric.Int64Counter
	KeysRevokedTotal     metric.Int64Counter
	KeyCollisionsTotal   metric.Int64Counter

	// Scheduler metrics
	SyncPublishedTotal metric.Int64Counter
	SyncSkippedTotal   metric.Int64Counter

	// Event bus metrics
	EventsDeliveredTotal metric.Int64Counter
	EventsDroppedTotal   metric.Int64Counter
	HandlerDuration      metric.Float64Histogram

	// Directory sync metrics
	IdentitiesSyncedTotal metric.Int64Counter
	SyncErrorsTotal       metric.Int64Counter
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

// initMetrics creates and registers all metric instruments. The global meter provider
// is a no-op until InitTelemetry runs, so instruments are always safe to use.
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.AuthAttemptsTotal, _ = meter.Int64Counter(
		"hakbot.auth.attempts.total",
		metric.WithDescription("Total number of authentication attempts by strategy"),
		metric.WithUnit("{attempt}"),
	)

	m.AuthFailuresTotal, _ = meter.Int64Counter(
		"hakbot.auth.failures.total",
		metric.WithDescription("Total number of requests rejected as unauthenticated"),
		metric.WithUnit("{request}"),
	)

	m.AuthDeniedTotal, _ = meter.Int64Counter(
		"hakbot.auth.denied.total",
		metric.WithDescription("Total number of privileged operations denied"),
		metric.WithUnit("{request}"),
	)

	m.KeysGeneratedTotal, _ = meter.Int64Counter(
		"hakbot.keys.generated.total",
		metric.WithDescription("Total number of access keys generated"),
		metric.WithUnit("{key}"),
	)

	m.KeysRegeneratedTotal, _ = meter.Int64Counter(
		"hakbot.keys.regenerated.total",
		metric.WithDescription("Total number of access keys regenerated"),
		metric.WithUnit("{key}"),
	)

	m.KeysRevokedTotal, _ = meter.Int64Counter(
		"hakbot.keys.revoked.total",
		metric.WithDescription("Total number of access keys revoked"),
		metric.WithUnit("{key}"),
	)

	m.KeyCollisionsTotal, _ = meter.Int64Counter(
		"hakbot.keys.collisions.total",
		metric.WithDescription("Total number of generated key values that collided and were retried"),
		metric.WithUnit("{key}"),
	)

	m.SyncPublishedTotal, _ = meter.Int64Counter(
		"hakbot.scheduler.sync.published.total",
		metric.WithDescription("Total number of sync events published"),
		metric.WithUnit("{event}"),
	)

	m.SyncSkippedTotal, _ = meter.Int64Counter(
		"hakbot.scheduler.sync.skipped.total",
		metric.WithDescription("Total number of firings skipped because the previous one was still running"),
		metric.WithUnit("{firing}"),
	)

	m.EventsDeliveredTotal, _ = meter.Int64Counter(
		"hakbot.events.delivered.total",
		metric.WithDescription("Total number of events delivered to subscribers"),
		metric.WithUnit("{event}"),
	)

	m.EventsDroppedTotal, _ = meter.Int64Counter(
		"hakbot.events.dropped.total",
		metric.WithDescription("Total number of events dropped due to full subscriber queues"),
		metric.WithUnit("{event}"),
	)

	m.HandlerDuration, _ = meter.Float64Histogram(
		"hakbot.events.handler.duration",
		metric.WithDescription("Duration of event handler execution"),
		metric.WithUnit("ms"),
	)

	m.IdentitiesSyncedTotal, _ = meter.Int64Counter(
		"hakbot.directory.identities.synced.total",
		metric.WithDescription("Total number of directory identities upserted by sync"),
		metric.WithUnit("{identity}"),
	)

	m.SyncErrorsTotal, _ = meter.Int64Counter(
		"hakbot.directory.sync.errors.total",
		metric.WithDescription("Total number of directory sync failures"),
		metric.WithUnit("{error}"),
	)

	return m
}

// Tracer returns the tracer used for spans around store mutations.
func Tracer() trace.Tracer {
	return otel.Tracer(meterName)
}
