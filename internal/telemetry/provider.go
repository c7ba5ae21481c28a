package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/stationboard/stationboard/internal/telemetry"

// ProviderMetrics instruments the schedule fetcher: upstream calls and the
// response cache lookup that precedes each of them. Nil records nothing.
type ProviderMetrics struct {
	fetchDuration metric.Float64Histogram
	fetches       metric.Int64Counter
	lookups       metric.Int64Counter
}

// NewProviderMetrics registers the instruments on meter, or on the global
// meter provider when meter is nil.
func NewProviderMetrics(meter metric.Meter) (*ProviderMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	var (
		m   ProviderMetrics
		err error
	)
	if m.fetchDuration, err = meter.Float64Histogram("schedule.fetch.duration",
		metric.WithDescription("Upstream schedule request latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.fetches, err = meter.Int64Counter("schedule.fetch.total",
		metric.WithDescription("Upstream schedule requests by outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.lookups, err = meter.Int64Counter("schedule.cache.lookups",
		metric.WithDescription("Response cache lookups made before a fetch"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordFetch records one upstream call. Failed calls carry outcome=error.
func (m *ProviderMetrics) RecordFetch(provider string, took time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opt := metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.String("outcome", outcome),
	)

	// Recorded on a detached context so a cancelled fetch still counts.
	ctx := context.Background()
	m.fetchDuration.Record(ctx, took.Seconds(), opt)
	m.fetches.Add(ctx, 1, opt)
}

// RecordCacheLookup counts a response cache lookup and whether it hit.
func (m *ProviderMetrics) RecordCacheLookup(provider string, hit bool) {
	if m == nil {
		return
	}
	m.lookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider.name", provider),
		attribute.Bool("hit", hit),
	))
}
