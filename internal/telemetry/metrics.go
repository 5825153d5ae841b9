// Package telemetry provides OpenTelemetry instrumentation for the
// snapshot server.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the name used for the snapshot engine meter
const MeterName = "panopticon/engine"

// Metrics holds the OpenTelemetry instruments for the snapshot engine
type Metrics struct {
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	fetchDuration metric.Float64Histogram
	toolCalls     metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	cacheHits, err := meter.Int64Counter(
		"panopticon_cache_hits_total",
		metric.WithDescription("Number of snapshot cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"panopticon_cache_misses_total",
		metric.WithDescription("Number of snapshot cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDuration, err := meter.Float64Histogram(
		"panopticon_fetch_duration_seconds",
		metric.WithDescription("Duration of repository fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	toolCalls, err := meter.Int64Counter(
		"panopticon_tool_calls_total",
		metric.WithDescription("Number of tool invocations by tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cacheHits:     cacheHits,
		cacheMisses:   cacheMisses,
		fetchDuration: fetchDuration,
		toolCalls:     toolCalls,
	}, nil
}

// RecordCacheHit records a snapshot cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	if m == nil || m.cacheHits == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

// RecordCacheMiss records a snapshot cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m == nil || m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1)
}

// RecordFetch records the duration and outcome of one repository fetch
func (m *Metrics) RecordFetch(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.fetchDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordToolCall records one tool invocation with its outcome kind
// (empty outcome means success)
func (m *Metrics) RecordToolCall(ctx context.Context, tool, outcome string) {
	if m == nil || m.toolCalls == nil {
		return
	}

	if outcome == "" {
		outcome = "ok"
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}
