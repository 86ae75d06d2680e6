package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics records the daemon's request and cache activity.
// The request server records the wire verbs "get" and "set"; token reloads
// are not recorded. Status is "success", "error", "denied", "miss" (get of
// an absent key) or "aborted" (set cut off by the client).
type DaemonMetrics interface {
	// RecordOperation counts one operation with its status.
	RecordOperation(ctx context.Context, operation, status string)

	// RecordDuration records an operation duration in seconds.
	RecordDuration(ctx context.Context, operation string, duration time.Duration, status string)

	// RecordCacheLookup counts a cache lookup as "hit" or "miss".
	RecordCacheLookup(ctx context.Context, result string)
}

// daemonMetrics implements DaemonMetrics using OpenTelemetry meters.
type daemonMetrics struct {
	operationCounter metric.Int64Counter
	durationHisto    metric.Float64Histogram
	cacheCounter     metric.Int64Counter
}

// NewDaemonMetrics creates the daemon metrics over the given meter provider.
// The namespace prefixes all metric names.
func NewDaemonMetrics(meterProvider metric.MeterProvider, namespace string) (DaemonMetrics, error) {
	meter := meterProvider.Meter(namespace)

	operationCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of daemon operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of daemon operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	cacheCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_cache_lookups_total", namespace),
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache counter: %w", err)
	}

	return &daemonMetrics{
		operationCounter: operationCounter,
		durationHisto:    durationHisto,
		cacheCounter:     cacheCounter,
	}, nil
}

// RecordOperation increments the operation counter.
func (d *daemonMetrics) RecordOperation(ctx context.Context, operation, status string) {
	d.operationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordDuration records the operation duration in seconds.
func (d *daemonMetrics) RecordDuration(
	ctx context.Context,
	operation string,
	duration time.Duration,
	status string,
) {
	d.durationHisto.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordCacheLookup counts a cache lookup result.
func (d *daemonMetrics) RecordCacheLookup(ctx context.Context, result string) {
	d.cacheCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// NoOpDaemonMetrics is used when metrics are disabled.
type NoOpDaemonMetrics struct{}

// NewNoOpDaemonMetrics creates a no-op DaemonMetrics implementation.
func NewNoOpDaemonMetrics() DaemonMetrics {
	return &NoOpDaemonMetrics{}
}

// RecordOperation does nothing when metrics are disabled.
func (n *NoOpDaemonMetrics) RecordOperation(ctx context.Context, operation, status string) {
}

// RecordDuration does nothing when metrics are disabled.
func (n *NoOpDaemonMetrics) RecordDuration(
	ctx context.Context,
	operation string,
	duration time.Duration,
	status string,
) {
}

// RecordCacheLookup does nothing when metrics are disabled.
func (n *NoOpDaemonMetrics) RecordCacheLookup(ctx context.Context, result string) {
}
