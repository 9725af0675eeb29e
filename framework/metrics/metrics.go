// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics сборщик метрик интерпретатора и запусков
type Metrics struct {
	meter            metric.Meter
	runsTotal        metric.Int64Counter
	runDuration      metric.Float64Histogram
	activeRuns       metric.Int64UpDownCounter
	activitiesTotal  metric.Int64Counter
	activityDuration metric.Float64Histogram
	eventsTotal      metric.Int64Counter
	triggersTotal    metric.Int64Counter
	errorsTotal      metric.Int64Counter
}

// NewMetrics создает сборщик метрик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider создает сборщик метрик на заданном MeterProvider
func NewMetricsWithProvider(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("activities")
	m := &Metrics{meter: meter}

	var err error
	if m.runsTotal, err = meter.Int64Counter(
		"runs_total",
		metric.WithDescription("Total number of finished workflow runs"),
	); err != nil {
		return nil, err
	}
	if m.runDuration, err = meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Workflow run duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.activeRuns, err = meter.Int64UpDownCounter(
		"active_runs",
		metric.WithDescription("Number of workflow runs in progress"),
	); err != nil {
		return nil, err
	}
	if m.activitiesTotal, err = meter.Int64Counter(
		"activities_total",
		metric.WithDescription("Total number of executed activities"),
	); err != nil {
		return nil, err
	}
	if m.activityDuration, err = meter.Float64Histogram(
		"activity_duration_seconds",
		metric.WithDescription("Activity execution duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.eventsTotal, err = meter.Int64Counter(
		"events_total",
		metric.WithDescription("Total number of published lifecycle events"),
	); err != nil {
		return nil, err
	}
	if m.triggersTotal, err = meter.Int64Counter(
		"triggers_total",
		metric.WithDescription("Total number of runs started by triggers"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RunStarted увеличивает счетчик активных запусков
func (m *Metrics) RunStarted(ctx context.Context, workflow string) {
	m.activeRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", workflow)))
}

// RecordRun записывает метрику завершенного запуска
func (m *Metrics) RecordRun(ctx context.Context, workflow, state string, duration time.Duration) {
	m.activeRuns.Add(ctx, -1, metric.WithAttributes(attribute.String("workflow", workflow)))

	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("state", state),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordActivity записывает метрику выполнения узла
func (m *Metrics) RecordActivity(ctx context.Context, selector, kind string, duration time.Duration, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("selector", selector),
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	}
	m.activitiesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.activityDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs[:2]...))

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "activity"),
			attribute.String("selector", selector),
		))
	}
}

// RecordEvent записывает метрику события
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordTrigger записывает метрику запуска по триггеру
func (m *Metrics) RecordTrigger(ctx context.Context, source, workflow string, success bool) {
	m.triggersTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("workflow", workflow),
		attribute.Bool("success", success),
	))
	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "trigger"),
			attribute.String("source", source),
		))
	}
}
