// Package metrics предоставляет функции для настройки системы метрик.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	Enabled       bool              `yaml:"enabled" env:"METRICS_ENABLED"`
	ExporterType  string            `yaml:"exporter" env:"METRICS_EXPORTER"`
	Path          string            `yaml:"path" env:"METRICS_PATH"`
	ResourceAttrs map[string]string `yaml:"resource_attrs"`
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:      true,
		ExporterType: "prometheus",
		Path:         "/metrics",
	}
}

// Provider настроенный MeterProvider вместе с HTTP-обработчиком экспорта
type Provider struct {
	MeterProvider *metric.MeterProvider
	Registry      *prom.Registry
	// Reader заполнен для exporter "manual" и используется в тестах
	Reader *metric.ManualReader
}

// Handler возвращает HTTP-обработчик для Prometheus scrape
func (p *Provider) Handler() http.Handler {
	if p.Registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{Registry: p.Registry})
}

// Shutdown корректно завершает работу метрик
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.MeterProvider == nil {
		return nil
	}
	return p.MeterProvider.Shutdown(ctx)
}

// SetupMetrics настраивает экспорт метрик и устанавливает глобальный MeterProvider
func SetupMetrics(config *MetricsConfig) (*Provider, error) {
	if config == nil {
		cfg := DefaultMetricsConfig()
		config = &cfg
	}

	p := &Provider{}
	var reader metric.Reader
	switch config.ExporterType {
	case "prometheus", "":
		p.Registry = prom.NewRegistry()
		exporter, err := prometheus.New(prometheus.WithRegisterer(p.Registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		reader = exporter
	case "manual":
		p.Reader = metric.NewManualReader()
		reader = p.Reader
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(buildResourceAttributes(config.ResourceAttrs)...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p.MeterProvider = metric.NewMeterProvider(
		metric.WithReader(reader),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(p.MeterProvider)
	return p, nil
}

// buildResourceAttributes строит resource attributes
func buildResourceAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, attribute.String(k, v))
	}
	return result
}
