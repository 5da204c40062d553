package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages the scheduling engine's meters.
type MetricsCollector struct {
	meter metric.Meter

	reviewsTotal    metric.Int64Counter
	answerLatency   metric.Float64Histogram
	configCacheHits metric.Int64Counter
	configCacheMiss metric.Int64Counter
	weightFlushes   metric.Int64Counter

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. When disabled it
// returns a collector whose methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("mnemo/scheduler")

	mc := &MetricsCollector{meter: meter}

	if mc.reviewsTotal, err = meter.Int64Counter("srs_reviews_total",
		metric.WithDescription("Accepted reviews by algorithm and rating")); err != nil {
		return nil, err
	}
	if mc.answerLatency, err = meter.Float64Histogram("srs_answer_duration_seconds",
		metric.WithDescription("End-to-end answer handling latency")); err != nil {
		return nil, err
	}
	if mc.configCacheHits, err = meter.Int64Counter("srs_config_cache_hits_total",
		metric.WithDescription("Algorithm default-config cache hits")); err != nil {
		return nil, err
	}
	if mc.configCacheMiss, err = meter.Int64Counter("srs_config_cache_misses_total",
		metric.WithDescription("Algorithm default-config cache misses")); err != nil {
		return nil, err
	}
	if mc.weightFlushes, err = meter.Int64Counter("srs_weight_flushes_total",
		metric.WithDescription("Adaptive weight buffer flush instructions")); err != nil {
		return nil, err
	}

	if config.PrometheusPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promclient.Handler())
		mc.prometheusServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", config.PrometheusPort),
			Handler: mux,
		}
		go func() {
			_ = mc.prometheusServer.ListenAndServe()
		}()
	}

	return mc, nil
}

// RecordReview counts one accepted review.
func (mc *MetricsCollector) RecordReview(ctx context.Context, algorithmID, rating string) {
	if mc == nil || mc.reviewsTotal == nil {
		return
	}
	mc.reviewsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", algorithmID),
		attribute.String("rating", rating),
	))
}

// RecordAnswerLatency records end-to-end answer handling time.
func (mc *MetricsCollector) RecordAnswerLatency(ctx context.Context, d time.Duration) {
	if mc == nil || mc.answerLatency == nil {
		return
	}
	mc.answerLatency.Record(ctx, d.Seconds())
}

// RecordConfigCache counts a default-config cache outcome.
func (mc *MetricsCollector) RecordConfigCache(ctx context.Context, hit bool) {
	if mc == nil {
		return
	}
	if hit {
		if mc.configCacheHits != nil {
			mc.configCacheHits.Add(ctx, 1)
		}
		return
	}
	if mc.configCacheMiss != nil {
		mc.configCacheMiss.Add(ctx, 1)
	}
}

// RecordWeightFlush counts one weight-buffer flush instruction.
func (mc *MetricsCollector) RecordWeightFlush(ctx context.Context) {
	if mc == nil || mc.weightFlushes == nil {
		return
	}
	mc.weightFlushes.Add(ctx, 1)
}

// Shutdown stops the Prometheus scrape server if one was started.
func (mc *MetricsCollector) Shutdown(ctx context.Context) error {
	if mc == nil || mc.prometheusServer == nil {
		return nil
	}
	return mc.prometheusServer.Shutdown(ctx)
}
