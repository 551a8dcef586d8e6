package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes authentication instruments.
type Metrics struct {
	authAttempts     metric.Int64Counter
	jwksFetches      metric.Int64Counter
	apiKeyRejections metric.Int64Counter
	usageFailures    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the auth metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "kovra"
	}
	meter := provider.Meter(name)

	authAttempts, err := meter.Int64Counter("kovra_auth_attempts_total",
		metric.WithDescription("Authentication attempts by credential source and outcome"))
	if err != nil {
		return nil, err
	}
	jwksFetches, err := meter.Int64Counter("kovra_jwks_fetch_total",
		metric.WithDescription("JWKS document fetches by outcome"))
	if err != nil {
		return nil, err
	}
	apiKeyRejections, err := meter.Int64Counter("kovra_api_key_rejections_total",
		metric.WithDescription("API key validations rejected by reason"))
	if err != nil {
		return nil, err
	}
	usageFailures, err := meter.Int64Counter("kovra_api_key_usage_failures_total",
		metric.WithDescription("API key usage updates that failed"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		authAttempts:     authAttempts,
		jwksFetches:      jwksFetches,
		apiKeyRejections: apiKeyRejections,
		usageFailures:    usageFailures,
	}, nil
}

// RecordAuthAttempt counts one authentication decision.
func (m *Metrics) RecordAuthAttempt(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJWKSFetch counts one JWKS fetch. outcome is ok, error or stale.
func (m *Metrics) RecordJWKSFetch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.jwksFetches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAPIKeyRejection counts one rejected API key validation.
func (m *Metrics) RecordAPIKeyRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.apiKeyRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageFailure counts one failed usage update.
func (m *Metrics) RecordUsageFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageFailures.Add(ctx, 1)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"source":      {},
	"outcome":     {},
	"reason":      {},
	"endpoint":    {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
