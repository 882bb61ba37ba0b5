// Package metrics exposes application-level instruments for admission
// decisions and billing synchronization outcomes.
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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	admissionAllowed metric.Int64Counter
	admissionDenied  metric.Int64Counter
	syncUpdated      metric.Int64Counter
	syncMissing      metric.Int64Counter
	syncFailed       metric.Int64Counter
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "meterd"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error

	if m.admissionAllowed, err = meter.Int64Counter("meterd_admission_allowed_total"); err != nil {
		return nil, err
	}
	if m.admissionDenied, err = meter.Int64Counter("meterd_admission_denied_total"); err != nil {
		return nil, err
	}
	if m.syncUpdated, err = meter.Int64Counter("meterd_sync_updated_total"); err != nil {
		return nil, err
	}
	if m.syncMissing, err = meter.Int64Counter("meterd_sync_missing_total"); err != nil {
		return nil, err
	}
	if m.syncFailed, err = meter.Int64Counter("meterd_sync_failed_total"); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAdmission counts one admission decision for a meter key.
func (m *Metrics) RecordAdmission(ctx context.Context, key string, allowed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("meter_key", key))
	if allowed {
		m.admissionAllowed.Add(ctx, 1, attrs)
	} else {
		m.admissionDenied.Add(ctx, 1, attrs)
	}
}

// RecordSync counts the outcome of one bump pass.
func (m *Metrics) RecordSync(ctx context.Context, updated, missing, failed int) {
	if m == nil {
		return
	}
	m.syncUpdated.Add(ctx, int64(updated))
	m.syncMissing.Add(ctx, int64(missing))
	m.syncFailed.Add(ctx, int64(failed))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter protocol %q", protocol)
	}
}
