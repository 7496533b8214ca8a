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

// Metrics exposes application-level instruments.
type Metrics struct {
	priceChanges       metric.Int64Counter
	scheduleAdvances   metric.Int64Counter
	scheduleReplaces   metric.Int64Counter
	obligationsCreated metric.Int64Counter
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
		name = "renewd"
	}
	meter := provider.Meter(name)

	priceChanges, err := meter.Int64Counter("renewd_price_changes_total")
	if err != nil {
		return nil, err
	}
	scheduleAdvances, err := meter.Int64Counter("renewd_schedule_advances_total")
	if err != nil {
		return nil, err
	}
	scheduleReplaces, err := meter.Int64Counter("renewd_schedule_replacements_total")
	if err != nil {
		return nil, err
	}
	obligationsCreated, err := meter.Int64Counter("renewd_obligations_created_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		priceChanges:       priceChanges,
		scheduleAdvances:   scheduleAdvances,
		scheduleReplaces:   scheduleReplaces,
		obligationsCreated: obligationsCreated,
	}, nil
}

// NewNoop returns instruments backed by the noop provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordPriceChange increments price timeline changes.
func (m *Metrics) RecordPriceChange(ctx context.Context, source, currency string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("currency", strings.ToUpper(strings.TrimSpace(currency))),
	)
	m.priceChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScheduleAdvance increments schedule advances by unit and outcome.
func (m *Metrics) RecordScheduleAdvance(ctx context.Context, unit, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("period_unit", strings.TrimSpace(unit)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.scheduleAdvances.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScheduleReplace increments rule replacements by unit.
func (m *Metrics) RecordScheduleReplace(ctx context.Context, unit string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("period_unit", strings.TrimSpace(unit)))
	m.scheduleReplaces.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordObligationCreated increments created obligations by status.
func (m *Metrics) RecordObligationCreated(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.obligationsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"currency":    {},
	"period_unit": {},
	"outcome":     {},
	"status":      {},
	"reason":      {},
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
