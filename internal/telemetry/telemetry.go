// Package telemetry traces storysync's Jira calls and ledger writes and
// counts their outcomes with OpenTelemetry.
//
// Nothing is recorded unless STORYSYNC_OTEL_ENABLED=true; the global
// providers are then no-ops and WrapStorage and Transport return their
// argument unchanged.
//
// Spans are only ever written locally, as pretty-printed JSON. Metrics can
// additionally be pushed to a collector over OTLP/HTTP:
//
//	STORYSYNC_OTEL_ENABLED=true              turn telemetry on
//	STORYSYNC_OTEL_STDOUT=true               print spans and metrics to stderr
//	OTEL_EXPORTER_OTLP_METRICS_ENDPOINT=...  push metrics to host:port (e.g. localhost:4318)
//	OTEL_EXPORTER_OTLP_ENDPOINT=...          used when the metrics endpoint is unset
//
// With an endpoint and no STORYSYNC_OTEL_STDOUT, spans are dropped and only
// metrics leave the process.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/storysync/storysync"

const (
	metricDumpInterval = 15 * time.Second
	metricPushInterval = 30 * time.Second
)

// Exporters is where one process sends its telemetry.
type Exporters struct {
	// SpanWriter receives finished spans. Nil drops them.
	SpanWriter io.Writer
	// MetricWriter receives a metric dump every 15s. Nil disables the dump.
	MetricWriter io.Writer
	// OTLPEndpoint is the host:port of an OTLP/HTTP metrics collector.
	OTLPEndpoint string
}

// ExportersFromEnv resolves Exporters from the variables in the package doc.
func ExportersFromEnv() Exporters {
	var exp Exporters
	exp.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if exp.OTLPEndpoint == "" {
		exp.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	stdout := os.Getenv("STORYSYNC_OTEL_STDOUT") == "true"
	if stdout || exp.OTLPEndpoint == "" {
		exp.SpanWriter = os.Stderr
	}
	if stdout {
		exp.MetricWriter = os.Stderr
	}
	return exp
}

var flushers []func(context.Context) error

// Enabled reports whether STORYSYNC_OTEL_ENABLED=true.
func Enabled() bool {
	return os.Getenv("STORYSYNC_OTEL_ENABLED") == "true"
}

// Init installs the global providers: no-ops when disabled, otherwise the
// exporters from ExportersFromEnv.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	return Start(ctx, serviceName, version, ExportersFromEnv())
}

// Start installs SDK providers that export to exp. Call Shutdown to flush.
func Start(ctx context.Context, serviceName, version string, exp Exporters) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tracerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if exp.SpanWriter != nil {
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(exp.SpanWriter))
		if err != nil {
			return fmt.Errorf("telemetry: span exporter: %w", err)
		}
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(spans))
	}
	tp := sdktrace.NewTracerProvider(tracerOpts...)

	readers, err := metricReaders(ctx, exp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return fmt.Errorf("telemetry: %w", err)
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	flushers = append(flushers, tp.Shutdown, mp.Shutdown)
	return nil
}

func metricReaders(ctx context.Context, exp Exporters) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader
	if exp.MetricWriter != nil {
		dump, err := stdoutmetric.New(stdoutmetric.WithWriter(exp.MetricWriter))
		if err != nil {
			return nil, fmt.Errorf("metric dump: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(dump, sdkmetric.WithInterval(metricDumpInterval)))
	}
	if exp.OTLPEndpoint != "" {
		push, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(exp.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(push, sdkmetric.WithInterval(metricPushInterval)))
	}
	return readers, nil
}

// Tracer returns the named tracer; an empty name means the module scope.
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = scope
	}
	return otel.Tracer(name)
}

// Meter returns the named meter; an empty name means the module scope.
func Meter(name string) metric.Meter {
	if name == "" {
		name = scope
	}
	return otel.Meter(name)
}

// Shutdown flushes pending spans and metrics and drops the providers'
// exporters. Safe to call when Start never ran.
func Shutdown(ctx context.Context) {
	for _, flush := range flushers {
		_ = flush(ctx)
	}
	flushers = nil
}
