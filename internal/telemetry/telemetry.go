// Package telemetry owns the OpenTelemetry trace pipeline. Search and command
// spans are exported over OTLP/HTTP when an endpoint is configured.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "torrentstream/qbtcontrol"

type Config struct {
	ServiceName string
	// Endpoint is a collector URL such as http://otel:4318 or a bare
	// host:port. Empty disables tracing.
	Endpoint string
	// SampleRatio below 1 samples root spans; remote parents decide for
	// their children. Zero or negative means always sample.
	SampleRatio float64
}

// Shutdown flushes and stops the trace pipeline.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs the global trace provider described by cfg. The returned
// Shutdown is never nil, even when err is not.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return noopShutdown, nil
	}
	target, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return noopShutdown, err
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.hostPort),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if target.path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(target.path))
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exporter, err := otlptracehttp.New(initCtx, opts...)
	if err != nil {
		return noopShutdown, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noopShutdown, fmt.Errorf("otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

type endpoint struct {
	hostPort string
	path     string
	insecure bool
}

// parseEndpoint accepts http, https or scheme-less collector addresses. Only
// https turns TLS on.
func parseEndpoint(raw string) (endpoint, error) {
	value := strings.TrimSpace(raw)
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid otlp endpoint %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return endpoint{}, fmt.Errorf("invalid otlp endpoint %q: unsupported scheme %q", raw, parsed.Scheme)
	}
	if parsed.Host == "" {
		return endpoint{}, fmt.Errorf("invalid otlp endpoint %q: missing host", raw)
	}
	out := endpoint{hostPort: parsed.Host, insecure: parsed.Scheme == "http"}
	if path := strings.TrimRight(parsed.Path, "/"); path != "" {
		out.path = path
	}
	return out, nil
}

// Tracer returns the tracer used for search and command spans. It resolves
// the global provider on every call so Init may run after package setup.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
