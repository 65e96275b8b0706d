package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Service information
	ServiceName    = "decoupling-detector"
	ServiceVersion = "1.0.0"

	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TelemetryConfig holds configuration for telemetry
type TelemetryConfig struct {
	Enabled        bool
	Exporter       string
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
	BatchTimeout   time.Duration
	// Writer receives stdout exports. Nil means os.Stdout.
	Writer io.Writer
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		Exporter:       ExporterStdout,
		OTLPEndpoint:   "http://localhost:4318",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// InitTelemetry installs the global tracer provider. When telemetry is
// disabled a no-op provider is installed so spans cost nothing.
func InitTelemetry(config TelemetryConfig) error {
	mu.Lock()
	defer mu.Unlock()

	if !config.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		provider = nil
		return nil
	}

	exporter, err := newExporter(config)
	if err != nil {
		return err
	}

	res := resource.NewSchemaless(
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		attribute.String("deployment.environment", config.Environment),
	)

	sampleRate := config.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}
	batchTimeout := config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	provider = tp
	return nil
}

func newExporter(config TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterStdout, "":
		w := config.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		hostport, urlPath, insecure, _, err := normalizeOTLPEndpoint(config.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(context.Background(), opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", config.Exporter)
	}
}

// normalizeOTLPEndpoint splits a collector base URL into the pieces the
// otlptracehttp options expect. The traces path is appended unless the URL
// already ends with it.
func normalizeOTLPEndpoint(raw string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false, "", errors.New("OTLP endpoint must be an absolute http(s) URL, got " + raw)
	}

	urlPath = strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(urlPath, "/v1/traces") {
		urlPath += "/v1/traces"
	}
	insecure = u.Scheme == "http"
	resolved = u.Scheme + "://" + u.Host + urlPath
	return u.Host, urlPath, insecure, resolved, nil
}

// Shutdown flushes and stops the global tracer provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// GetTracer returns a named tracer from the global provider
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// GetDatabaseTracer returns the tracer for database access
func GetDatabaseTracer() trace.Tracer {
	return GetTracer(ServiceName + "/database")
}

// GetAnalysisTracer returns the tracer for analysis runs
func GetAnalysisTracer() trace.Tracer {
	return GetTracer(ServiceName + "/analysis")
}

// StartSpan starts a span with the given tracer
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordError records an error and marks the span failed
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanStatus sets the status of a span
func SetSpanStatus(span trace.Span, code codes.Code, description string) {
	span.SetStatus(code, description)
}
