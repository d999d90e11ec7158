package otelutil

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "drawit"

// ErrNoExporter is returned by Init when tracing is not configured.
var ErrNoExporter = errors.New("no OTEL exporter configured: set DRAWIT_OTEL_OTLP_ENDPOINT or DRAWIT_OTEL_STDOUT=1")

var tp *sdktrace.TracerProvider

// Init installs a global tracer provider. An OTLP/gRPC endpoint
// (DRAWIT_OTEL_OTLP_ENDPOINT or OTEL_EXPORTER_OTLP_ENDPOINT) wins over the
// stdout exporter (DRAWIT_OTEL_STDOUT=1). Without either it returns
// ErrNoExporter and the global no-op provider stays in place.
func Init() error {
	ctx := context.Background()

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String(ServiceName),
	))
	if err != nil {
		return err
	}

	endpoint := os.Getenv("DRAWIT_OTEL_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint != "" {
		return initWithOTLP(ctx, res, endpoint)
	}

	if envTrue("DRAWIT_OTEL_STDOUT") {
		return initWithStdout(res)
	}
	return ErrNoExporter
}

func initWithOTLP(ctx context.Context, res *sdkresource.Resource, endpoint string) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if envTrue("DRAWIT_OTEL_OTLP_INSECURE") || envTrue("OTEL_EXPORTER_OTLP_INSECURE") {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if hdrs := parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); len(hdrs) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(hdrs))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	install(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	))
	return nil
}

func initWithStdout(res *sdkresource.Resource) error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}
	install(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	))
	return nil
}

func install(provider *sdktrace.TracerProvider) {
	tp = provider
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

// parseHeaders reads comma-separated key=value pairs.
func parseHeaders(value string) map[string]string {
	m := map[string]string{}
	if value == "" {
		return m
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) != "" {
			m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return m
}

func envTrue(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true"
}

// Flush gracefully shuts down the tracer provider, flushing any pending spans.
// It is safe to call multiple times.
func Flush() {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
