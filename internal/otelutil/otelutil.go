package otelutil

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// ErrNoExporter is returned by Init when tracing is not configured. Callers
// may ignore it; the global no-op provider stays in place.
var ErrNoExporter = errors.New("no OTEL exporter configured: set OTEL_EXPORTER_OTLP_ENDPOINT or CONCORD_OTEL_STDOUT=1")

var tp *sdktrace.TracerProvider

// Init installs a global tracer provider. OTLP/gRPC is preferred when an
// endpoint is configured, stdout when CONCORD_OTEL_STDOUT=1.
func Init(serviceName string) error {
	ctx := context.Background()

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter
	switch endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); {
	case endpoint != "":
		exporter, err = newOTLP(ctx, endpoint)
	case os.Getenv("CONCORD_OTEL_STDOUT") == "1":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return ErrNoExporter
	}
	if err != nil {
		return err
	}

	tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return nil
}

func newOTLP(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}

	if v := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v == "1" || v == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if hdrs := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); hdrs != "" {
		m := map[string]string{}
		for _, pair := range strings.Split(hdrs, ",") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
		if len(m) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(m))
		}
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Flush shuts the provider down, exporting pending spans. Safe to call more
// than once.
func Flush() {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
