package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// tracerName identifies spans produced by this service in exported traces.
const tracerName = "agentrunner/ingress"

// NewStdoutProvider builds a TracerProvider that writes spans to stdout and
// registers it as the process-wide default. It is local-dev friendly: no
// collector endpoint needs to be configured or reachable, unlike an OTLP
// exporter.
func NewStdoutProvider(serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// TracingMiddleware starts a span per request named after the request method
// and URL path; it sets no further span attributes. It is a
// no-op wrapper around whatever TracerProvider is currently registered, so it
// costs nothing when tracing is disabled (the default no-op provider).
func TracingMiddleware(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Shutdown flushes and stops the tracer provider, tolerating a nil provider
// so callers don't need to branch on whether tracing was enabled.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
