// Package observability wires OpenTelemetry tracing for the notification
// service. Spans are exported over OTLP/gRPC and the W3C trace context is
// propagated so Bot Framework callbacks and admin calls share trace ids.
package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/notify-bot/internal/config"
)

// ShutdownFunc flushes pending spans and stops the exporter.
type ShutdownFunc func(context.Context) error

// BotAppIDKey tags every span with the Bot Framework application id.
const BotAppIDKey = attribute.Key("bot.app_id")

// Identity describes the running process for resource attributes.
type Identity struct {
	Version  string
	BotAppID string
}

// test seams
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, attrs ...attribute.KeyValue) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(attrs...), resource.WithHost())
	}
)

// noop is the shutdown handed out when tracing is disabled.
func noop(context.Context) error { return nil }

// SetupOTel installs a global tracer provider and propagator. When tracing
// is disabled the globals are left untouched and a no-op shutdown is returned.
// On failure the globals are not modified.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, id Identity) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("observability: OTLP endpoint is empty")
	}

	// The gRPC client connects lazily, so an unreachable collector does not
	// fail startup.
	exp, err := newOTLPExporterFn(ctx, newOTLPClient(clientOptions(cfg)...))
	if err != nil {
		return nil, err
	}

	res, err := newServiceResourceFn(ctx, resourceAttributes(cfg, id)...)
	if err != nil {
		_ = exp.Shutdown(ctx) // nothing was exported yet
		return nil, err
	}

	// Sampling follows the parent when there is one, so traces started by
	// a caller are kept or dropped as a whole.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	// Globals change only after every step above succeeded.
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// clientOptions targets cfg.Endpoint. Without Insecure the exporter uses TLS
// with the system root pool.
func clientOptions(cfg config.OTELConfig) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// resourceAttributes always carries the service name; version, environment and
// bot app id are added only when known.
func resourceAttributes(cfg config.OTELConfig, id Identity) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if id.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(id.Version))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if id.BotAppID != "" {
		attrs = append(attrs, BotAppIDKey.String(id.BotAppID))
	}
	return attrs
}
