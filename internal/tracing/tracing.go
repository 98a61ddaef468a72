// Package tracing wires the OpenTelemetry tracer used around agent runs and
// task store requests.
package tracing

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/nudgebot-dev/nudgebot/pkg/config"
)

const defaultServiceName = "nudgebot"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Init sets up the tracer provider for the configured exporter. With
// exporter "none" spans become no-ops but StartSpan stays safe to call.
func Init(cfg config.ObservabilityConfig) error {
	service := cfg.TraceService
	if service == "" {
		service = defaultServiceName
	}

	if cfg.TraceExporter == "" || cfg.TraceExporter == "none" {
		log.Println("[Tracing] disabled")
		tracer = otel.GetTracerProvider().Tracer(service)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(service),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case "otlp":
		client := otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
		if err != nil {
			return fmt.Errorf("create otlp exporter: %w", err)
		}
		log.Printf("[Tracing] otlp exporter, endpoint %s", cfg.OTLPEndpoint)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
		log.Println("[Tracing] stdout exporter")

	default:
		return fmt.Errorf("unknown trace exporter: %s", cfg.TraceExporter)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(service)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// Span wraps an otel span behind a map-based attribute API so callers stay
// free of otel imports.
type Span struct {
	span  trace.Span
	ended bool
}

// StartSpan opens a child span of ctx with the given attributes.
func StartSpan(ctx context.Context, name string, data map[string]any) (context.Context, *Span) {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(defaultServiceName)
	}

	spanCtx, span := tracer.Start(ctx, name)
	if data != nil {
		attrs := make([]attribute.KeyValue, 0, len(data))
		for k, v := range data {
			attrs = append(attrs, convertToAttribute(k, v))
		}
		span.SetAttributes(attrs...)
	}
	return spanCtx, &Span{span: span}
}

// End finishes the span. Safe to call more than once.
func (s *Span) End() {
	if !s.ended && s.span != nil {
		s.span.End()
		s.ended = true
	}
}

// SetAttribute adds one attribute to the span.
func (s *Span) SetAttribute(key string, value any) {
	if s.span != nil {
		s.span.SetAttributes(convertToAttribute(key, value))
	}
}

// SetError records err on the span.
func (s *Span) SetError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
	}
}

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
