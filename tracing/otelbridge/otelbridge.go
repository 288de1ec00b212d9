// Copyright 2025 The NLP Odyssey Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package otelbridge mirrors recorded spans onto an OpenTelemetry tracer,
// so traces can be shipped over OTLP alongside the native exporter.
package otelbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nlpodyssey/agentops-go/tracing"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer provider with an OTLP
// HTTP exporter. If endpoint is empty, OTEL is disabled and a no-op
// shutdown is returned. The returned shutdown function must be called
// during graceful shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otelbridge: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otelbridge: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Register W3C Trace Context and Baggage propagators so trace context
	// survives across process boundaries.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return tp.Shutdown, nil
}

// Processor is a tracing.Processor that mirrors every trace and span onto
// OpenTelemetry spans, preserving the parent-child structure and timestamps.
type Processor struct {
	tracer oteltrace.Tracer

	mu sync.Mutex
	// active maps native span IDs (and trace IDs, for root spans) to the
	// context carrying the corresponding live otel span.
	active map[string]context.Context
}

// NewProcessor creates a Processor on the global tracer provider.
func NewProcessor() *Processor {
	return &Processor{
		tracer: otel.Tracer("github.com/nlpodyssey/agentops-go"),
		active: make(map[string]context.Context),
	}
}

func (p *Processor) OnTraceStart(ctx context.Context, trace tracing.Trace) error {
	octx, _ := p.tracer.Start(ctx, trace.Name())

	p.mu.Lock()
	p.active[trace.TraceID()] = octx
	p.mu.Unlock()
	return nil
}

func (p *Processor) OnTraceEnd(ctx context.Context, trace tracing.Trace) error {
	p.mu.Lock()
	octx, ok := p.active[trace.TraceID()]
	delete(p.active, trace.TraceID())
	p.mu.Unlock()

	if !ok {
		return nil
	}
	span := oteltrace.SpanFromContext(octx)
	if root := trace.RootSpan(); root != nil {
		applyStatus(span, root)
	}
	span.End()
	return nil
}

func (p *Processor) OnSpanStart(ctx context.Context, span tracing.Span) error {
	if span.Kind() == tracing.KindSession {
		// The root session span is mirrored by the trace-level otel span.
		return nil
	}

	p.mu.Lock()
	parentCtx, ok := p.active[span.ParentID()]
	if !ok {
		parentCtx, ok = p.active[span.TraceID()]
	}
	p.mu.Unlock()
	if !ok {
		parentCtx = ctx
	}

	opts := []oteltrace.SpanStartOption{
		oteltrace.WithAttributes(attribute.String(tracing.AttrSpanKind, string(span.Kind()))),
	}
	if !span.StartedAt().IsZero() {
		opts = append(opts, oteltrace.WithTimestamp(span.StartedAt()))
	}
	octx, _ := p.tracer.Start(parentCtx, span.Name(), opts...)

	p.mu.Lock()
	p.active[span.SpanID()] = octx
	p.mu.Unlock()
	return nil
}

func (p *Processor) OnSpanEnd(ctx context.Context, span tracing.Span) error {
	if span.Kind() == tracing.KindSession {
		return nil
	}

	p.mu.Lock()
	octx, ok := p.active[span.SpanID()]
	delete(p.active, span.SpanID())
	p.mu.Unlock()

	if !ok {
		return nil
	}
	oteSpan := oteltrace.SpanFromContext(octx)
	oteSpan.SetAttributes(exportAttributes(span)...)
	applyStatus(oteSpan, span)

	var opts []oteltrace.SpanEndOption
	if !span.EndedAt().IsZero() {
		opts = append(opts, oteltrace.WithTimestamp(span.EndedAt()))
	}
	oteSpan.End(opts...)
	return nil
}

func (p *Processor) Shutdown(ctx context.Context) error {
	return nil
}

func (p *Processor) ForceFlush(ctx context.Context) error {
	return nil
}

func applyStatus(oteSpan oteltrace.Span, span tracing.Span) {
	switch status, message := span.Status(); status {
	case tracing.StatusSuccess:
		oteSpan.SetStatus(codes.Ok, "")
	case tracing.StatusError:
		oteSpan.SetStatus(codes.Error, message)
	}
}

func exportAttributes(span tracing.Span) []attribute.KeyValue {
	attrs := span.Attributes()
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch value := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, value))
		case bool:
			kvs = append(kvs, attribute.Bool(k, value))
		case int:
			kvs = append(kvs, attribute.Int(k, value))
		case int64:
			kvs = append(kvs, attribute.Int64(k, value))
		case float64:
			kvs = append(kvs, attribute.Float64(k, value))
		default:
			kvs = append(kvs, attribute.String(k, tracing.SafeSerialize(v)))
		}
	}
	return kvs
}
