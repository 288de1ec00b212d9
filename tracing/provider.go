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

package tracing

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SynchronousMultiTracingProcessor forwards all calls to a list of Processors, in order of registration.
type SynchronousMultiTracingProcessor struct {
	processors []Processor
	mu         sync.RWMutex
}

func NewSynchronousMultiTracingProcessor() *SynchronousMultiTracingProcessor {
	return &SynchronousMultiTracingProcessor{}
}

// AddProcessor adds a processor to the list of processors.
// Each processor will receive all traces/spans.
func (p *SynchronousMultiTracingProcessor) AddProcessor(processor Processor) {
	p.mu.Lock()
	p.processors = append(p.processors, processor)
	p.mu.Unlock()
}

// SetProcessors sets the list of processors.
// This will replace the current list of processors.
func (p *SynchronousMultiTracingProcessor) SetProcessors(processors []Processor) {
	p.mu.Lock()
	p.processors = slices.Clone(processors)
	p.mu.Unlock()
}

// OnTraceStart is called when a trace is started.
func (p *SynchronousMultiTracingProcessor) OnTraceStart(ctx context.Context, trace Trace) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.OnTraceStart(ctx, trace)
	}
	return errors.Join(errs...)
}

// OnTraceEnd is called when a trace is finished.
func (p *SynchronousMultiTracingProcessor) OnTraceEnd(ctx context.Context, trace Trace) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.OnTraceEnd(ctx, trace)
	}
	return errors.Join(errs...)
}

// OnSpanStart is called when a span is started.
func (p *SynchronousMultiTracingProcessor) OnSpanStart(ctx context.Context, span Span) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.OnSpanStart(ctx, span)
	}
	return errors.Join(errs...)
}

// OnSpanEnd is called when a span is finished.
func (p *SynchronousMultiTracingProcessor) OnSpanEnd(ctx context.Context, span Span) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.OnSpanEnd(ctx, span)
	}
	return errors.Join(errs...)
}

// Shutdown is called when the application stops.
func (p *SynchronousMultiTracingProcessor) Shutdown(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.Shutdown(ctx)
	}
	return errors.Join(errs...)
}

func (p *SynchronousMultiTracingProcessor) ForceFlush(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	errs := make([]error, len(p.processors))
	for i, processor := range p.processors {
		errs[i] = processor.ForceFlush(ctx)
	}
	return errors.Join(errs...)
}

// ErrInvalidParent reports an explicit parent span that belongs to a
// different trace than the one active in the flow.
var ErrInvalidParent = errors.New("parent span belongs to a different trace")

// GenTraceID generates a new trace ID.
func GenTraceID() string {
	return "trace_" + hex.EncodeToString(uuidBytes())
}

// GenSpanID generates a new span ID.
func GenSpanID() string {
	return "span_" + hex.EncodeToString(uuidBytes())[:24]
}

func uuidBytes() []byte {
	u := uuid.New()
	return u[:]
}

// TraceProvider creates traces and spans and owns the processing pipeline.
type TraceProvider interface {
	// RegisterProcessor adds a processor to the pipeline, keeping the
	// existing ones.
	RegisterProcessor(processor Processor)

	// SetProcessors replaces the pipeline with the given processors.
	SetProcessors(processors []Processor)

	// SetDisabled turns tracing off (true) or on (false) globally.
	// While disabled, created traces and spans are no-ops.
	SetDisabled(disabled bool)

	// GetCurrentTrace returns the currently active trace, if any.
	GetCurrentTrace(ctx context.Context) Trace

	// GetCurrentSpan returns the currently active span, if any.
	GetCurrentSpan(ctx context.Context) Span

	// CreateTrace creates a new trace. The trace is not started.
	CreateTrace(params TraceParams) Trace

	// CreateSpan creates a new span, resolving its parent from the
	// explicit parent argument or from the context scope. The span is
	// not started.
	CreateSpan(ctx context.Context, params SpanParams) Span

	// Shutdown the trace provider and its processors.
	Shutdown(ctx context.Context) error
}

// TraceParams are the arguments for TraceProvider.CreateTrace.
type TraceParams struct {
	// Name is the human-readable name of the session or workflow.
	Name string
	// TraceID is optional; when empty a new ID is generated.
	TraceID string
	// Tags accepts a map[string]string, []string, or a single string.
	Tags any
	// Metadata is recorded as attributes on the root span.
	Metadata map[string]any
	// Disabled forces this trace to be a no-op.
	Disabled bool
}

// SpanParams are the arguments for TraceProvider.CreateSpan.
type SpanParams struct {
	Kind SpanKind
	Name string
	// SpanID is optional; when empty a new ID is generated.
	SpanID string
	// Parent is an optional explicit parent: a Trace, a Span, or nil to
	// resolve the parent from the context scope.
	Parent any
	// Disabled forces this span to be a no-op.
	Disabled bool
}

// DefaultTraceProvider is the standard TraceProvider implementation,
// dispatching to a synchronous multi-processor.
type DefaultTraceProvider struct {
	multiProcessor *SynchronousMultiTracingProcessor
	disabled       atomic.Bool
}

func NewDefaultTraceProvider() *DefaultTraceProvider {
	tp := &DefaultTraceProvider{
		multiProcessor: NewSynchronousMultiTracingProcessor(),
	}
	if v, err := strconv.ParseBool(os.Getenv("AGENTOPS_DISABLE_TRACING")); err == nil && v {
		tp.disabled.Store(true)
	}
	return tp
}

func (tp *DefaultTraceProvider) RegisterProcessor(processor Processor) {
	tp.multiProcessor.AddProcessor(processor)
}

func (tp *DefaultTraceProvider) SetProcessors(processors []Processor) {
	tp.multiProcessor.SetProcessors(processors)
}

func (tp *DefaultTraceProvider) SetDisabled(disabled bool) {
	tp.disabled.Store(disabled)
}

func (tp *DefaultTraceProvider) GetCurrentTrace(ctx context.Context) Trace {
	return GetCurrentTraceFromContextScope(ctx)
}

func (tp *DefaultTraceProvider) GetCurrentSpan(ctx context.Context) Span {
	return GetCurrentSpanFromContextScope(ctx)
}

func (tp *DefaultTraceProvider) CreateTrace(params TraceParams) Trace {
	if tp.disabled.Load() || params.Disabled {
		Logger().Debug("Tracing is disabled. Not creating trace", slog.String("name", params.Name))
		return NewNoOpTrace()
	}
	name := params.Name
	if name == "" {
		name = "default"
	}
	return NewTraceImpl(name, params.TraceID, NormalizeTags(params.Tags), params.Metadata, tp.multiProcessor)
}

func (tp *DefaultTraceProvider) CreateSpan(ctx context.Context, params SpanParams) Span {
	if tp.disabled.Load() || params.Disabled {
		Logger().Debug("Tracing is disabled. Not creating span", slog.String("name", params.Name))
		return NewNoOpSpan(params.Kind, params.Name)
	}

	currentTrace := GetCurrentTraceFromContextScope(ctx)

	var traceID, parentID string

	switch parent := params.Parent.(type) {
	case nil:
		if currentTrace == nil {
			Logger().Error("No active trace. Make sure to start a trace first. Returning NoOpSpan.",
				slog.String("name", params.Name))
			return NewNoOpSpan(params.Kind, params.Name)
		}
		if _, isNoOp := currentTrace.(*NoOpTrace); isNoOp {
			return NewNoOpSpan(params.Kind, params.Name)
		}
		if root := currentTrace.RootSpan(); root != nil && root.IsEnded() {
			Logger().Warn("Current trace already ended. Returning NoOpSpan.",
				slog.String("name", params.Name),
				slog.String("traceID", currentTrace.TraceID()))
			return NewNoOpSpan(params.Kind, params.Name)
		}
		traceID = currentTrace.TraceID()
		if currentSpan := GetCurrentSpanFromContextScope(ctx); currentSpan != nil {
			parentID = currentSpan.SpanID()
		}
	case Trace:
		if _, isNoOp := parent.(*NoOpTrace); isNoOp {
			return NewNoOpSpan(params.Kind, params.Name)
		}
		traceID = parent.TraceID()
		if root := parent.RootSpan(); root != nil {
			if root.IsEnded() {
				Logger().Warn("Parent trace already ended. Returning NoOpSpan.",
					slog.String("name", params.Name),
					slog.String("traceID", traceID))
				return NewNoOpSpan(params.Kind, params.Name)
			}
			parentID = root.SpanID()
		}
	case Span:
		if _, isNoOp := parent.(*NoOpSpan); isNoOp {
			return NewNoOpSpan(params.Kind, params.Name)
		}
		if currentTrace != nil && currentTrace.TraceID() != parent.TraceID() {
			if _, isNoOp := currentTrace.(*NoOpTrace); !isNoOp {
				Logger().Error("Invalid parent span. Returning NoOpSpan.",
					slog.String("name", params.Name),
					slog.String("error", ErrInvalidParent.Error()))
				return NewNoOpSpan(params.Kind, params.Name)
			}
		}
		traceID = parent.TraceID()
		parentID = parent.SpanID()
	default:
		Logger().Error("Unsupported parent type. Returning NoOpSpan.",
			slog.String("name", params.Name))
		return NewNoOpSpan(params.Kind, params.Name)
	}

	span := NewSpanImpl(traceID, params.SpanID, parentID, params.Kind, params.Name, tp.multiProcessor)
	span.SetAttribute(AttrSpanKind, string(params.Kind))
	return span
}

func (tp *DefaultTraceProvider) Shutdown(ctx context.Context) error {
	Logger().Debug("Shutting down trace provider")
	return tp.multiProcessor.Shutdown(ctx)
}
