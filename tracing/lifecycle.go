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
	"fmt"
	"log/slog"
	"sync/atomic"
)

// TraceContext is the handle returned by StartTrace. It identifies one open
// trace and lets the caller end it explicitly with an end state.
type TraceContext struct {
	trace    Trace
	registry *Registry
	ended    atomic.Bool
}

func (tc *TraceContext) TraceID() string {
	return tc.trace.TraceID()
}

func (tc *TraceContext) Trace() Trace {
	return tc.trace
}

// End finishes the trace with the given end state (see NormalizeEndState).
// Ending an already-ended trace is a no-op.
func (tc *TraceContext) End(ctx context.Context, state any) {
	if tc.ended.Swap(true) {
		return
	}
	if !tc.registry.End(ctx, tc.trace.TraceID(), state) {
		// Registry miss means someone force-ended it (e.g. EndAllTraces).
		if err := tc.trace.Finish(ctx, state, false); err != nil {
			Logger().Error("Failed to finish trace", slog.String("error", err.Error()))
		}
	}
}

// StartTrace creates and starts a new trace, returning a context carrying it
// as current and a TraceContext to end it with. The trace stays open until
// EndTrace, TraceContext.End, or EndAllTraces is called. Once the trace has
// ended, spans created from the returned context become no-ops.
func StartTrace(ctx context.Context, params TraceParams) (context.Context, *TraceContext) {
	trace := GetTraceProvider().CreateTrace(params)

	ctx = ContextWithClonedOrNewScope(ctx)
	if err := trace.Start(ctx, true); err != nil {
		Logger().Error("Failed to start trace", slog.String("error", err.Error()))
	}

	registry := DefaultRegistry()
	registry.Register(trace)
	return ctx, &TraceContext{trace: trace, registry: registry}
}

// EndTrace ends the given trace with the given end state. A nil
// TraceContext ends every open trace instead.
func EndTrace(ctx context.Context, tc *TraceContext, state any) {
	if tc == nil {
		EndAllTraces(ctx, state)
		return
	}
	tc.End(ctx, state)
}

// EndAllTraces force-ends every open trace with the given end state.
// It returns the number of traces ended. Intended for shutdown paths.
func EndAllTraces(ctx context.Context, state any) int {
	return DefaultRegistry().EndAll(ctx, state)
}

// RunTrace runs fn inside a new trace, ending it on every exit path: with
// Success when fn returns nil, with Error when it returns an error or
// panics. The function's error (or panic) reaches the caller unchanged.
func RunTrace(ctx context.Context, params TraceParams, fn func(context.Context, *TraceContext) error) (err error) {
	ctx, tc := StartTrace(ctx, params)

	defer func() {
		if r := recover(); r != nil {
			if root := tc.trace.RootSpan(); root != nil {
				root.SetStatus(StatusError, fmt.Sprintf("panic: %v", r))
			}
			tc.End(ctx, StatusError)
			panic(r)
		}
		if err != nil {
			if root := tc.trace.RootSpan(); root != nil {
				root.SetStatus(StatusError, err.Error())
			}
			tc.End(ctx, StatusError)
		} else {
			tc.End(ctx, StatusSuccess)
		}
	}()

	return fn(ctx, tc)
}

// GetCurrentTrace returns the trace currently active in the given context,
// if any.
func GetCurrentTrace(ctx context.Context) Trace {
	if provider, ok := SafeGetTraceProvider(); ok {
		return provider.GetCurrentTrace(ctx)
	}
	return GetCurrentTraceFromContextScope(ctx)
}

// GetCurrentSpan returns the span currently active in the given context,
// if any.
func GetCurrentSpan(ctx context.Context) Span {
	if provider, ok := SafeGetTraceProvider(); ok {
		return provider.GetCurrentSpan(ctx)
	}
	return GetCurrentSpanFromContextScope(ctx)
}

// NewTrace creates a new trace via the global trace provider. The trace is
// not started; most callers should use StartTrace or RunTrace instead.
func NewTrace(params TraceParams) Trace {
	return GetTraceProvider().CreateTrace(params)
}

// NewSpan creates a new span via the global trace provider. The span is not
// started; most callers should use RunSpan instead of Start/Finish pairs.
func NewSpan(ctx context.Context, params SpanParams) Span {
	return GetTraceProvider().CreateSpan(ctx, params)
}

// RunSpan creates a span via the global trace provider and runs fn inside
// it; see Span.Run for the lifecycle guarantees.
func RunSpan(ctx context.Context, params SpanParams, fn func(context.Context, Span) error) error {
	return NewSpan(ctx, params).Run(ctx, fn)
}
