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

package instrument

import (
	"context"

	"github.com/nlpodyssey/agentops-go/tracing"
)

// Func wraps fn so that every call runs inside a span of the given kind.
// The span records the call's input and output, ends with Success or Error
// depending on fn's outcome, and is guaranteed to end even when fn panics.
// The returned function yields exactly what fn yields.
func Func[In, Out any](kind tracing.SpanKind, fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) (Out, error) {
		span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: kind, Name: name})
		applyConfig(span, cfg)

		var out Out
		err := span.Run(ctx, func(ctx context.Context, span tracing.Span) error {
			if cfg.captureInput {
				span.SetAttribute(tracing.InputAttrKey(kind), tracing.SafeSerialize(in))
			}
			var ferr error
			out, ferr = fn(ctx, in)
			if ferr == nil && cfg.captureOutput {
				span.SetAttribute(tracing.OutputAttrKey(kind), tracing.SafeSerialize(out))
			}
			return ferr
		})
		return out, err
	}
}

// Operation wraps fn in an operation-kind span.
func Operation[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindOperation, fn, opts...)
}

// Task wraps fn in a task-kind span. Task and Operation are synonyms.
func Task[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindTask, fn, opts...)
}

// Workflow wraps fn in a workflow-kind span.
func Workflow[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindWorkflow, fn, opts...)
}

// Tool wraps fn in a tool-kind span. Use WithCost to record a known cost.
func Tool[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindTool, fn, opts...)
}

// Guardrail wraps fn in a guardrail-kind span. Use WithDirection to record
// which side of the interaction the guardrail checks.
func Guardrail[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindGuardrail, fn, opts...)
}

// LLM wraps fn in an llm-kind span.
func LLM[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	return Func(tracing.KindLLM, fn, opts...)
}

// ForAgent wraps fn in an agent-kind span bound to the given agent name.
// Each call produces one span: two calls through the same wrapper yield two
// sibling agent spans, never one long-lived span.
func ForAgent[In, Out any](agentName string, fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	if agentName != "" {
		opts = append([]Option{WithName(agentName)}, opts...)
	}
	opts = append(opts, WithAttribute(tracing.AttrEntityName, agentName))
	return Func(tracing.KindAgent, fn, opts...)
}

// Session wraps fn so that every call runs inside its own trace, with fn's
// input and output recorded on the root session span. The trace ends with
// Success or Error depending on fn's outcome, even when fn panics.
func Session[In, Out any](fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) (Out, error) {
		var out Out
		err := tracing.RunTrace(ctx, tracing.TraceParams{Name: name, Tags: cfg.tags}, func(ctx context.Context, tc *tracing.TraceContext) error {
			root := tc.Trace().RootSpan()
			if root != nil {
				applyConfig(root, cfg)
				if cfg.captureInput {
					root.SetAttribute(tracing.InputAttrKey(tracing.KindSession), tracing.SafeSerialize(in))
				}
			}
			var ferr error
			out, ferr = fn(ctx, in)
			if ferr == nil && root != nil && cfg.captureOutput {
				root.SetAttribute(tracing.OutputAttrKey(tracing.KindSession), tracing.SafeSerialize(out))
			}
			return ferr
		})
		return out, err
	}
}
