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

	"github.com/nlpodyssey/agentops-go/asynctask"
	"github.com/nlpodyssey/agentops-go/tracing"
)

// Async wraps fn so that every call starts a background task whose whole
// execution runs inside a span of the given kind. The span opens when the
// task begins executing, not when the wrapper is called, and ends with the
// task: Success on a clean return, Error on failure or cancellation.
func Async[In, Out any](kind tracing.SpanKind, fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) *asynctask.Task[Out] {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) *asynctask.Task[Out] {
		// The span must be created inside the task body so that the
		// goroutine gets its own scope clone; the caller's current span
		// stays untouched while the task runs.
		parent := tracing.GetCurrentSpan(ctx)

		return asynctask.CreateTask(ctx, func(ctx context.Context) (Out, error) {
			span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: kind, Name: name, Parent: parent})
			applyConfig(span, cfg)

			var out Out
			err := span.Run(ctx, func(ctx context.Context, span tracing.Span) error {
				if cfg.captureInput {
					span.SetAttribute(tracing.InputAttrKey(kind), tracing.SafeSerialize(in))
				}
				var ferr error
				out, ferr = fn(ctx, in)
				if ferr == nil && ctx.Err() != nil {
					// A canceled task that returned anyway still records the
					// cancellation as its outcome.
					return ctx.Err()
				}
				if ferr == nil && cfg.captureOutput {
					span.SetAttribute(tracing.OutputAttrKey(kind), tracing.SafeSerialize(out))
				}
				return ferr
			})
			return out, err
		})
	}
}
