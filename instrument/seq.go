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
	"fmt"
	"iter"
	"log/slog"

	"github.com/nlpodyssey/agentops-go/tracing"
	"github.com/nlpodyssey/agentops-go/util"
)

// Seq wraps a generator-producing function so that each iteration of the
// returned sequence runs inside a span of the given kind. The span opens
// when iteration begins and ends when the sequence is exhausted, abandoned,
// or panics:
//
//   - exhaustion ends the span with Success and records the yielded values;
//   - an early break by the consumer ends the span with Error, since the
//     generator never ran to completion;
//   - a panic ends the span with Error and propagates.
//
// The range-over-func protocol guarantees the deferred finish runs in every
// one of these cases, even when the consumer breaks out of the loop.
func Seq[In, Out any](kind tracing.SpanKind, fn func(context.Context, In) iter.Seq[Out], opts ...Option) func(context.Context, In) iter.Seq[Out] {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) iter.Seq[Out] {
		return func(yield func(Out) bool) {
			span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: kind, Name: name})
			applyConfig(span, cfg)

			sctx := tracing.ContextWithClonedOrNewScope(ctx)
			if err := span.Start(sctx, true); err != nil {
				tracing.Logger().Error("Failed to start span", slog.String("error", err.Error()))
			}
			if cfg.captureInput {
				span.SetAttribute(tracing.InputAttrKey(kind), tracing.SafeSerialize(in))
			}

			var outputs []Out
			exhausted := false

			defer func() {
				if r := recover(); r != nil {
					span.SetStatus(tracing.StatusError, fmt.Sprintf("panic: %v", r))
					finishSpanLogged(sctx, span)
					panic(r)
				}
				if cfg.captureOutput && len(outputs) > 0 {
					span.SetAttribute(tracing.OutputAttrKey(kind), tracing.SafeSerialize(outputs))
				}
				if exhausted {
					span.SetStatus(tracing.StatusSuccess, "")
				} else {
					span.SetStatus(tracing.StatusError, "iterator closed before exhaustion")
				}
				finishSpanLogged(sctx, span)
			}()

			for v := range fn(sctx, in) {
				if cfg.captureOutput {
					outputs = append(outputs, v)
				}
				if !yield(v) {
					return
				}
			}
			exhausted = true
		}
	}
}

// SeqErr wraps a function producing a util.SeqErr, a sequence that reports
// a terminal error after exhaustion. Iteration runs inside a span like Seq;
// on exhaustion the span ends with Error if the sequence reports one, with
// Success otherwise.
func SeqErr[In, Out any](kind tracing.SpanKind, fn func(context.Context, In) util.SeqErr[Out], opts ...Option) func(context.Context, In) util.SeqErr[Out] {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) util.SeqErr[Out] {
		var inner util.SeqErr[Out]

		seq := func(yield func(Out) bool) {
			span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: kind, Name: name})
			applyConfig(span, cfg)

			sctx := tracing.ContextWithClonedOrNewScope(ctx)
			if err := span.Start(sctx, true); err != nil {
				tracing.Logger().Error("Failed to start span", slog.String("error", err.Error()))
			}
			if cfg.captureInput {
				span.SetAttribute(tracing.InputAttrKey(kind), tracing.SafeSerialize(in))
			}

			var outputs []Out
			exhausted := false

			defer func() {
				if r := recover(); r != nil {
					span.SetStatus(tracing.StatusError, fmt.Sprintf("panic: %v", r))
					finishSpanLogged(sctx, span)
					panic(r)
				}
				if cfg.captureOutput && len(outputs) > 0 {
					span.SetAttribute(tracing.OutputAttrKey(kind), tracing.SafeSerialize(outputs))
				}
				switch {
				case !exhausted:
					span.SetStatus(tracing.StatusError, "iterator closed before exhaustion")
				case inner.Error() != nil:
					span.SetStatus(tracing.StatusError, inner.Error().Error())
				default:
					span.SetStatus(tracing.StatusSuccess, "")
				}
				finishSpanLogged(sctx, span)
			}()

			inner = fn(sctx, in)
			for v := range inner.Seq() {
				if cfg.captureOutput {
					outputs = append(outputs, v)
				}
				if !yield(v) {
					return
				}
			}
			exhausted = true
		}

		return &instrumentedSeqErr[Out]{seq: seq, inner: &inner}
	}
}

type instrumentedSeqErr[T any] struct {
	seq   iter.Seq[T]
	inner *util.SeqErr[T]
}

func (s *instrumentedSeqErr[T]) Seq() iter.Seq[T] { return s.seq }

func (s *instrumentedSeqErr[T]) Error() error {
	if *s.inner == nil {
		return nil
	}
	return (*s.inner).Error()
}

func finishSpanLogged(ctx context.Context, span tracing.Span) {
	if err := span.Finish(ctx, true); err != nil {
		tracing.Logger().Error("Failed to finish span", slog.String("error", err.Error()))
	}
}
