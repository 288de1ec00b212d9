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
	"time"

	"github.com/nlpodyssey/agentops-go/asyncqueue"
	"github.com/nlpodyssey/agentops-go/asynctask"
	"github.com/nlpodyssey/agentops-go/tracing"
)

// Stream is the consumer handle returned by a StreamFunc wrapper. Values
// are read with Next; the producer runs in its own goroutine and its span
// ends when the producer returns or the stream is closed.
type Stream[T any] struct {
	queue  *asyncqueue.Queue[T]
	cancel context.CancelFunc
	task   *asynctask.TaskNoValue
}

// Next returns the next value from the stream. ok is false when the
// producer has finished and all values have been consumed, in which case
// err carries the producer's error, if any. A ctx expiry also ends the
// wait, without closing the stream.
func (s *Stream[T]) Next(ctx context.Context) (value T, ok bool, err error) {
	for {
		if v, got := s.queue.GetNoWait(); got {
			return v, true, nil
		}
		if s.queue.IsClosed() {
			// The producer may have enqueued a value between the read above
			// and the close check; closed queues keep their values readable.
			if v, got := s.queue.GetNoWait(); got {
				return v, true, nil
			}
			var zero T
			return zero, false, s.Err()
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, false, err
		}
		if v, got := s.queue.GetTimeout(50 * time.Millisecond); got {
			return v, true, nil
		}
	}
}

// Close cancels the producer and waits for it to finish, guaranteeing its
// span is ended. Closing an already-finished stream is harmless.
func (s *Stream[T]) Close() {
	s.cancel()
	s.task.Await()
}

// Err returns the producer's terminal error, or nil while it is running.
func (s *Stream[T]) Err() error {
	if !s.task.IsDone() {
		return nil
	}
	return s.task.Await().Error
}

// Collect drains the stream into a slice, returning the producer's error.
func (s *Stream[T]) Collect(ctx context.Context) ([]T, error) {
	var values []T
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return values, err
		}
		if !ok {
			return values, nil
		}
		values = append(values, v)
	}
}

// StreamFunc wraps a producer function so that each call starts a stream
// whose whole production runs inside a span of the given kind. The producer
// pushes values through emit; consumers read them via the returned Stream.
//
// The span ends with the producer: Success on a clean return, Error when
// the producer fails or the stream is closed before the producer is done.
// Producers must honor ctx cancellation for Close to take effect.
func StreamFunc[In, Out any](kind tracing.SpanKind, fn func(ctx context.Context, in In, emit func(Out) error) error, opts ...Option) func(context.Context, In) *Stream[Out] {
	cfg := newConfig(opts)
	name := cfg.name
	if name == "" {
		name = callableName(fn)
	}

	return func(ctx context.Context, in In) *Stream[Out] {
		ctx, cancel := context.WithCancel(ctx)
		queue := asyncqueue.New[Out]()

		task := asynctask.CreateTaskNoValue(ctx, func(ctx context.Context) error {
			defer queue.Close()

			span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: kind, Name: name})
			applyConfig(span, cfg)

			return span.Run(ctx, func(ctx context.Context, span tracing.Span) error {
				if cfg.captureInput {
					span.SetAttribute(tracing.InputAttrKey(kind), tracing.SafeSerialize(in))
				}

				var outputs []Out
				emit := func(v Out) error {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := queue.Put(v); err != nil {
						return err
					}
					if cfg.captureOutput {
						outputs = append(outputs, v)
					}
					return nil
				}

				err := fn(ctx, in, emit)
				if err == nil && ctx.Err() != nil {
					// Stream was closed while the producer was returning.
					err = ctx.Err()
				}
				if cfg.captureOutput && len(outputs) > 0 {
					span.SetAttribute(tracing.OutputAttrKey(kind), tracing.SafeSerialize(outputs))
				}
				return err
			})
		})

		return &Stream[Out]{queue: queue, cancel: cancel, task: task}
	}
}
