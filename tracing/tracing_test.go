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

package tracing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/tracing"
	"github.com/nlpodyssey/agentops-go/tracing/tracingtesting"
)

type m = map[string]any

func TestSimpleTracing(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	x := tracing.NewTrace(tracing.TraceParams{Name: "test"})
	require.NoError(t, x.Start(ctx, false))

	span1 := tracing.NewSpan(ctx, tracing.SpanParams{
		Kind:   tracing.KindAgent,
		Name:   "agent_1",
		SpanID: "span_1",
		Parent: x,
	})
	require.NoError(t, span1.Start(ctx, false))

	span2 := tracing.NewSpan(ctx, tracing.SpanParams{
		Kind:   tracing.KindTool,
		Name:   "tool_1",
		SpanID: "span_2",
		Parent: span1,
	})
	require.NoError(t, span2.Start(ctx, false))
	require.NoError(t, span2.Finish(ctx, false))

	require.NoError(t, span1.Finish(ctx, false))
	require.NoError(t, x.Finish(ctx, nil, false))

	assert.Equal(t, []m{
		{
			"workflow_name": "test",
			"children": []m{
				{
					"id":     "span_1",
					"kind":   "agent",
					"name":   "agent_1",
					"status": "Unset",
					"children": []m{
						{
							"id":     "span_2",
							"kind":   "tool",
							"name":   "tool_1",
							"status": "Unset",
						},
					},
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, true, false, false))
}

func TestScopedTracingNesting(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(ctx context.Context, _ *tracing.TraceContext) error {
		return tracing.RunSpan(ctx, tracing.SpanParams{
			Kind:   tracing.KindOperation,
			Name:   "outer",
			SpanID: "span_outer",
		}, func(ctx context.Context, _ tracing.Span) error {
			return tracing.RunSpan(ctx, tracing.SpanParams{
				Kind:   tracing.KindTool,
				Name:   "inner",
				SpanID: "span_inner",
			}, func(context.Context, tracing.Span) error {
				return nil
			})
		})
	})
	require.NoError(t, err)

	assert.Equal(t, []m{
		{
			"workflow_name": "flow",
			"children": []m{
				{
					"id":     "span_outer",
					"kind":   "operation",
					"name":   "outer",
					"status": "Success",
					"children": []m{
						{
							"id":     "span_inner",
							"kind":   "tool",
							"name":   "inner",
							"status": "Success",
						},
					},
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, true, false, false))
}

func TestRunTraceError(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	errBoom := errors.New("boom")

	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(ctx context.Context, _ *tracing.TraceContext) error {
		return tracing.RunSpan(ctx, tracing.SpanParams{
			Kind:   tracing.KindOperation,
			Name:   "op",
			SpanID: "span_op",
		}, func(context.Context, tracing.Span) error {
			return errBoom
		})
	})
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, []m{
		{
			"workflow_name": "flow",
			"children": []m{
				{
					"id":             "span_op",
					"kind":           "operation",
					"name":           "op",
					"status":         "Error",
					"status_message": "boom",
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, true, false, false))

	traces := tracingtesting.FetchTraces()
	require.Len(t, traces, 1)
	status, message := traces[0].RootSpan().Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "boom", message)
}

func TestRunTracePanic(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(context.Context, *tracing.TraceContext) error {
			panic("kaboom")
		})
	})

	traces := tracingtesting.FetchTraces()
	require.Len(t, traces, 1)

	root := traces[0].RootSpan()
	require.True(t, root.IsEnded())

	status, message := root.Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "panic: kaboom", message)
	assert.Equal(t, "Error", root.Attributes()[tracing.AttrSessionEndState])
}

func TestEventOrder(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(ctx context.Context, _ *tracing.TraceContext) error {
		return tracing.RunSpan(ctx, tracing.SpanParams{
			Kind: tracing.KindOperation,
			Name: "op",
		}, func(context.Context, tracing.Span) error {
			return nil
		})
	})
	require.NoError(t, err)

	assert.Equal(t, []tracingtesting.SpanProcessorEvent{
		tracingtesting.TraceStart,
		tracingtesting.SpanStart, // root session span
		tracingtesting.SpanStart,
		tracingtesting.SpanEnd,
		tracingtesting.SpanEnd,
		tracingtesting.TraceEnd,
	}, tracingtesting.FetchEvents())
}

func TestDisabledTracing(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	tracing.SetTracingDisabled(true)
	t.Cleanup(func() { tracing.SetTracingDisabled(false) })

	ran := false
	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(ctx context.Context, _ *tracing.TraceContext) error {
		return tracing.RunSpan(ctx, tracing.SpanParams{
			Kind: tracing.KindOperation,
			Name: "op",
		}, func(context.Context, tracing.Span) error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)

	assert.True(t, ran, "wrapped code must still run while tracing is disabled")
	tracingtesting.RequireNoTraces(t)
}

func TestDisabledTraceParams(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow", Disabled: true}, func(context.Context, *tracing.TraceContext) error {
		return nil
	})
	require.NoError(t, err)

	tracingtesting.RequireNoTraces(t)
}

func TestSpanWithoutActiveTrace(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	span := tracing.NewSpan(ctx, tracing.SpanParams{Kind: tracing.KindTool, Name: "orphan"})
	assert.Equal(t, "no-op", span.SpanID())

	err := span.Run(ctx, func(context.Context, tracing.Span) error { return nil })
	require.NoError(t, err)

	tracingtesting.RequireNoSpans(t)
}

func TestCrossTraceParentRejected(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	other := tracing.NewTrace(tracing.TraceParams{Name: "other"})
	require.NoError(t, other.Start(ctx, false))

	err := tracing.RunTrace(ctx, tracing.TraceParams{Name: "flow"}, func(ctx context.Context, _ *tracing.TraceContext) error {
		span := tracing.NewSpan(ctx, tracing.SpanParams{
			Kind:   tracing.KindTool,
			Name:   "stray",
			Parent: other.RootSpan(),
		})
		assert.Equal(t, "no-op", span.SpanID())
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, other.Finish(ctx, nil, false))
}

func TestConcurrentTraces(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	run := func(traceName, spanName string) {
		_ = tracing.RunTrace(ctx, tracing.TraceParams{Name: traceName}, func(ctx context.Context, _ *tracing.TraceContext) error {
			return tracing.RunSpan(ctx, tracing.SpanParams{
				Kind: tracing.KindOperation,
				Name: spanName,
			}, func(context.Context, tracing.Span) error {
				return nil
			})
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); run("flow_1", "op_1") }()
	go func() { defer wg.Done(); run("flow_2", "op_2") }()
	wg.Wait()

	// Each flow gets its own scope: spans must land under their own trace.
	assert.ElementsMatch(t, []m{
		{
			"workflow_name": "flow_1",
			"children": []m{
				{"kind": "operation", "name": "op_1", "status": "Success"},
			},
		},
		{
			"workflow_name": "flow_2",
			"children": []m{
				{"kind": "operation", "name": "op_2", "status": "Success"},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, false, false, false))
}

func TestTraceTags(t *testing.T) {
	ctx := t.Context()
	tracingtesting.Setup(t)

	err := tracing.RunTrace(ctx, tracing.TraceParams{
		Name: "flow",
		Tags: []string{"prod", "batch"},
	}, func(context.Context, *tracing.TraceContext) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []m{
		{
			"workflow_name": "flow",
			"tags":          map[string]string{"prod": "true", "batch": "true"},
		},
	}, tracingtesting.FetchNormalizedSpans(t, true, false, false))
}
