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

package instrument_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/instrument"
	"github.com/nlpodyssey/agentops-go/tracing"
	"github.com/nlpodyssey/agentops-go/tracing/tracingtesting"
)

type m = map[string]any

// setupSession prepares the testing processor and opens a session trace.
func setupSession(t *testing.T) context.Context {
	t.Helper()
	tracingtesting.Setup(t)

	ctx, tc := tracing.StartTrace(t.Context(), tracing.TraceParams{Name: "test"})
	t.Cleanup(func() { tc.End(ctx, nil) })
	return ctx
}

func TestOperation(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Operation(func(_ context.Context, in string) (string, error) {
		return in + "!", nil
	}, instrument.WithName("exclaim"))

	out, err := wrapped(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)

	assert.Equal(t, []m{
		{
			"workflow_name": "test",
			"children": []m{
				{
					"kind":   "operation",
					"name":   "exclaim",
					"status": "Success",
					"attributes": m{
						"operation.name":            "exclaim",
						"agentops.operation.input":  "hi",
						"agentops.operation.output": "hi!",
					},
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, false, false, false))
}

func TestNestedWrappers(t *testing.T) {
	ctx := setupSession(t)

	tool := instrument.Tool(func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}, instrument.WithName("double"), instrument.WithoutInputCapture(), instrument.WithoutOutputCapture())

	op := instrument.Operation(func(ctx context.Context, n int) (int, error) {
		return tool(ctx, n)
	}, instrument.WithName("compute"), instrument.WithoutInputCapture(), instrument.WithoutOutputCapture())

	flow := instrument.Workflow(func(ctx context.Context, n int) (int, error) {
		return op(ctx, n)
	}, instrument.WithName("pipeline"), instrument.WithoutInputCapture(), instrument.WithoutOutputCapture())

	out, err := flow(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	assert.Equal(t, []m{
		{
			"workflow_name": "test",
			"children": []m{
				{
					"kind":       "workflow",
					"name":       "pipeline",
					"status":     "Success",
					"attributes": m{"operation.name": "pipeline"},
					"children": []m{
						{
							"kind":       "operation",
							"name":       "compute",
							"status":     "Success",
							"attributes": m{"operation.name": "compute"},
							"children": []m{
								{
									"kind":       "tool",
									"name":       "double",
									"status":     "Success",
									"attributes": m{"operation.name": "double"},
								},
							},
						},
					},
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, false, false, false))
}

func TestErrorTransparency(t *testing.T) {
	ctx := setupSession(t)

	errBoom := errors.New("boom")
	wrapped := instrument.Tool(func(context.Context, int) (int, error) {
		return 0, errBoom
	}, instrument.WithName("explode"))

	out, err := wrapped(ctx, 7)
	assert.Equal(t, 0, out)
	require.ErrorIs(t, err, errBoom)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "boom", message)

	// No output is recorded on failure.
	_, hasOutput := spans[0].Attributes()[tracing.OutputAttrKey(tracing.KindTool)]
	assert.False(t, hasOutput)
}

func TestPanicTransparency(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Operation(func(context.Context, int) (int, error) {
		panic("kaboom")
	}, instrument.WithName("volatile"))

	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = wrapped(ctx, 1)
	})

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsEnded())

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "panic: kaboom", message)
}

func TestToolCost(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Tool(func(_ context.Context, q string) (string, error) {
		return strings.ToUpper(q), nil
	}, instrument.WithName("search"), instrument.WithCost(0.25))

	_, err := wrapped(ctx, "query")
	require.NoError(t, err)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	assert.Equal(t, 0.25, spans[0].Attributes()[tracing.AttrToolCost])
}

func TestGuardrailDirection(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Guardrail(func(_ context.Context, text string) (bool, error) {
		return !strings.Contains(text, "forbidden"), nil
	}, instrument.WithName("moderation"), instrument.WithDirection(instrument.GuardrailInput))

	ok, err := wrapped(ctx, "hello")
	require.NoError(t, err)
	assert.True(t, ok)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.KindGuardrail, spans[0].Kind())
	assert.Equal(t, "input", spans[0].Attributes()[tracing.AttrGuardrailSpec])
}

func TestForAgentSiblingSpans(t *testing.T) {
	ctx := setupSession(t)

	agent := instrument.ForAgent("researcher", func(_ context.Context, q string) (string, error) {
		return "answer to " + q, nil
	}, instrument.WithoutInputCapture(), instrument.WithoutOutputCapture())

	_, err := agent(ctx, "first")
	require.NoError(t, err)
	_, err = agent(ctx, "second")
	require.NoError(t, err)

	// Two calls through the same wrapper yield two sibling agent spans.
	assert.Equal(t, []m{
		{
			"workflow_name": "test",
			"children": []m{
				{
					"kind":   "agent",
					"name":   "researcher",
					"status": "Success",
					"attributes": m{
						"operation.name":       "researcher",
						"agentops.entity.name": "researcher",
					},
				},
				{
					"kind":   "agent",
					"name":   "researcher",
					"status": "Success",
					"attributes": m{
						"operation.name":       "researcher",
						"agentops.entity.name": "researcher",
					},
				},
			},
		},
	}, tracingtesting.FetchNormalizedSpans(t, false, false, false))
}

func TestCustomAttribute(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.LLM(func(context.Context, string) (string, error) {
		return "ok", nil
	}, instrument.WithName("completion"), instrument.WithAttribute("gen_ai.request.model", "gpt-4o"))

	_, err := wrapped(ctx, "prompt")
	require.NoError(t, err)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	assert.Equal(t, "gpt-4o", spans[0].Attributes()["gen_ai.request.model"])
	assert.Equal(t, "prompt", spans[0].Attributes()[tracing.InputAttrKey(tracing.KindLLM)])
}

func TestSession(t *testing.T) {
	tracingtesting.Setup(t)
	ctx := t.Context()

	wrapped := instrument.Session(func(_ context.Context, in string) (string, error) {
		return in + " done", nil
	}, instrument.WithName("batch_job"), instrument.WithTags([]string{"nightly"}))

	out, err := wrapped(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "work done", out)

	traces := tracingtesting.FetchTraces()
	require.Len(t, traces, 1)
	assert.Equal(t, "batch_job", traces[0].Name())
	assert.Equal(t, map[string]string{"nightly": "true"}, traces[0].Tags())

	root := traces[0].RootSpan()
	require.True(t, root.IsEnded())

	status, _ := root.Status()
	assert.Equal(t, tracing.StatusSuccess, status)

	attributes := root.Attributes()
	assert.Equal(t, "work", attributes[tracing.InputAttrKey(tracing.KindSession)])
	assert.Equal(t, "work done", attributes[tracing.OutputAttrKey(tracing.KindSession)])
	assert.Equal(t, "Success", attributes[tracing.AttrSessionEndState])
}

func TestSessionError(t *testing.T) {
	tracingtesting.Setup(t)
	ctx := t.Context()

	errBoom := errors.New("boom")
	wrapped := instrument.Session(func(context.Context, string) (string, error) {
		return "", errBoom
	}, instrument.WithName("batch_job"))

	_, err := wrapped(ctx, "work")
	require.ErrorIs(t, err, errBoom)

	traces := tracingtesting.FetchTraces()
	require.Len(t, traces, 1)

	status, message := traces[0].RootSpan().Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "boom", message)
}

func TestWrapperWithoutActiveTrace(t *testing.T) {
	tracingtesting.Setup(t)
	ctx := t.Context()

	wrapped := instrument.Operation(func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	}, instrument.WithName("increment"))

	// Without a trace the span is a no-op, but the function still runs.
	out, err := wrapped(ctx, 41)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	tracingtesting.RequireNoTraces(t)
}

func shout(_ context.Context, in string) (string, error) {
	return strings.ToUpper(in), nil
}

func TestDeducedSpanName(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Operation(shout)
	_, err := wrapped(ctx, "hi")
	require.NoError(t, err)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	assert.Equal(t, "shout", spans[0].Name())
}
