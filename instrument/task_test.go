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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/instrument"
	"github.com/nlpodyssey/agentops-go/tracing"
	"github.com/nlpodyssey/agentops-go/tracing/tracingtesting"
)

func TestAsync(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Async(tracing.KindTask, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}, instrument.WithName("double"))

	task := wrapped(ctx, 21)
	result := task.Await()
	require.NoError(t, result.Error)
	assert.Equal(t, 42, result.Value)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	assert.Equal(t, tracing.KindTask, spans[0].Kind())
	assert.Equal(t, "double", spans[0].Name())

	status, _ := spans[0].Status()
	assert.Equal(t, tracing.StatusSuccess, status)

	// The task span is parented under the caller's current span, which here
	// is the session root.
	traces := tracingtesting.FetchTraces()
	require.Len(t, traces, 1)
	assert.Equal(t, traces[0].RootSpan().SpanID(), spans[0].ParentID())
}

func TestAsyncError(t *testing.T) {
	ctx := setupSession(t)

	errBoom := errors.New("boom")
	wrapped := instrument.Async(tracing.KindTask, func(context.Context, int) (int, error) {
		return 0, errBoom
	}, instrument.WithName("explode"))

	result := wrapped(ctx, 1).Await()
	require.ErrorIs(t, result.Error, errBoom)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "boom", message)
}

func TestAsyncCancellation(t *testing.T) {
	ctx := setupSession(t)

	started := make(chan struct{})
	wrapped := instrument.Async(tracing.KindTask, func(ctx context.Context, _ int) (int, error) {
		close(started)
		<-ctx.Done()
		// Returning no error after cancellation: the wrapper still records
		// the cancellation as the task's outcome.
		return 0, nil
	}, instrument.WithName("slow"))

	task := wrapped(ctx, 1)
	<-started
	task.Cancel()

	result := task.Await()
	require.ErrorIs(t, result.Error, context.Canceled)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsEnded())

	status, _ := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
}

func TestAsyncSiblingTasks(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Async(tracing.KindTask, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, instrument.WithName("unit"))

	first := wrapped(ctx, 1)
	second := wrapped(ctx, 2)
	require.NoError(t, first.Await().Error)
	require.NoError(t, second.Await().Error)

	// Concurrent tasks started from the same caller become siblings, both
	// parented under the session root.
	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 2)

	root := tracingtesting.FetchTraces()[0].RootSpan()
	assert.Equal(t, root.SpanID(), spans[0].ParentID())
	assert.Equal(t, root.SpanID(), spans[1].ParentID())
}
