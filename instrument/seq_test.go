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
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/instrument"
	"github.com/nlpodyssey/agentops-go/tracing"
	"github.com/nlpodyssey/agentops-go/tracing/tracingtesting"
	"github.com/nlpodyssey/agentops-go/util"
)

func countTo(_ context.Context, n int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range n {
			if !yield(i) {
				return
			}
		}
	}
}

func TestSeqExhaustion(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Seq(tracing.KindOperation, countTo, instrument.WithName("count"))

	var got []int
	for v := range wrapped(ctx, 3) {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsEnded())

	status, _ := spans[0].Status()
	assert.Equal(t, tracing.StatusSuccess, status)
	assert.Equal(t, "[0,1,2]", spans[0].Attributes()[tracing.OutputAttrKey(tracing.KindOperation)])
}

func TestSeqEarlyBreak(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Seq(tracing.KindOperation, countTo, instrument.WithName("count"))

	for v := range wrapped(ctx, 10) {
		if v == 1 {
			break
		}
	}

	// An abandoned generator never ran to completion: that is an error state.
	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsEnded())

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "iterator closed before exhaustion", message)
}

func TestSeqPanic(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Seq(tracing.KindOperation, func(context.Context, int) iter.Seq[int] {
		return func(yield func(int) bool) {
			yield(0)
			panic("kaboom")
		}
	}, instrument.WithName("volatile"))

	assert.PanicsWithValue(t, "kaboom", func() {
		for range wrapped(ctx, 1) {
			continue
		}
	})

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)
	require.True(t, spans[0].IsEnded())

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "panic: kaboom", message)
}

func TestSeqSpanOpensAtIteration(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.Seq(tracing.KindOperation, countTo, instrument.WithName("count"))

	// Creating the sequence must not open a span; only iterating does.
	seq := wrapped(ctx, 2)
	tracingtesting.RequireNoSpans(t)

	for range seq {
		continue
	}
	assert.Len(t, tracingtesting.FetchOrderedSpans(false), 1)
}

func TestSeqErrExhaustionWithoutError(t *testing.T) {
	ctx := setupSession(t)

	wrapped := instrument.SeqErr(tracing.KindOperation, func(_ context.Context, n int) util.SeqErr[int] {
		return util.SeqErrFunc(func(yield func(int) bool) error {
			for i := range n {
				if !yield(i) {
					return nil
				}
			}
			return nil
		})
	}, instrument.WithName("count"))

	result := wrapped(ctx, 2)

	var got []int
	for v := range result.Seq() {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1}, got)
	require.NoError(t, result.Error())

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)

	status, _ := spans[0].Status()
	assert.Equal(t, tracing.StatusSuccess, status)
}

func TestSeqErrTerminalError(t *testing.T) {
	ctx := setupSession(t)

	errBoom := errors.New("boom")

	wrapped := instrument.SeqErr(tracing.KindOperation, func(context.Context, int) util.SeqErr[int] {
		return util.SeqErrFunc(func(yield func(int) bool) error {
			yield(0)
			return errBoom
		})
	}, instrument.WithName("flaky"))

	result := wrapped(ctx, 1)
	for range result.Seq() {
		continue
	}
	require.ErrorIs(t, result.Error(), errBoom)

	spans := tracingtesting.FetchOrderedSpans(false)
	require.Len(t, spans, 1)

	status, message := spans[0].Status()
	assert.Equal(t, tracing.StatusError, status)
	assert.Equal(t, "boom", message)
}
