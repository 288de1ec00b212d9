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

package spanstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlpodyssey/agentops-go/spanstore"
	"github.com/nlpodyssey/agentops-go/tracing"
)

func newTestStore(t *testing.T) *spanstore.SQLiteStore {
	t.Helper()

	store, err := spanstore.NewSQLiteStore(t.Context(), spanstore.SQLiteStoreParams{
		DBDataSourceName: filepath.Join(t.TempDir(), "spans.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundtrip(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	// The store is a tracing.Processor: driving a trace through it persists
	// the trace row and every finished span.
	trace := tracing.NewTraceImpl("flow", "trace_1", map[string]string{"env": "test"}, nil, store)
	require.NoError(t, trace.Start(ctx, false))

	span := tracing.NewSpanImpl("trace_1", "span_1", trace.RootSpan().SpanID(), tracing.KindTool, "fetch", store)
	require.NoError(t, span.Start(ctx, false))
	span.SetAttribute("query", "weather")
	span.SetStatus(tracing.StatusSuccess, "")
	require.NoError(t, span.Finish(ctx, false))

	require.NoError(t, trace.Finish(ctx, nil, false))

	records, err := store.SpansForTrace(ctx, "trace_1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Start order: the root session span first, then the tool span.
	root := records[0]
	assert.Equal(t, trace.RootSpan().SpanID(), root.SpanID)
	assert.Equal(t, "session", root.Kind)
	assert.Equal(t, "flow", root.Name)

	tool := records[1]
	assert.Equal(t, "span_1", tool.SpanID)
	assert.Equal(t, "trace_1", tool.TraceID)
	assert.Equal(t, trace.RootSpan().SpanID(), tool.ParentID)
	assert.Equal(t, "tool", tool.Kind)
	assert.Equal(t, "fetch", tool.Name)
	assert.Equal(t, "Success", tool.Status)
	assert.Equal(t, "weather", tool.Attributes["query"])
	assert.False(t, tool.StartedAt.IsZero())
	assert.False(t, tool.EndedAt.IsZero())
}

func TestSQLiteStoreSpanUpsert(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	record := spanstore.SpanRecord{
		SpanID:  "span_1",
		TraceID: "trace_1",
		Kind:    "tool",
		Name:    "fetch",
		Status:  "Unset",
	}
	require.NoError(t, store.SaveSpan(ctx, record))

	record.Status = "Error"
	record.StatusMessage = "boom"
	require.NoError(t, store.SaveSpan(ctx, record))

	records, err := store.SpansForTrace(ctx, "trace_1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Error", records[0].Status)
	assert.Equal(t, "boom", records[0].StatusMessage)
}

func TestSQLiteStoreUnknownTrace(t *testing.T) {
	ctx := t.Context()
	store := newTestStore(t)

	records, err := store.SpansForTrace(ctx, "trace_missing")
	require.NoError(t, err)
	assert.Empty(t, records)
}
