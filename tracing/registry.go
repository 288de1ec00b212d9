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
	"log/slog"
	"sync"
)

// Registry tracks traces that have been started but not yet finished, so
// they can be looked up by ID and force-ended at shutdown.
type Registry struct {
	mu   sync.Mutex
	open map[string]Trace
}

func NewRegistry() *Registry {
	return &Registry{open: make(map[string]Trace)}
}

// Register records trace as open. No-op traces are never registered.
func (r *Registry) Register(trace Trace) {
	if trace == nil {
		return
	}
	if _, isNoOp := trace.(*NoOpTrace); isNoOp {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.open[trace.TraceID()]; exists {
		Logger().Warn("Trace already registered", slog.String("ID", trace.TraceID()))
		return
	}
	r.open[trace.TraceID()] = trace
}

// Lookup returns the open trace with the given ID, if any.
func (r *Registry) Lookup(traceID string) (Trace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trace, ok := r.open[traceID]
	return trace, ok
}

// Deregister removes the trace with the given ID without finishing it,
// reporting whether it was present.
func (r *Registry) Deregister(traceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.open[traceID]; !ok {
		return false
	}
	delete(r.open, traceID)
	return true
}

// End finishes the open trace with the given ID, recording state as its end
// state, and reports whether such a trace existed. Ending the same trace
// twice is safe: the second call finds nothing.
func (r *Registry) End(ctx context.Context, traceID string, state any) bool {
	r.mu.Lock()
	trace, ok := r.open[traceID]
	if ok {
		delete(r.open, traceID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := trace.Finish(ctx, state, false); err != nil {
		Logger().Error("Failed to finish trace",
			slog.String("ID", traceID), slog.String("error", err.Error()))
	}
	return true
}

// EndAll finishes every open trace with the given end state.
// It returns the number of traces ended.
func (r *Registry) EndAll(ctx context.Context, state any) int {
	r.mu.Lock()
	open := r.open
	r.open = make(map[string]Trace)
	r.mu.Unlock()

	for id, trace := range open {
		if err := trace.Finish(ctx, state, false); err != nil {
			Logger().Error("Failed to finish trace",
				slog.String("ID", id), slog.String("error", err.Error()))
		}
	}
	return len(open)
}

// OpenCount returns the number of traces currently open.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry used by StartTrace and
// EndAllTraces.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
