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
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"strings"
	"sync"
)

// A Trace is the root-level instrumented flow, usually a whole session.
// It owns a root span of session kind under which every other span of the
// flow is parented.
type Trace interface {
	// Run calls the given function with this Trace started and marked
	// current, ending it on every exit path. The trace end state is
	// derived from the function's outcome.
	Run(context.Context, func(context.Context, Trace) error) error

	// Start the trace.
	// If markAsCurrent is true, the trace and its root span become current
	// in the context scope.
	Start(ctx context.Context, markAsCurrent bool) error

	// Finish the trace, recording the given end state on the root span.
	// Finishing an already-finished trace is a no-op.
	// If resetCurrent is true, the scope state from Start is restored.
	Finish(ctx context.Context, state any, resetCurrent bool) error

	TraceID() string
	Name() string
	RootSpan() Span
	Tags() map[string]string

	// Export the trace as a dictionary.
	Export() map[string]any
}

// NoOpTrace is a no-op trace that will not be recorded.
type NoOpTrace struct {
	rootSpan      *NoOpSpan
	previousTrace Trace
	resetPrevious bool
}

func NewNoOpTrace() *NoOpTrace {
	return &NoOpTrace{rootSpan: NewNoOpSpan(KindSession, "no-op")}
}

func (t *NoOpTrace) Run(ctx context.Context, fn func(context.Context, Trace) error) error {
	ctx = ContextWithClonedOrNewScope(ctx)
	if err := t.Start(ctx, true); err != nil {
		return err
	}
	defer func() {
		_ = t.Finish(ctx, nil, true)
	}()
	return fn(ctx, t)
}

func (t *NoOpTrace) Start(ctx context.Context, markAsCurrent bool) error {
	if markAsCurrent {
		t.previousTrace = SetCurrentTraceToContextScope(ctx, t)
		t.resetPrevious = true
		return t.rootSpan.Start(ctx, true)
	}
	return nil
}

func (t *NoOpTrace) Finish(ctx context.Context, state any, resetCurrent bool) error {
	if resetCurrent && t.resetPrevious {
		_ = t.rootSpan.Finish(ctx, true)
		SetCurrentTraceToContextScope(ctx, t.previousTrace)
		t.previousTrace = nil
		t.resetPrevious = false
	}
	return nil
}

func (t *NoOpTrace) TraceID() string         { return "no-op" }
func (t *NoOpTrace) Name() string            { return "no-op" }
func (t *NoOpTrace) RootSpan() Span          { return t.rootSpan }
func (t *NoOpTrace) Tags() map[string]string { return nil }
func (t *NoOpTrace) Export() map[string]any  { return nil }

// TraceImpl is a trace that will be recorded by the tracing library.
type TraceImpl struct {
	traceID  string
	name     string
	tags     map[string]string
	metadata map[string]any
	rootSpan *SpanImpl

	mu       sync.Mutex
	started  bool
	finished bool

	previousTrace Trace
	resetPrevious bool

	processor Processor
}

func NewTraceImpl(
	name string,
	traceID string,
	tags map[string]string,
	metadata map[string]any,
	processor Processor,
) *TraceImpl {
	if traceID == "" {
		traceID = GenTraceID()
	}
	rootSpan := NewSpanImpl(traceID, "", "", KindSession, name, processor)
	rootSpan.SetAttribute(AttrSpanKind, string(KindSession))
	for k, v := range resourceAttributes() {
		rootSpan.SetAttribute(k, v)
	}
	if len(tags) > 0 {
		rootSpan.SetAttribute(AttrSessionTags, tags)
	}
	for k, v := range metadata {
		rootSpan.SetAttribute(k, v)
	}
	return &TraceImpl{
		traceID:   traceID,
		name:      name,
		tags:      tags,
		metadata:  metadata,
		rootSpan:  rootSpan,
		processor: processor,
	}
}

// resourceAttributes snapshots the host environment once per trace root.
func resourceAttributes() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"host.name":               hostname,
		"process.pid":             os.Getpid(),
		"os.type":                 runtime.GOOS,
		"process.runtime.name":    "go",
		"process.runtime.version": runtime.Version(),
		"telemetry.sdk.name":      "agentops-go",
		"telemetry.sdk.version":   Version,
	}
}

// Version is the SDK version reported in trace resource attributes.
const Version = "0.1.0"

func (t *TraceImpl) Run(ctx context.Context, fn func(context.Context, Trace) error) (err error) {
	ctx = ContextWithClonedOrNewScope(ctx)

	if e := t.Start(ctx, true); e != nil {
		Logger().Error("Failed to start trace", slog.String("error", e.Error()))
	}

	defer func() {
		if r := recover(); r != nil {
			t.rootSpan.SetStatus(StatusError, fmt.Sprintf("panic: %v", r))
			t.finishLogged(ctx, StatusError)
			panic(r)
		}
		if err != nil {
			t.rootSpan.SetStatus(StatusError, err.Error())
			t.finishLogged(ctx, StatusError)
		} else {
			t.finishLogged(ctx, StatusSuccess)
		}
	}()

	return fn(ctx, t)
}

func (t *TraceImpl) finishLogged(ctx context.Context, state any) {
	if e := t.Finish(ctx, state, true); e != nil {
		Logger().Error("Failed to finish trace", slog.String("error", e.Error()))
	}
}

func (t *TraceImpl) Start(ctx context.Context, markAsCurrent bool) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		Logger().Warn("Trace already started", slog.String("ID", t.traceID))
		return nil
	}
	t.started = true
	t.mu.Unlock()

	if err := t.processor.OnTraceStart(ctx, t); err != nil {
		return err
	}

	if markAsCurrent {
		t.previousTrace = SetCurrentTraceToContextScope(ctx, t)
		t.resetPrevious = true
	}
	return t.rootSpan.Start(ctx, markAsCurrent)
}

func (t *TraceImpl) Finish(ctx context.Context, state any, resetCurrent bool) error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return nil
	}
	if !t.started {
		t.mu.Unlock()
		Logger().Warn("Finishing a trace that was never started", slog.String("ID", t.traceID))
		return nil
	}
	t.finished = true
	t.mu.Unlock()

	status := NormalizeEndState(state)
	t.rootSpan.SetStatus(status, "")
	recorded, _ := t.rootSpan.Status()
	t.rootSpan.SetAttribute(AttrSessionEndState, endStateLabel(recorded))

	spanErr := t.rootSpan.Finish(ctx, resetCurrent)
	traceErr := t.processor.OnTraceEnd(ctx, t)

	if resetCurrent && t.resetPrevious {
		SetCurrentTraceToContextScope(ctx, t.previousTrace)
		t.previousTrace = nil
		t.resetPrevious = false
	}

	if spanErr != nil {
		return spanErr
	}
	return traceErr
}

func endStateLabel(s SpanStatus) string {
	if s == StatusUnset {
		return string(EndStateIndeterminate)
	}
	return s.String()
}

func (t *TraceImpl) TraceID() string { return t.traceID }
func (t *TraceImpl) Name() string    { return t.name }
func (t *TraceImpl) RootSpan() Span  { return t.rootSpan }

func (t *TraceImpl) Tags() map[string]string {
	if t.tags == nil {
		return nil
	}
	return maps.Clone(t.tags)
}

func (t *TraceImpl) Export() map[string]any {
	var tags map[string]string
	if len(t.tags) > 0 {
		tags = maps.Clone(t.tags)
	}
	var metadata map[string]any
	if len(t.metadata) > 0 {
		metadata = maps.Clone(t.metadata)
	}
	return map[string]any{
		"object":        "trace",
		"id":            t.traceID,
		"workflow_name": t.name,
		"tags":          tags,
		"metadata":      metadata,
	}
}

// NormalizeTags coerces the tag shapes accepted at trace creation into the
// canonical map form. A slice of labels becomes a set of "true"-valued
// entries, a single string becomes one such entry, and nil stays nil.
func NormalizeTags(tags any) map[string]string {
	switch v := tags.(type) {
	case nil:
		return nil
	case map[string]string:
		if len(v) == 0 {
			return nil
		}
		return maps.Clone(v)
	case []string:
		if len(v) == 0 {
			return nil
		}
		m := make(map[string]string, len(v))
		for _, tag := range v {
			if tag = strings.TrimSpace(tag); tag != "" {
				m[tag] = "true"
			}
		}
		return m
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil
		}
		return map[string]string{v: "true"}
	default:
		Logger().Warn("Unrecognized tags value, ignoring",
			slog.String("type", fmt.Sprintf("%T", tags)))
		return nil
	}
}
