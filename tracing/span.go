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
	"sync"
	"time"
)

// SpanKind classifies the unit of work a span records.
type SpanKind string

const (
	KindSession   SpanKind = "session"
	KindAgent     SpanKind = "agent"
	KindOperation SpanKind = "operation"
	// KindTask is semantically identical to KindOperation; both labels are
	// kept so exported spans preserve whichever the instrumented code used.
	KindTask      SpanKind = "task"
	KindWorkflow  SpanKind = "workflow"
	KindTool      SpanKind = "tool"
	KindGuardrail SpanKind = "guardrail"
	KindLLM       SpanKind = "llm"
)

// Semantic attribute keys carried on exported spans.
const (
	AttrSpanKind        = "agentops.span.kind"
	AttrEntityName      = "agentops.entity.name"
	AttrOperationName   = "operation.name"
	AttrToolCost        = "gen_ai.usage.total_cost"
	AttrGuardrailSpec   = "agentops.guardrail.spec"
	AttrSessionEndState = "agentops.session.end_state"
	AttrSessionTags     = "agentops.session.tags"
)

// InputAttrKey returns the attribute key under which a wrapped callable's
// input is recorded for the given span kind.
func InputAttrKey(kind SpanKind) string {
	return fmt.Sprintf("agentops.%s.input", kind)
}

// OutputAttrKey returns the attribute key under which a wrapped callable's
// output is recorded for the given span kind.
func OutputAttrKey(kind SpanKind) string {
	return fmt.Sprintf("agentops.%s.output", kind)
}

// A Span is one timed unit of recorded work.
type Span interface {
	// Run calls the given function with this Span started and marked
	// current, finishing it on every exit path. The function's error (or
	// panic) is recorded as the span's Error status and propagated to the
	// caller unchanged.
	Run(context.Context, func(context.Context, Span) error) error

	// Start the span.
	// If markAsCurrent is true, the span is pushed onto the context scope.
	Start(ctx context.Context, markAsCurrent bool) error

	// Finish the span. Finishing an already-finished span is a no-op.
	// If resetCurrent is true, the scope state from Start is restored.
	Finish(ctx context.Context, resetCurrent bool) error

	TraceID() string
	SpanID() string
	ParentID() string
	Kind() SpanKind
	Name() string

	// SetAttribute records a custom attribute. Recording never fails;
	// unserializable values degrade to a type placeholder at export time.
	SetAttribute(key string, value any)
	Attributes() map[string]any

	// SetStatus applies a terminal status. Only the first transition away
	// from StatusUnset sticks; later calls are ignored, so racing exit
	// paths cannot overwrite each other.
	SetStatus(status SpanStatus, message string)
	Status() (SpanStatus, string)

	StartedAt() time.Time
	EndedAt() time.Time
	IsEnded() bool

	// Export the span as a dictionary.
	Export() map[string]any
}

// NoOpSpan is a no-op span that will not be recorded.
type NoOpSpan struct {
	kind       SpanKind
	name       string
	scopeToken *ScopeToken
}

func NewNoOpSpan(kind SpanKind, name string) *NoOpSpan {
	return &NoOpSpan{kind: kind, name: name}
}

func (s *NoOpSpan) Run(ctx context.Context, fn func(context.Context, Span) error) error {
	ctx = ContextWithClonedOrNewScope(ctx)
	if err := s.Start(ctx, true); err != nil {
		return err
	}
	defer func() {
		_ = s.Finish(ctx, true)
	}()
	return fn(ctx, s)
}

func (s *NoOpSpan) Start(ctx context.Context, markAsCurrent bool) error {
	if markAsCurrent {
		s.scopeToken = PushSpanToContextScope(ctx, s)
	}
	return nil
}

func (s *NoOpSpan) Finish(ctx context.Context, resetCurrent bool) error {
	if resetCurrent && s.scopeToken != nil {
		PopSpanFromContextScope(ctx, s.scopeToken)
		s.scopeToken = nil
	}
	return nil
}

func (s *NoOpSpan) TraceID() string              { return "no-op" }
func (s *NoOpSpan) SpanID() string               { return "no-op" }
func (s *NoOpSpan) ParentID() string             { return "" }
func (s *NoOpSpan) Kind() SpanKind               { return s.kind }
func (s *NoOpSpan) Name() string                 { return s.name }
func (s *NoOpSpan) SetAttribute(string, any)     {}
func (s *NoOpSpan) Attributes() map[string]any   { return nil }
func (s *NoOpSpan) SetStatus(SpanStatus, string) {}
func (s *NoOpSpan) Status() (SpanStatus, string) { return StatusUnset, "" }
func (s *NoOpSpan) StartedAt() time.Time         { return time.Time{} }
func (s *NoOpSpan) EndedAt() time.Time           { return time.Time{} }
func (s *NoOpSpan) IsEnded() bool                { return false }
func (s *NoOpSpan) Export() map[string]any       { return nil }

// SpanImpl is a span that will be recorded by the tracing library.
type SpanImpl struct {
	traceID  string
	spanID   string
	parentID string
	kind     SpanKind
	name     string

	mu            sync.Mutex
	attributes    map[string]any
	status        SpanStatus
	statusMessage string
	startedAt     time.Time
	endedAt       time.Time

	scopeToken *ScopeToken
	processor  Processor
}

func NewSpanImpl(
	traceID string,
	spanID string,
	parentID string,
	kind SpanKind,
	name string,
	processor Processor,
) *SpanImpl {
	if spanID == "" {
		spanID = GenSpanID()
	}
	return &SpanImpl{
		traceID:   traceID,
		spanID:    spanID,
		parentID:  parentID,
		kind:      kind,
		name:      name,
		processor: processor,
	}
}

func (s *SpanImpl) Run(ctx context.Context, fn func(context.Context, Span) error) (err error) {
	ctx = ContextWithClonedOrNewScope(ctx)

	if e := s.Start(ctx, true); e != nil {
		// Telemetry failures must not keep the wrapped body from running.
		Logger().Error("Failed to start span", slog.String("error", e.Error()))
	}

	defer func() {
		if r := recover(); r != nil {
			s.SetStatus(StatusError, fmt.Sprintf("panic: %v", r))
			s.finishLogged(ctx)
			panic(r)
		}
		if err != nil {
			s.SetStatus(StatusError, err.Error())
		} else {
			s.SetStatus(StatusSuccess, "")
		}
		s.finishLogged(ctx)
	}()

	return fn(ctx, s)
}

func (s *SpanImpl) finishLogged(ctx context.Context) {
	if e := s.Finish(ctx, true); e != nil {
		Logger().Error("Failed to finish span", slog.String("error", e.Error()))
	}
}

func (s *SpanImpl) Start(ctx context.Context, markAsCurrent bool) error {
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		s.mu.Unlock()
		Logger().Warn("Span already started", slog.String("ID", s.spanID))
		return nil
	}
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.processor.OnSpanStart(ctx, s); err != nil {
		return err
	}

	if markAsCurrent {
		s.scopeToken = PushSpanToContextScope(ctx, s)
	}
	return nil
}

func (s *SpanImpl) Finish(ctx context.Context, resetCurrent bool) error {
	s.mu.Lock()
	if !s.endedAt.IsZero() {
		s.mu.Unlock()
		return nil
	}
	s.endedAt = time.Now()
	s.mu.Unlock()

	err := s.processor.OnSpanEnd(ctx, s)

	if resetCurrent && s.scopeToken != nil {
		PopSpanFromContextScope(ctx, s.scopeToken)
		s.scopeToken = nil
	}
	return err
}

func (s *SpanImpl) TraceID() string  { return s.traceID }
func (s *SpanImpl) SpanID() string   { return s.spanID }
func (s *SpanImpl) ParentID() string { return s.parentID }
func (s *SpanImpl) Kind() SpanKind   { return s.kind }
func (s *SpanImpl) Name() string     { return s.name }

func (s *SpanImpl) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attributes == nil {
		s.attributes = make(map[string]any)
	}
	s.attributes[key] = value
}

func (s *SpanImpl) Attributes() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attributes == nil {
		return nil
	}
	return maps.Clone(s.attributes)
}

func (s *SpanImpl) SetStatus(status SpanStatus, message string) {
	if status == StatusUnset {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusUnset {
		return
	}
	s.status = status
	s.statusMessage = message
}

func (s *SpanImpl) Status() (SpanStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusMessage
}

func (s *SpanImpl) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *SpanImpl) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

func (s *SpanImpl) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.endedAt.IsZero()
}

func (s *SpanImpl) Export() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parentID any
	if s.parentID != "" {
		parentID = s.parentID
	}
	var startedAt any
	if !s.startedAt.IsZero() {
		startedAt = s.startedAt.Format(time.RFC3339Nano)
	}
	var endedAt any
	if !s.endedAt.IsZero() {
		endedAt = s.endedAt.Format(time.RFC3339Nano)
	}
	var statusMessage any
	if s.statusMessage != "" {
		statusMessage = s.statusMessage
	}
	var attributes map[string]any
	if len(s.attributes) > 0 {
		attributes = maps.Clone(s.attributes)
	}

	return map[string]any{
		"object":         "trace.span",
		"id":             s.spanID,
		"trace_id":       s.traceID,
		"parent_id":      parentID,
		"kind":           string(s.kind),
		"name":           s.name,
		"started_at":     startedAt,
		"ended_at":       endedAt,
		"status":         s.status.String(),
		"status_message": statusMessage,
		"attributes":     attributes,
	}
}
