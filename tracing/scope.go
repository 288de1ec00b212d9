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

type scopeContextKey struct{}

// Scope tracks the active trace and the stack of active spans for one
// logical flow of control. A Scope travels inside a context.Context; flows
// that must not observe each other's current span get a cloned Scope via
// ContextWithClonedOrNewScope.
type Scope struct {
	mu      sync.Mutex
	trace   Trace
	frames  []scopeFrame
	frameID uint64
}

type scopeFrame struct {
	id   uint64
	span Span
}

// ScopeToken identifies one PushSpan call. Passing it back to PopSpan
// restores exactly the state that was active before the matching push.
type ScopeToken struct {
	scope *Scope
	id    uint64
}

func (s *Scope) clone() *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([]scopeFrame, len(s.frames))
	copy(frames, s.frames)
	return &Scope{
		trace:   s.trace,
		frames:  frames,
		frameID: s.frameID,
	}
}

// ContextWithClonedOrNewScope returns a context derived from ctx with a
// Scope value set. If a Scope is already present in the given context, the
// new context will contain its clone (new instance, same values), otherwise
// a new Scope is created and set.
func ContextWithClonedOrNewScope(ctx context.Context) context.Context {
	if scope, ok := ScopeFromContext(ctx); ok {
		return context.WithValue(ctx, scopeContextKey{}, scope.clone())
	}
	return context.WithValue(ctx, scopeContextKey{}, new(Scope))
}

func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeContextKey{}).(*Scope)
	return scope, ok
}

// GetCurrentSpanFromContextScope returns the span at the top of the scope's
// stack, or nil when no span is active in this flow.
func GetCurrentSpanFromContextScope(ctx context.Context) Span {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return nil
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if len(scope.frames) == 0 {
		return nil
	}
	return scope.frames[len(scope.frames)-1].span
}

// PushSpanToContextScope makes span the current span for this flow and
// returns a token that restores the previous state when passed to
// PopSpanFromContextScope. Returns nil when the context carries no Scope.
func PushSpanToContextScope(ctx context.Context, span Span) *ScopeToken {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return nil
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	scope.frameID++
	scope.frames = append(scope.frames, scopeFrame{id: scope.frameID, span: span})
	return &ScopeToken{scope: scope, id: scope.frameID}
}

// PopSpanFromContextScope undoes the push identified by token.
//
// Pushes and pops follow stack discipline. A token that is not at the top
// of the stack means some intervening pop was skipped: the stack is
// unwound through the token's frame so the nearest surviving ancestor
// becomes current. A token whose frame is gone entirely (double pop) is a
// no-op. Both cases are programming errors inside the instrumentation and
// are logged, never surfaced to the host application.
func PopSpanFromContextScope(ctx context.Context, token *ScopeToken) {
	if token == nil || token.scope == nil {
		return
	}
	scope := token.scope
	scope.mu.Lock()
	defer scope.mu.Unlock()

	for i := len(scope.frames) - 1; i >= 0; i-- {
		if scope.frames[i].id == token.id {
			if i != len(scope.frames)-1 {
				Logger().Warn("Out-of-order span scope pop, restoring nearest ancestor",
					slog.Uint64("token", token.id))
			}
			scope.frames = scope.frames[:i]
			return
		}
	}
	Logger().Warn("Stale span scope token, ignoring pop", slog.Uint64("token", token.id))
}

// GetCurrentTraceFromContextScope returns the trace marked current for this
// flow, if any.
func GetCurrentTraceFromContextScope(ctx context.Context) Trace {
	scope, ok := ScopeFromContext(ctx)
	if !ok {
		return nil
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	return scope.trace
}

// SetCurrentTraceToContextScope marks trace as current for this flow and
// returns the previously current trace.
func SetCurrentTraceToContextScope(ctx context.Context, trace Trace) (previousTrace Trace) {
	scope, ok := ScopeFromContext(ctx)
	if ok {
		scope.mu.Lock()
		defer scope.mu.Unlock()
		previousTrace = scope.trace
		scope.trace = trace
	}
	return previousTrace
}
