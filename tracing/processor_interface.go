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

import "context"

// Processor is the interface for processing traces and spans.
type Processor interface {
	// OnTraceStart is called when a trace is started.
	OnTraceStart(ctx context.Context, trace Trace) error

	// OnTraceEnd is called when a trace is finished.
	OnTraceEnd(ctx context.Context, trace Trace) error

	// OnSpanStart is called when a span is started.
	OnSpanStart(ctx context.Context, span Span) error

	// OnSpanEnd is called when a span is finished.
	// It should not block or raise exceptions.
	OnSpanEnd(ctx context.Context, span Span) error

	// Shutdown is called when the application stops.
	Shutdown(ctx context.Context) error

	// ForceFlush forces an immediate flush of all queued spans/traces.
	ForceFlush(ctx context.Context) error
}

// Exporter exports traces and spans. For example, could log them or send
// them to a backend.
type Exporter interface {
	// Export the given traces and spans to some destination.
	// Items is a sequence of Trace and Span values.
	Export(ctx context.Context, items []any) error
}
