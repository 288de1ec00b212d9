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

// Package spanstore persists finished traces and spans in a local database,
// useful for offline inspection and for environments without a backend.
package spanstore

import (
	"time"

	"github.com/nlpodyssey/agentops-go/tracing"
)

// SpanRecord is the flattened persisted form of a finished span.
type SpanRecord struct {
	SpanID        string
	TraceID       string
	ParentID      string
	Kind          string
	Name          string
	Status        string
	StatusMessage string
	StartedAt     time.Time
	EndedAt       time.Time
	Attributes    map[string]any
}

// RecordFromSpan flattens a finished span into a SpanRecord.
func RecordFromSpan(span tracing.Span) SpanRecord {
	status, message := span.Status()
	return SpanRecord{
		SpanID:        span.SpanID(),
		TraceID:       span.TraceID(),
		ParentID:      span.ParentID(),
		Kind:          string(span.Kind()),
		Name:          span.Name(),
		Status:        status.String(),
		StatusMessage: message,
		StartedAt:     span.StartedAt(),
		EndedAt:       span.EndedAt(),
		Attributes:    span.Attributes(),
	}
}
