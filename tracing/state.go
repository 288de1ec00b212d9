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
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/codes"
)

// SpanStatus is the canonical terminal state of a span or trace.
type SpanStatus int

const (
	StatusUnset SpanStatus = iota
	StatusSuccess
	StatusError
)

func (s SpanStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusError:
		return "Error"
	default:
		return "Unset"
	}
}

// EndState is the user-facing trace end-state vocabulary.
// It exists alongside SpanStatus and the OpenTelemetry status codes;
// NormalizeEndState maps all three onto SpanStatus.
type EndState string

const (
	EndStateSuccess       EndState = "Success"
	EndStateError         EndState = "Error"
	EndStateIndeterminate EndState = "Indeterminate"
)

// NormalizeEndState maps heterogeneous end-state inputs onto a SpanStatus.
//
// Accepted inputs: nil (the default, Success), a SpanStatus, an EndState,
// a free-form string matched case-insensitively, or an OpenTelemetry
// codes.Code. Unrecognized values degrade to StatusUnset rather than
// failing: an ambiguous recorded state beats a trace that never ends.
func NormalizeEndState(state any) SpanStatus {
	switch v := state.(type) {
	case nil:
		return StatusSuccess
	case SpanStatus:
		if v == StatusSuccess || v == StatusError {
			return v
		}
		return StatusUnset
	case EndState:
		return normalizeStateString(string(v))
	case string:
		return normalizeStateString(v)
	case codes.Code:
		switch v {
		case codes.Ok:
			return StatusSuccess
		case codes.Error:
			return StatusError
		default:
			return StatusUnset
		}
	default:
		Logger().Warn("Unrecognized end state, recording as unset",
			slog.String("type", fmt.Sprintf("%T", state)))
		return StatusUnset
	}
}

func normalizeStateString(s string) SpanStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "ok":
		return StatusSuccess
	case "error", "fail", "failure":
		return StatusError
	default:
		return StatusUnset
	}
}
