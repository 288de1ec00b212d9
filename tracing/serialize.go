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
	"encoding/json"
	"fmt"
)

// Captured content larger than this is dropped instead of recorded.
const maxContentSize = 1_000_000

// SafeSerialize renders an arbitrary value as a JSON string for attribute
// capture. It never fails: values JSON cannot represent are recorded as a
// type placeholder, and oversized content yields an empty string.
func SafeSerialize(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		if len(s) > maxContentSize {
			Logger().Debug("Captured content exceeds size limit, not recording")
			return ""
		}
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T>", v)
	}
	if len(b) > maxContentSize {
		Logger().Debug("Captured content exceeds size limit, not recording")
		return ""
	}
	return string(b)
}
