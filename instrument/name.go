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

package instrument

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/matteo-grella/dwarfreflect"
	"github.com/nlpodyssey/agentops-go/util/transforms"
)

// callableName deduces a span name from the wrapped function's symbol.
// It prefers DWARF debug info (go build default) and falls back to the
// runtime symbol table when the binary is stripped.
func callableName(fn any) string {
	if f, err := dwarfreflect.NewFunction(fn); err == nil {
		if name := f.GetBaseFunctionName(); name != "" {
			return transforms.TransformStringFunctionStyle(trimSymbolNoise(name))
		}
	}

	v := reflect.ValueOf(fn)
	if v.Kind() == reflect.Func {
		if rf := runtime.FuncForPC(v.Pointer()); rf != nil {
			name := rf.Name()
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			return transforms.TransformStringFunctionStyle(trimSymbolNoise(name))
		}
	}

	return "anonymous"
}

// trimSymbolNoise strips the method-value suffix and generic instantiation
// brackets the runtime appends to symbol names.
func trimSymbolNoise(name string) string {
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}
