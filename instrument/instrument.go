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

// Package instrument wraps application callables so that every call is
// recorded as a span. Wrappers exist for plain functions, background tasks,
// generators (iter.Seq), and streams; all of them preserve the wrapped
// function's results and panics exactly.
package instrument

import (
	"github.com/nlpodyssey/agentops-go/tracing"
)

// GuardrailDirection says which side of an interaction a guardrail checks.
type GuardrailDirection string

const (
	GuardrailInput  GuardrailDirection = "input"
	GuardrailOutput GuardrailDirection = "output"
)

type config struct {
	name          string
	tags          any
	cost          *float64
	direction     GuardrailDirection
	captureInput  bool
	captureOutput bool
	attributes    map[string]any
}

func newConfig(opts []Option) config {
	c := config{
		captureInput:  true,
		captureOutput: true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option customizes a wrapper at creation time.
type Option func(*config)

// WithName overrides the span name deduced from the function symbol.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithTags attaches tags to the trace created by a Session wrapper.
// Accepts the same shapes as tracing.NormalizeTags.
func WithTags(tags any) Option {
	return func(c *config) { c.tags = tags }
}

// WithCost records a known total cost for a tool call.
func WithCost(cost float64) Option {
	return func(c *config) { c.cost = &cost }
}

// WithDirection records which side a guardrail checks.
func WithDirection(direction GuardrailDirection) Option {
	return func(c *config) { c.direction = direction }
}

// WithAttribute records a custom attribute on every span of the wrapper.
func WithAttribute(key string, value any) Option {
	return func(c *config) {
		if c.attributes == nil {
			c.attributes = make(map[string]any)
		}
		c.attributes[key] = value
	}
}

// WithoutInputCapture disables recording of the wrapped function's input.
func WithoutInputCapture() Option {
	return func(c *config) { c.captureInput = false }
}

// WithoutOutputCapture disables recording of the wrapped function's output.
func WithoutOutputCapture() Option {
	return func(c *config) { c.captureOutput = false }
}

// applyConfig records the wrapper's static attributes on a freshly created span.
func applyConfig(span tracing.Span, cfg config) {
	span.SetAttribute(tracing.AttrOperationName, span.Name())
	if cfg.cost != nil {
		span.SetAttribute(tracing.AttrToolCost, *cfg.cost)
	}
	if cfg.direction != "" {
		span.SetAttribute(tracing.AttrGuardrailSpec, string(cfg.direction))
	}
	for k, v := range cfg.attributes {
		span.SetAttribute(k, v)
	}
}
