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

package traceloop

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nlpodyssey/agentops-go/tracing"
	sdk "github.com/traceloop/go-openllmetry/traceloop-sdk"
)

// TracingProcessor implements tracing.Processor to send traces to Traceloop.
// Traces become Traceloop workflows; spans become tasks, with llm-kind spans
// additionally logged as prompt/completion pairs.
type TracingProcessor struct {
	client *sdk.Traceloop

	// Track workflows and tasks for parent-child relationships
	workflows map[string]*sdk.Workflow
	tasks     map[string]*sdk.Task
	llmSpans  map[string]*sdk.LLMSpan
	mu        sync.RWMutex
}

// ProcessorParams configuration for the Traceloop processor
type ProcessorParams struct {
	// Traceloop API key. Required - pass from main
	APIKey string
	// Traceloop Base URL. Defaults to api.traceloop.com
	BaseURL string
	// Optional metadata to attach to all workflows
	Metadata map[string]any
	// Optional tags to attach to all workflows
	Tags []string
}

// NewTracingProcessor creates a new Traceloop tracing processor
func NewTracingProcessor(ctx context.Context, params ProcessorParams) (*TracingProcessor, error) {
	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = "api.traceloop.com"
	}

	client, err := sdk.NewClient(ctx, sdk.Config{
		BaseURL: baseURL,
		APIKey:  params.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Traceloop client: %w", err)
	}

	return &TracingProcessor{
		client:    client,
		workflows: make(map[string]*sdk.Workflow),
		tasks:     make(map[string]*sdk.Task),
		llmSpans:  make(map[string]*sdk.LLMSpan),
	}, nil
}

// OnTraceStart implements tracing.Processor
func (p *TracingProcessor) OnTraceStart(ctx context.Context, trace tracing.Trace) error {
	if p.client == nil {
		fmt.Fprintf(os.Stderr, "Traceloop client not initialized, skipping trace export\n")
		return nil
	}

	workflowName := trace.Name()
	if workflowName == "" {
		workflowName = "Agent session"
	}

	attrs := sdk.WorkflowAttributes{
		Name:                  workflowName,
		AssociationProperties: map[string]string{},
	}
	for k, v := range trace.Tags() {
		attrs.AssociationProperties[k] = v
	}

	workflow := p.client.NewWorkflow(ctx, attrs)

	p.mu.Lock()
	p.workflows[trace.TraceID()] = workflow
	p.mu.Unlock()

	return nil
}

// OnTraceEnd implements tracing.Processor
func (p *TracingProcessor) OnTraceEnd(ctx context.Context, trace tracing.Trace) error {
	if p.client == nil {
		return nil
	}

	p.mu.Lock()
	workflow, exists := p.workflows[trace.TraceID()]
	if exists {
		delete(p.workflows, trace.TraceID())
	}
	p.mu.Unlock()

	if exists && workflow != nil {
		workflow.End()
	}

	return nil
}

// OnSpanStart implements tracing.Processor
func (p *TracingProcessor) OnSpanStart(ctx context.Context, span tracing.Span) error {
	if p.client == nil {
		return nil
	}

	if span.Kind() == tracing.KindSession {
		// The root session span is represented by the workflow itself.
		return nil
	}

	// Find parent workflow
	p.mu.RLock()
	workflow := p.workflows[span.TraceID()]
	p.mu.RUnlock()

	if workflow == nil {
		fmt.Fprintf(os.Stderr, "No workflow found for span, skipping: %s\n", span.SpanID())
		return nil
	}

	taskName := fmt.Sprintf("%s_%s", span.Kind(), span.Name())
	task := workflow.NewTask(taskName)

	p.mu.Lock()
	p.tasks[span.SpanID()] = task
	p.mu.Unlock()

	// For llm spans, start logging the prompt
	if span.Kind() == tracing.KindLLM {
		prompt := extractPrompt(span)
		if prompt != nil {
			llmSpan, err := task.LogPrompt(*prompt)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to log prompt: %v\n", err)
				return err
			}

			p.mu.Lock()
			p.llmSpans[span.SpanID()] = &llmSpan
			p.mu.Unlock()
		}
	}

	return nil
}

// OnSpanEnd implements tracing.Processor
func (p *TracingProcessor) OnSpanEnd(ctx context.Context, span tracing.Span) error {
	if p.client == nil {
		return nil
	}

	p.mu.Lock()
	task, taskExists := p.tasks[span.SpanID()]
	llmSpan, llmExists := p.llmSpans[span.SpanID()]
	if taskExists {
		delete(p.tasks, span.SpanID())
	}
	if llmExists {
		delete(p.llmSpans, span.SpanID())
	}
	p.mu.Unlock()

	// Log completion for llm spans
	if llmExists && llmSpan != nil && span.Kind() == tracing.KindLLM {
		completion := extractCompletion(span)
		usage := extractUsage(span)

		if completion != nil {
			llmSpan.LogCompletion(ctx, *completion, usage)
		}
	}

	// End the task
	if taskExists && task != nil {
		task.End()
	}

	return nil
}

// Shutdown implements tracing.Processor
func (p *TracingProcessor) Shutdown(ctx context.Context) error {
	if p.client != nil {
		p.client.Shutdown(ctx)
	}
	return nil
}

// ForceFlush implements tracing.Processor
func (p *TracingProcessor) ForceFlush(ctx context.Context) error {
	// Traceloop SDK handles flushing internally
	return nil
}

// Helper methods

func extractPrompt(span tracing.Span) *sdk.Prompt {
	attrs := span.Attributes()
	if attrs == nil {
		return nil
	}

	input, ok := attrs[tracing.InputAttrKey(tracing.KindLLM)].(string)
	if !ok || input == "" {
		return nil
	}

	prompt := &sdk.Prompt{
		Vendor: "agentops",
		Mode:   "chat",
		Messages: []sdk.Message{
			{
				Index:   0,
				Content: input,
				Role:    "user",
			},
		},
	}
	if model, ok := attrs["gen_ai.request.model"].(string); ok {
		prompt.Model = model
	}
	return prompt
}

func extractCompletion(span tracing.Span) *sdk.Completion {
	attrs := span.Attributes()
	if attrs == nil {
		return nil
	}

	output, ok := attrs[tracing.OutputAttrKey(tracing.KindLLM)].(string)
	if !ok || output == "" {
		return nil
	}

	completion := &sdk.Completion{
		Messages: []sdk.Message{
			{
				Index:   0,
				Content: output,
				Role:    "assistant",
			},
		},
	}
	if model, ok := attrs["gen_ai.response.model"].(string); ok {
		completion.Model = model
	}
	return completion
}

func extractUsage(span tracing.Span) sdk.Usage {
	attrs := span.Attributes()
	if attrs == nil {
		return sdk.Usage{}
	}

	usage := sdk.Usage{}
	if totalTokens, ok := attrs["gen_ai.usage.total_tokens"].(int); ok {
		usage.TotalTokens = totalTokens
	}
	if promptTokens, ok := attrs["gen_ai.usage.prompt_tokens"].(int); ok {
		usage.PromptTokens = promptTokens
	}
	if completionTokens, ok := attrs["gen_ai.usage.completion_tokens"].(int); ok {
		usage.CompletionTokens = completionTokens
	}
	return usage
}
