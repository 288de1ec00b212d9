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

package langsmith

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nlpodyssey/agentops-go/tracing"
)

// TracingProcessor implements tracing.Processor to send traces to LangSmith
type TracingProcessor struct {
	client      *http.Client
	apiKey      string
	apiURL      string
	projectName string
	metadata    map[string]any
	tags        []string
	name        string

	// Track runs for parent-child relationships
	runs   map[string]*RunData
	runsMu sync.RWMutex
}

// RunData tracks LangSmith run information
type RunData struct {
	ID          string         `json:"id"`
	StartTime   time.Time      `json:"start_time"`
	ParentRunID *string        `json:"parent_run_id,omitempty"`
	Name        string         `json:"name"`
	RunType     string         `json:"run_type"`
	Inputs      map[string]any `json:"inputs"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       *string        `json:"error,omitempty"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	SessionName string         `json:"session_name,omitempty"`
}

// ProcessorParams configuration for the LangSmith processor
type ProcessorParams struct {
	// LangSmith API key. Required - pass from main
	APIKey string
	// LangSmith API URL. Defaults to https://api.smith.langchain.com
	APIURL string
	// LangSmith project name. Defaults to LANGSMITH_PROJECT environment variable
	ProjectName string
	// Optional metadata to attach to all traces
	Metadata map[string]any
	// Optional tags to attach to all traces
	Tags []string
	// Optional name for the root trace
	Name string
	// Optional custom HTTP client
	HTTPClient *http.Client
}

// NewTracingProcessor creates a new LangSmith tracing processor
func NewTracingProcessor(params ProcessorParams) *TracingProcessor {
	apiURL := params.APIURL
	if apiURL == "" {
		apiURL = "https://api.smith.langchain.com"
	}

	projectName := params.ProjectName
	if projectName == "" {
		projectName = os.Getenv("LANGSMITH_PROJECT")
		if projectName == "" {
			projectName = "default"
		}
	}

	client := params.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &TracingProcessor{
		client:      client,
		apiKey:      params.APIKey, // API key comes from main
		apiURL:      apiURL,
		projectName: projectName,
		metadata:    params.Metadata,
		tags:        params.Tags,
		name:        params.Name,
		runs:        make(map[string]*RunData),
	}
}

// OnTraceStart implements tracing.Processor
func (p *TracingProcessor) OnTraceStart(ctx context.Context, trace tracing.Trace) error {
	if p.apiKey == "" {
		fmt.Fprintf(os.Stderr, "LangSmith API key not set, skipping trace export\n")
		return nil
	}

	runName := p.name
	if runName == "" && trace.Name() != "" {
		runName = trace.Name()
	}
	if runName == "" {
		runName = "Agent session"
	}

	traceRunID := uuid.New().String()
	startTime := time.Now().UTC()

	// Build extra metadata
	extra := make(map[string]any)
	for k, v := range p.metadata {
		extra[k] = v
	}
	if traceDict := trace.Export(); traceDict != nil {
		if metadata, ok := traceDict["metadata"].(map[string]any); ok {
			for k, v := range metadata {
				extra[k] = v
			}
		}
	}

	tags := p.tags
	for tag := range trace.Tags() {
		tags = append(tags, tag)
	}

	p.runsMu.Lock()
	p.runs[trace.TraceID()] = &RunData{
		ID:          traceRunID,
		StartTime:   startTime,
		Name:        runName,
		RunType:     "chain",
		Inputs:      make(map[string]any),
		Extra:       extra,
		Tags:        tags,
		SessionName: p.projectName,
	}
	p.runsMu.Unlock()

	// Create run data for API request
	runData := map[string]any{
		"id":           traceRunID,
		"name":         runName,
		"run_type":     "chain",
		"inputs":       make(map[string]any),
		"start_time":   startTime.Format(time.RFC3339),
		"session_name": p.projectName,
	}

	if len(tags) > 0 {
		runData["tags"] = tags
	}

	if len(extra) > 0 {
		runData["extra"] = extra
	}

	return p.createRun(ctx, runData)
}

// OnTraceEnd implements tracing.Processor
func (p *TracingProcessor) OnTraceEnd(ctx context.Context, trace tracing.Trace) error {
	if p.apiKey == "" {
		return nil
	}

	p.runsMu.Lock()
	run, exists := p.runs[trace.TraceID()]
	if exists {
		delete(p.runs, trace.TraceID())
	}
	p.runsMu.Unlock()

	if !exists {
		return nil
	}

	// The root session span carries the trace's inputs and outputs.
	inputs, outputs := rootSpanIO(trace)

	updateData := map[string]any{
		"outputs":  outputs,
		"end_time": time.Now().UTC().Format(time.RFC3339),
	}
	if len(inputs) > 0 {
		updateData["inputs"] = inputs
	}
	if root := trace.RootSpan(); root != nil {
		if status, message := root.Status(); status == tracing.StatusError {
			updateData["error"] = message
		}
	}

	return p.updateRun(ctx, run.ID, updateData)
}

// OnSpanStart implements tracing.Processor
func (p *TracingProcessor) OnSpanStart(ctx context.Context, span tracing.Span) error {
	if p.apiKey == "" {
		return nil
	}

	if span.Kind() == tracing.KindSession {
		// The root session span is represented by the trace run itself.
		return nil
	}

	// Find parent run
	p.runsMu.RLock()
	var parentRun *RunData
	if span.ParentID() != "" {
		parentRun = p.runs[span.ParentID()]
	}
	if parentRun == nil {
		parentRun = p.runs[span.TraceID()]
	}
	p.runsMu.RUnlock()

	if parentRun == nil {
		fmt.Fprintf(os.Stderr, "No trace info found for span, skipping: %s\n", span.SpanID())
		return nil
	}

	spanRunID := uuid.New().String()
	spanStartTime := span.StartedAt()
	if spanStartTime.IsZero() {
		spanStartTime = time.Now().UTC()
	}

	runName := span.Name()
	if runName == "" {
		runName = string(span.Kind())
	}
	runType := getRunType(span.Kind())

	p.runsMu.Lock()
	p.runs[span.SpanID()] = &RunData{
		ID:          spanRunID,
		StartTime:   spanStartTime,
		ParentRunID: &parentRun.ID,
		Name:        runName,
		RunType:     runType,
		SessionName: p.projectName,
	}
	p.runsMu.Unlock()

	runData := map[string]any{
		"id":            spanRunID,
		"name":          runName,
		"run_type":      runType,
		"inputs":        spanInputs(span),
		"start_time":    spanStartTime.Format(time.RFC3339),
		"parent_run_id": parentRun.ID,
		"session_name":  p.projectName,
	}

	return p.createRun(ctx, runData)
}

// OnSpanEnd implements tracing.Processor
func (p *TracingProcessor) OnSpanEnd(ctx context.Context, span tracing.Span) error {
	if p.apiKey == "" {
		return nil
	}

	p.runsMu.Lock()
	run, exists := p.runs[span.SpanID()]
	if exists {
		delete(p.runs, span.SpanID())
	}
	p.runsMu.Unlock()

	if !exists {
		return nil
	}

	updateData := map[string]any{
		"inputs":  spanInputs(span),
		"outputs": spanOutputs(span),
	}

	if status, message := span.Status(); status == tracing.StatusError {
		updateData["error"] = message
	}

	if !span.EndedAt().IsZero() {
		updateData["end_time"] = span.EndedAt().Format(time.RFC3339)
	} else {
		updateData["end_time"] = time.Now().UTC().Format(time.RFC3339)
	}

	return p.updateRun(ctx, run.ID, updateData)
}

// Shutdown implements tracing.Processor
func (p *TracingProcessor) Shutdown(ctx context.Context) error {
	return nil
}

// ForceFlush implements tracing.Processor
func (p *TracingProcessor) ForceFlush(ctx context.Context) error {
	return nil
}

// Helper methods

func getRunType(kind tracing.SpanKind) string {
	switch kind {
	case tracing.KindTool, tracing.KindGuardrail:
		return "tool"
	case tracing.KindLLM:
		return "llm"
	default:
		return "chain"
	}
}

func spanInputs(span tracing.Span) map[string]any {
	inputs := make(map[string]any)
	if v, ok := span.Attributes()[tracing.InputAttrKey(span.Kind())]; ok {
		inputs["input"] = v
	}
	return inputs
}

func spanOutputs(span tracing.Span) map[string]any {
	outputs := make(map[string]any)
	if v, ok := span.Attributes()[tracing.OutputAttrKey(span.Kind())]; ok {
		outputs["output"] = v
	}
	return outputs
}

func rootSpanIO(trace tracing.Trace) (inputs, outputs map[string]any) {
	inputs = make(map[string]any)
	outputs = make(map[string]any)
	root := trace.RootSpan()
	if root == nil {
		return inputs, outputs
	}
	attrs := root.Attributes()
	if v, ok := attrs[tracing.InputAttrKey(tracing.KindSession)]; ok {
		inputs["input"] = v
	}
	if v, ok := attrs[tracing.OutputAttrKey(tracing.KindSession)]; ok {
		outputs["output"] = v
	}
	return inputs, outputs
}

func (p *TracingProcessor) createRun(ctx context.Context, runData map[string]any) error {
	return p.sendRequest(ctx, "POST", "/runs", runData)
}

func (p *TracingProcessor) updateRun(ctx context.Context, runID string, runData map[string]any) error {
	return p.sendRequest(ctx, "PATCH", fmt.Sprintf("/runs/%s", runID), runData)
}

func (p *TracingProcessor) sendRequest(ctx context.Context, method, path string, data map[string]any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	url := strings.TrimSuffix(p.apiURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Use lowercase header as per LangSmith API documentation
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Read response body for debugging
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LangSmith API error: %d %s - %s", resp.StatusCode, resp.Status, string(respBody))
	}

	return nil
}
