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
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ConsoleSpanExporter is an Exporter that prints the traces and spans to the console.
type ConsoleSpanExporter struct{}

func (c ConsoleSpanExporter) Export(ctx context.Context, items []any) error {
	for _, item := range items {
		switch v := item.(type) {
		case Trace:
			fmt.Printf("[Exporter] Export trace_id=%s, name=%s\n", v.TraceID(), v.Name())
		case Span:
			fmt.Printf("[Exporter] Export span: %+v\n", v.Export())
		default:
			return fmt.Errorf("ConsoleSpanExporter: unexpected item type %T", item)
		}
	}
	return nil
}

const DefaultBackendSpanExporterEndpoint = "https://api.agentops.ai/v3/traces/ingest"

// BackendSpanExporter posts finished traces and spans to the AgentOps
// ingestion endpoint, with exponential backoff on transient failures.
//
// Authentication prefers a short-lived bearer token obtained from the auth
// endpoint; when no token is set, the long-lived API key is sent instead.
type BackendSpanExporter struct {
	apiKey     atomic.Pointer[string]
	authToken  atomic.Pointer[string]
	projectID  atomic.Pointer[string]
	Endpoint   string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	client     *http.Client
}

type BackendSpanExporterParams struct {
	// The API key for the "Authorization" header.
	// Defaults to AGENTOPS_API_KEY environment variable if not provided.
	APIKey string
	// The HTTP endpoint to which traces/spans are posted.
	// Defaults to DefaultBackendSpanExporterEndpoint if not provided.
	Endpoint string
	// Maximum number of retries upon failures.
	// Default: 3.
	MaxRetries int
	// Base delay for the first backoff.
	// Default: 1 second.
	BaseDelay time.Duration
	// Maximum delay for backoff growth.
	// Default: 30 seconds.
	MaxDelay time.Duration
	// Optional custom http.Client.
	HTTPClient *http.Client
}

func NewBackendSpanExporter(params BackendSpanExporterParams) *BackendSpanExporter {
	b := &BackendSpanExporter{
		Endpoint:   cmp.Or(params.Endpoint, DefaultBackendSpanExporterEndpoint),
		MaxRetries: cmp.Or(params.MaxRetries, 3),
		BaseDelay:  cmp.Or(params.BaseDelay, 1*time.Second),
		MaxDelay:   cmp.Or(params.MaxDelay, 30*time.Second),
		client:     cmp.Or(params.HTTPClient, &http.Client{Timeout: 60 * time.Second}),
	}
	if params.APIKey != "" {
		b.apiKey.Store(&params.APIKey)
	}
	return b
}

// SetAPIKey sets the AgentOps API key for the exporter.
func (b *BackendSpanExporter) SetAPIKey(apiKey string) {
	b.apiKey.Store(&apiKey)
}

func (b *BackendSpanExporter) APIKey() string {
	if v := b.apiKey.Load(); v != nil && *v != "" {
		return *v
	}
	return os.Getenv("AGENTOPS_API_KEY")
}

// SetAuthToken installs the bearer token obtained from the auth endpoint.
// The token takes precedence over the raw API key until replaced.
func (b *BackendSpanExporter) SetAuthToken(token string) {
	b.authToken.Store(&token)
}

func (b *BackendSpanExporter) AuthToken() string {
	if v := b.authToken.Load(); v != nil {
		return *v
	}
	return ""
}

// SetProjectID records the project the exported traces belong to.
func (b *BackendSpanExporter) SetProjectID(projectID string) {
	b.projectID.Store(&projectID)
}

func (b *BackendSpanExporter) ProjectID() string {
	if v := b.projectID.Load(); v != nil {
		return *v
	}
	return ""
}

func (b *BackendSpanExporter) Export(ctx context.Context, items []any) error {
	if len(items) == 0 {
		return nil
	}

	if b.AuthToken() == "" && b.APIKey() == "" {
		Logger().Warn("BackendSpanExporter: AgentOps API key is not set, skipping trace export")
		return nil
	}

	data := make([]map[string]any, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case Trace:
			data[i] = v.Export()
		case Span:
			data[i] = v.Export()
		default:
			return fmt.Errorf("BackendSpanExporter: unexpected item type %T", item)
		}
	}

	payload := map[string]any{
		"data": data,
	}

	header := make(http.Header)
	if token := b.AuthToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else {
		header.Set("Authorization", "Bearer "+b.APIKey())
	}
	header.Set("Content-Type", "application/json")
	if projectID := b.ProjectID(); projectID != "" {
		header.Set("X-Agentops-Project-Id", projectID)
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to JSON-marshal tracing payload: %w", err)
	}

	// Exponential backoff loop
	attempt := 0
	delay := b.BaseDelay
	for {
		attempt += 1

		request, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(jsonPayload))
		if err != nil {
			return fmt.Errorf("failed to initialize new tracing request: %w", err)
		}
		request.Header = header

		response, err := b.client.Do(request)

		if err != nil {
			Logger().Warn("[non-fatal] Tracing: request failed", slog.String("error", err.Error()))
		} else {
			// If the response is successful, break out of the loop
			if response.StatusCode < 300 {
				_ = response.Body.Close()
				Logger().Debug(fmt.Sprintf("Exported %d items", len(items)))
				return nil
			}

			// If the response is a client error (4xx), we won't retry
			if response.StatusCode >= 400 && response.StatusCode < 500 {
				body, err := io.ReadAll(response.Body)
				if err != nil {
					Logger().Warn("failed to read tracing response body", slog.String("error", err.Error()))
				}
				_ = response.Body.Close()
				Logger().Warn(
					"[non-fatal] Tracing client error",
					slog.Int("statusCode", response.StatusCode),
					slog.String("response", string(body)),
				)
				return nil
			}
			_ = response.Body.Close()

			// For 5xx or other unexpected codes, treat it as transient and retry
			Logger().Warn("[non-fatal] Tracing: server error, retrying.", slog.Int("statusCode", response.StatusCode))
		}

		// If we reach here, we need to retry or give up
		if attempt >= b.MaxRetries {
			Logger().Error("[non-fatal] Tracing: max retries reached, giving up on this batch.")
			return nil
		}

		// Exponential backoff + jitter
		sleepTime := delay + time.Duration(rand.Int64N(int64(delay/10))) // 10% jitter
		time.Sleep(sleepTime)
		delay = min(delay*2, b.MaxDelay)
	}
}

// Close the underlying HTTP client's idle connections.
func (b *BackendSpanExporter) Close() {
	b.client.CloseIdleConnections()
}

// BatchTraceProcessor buffers traces and spans in a bounded queue and
// exports them from a background worker, either on a schedule or as soon as
// the queue fills past a trigger threshold.
type BatchTraceProcessor struct {
	exporter      Exporter
	maxQueueSize  int
	maxBatchSize  int
	scheduleDelay time.Duration
	// The queue size threshold at which we export immediately.
	exportTriggerSize int

	shutdownCalled atomic.Bool
	shutdownChan   chan struct{}
	shutdownOnce   sync.Once
	workerRunning  atomic.Bool
	workerDoneChan chan struct{}
	workerMu       sync.Mutex

	queueChan chan any
	queueSize atomic.Int64
	// triggerChan wakes the worker when the queue crosses the trigger
	// threshold, so a burst is exported without waiting for the schedule.
	triggerChan chan struct{}
}

type BatchTraceProcessorParams struct {
	// The exporter to use.
	Exporter Exporter
	// The maximum number of spans to store in the queue.
	// After this, we will start dropping spans.
	// Default: 8192.
	MaxQueueSize int
	// The maximum number of spans to export in a single batch.
	// Default: 128.
	MaxBatchSize int
	// The delay between scheduled exports.
	// Default: 5 seconds.
	ScheduleDelay time.Duration
	// The ratio of the queue size at which we will trigger an export.
	// Default: 0.7.
	ExportTriggerRatio float64
}

func NewBatchTraceProcessor(params BatchTraceProcessorParams) *BatchTraceProcessor {
	maxQueueSize := cmp.Or(params.MaxQueueSize, 8192)
	scheduleDelay := cmp.Or(params.ScheduleDelay, 5*time.Second)
	exportTriggerRatio := cmp.Or(params.ExportTriggerRatio, 0.7)

	return &BatchTraceProcessor{
		exporter:          params.Exporter,
		maxQueueSize:      maxQueueSize,
		maxBatchSize:      cmp.Or(params.MaxBatchSize, 128),
		scheduleDelay:     scheduleDelay,
		exportTriggerSize: max(1, int(float64(maxQueueSize)*exportTriggerRatio)),
		shutdownChan:      make(chan struct{}),
		queueChan:         make(chan any, maxQueueSize),
		triggerChan:       make(chan struct{}, 1),
	}
}

func (b *BatchTraceProcessor) OnTraceStart(ctx context.Context, trace Trace) error {
	// Ensure the background worker is running before we enqueue anything.
	b.ensureWorkerStarted(ctx)
	b.enqueue(trace, "trace")
	return nil
}

func (b *BatchTraceProcessor) OnTraceEnd(ctx context.Context, trace Trace) error {
	// We send traces via OnTraceStart, so we don't need to do anything here.
	return nil
}

func (b *BatchTraceProcessor) OnSpanStart(ctx context.Context, span Span) error {
	// We send spans via OnSpanEnd, so we don't need to do anything here.
	return nil
}

func (b *BatchTraceProcessor) OnSpanEnd(ctx context.Context, span Span) error {
	// Ensure the background worker is running before we enqueue anything.
	b.ensureWorkerStarted(ctx)
	b.enqueue(span, "span")
	return nil
}

func (b *BatchTraceProcessor) enqueue(item any, what string) {
	select {
	case b.queueChan <- item:
		if b.queueSize.Add(1) >= int64(b.exportTriggerSize) {
			select {
			case b.triggerChan <- struct{}{}:
			default:
			}
		}
	default:
		Logger().Warn(fmt.Sprintf("Queue is full, dropping %s.", what))
	}
}

// Shutdown is called when the application stops.
// We signal our worker goroutine to stop, then wait for its completion.
func (b *BatchTraceProcessor) Shutdown(ctx context.Context) error {
	b.shutdownCalled.Store(true)
	b.shutdownOnce.Do(func() { close(b.shutdownChan) })

	// Only wait if we ever started the background worker; otherwise flush synchronously.
	if b.workerRunning.Load() {
		<-b.workerDoneChan
		return nil
	}

	// No background goroutine: process any remaining items synchronously.
	return b.exportBatches(ctx, true)
}

// ForceFlush forces an immediate flush of all queued spans.
func (b *BatchTraceProcessor) ForceFlush(ctx context.Context) error {
	return b.exportBatches(ctx, true)
}

func (b *BatchTraceProcessor) ensureWorkerStarted(ctx context.Context) {
	// Fast path without holding the lock.
	if b.workerRunning.Load() {
		return
	}

	b.workerMu.Lock()
	defer b.workerMu.Unlock()
	if b.workerRunning.Load() {
		return
	}

	b.workerDoneChan = make(chan struct{})
	b.workerRunning.Store(true)

	go func() {
		defer close(b.workerDoneChan)

		err := b.run(ctx)
		if err != nil {
			Logger().Error("BatchTraceProcessor worker error", slog.String("error", err.Error()))
		}
	}()
}

func (b *BatchTraceProcessor) run(ctx context.Context) error {
	ticker := time.NewTicker(b.scheduleDelay)
	defer ticker.Stop()

	for {
		select {
		case <-b.shutdownChan:
			// Final drain after shutdown
			return b.exportBatches(ctx, true)
		case <-ticker.C:
			if err := b.exportBatches(ctx, false); err != nil {
				return err
			}
		case <-b.triggerChan:
			if err := b.exportBatches(ctx, false); err != nil {
				return err
			}
			ticker.Reset(b.scheduleDelay)
		}
	}
}

// exportBatches drains the queue and exports in batches. If force=true, export everything.
// Otherwise, export up to `maxBatchSize` repeatedly until the queue is completely empty.
func (b *BatchTraceProcessor) exportBatches(ctx context.Context, force bool) error {
	for {
		var itemsToExport []any

		// Gather a batch of items up to maxBatchSize
	queueLoop:
		for force || len(itemsToExport) < b.maxBatchSize {
			select {
			case item := <-b.queueChan:
				b.queueSize.Add(-1)
				itemsToExport = append(itemsToExport, item)
			default:
				break queueLoop
			}
		}

		// If we collected nothing, we're done
		if len(itemsToExport) == 0 {
			return nil
		}

		// Export the batch
		if err := b.exporter.Export(ctx, itemsToExport); err != nil {
			return err
		}
	}
}

var globalExporter atomic.Pointer[BackendSpanExporter]
var globalProcessor atomic.Pointer[BatchTraceProcessor]

func init() {
	exporter := NewBackendSpanExporter(BackendSpanExporterParams{})
	processor := NewBatchTraceProcessor(BatchTraceProcessorParams{
		Exporter: exporter,
	})

	globalExporter.Store(exporter)
	globalProcessor.Store(processor)
}

// DefaultExporter returns the default exporter, which exports traces and
// spans to the backend in batches.
func DefaultExporter() *BackendSpanExporter {
	return globalExporter.Load()
}

// DefaultProcessor returns the default processor, which exports traces and
// spans to the backend in batches.
func DefaultProcessor() *BatchTraceProcessor {
	return globalProcessor.Load()
}
