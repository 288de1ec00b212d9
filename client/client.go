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

// Package client is the top-level entry point of the SDK: it authenticates
// against the AgentOps backend, wires the exporter, and manages session
// traces for applications that prefer an explicit start/end API over the
// instrument wrappers.
package client

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nlpodyssey/agentops-go/tracing"
)

// ErrNoAPIKey is returned by Init when no API key is configured.
var ErrNoAPIKey = errors.New("no API key: set AGENTOPS_API_KEY or pass Config.APIKey")

const defaultAPIEndpoint = "https://api.agentops.ai"

// Config controls client initialization. The zero value reads everything
// from the environment.
type Config struct {
	// APIKey authenticates against the backend.
	// Defaults to the AGENTOPS_API_KEY environment variable.
	APIKey string
	// APIEndpoint is the backend base URL.
	// Defaults to AGENTOPS_API_ENDPOINT, then to https://api.agentops.ai.
	APIEndpoint string
	// DefaultTags are attached to every session started by this client.
	// Defaults to the comma-separated AGENTOPS_DEFAULT_TAGS environment variable.
	DefaultTags []string
	// AutoStartSession starts a session as part of Init.
	// Defaults to the AGENTOPS_AUTO_START_SESSION environment variable.
	AutoStartSession bool
	// DisableTracing turns the SDK into a no-op.
	// Defaults to the AGENTOPS_DISABLE_TRACING environment variable.
	DisableTracing bool
	// Optional custom http.Client for the auth request.
	HTTPClient *http.Client
}

// ConfigFromEnv fills the unset fields of c from AGENTOPS_* environment
// variables.
func ConfigFromEnv(c Config) Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("AGENTOPS_API_KEY")
	}
	if c.APIEndpoint == "" {
		c.APIEndpoint = cmp.Or(os.Getenv("AGENTOPS_API_ENDPOINT"), defaultAPIEndpoint)
	}
	if c.DefaultTags == nil {
		if v := os.Getenv("AGENTOPS_DEFAULT_TAGS"); v != "" {
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					c.DefaultTags = append(c.DefaultTags, tag)
				}
			}
		}
	}
	if v, err := strconv.ParseBool(os.Getenv("AGENTOPS_AUTO_START_SESSION")); err == nil {
		c.AutoStartSession = c.AutoStartSession || v
	}
	if v, err := strconv.ParseBool(os.Getenv("AGENTOPS_DISABLE_TRACING")); err == nil {
		c.DisableTracing = c.DisableTracing || v
	}
	return c
}

// Client is an initialized SDK instance.
type Client struct {
	config    Config
	projectID string

	mu          sync.Mutex
	autoSession *Session
}

// Session is one open session trace started through the client.
type Session struct {
	ctx context.Context
	tc  *tracing.TraceContext
}

// TraceID returns the session's trace ID.
func (s *Session) TraceID() string { return s.tc.TraceID() }

// Trace returns the underlying session trace.
func (s *Session) Trace() tracing.Trace { return s.tc.Trace() }

// Context returns a context carrying the session trace as current; pass it
// to instrumented calls so their spans land under this session.
func (s *Session) Context() context.Context { return s.ctx }

// End finishes the session with the given end state (see
// tracing.NormalizeEndState). Ending a session twice is a no-op.
func (s *Session) End(ctx context.Context, state any) {
	s.tc.End(ctx, state)
}

type authResponse struct {
	Token     string `json:"token"`
	ProjectID string `json:"project_id"`
}

// Init authenticates against the backend and configures the default
// exporter. With Config.AutoStartSession set, it also opens a session that
// Shutdown will close.
func Init(ctx context.Context, config Config) (*Client, error) {
	config = ConfigFromEnv(config)

	if config.DisableTracing {
		tracing.SetTracingDisabled(true)
		return &Client{config: config}, nil
	}

	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	c := &Client{config: config}

	tracing.SetTracingExportAPIKey(config.APIKey)

	token, projectID, err := fetchAuthToken(ctx, config)
	if err != nil {
		// Ingestion falls back to the raw API key; auth failure is not fatal.
		tracing.Logger().Warn("Failed to fetch auth token, exporting with API key",
			slog.String("error", err.Error()))
	} else {
		c.projectID = projectID
		tracing.SetTracingExportAuthToken(token)
		tracing.DefaultExporter().SetProjectID(projectID)
	}

	if config.AutoStartSession {
		c.mu.Lock()
		c.autoSession = c.StartSession(ctx, "default", nil)
		c.mu.Unlock()
	}

	return c, nil
}

func fetchAuthToken(ctx context.Context, config Config) (token, projectID string, err error) {
	httpClient := cmp.Or(config.HTTPClient, &http.Client{Timeout: 30 * time.Second})

	payload, err := json.Marshal(map[string]string{"api_key": config.APIKey})
	if err != nil {
		return "", "", fmt.Errorf("failed to JSON-marshal auth payload: %w", err)
	}

	url := strings.TrimSuffix(config.APIEndpoint, "/") + "/v3/auth/token"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", "", fmt.Errorf("failed to initialize auth request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		return "", "", fmt.Errorf("auth request failed: %w", err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 300 {
		body, _ := io.ReadAll(response.Body)
		return "", "", fmt.Errorf("auth error: %d %s - %s", response.StatusCode, response.Status, string(body))
	}

	var parsed authResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return "", "", fmt.Errorf("failed to decode auth response: %w", err)
	}
	if parsed.Token == "" {
		return "", "", errors.New("auth response carries no token")
	}
	return parsed.Token, parsed.ProjectID, nil
}

// ProjectID returns the project the client authenticated into, when known.
func (c *Client) ProjectID() string { return c.projectID }

// StartSession opens a new session trace carrying the client's default tags
// plus the given ones.
func (c *Client) StartSession(ctx context.Context, name string, tags []string) *Session {
	allTags := append([]string{}, c.config.DefaultTags...)
	allTags = append(allTags, tags...)

	sctx, tc := tracing.StartTrace(ctx, tracing.TraceParams{
		Name: name,
		Tags: allTags,
	})
	return &Session{ctx: sctx, tc: tc}
}

// EndSession finishes the given session with the given end state.
func (c *Client) EndSession(ctx context.Context, session *Session, state any) {
	if session == nil {
		return
	}
	session.End(ctx, state)
}

// Shutdown force-ends every open session trace, flushes the pipeline and
// shuts the trace provider down. Traces that were still open are recorded
// with an Indeterminate end state since their outcome was never observed.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.autoSession = nil
	c.mu.Unlock()

	if n := tracing.EndAllTraces(ctx, tracing.StatusUnset); n > 0 {
		tracing.Logger().Warn("Force-ended traces still open at shutdown", slog.Int("count", n))
	}
	return tracing.GetTraceProvider().Shutdown(ctx)
}
