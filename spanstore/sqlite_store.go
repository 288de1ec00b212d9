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

package spanstore

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nlpodyssey/agentops-go/tracing"
)

// SQLiteStore is a SQLite-based implementation of trace/span storage.
// It implements tracing.Processor, so it can be registered alongside the
// backend exporter to keep a local copy of everything recorded.
//
// By default, uses an in-memory database that is lost when the process ends.
// For persistent storage, provide a file path.
type SQLiteStore struct {
	dbDSN       string
	tracesTable string
	spansTable  string
	db          *sql.DB
	mu          sync.Mutex
}

type SQLiteStoreParams struct {
	// Optional database data source name.
	// Defaults to "file::memory:?cache=shared" (in-memory database).
	DBDataSourceName string

	// Optional name of the table to store trace metadata.
	// Defaults to "agentops_traces".
	TracesTable string

	// Optional name of the table to store span data.
	// Defaults to "agentops_spans".
	SpansTable string
}

// NewSQLiteStore initializes the SQLite store.
func NewSQLiteStore(ctx context.Context, params SQLiteStoreParams) (_ *SQLiteStore, err error) {
	s := &SQLiteStore{
		dbDSN:       cmp.Or(params.DBDataSourceName, "file::memory:?cache=shared"),
		tracesTable: cmp.Or(params.TracesTable, "agentops_traces"),
		spansTable:  cmp.Or(params.SpansTable, "agentops_spans"),
	}

	defer func() {
		if err != nil && s.db != nil {
			if e := s.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	s.db, err = sql.Open("sqlite3", s.dbDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	err = s.initDB(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OnTraceStart implements tracing.Processor.
func (s *SQLiteStore) OnTraceStart(ctx context.Context, trace tracing.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := json.Marshal(trace.Tags())
	if err != nil {
		return fmt.Errorf("error JSON marshaling trace tags: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO "%s" (trace_id, name, tags) VALUES (?, ?, ?)`, s.tracesTable),
		trace.TraceID(), trace.Name(), string(tags),
	)
	if err != nil {
		return fmt.Errorf("error inserting trace: %w", err)
	}
	return nil
}

// OnTraceEnd implements tracing.Processor.
func (s *SQLiteStore) OnTraceEnd(ctx context.Context, trace tracing.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	endState := ""
	if root := trace.RootSpan(); root != nil {
		status, _ := root.Status()
		endState = status.String()
	}

	_, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf(`UPDATE "%s" SET end_state = ?, ended_at = CURRENT_TIMESTAMP WHERE trace_id = ?`, s.tracesTable),
		endState, trace.TraceID(),
	)
	if err != nil {
		return fmt.Errorf("error updating trace end state: %w", err)
	}
	return nil
}

// OnSpanStart implements tracing.Processor.
func (s *SQLiteStore) OnSpanStart(ctx context.Context, span tracing.Span) error {
	// Spans are persisted once finished, in OnSpanEnd.
	return nil
}

// OnSpanEnd implements tracing.Processor.
func (s *SQLiteStore) OnSpanEnd(ctx context.Context, span tracing.Span) error {
	return s.SaveSpan(ctx, RecordFromSpan(span))
}

// SaveSpan persists a single span record.
func (s *SQLiteStore) SaveSpan(ctx context.Context, record SpanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attributes, err := json.Marshal(record.Attributes)
	if err != nil {
		return fmt.Errorf("error JSON marshaling span attributes: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		fmt.Sprintf(`
			INSERT OR REPLACE INTO "%s"
			(span_id, trace_id, parent_id, kind, name, status, status_message, started_at, ended_at, attributes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.spansTable),
		record.SpanID, record.TraceID, record.ParentID, record.Kind, record.Name,
		record.Status, record.StatusMessage, record.StartedAt, record.EndedAt, string(attributes),
	)
	if err != nil {
		return fmt.Errorf("error inserting span: %w", err)
	}
	return nil
}

// SpansForTrace returns the persisted spans of a trace in start order.
func (s *SQLiteStore) SpansForTrace(ctx context.Context, traceID string) (_ []SpanRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT span_id, trace_id, parent_id, kind, name, status, status_message, started_at, ended_at, attributes
		FROM "%s"
		WHERE trace_id = ?
		ORDER BY started_at ASC
	`, s.spansTable), traceID)
	if err != nil {
		return nil, fmt.Errorf("error querying spans: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	var records []SpanRecord
	for rows.Next() {
		var record SpanRecord
		var attributes string
		if err = rows.Scan(
			&record.SpanID, &record.TraceID, &record.ParentID, &record.Kind, &record.Name,
			&record.Status, &record.StatusMessage, &record.StartedAt, &record.EndedAt, &attributes,
		); err != nil {
			return nil, fmt.Errorf("sql rows scan error: %w", err)
		}
		if attributes != "" && attributes != "null" {
			if err := json.Unmarshal([]byte(attributes), &record.Attributes); err != nil {
				continue // Skip invalid JSON entries
			}
		}
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sql rows scan error: %w", err)
	}

	return records, nil
}

// Shutdown implements tracing.Processor.
func (s *SQLiteStore) Shutdown(ctx context.Context) error {
	return s.Close()
}

// ForceFlush implements tracing.Processor. Writes are synchronous, so there
// is nothing to flush.
func (s *SQLiteStore) ForceFlush(ctx context.Context) error {
	return nil
}

// Initialize the database schema.
func (s *SQLiteStore) initDB(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			trace_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tags TEXT,
			end_state TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			ended_at TIMESTAMP
		)
	`, s.tracesTable))
	if err != nil {
		return fmt.Errorf("error creating traces table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			span_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			parent_id TEXT,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			status_message TEXT,
			started_at TIMESTAMP,
			ended_at TIMESTAMP,
			attributes TEXT,
			FOREIGN KEY (trace_id) REFERENCES "%s" (trace_id) ON DELETE CASCADE
		)
	`, s.spansTable, s.tracesTable))
	if err != nil {
		return fmt.Errorf("error creating spans table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS "idx_%s_trace_id" ON "%s" (trace_id, started_at)`,
		s.spansTable, s.spansTable))
	if err != nil {
		return fmt.Errorf("error creating index: %w", err)
	}

	return nil
}

// Close the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
