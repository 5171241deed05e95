// Package observability is rigsd's structured log manager: an in-memory
// ring buffer of recent entries, with optional asynchronous
// persistence to Postgres for historical querying.
package observability

import (
	"container/ring"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// MaxBufferSize bounds the in-memory ring buffer of recent log entries.
const MaxBufferSize = 10000

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is one structured log record.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Manager buffers recent log entries and optionally persists them.
type Manager struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	db       *sql.DB
	handlers []func(Entry)
}

// NewManager constructs a Manager. db may be nil to disable persistence
// (buffer-only mode, e.g. in tests or a database-less rigsd run).
func NewManager(db *sql.DB) *Manager {
	m := &Manager{
		buffer: ring.New(MaxBufferSize),
		db:     db,
	}
	if err := m.initSchema(); err != nil {
		log.Printf("observability: schema init: %v", err)
	}
	return m
}

func rebindQuery(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

func (m *Manager) initSchema() error {
	if m.db == nil {
		return nil
	}
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT,
			bead_id TEXT,
			convoy_id TEXT,
			provider TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("observability: create logs table: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level)",
		"CREATE INDEX IF NOT EXISTS idx_logs_bead_id ON logs(bead_id)",
		"CREATE INDEX IF NOT EXISTS idx_logs_convoy_id ON logs(convoy_id)",
	} {
		if _, err := m.db.Exec(idx); err != nil {
			log.Printf("observability: create index: %v", err)
		}
	}
	return nil
}

// Log buffers an entry, notifies handlers, and persists asynchronously.
func (m *Manager) Log(level, source, message string, metadata map[string]interface{}) {
	entry := Entry{
		ID:        fmt.Sprintf("log-%d", time.Now().UnixNano()),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	m.mu.Unlock()

	for _, handler := range m.handlers {
		go handler(entry)
	}

	go m.persist(entry)
}

func (m *Manager) persist(entry Entry) {
	if m.db == nil {
		return
	}

	var metadataJSON *string
	if len(entry.Metadata) > 0 {
		if data, err := json.Marshal(entry.Metadata); err == nil {
			s := string(data)
			metadataJSON = &s
		}
	}

	var beadID, convoyID, provider *string
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["bead_id"].(string); ok && v != "" {
			beadID = &v
		}
		if v, ok := entry.Metadata["convoy_id"].(string); ok && v != "" {
			convoyID = &v
		}
		if v, ok := entry.Metadata["provider"].(string); ok && v != "" {
			provider = &v
		}
	}

	_, err := m.db.Exec(rebindQuery(`
		INSERT INTO logs (id, timestamp, level, source, message, metadata_json, bead_id, convoy_id, provider)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.Timestamp, entry.Level, entry.Source, entry.Message, metadataJSON, beadID, convoyID, provider)
	if err != nil {
		log.Printf("observability: persist log entry: %v", err)
	}
}

// Recent returns up to limit buffered entries, most-recent first, filtered
// by level/source when non-empty.
func (m *Manager) Recent(limit int, levelFilter, sourceFilter string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	out := make([]Entry, 0, limit)
	m.buffer.Do(func(v interface{}) {
		if v == nil {
			return
		}
		entry, ok := v.(Entry)
		if !ok {
			return
		}
		if levelFilter != "" && entry.Level != levelFilter {
			return
		}
		if sourceFilter != "" && entry.Source != sourceFilter {
			return
		}
		out = append(out, entry)
	})

	for i := 0; i < len(out)/2; i++ {
		out[i], out[len(out)-1-i] = out[len(out)-1-i], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AddHandler registers a callback invoked (in its own goroutine) for every
// new log entry.
func (m *Manager) AddHandler(handler func(Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

func (m *Manager) Debug(source, message string, metadata map[string]interface{}) {
	m.Log(LevelDebug, source, message, metadata)
}

func (m *Manager) Info(source, message string, metadata map[string]interface{}) {
	m.Log(LevelInfo, source, message, metadata)
}

func (m *Manager) Warn(source, message string, metadata map[string]interface{}) {
	m.Log(LevelWarn, source, message, metadata)
}

func (m *Manager) Error(source, message string, metadata map[string]interface{}) {
	m.Log(LevelError, source, message, metadata)
}
