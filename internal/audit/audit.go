// Package audit records entity lifecycle events. The sink is fire-and-forget:
// failures are logged, never surfaced to the mutating request.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/raido/internal/models"
)

// Event types written by the services.
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
	EventMerge  = "merge"
	EventImport = "import"
)

// Event is one audit entry.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	EntityID   string            `json:"entity_id"`
	EntityType models.EntityType `json:"entity_type"`
	ActorID    string            `json:"actor_id"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sink receives audit events. Implementations must not return errors to the
// caller's request path; Record never fails the surrounding operation.
type Sink interface {
	Record(ctx context.Context, eventType, entityID string, entityType models.EntityType, actorID string, metadata map[string]any)
}

// SQLiteSink persists audit events into a SQLite table.
type SQLiteSink struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Verify *SQLiteSink satisfies Sink at compile time.
var _ Sink = (*SQLiteSink)(nil)

const auditSchemaSQL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events(entity_type, entity_id);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at);
`

// Open opens (or creates) the audit database at dsn and applies the schema.
// It is safe to point at the same file as the record store; both use WAL.
func Open(dsn string, logger *slog.Logger) (*SQLiteSink, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := conn.Exec(auditSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteSink{conn: conn, logger: logger}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.conn.Close()
}

// Record writes one audit entry. Failures are logged and swallowed.
func (s *SQLiteSink) Record(ctx context.Context, eventType, entityID string, entityType models.EntityType, actorID string, metadata map[string]any) {
	metaJSON := []byte("{}")
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Warn("audit: encode metadata failed",
				slog.String("event", eventType), slog.String("error", err.Error()))
		} else {
			metaJSON = b
		}
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, entity_id, entity_type, actor_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), eventType, entityID, string(entityType), actorID, string(metaJSON), time.Now().UTC())
	if err != nil {
		s.logger.Warn("audit: record failed",
			slog.String("event", eventType),
			slog.String("entity_id", entityID),
			slog.String("error", err.Error()))
	}
}

// Recent returns the latest events for an entity, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, entityType models.EntityType, entityID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, type, entity_id, entity_type, actor_id, metadata, created_at
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, string(entityType), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var typ, metaJSON string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.EntityID, &typ, &ev.ActorID, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.EntityType = models.EntityType(typ)
		if metaJSON != "" && metaJSON != "{}" {
			if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("audit: decode metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	return out, nil
}

// Discard is a Sink that drops every event. Useful in tests.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, string, string, models.EntityType, string, map[string]any) {}
