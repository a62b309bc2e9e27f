package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions in SQLite. The full session document lives
// in session_json; the indexed scalar columns exist for queries.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore opens the store and creates the schema if needed.
func NewSessionStore(db *sql.DB) (*SessionStore, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			autonomy TEXT NOT NULL,
			status TEXT NOT NULL,
			pending_plan_id TEXT,
			session_json TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_actor ON sessions(actor_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating sessions table: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Save upserts the full session document. The runtime owns a session
// sequentially, so last-write-wins is safe here.
func (s *SessionStore) Save(ctx context.Context, session *Session) error {
	ctx, span := tracer.Start(ctx, "session_store.save",
		trace.WithAttributes(
			attribute.String("session_id", session.ID),
			attribute.String("session.status", string(session.Status)),
		))
	defer span.End()

	session.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, actor_id, autonomy, status, pending_plan_id, session_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			pending_plan_id = excluded.pending_plan_id,
			session_json = excluded.session_json,
			updated_at = excluded.updated_at`,
		session.ID, session.ActorID, string(session.Autonomy), string(session.Status),
		nullable(session.PendingPlanID), string(doc), session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", session.ID, err)
	}
	return nil
}

// Get returns a session by id.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_json FROM sessions WHERE id = ?`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	var session Session
	if err := json.Unmarshal([]byte(doc), &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Exists reports whether a session id is known.
func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns sessions newest-first, up to limit (0 means no limit).
func (s *SessionStore) List(ctx context.Context, limit int) ([]*Session, error) {
	query := `SELECT session_json FROM sessions ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var session Session
		if err := json.Unmarshal([]byte(doc), &session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
