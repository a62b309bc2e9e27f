// Package eventlog provides the durable, append-only record of runtime events.
//
// Every event — transition, tool call, denial, failure — is HMAC-SHA256
// signed and persisted in SQLite before it is fanned out to live observers.
// An auto-incrementing sequence number gives a total order within a session
// even when wall-clock timestamps tie. The log doubles as the replay source
// for late-joining stream observers.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/overwatch-ai/reins/internal/event"
	reinsotel "github.com/overwatch-ai/reins/internal/otel"
)

var tracer = reinsotel.Tracer("github.com/overwatch-ai/reins/internal/eventlog")

// Store persists HMAC-signed events in SQLite, append-only.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore opens (or creates) the event log at dbPath. The signing key must
// be at least 32 raw bytes or 64+ hex characters.
func NewStore(dbPath string, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening event log database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		session_id TEXT NOT NULL,
		plan_id TEXT,
		timestamp TIMESTAMP NOT NULL,
		event_json TEXT NOT NULL,
		signature TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_events_plan ON events(plan_id, seq);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating event log schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one event with an HMAC signature. Events are write-once;
// there is deliberately no update or delete path in this package.
func (s *Store) Append(ctx context.Context, ev *event.Event) error {
	ctx, span := tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("event.id", ev.ID),
			attribute.String("event.type", string(ev.Type)),
			attribute.String("session_id", ev.SessionID),
		))
	defer span.End()

	eventJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	signature, err := s.signer.Sign(eventJSON)
	if err != nil {
		return fmt.Errorf("signing event: %w", err)
	}

	query := `INSERT INTO events (id, type, session_id, plan_id, timestamp, event_json, signature)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.SessionID, nullable(ev.PlanID),
		ev.Timestamp, string(eventJSON), signature,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// BySession returns all events for a session in creation (sequence) order.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]event.Event, error) {
	ctx, span := tracer.Start(ctx, "eventlog.by_session",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	return s.query(ctx, `SELECT event_json FROM events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
}

// ByPlan returns all events for a plan in creation (sequence) order.
func (s *Store) ByPlan(ctx context.Context, planID string) ([]event.Event, error) {
	ctx, span := tracer.Start(ctx, "eventlog.by_plan",
		trace.WithAttributes(attribute.String("plan_id", planID)))
	defer span.End()

	return s.query(ctx, `SELECT event_json FROM events WHERE plan_id = ? ORDER BY seq ASC`, planID)
}

// CountBySession returns the number of events recorded for a session.
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// Verify checks the HMAC signature integrity of one event by id.
func (s *Store) Verify(ctx context.Context, eventID string) (bool, error) {
	var eventJSON, signature string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_json, signature FROM events WHERE id = ?`, eventID,
	).Scan(&eventJSON, &signature)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("event %s not found", eventID)
	}
	if err != nil {
		return false, fmt.Errorf("querying event: %w", err)
	}
	return s.signer.Verify([]byte(eventJSON), signature), nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var results []event.Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			continue
		}
		ev, err := decode([]byte(eventJSON))
		if err != nil {
			continue
		}
		results = append(results, ev)
	}
	return results, rows.Err()
}

// decode unmarshals a stored event, rehydrating the typed payload for the
// known event types so replayed events look identical to live ones.
func decode(raw []byte) (event.Event, error) {
	var envelope struct {
		ID        string          `json:"id"`
		Type      event.Type      `json:"type"`
		SessionID string          `json:"session_id"`
		PlanID    string          `json:"plan_id"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return event.Event{}, err
	}

	payload, err := decodePayload(envelope.Type, envelope.Payload)
	if err != nil {
		return event.Event{}, err
	}

	return event.Event{
		ID:        envelope.ID,
		Type:      envelope.Type,
		SessionID: envelope.SessionID,
		PlanID:    envelope.PlanID,
		Payload:   payload,
		Timestamp: envelope.Timestamp,
	}, nil
}

// decodePayload is the single place that maps the closed type enumeration to
// payload structs. Adding an event type without extending this switch is a
// compile-time non-event but shows up immediately in replay tests.
func decodePayload(t event.Type, raw json.RawMessage) (any, error) {
	unmarshal := func(v any) (any, error) {
		if len(raw) == 0 {
			return v, nil
		}
		err := json.Unmarshal(raw, v)
		return v, err
	}

	switch t {
	case event.TypeSessionCreated:
		return unmarshal(&event.SessionCreated{})
	case event.TypeSessionResumed:
		return unmarshal(&event.SessionResumed{})
	case event.TypePlanningStarted:
		return unmarshal(&event.PlanningStarted{})
	case event.TypePlanProposed:
		return unmarshal(&event.PlanProposed{})
	case event.TypePlanApproved:
		return unmarshal(&event.PlanApproved{})
	case event.TypePlanRejected:
		return unmarshal(&event.PlanRejected{})
	case event.TypeExecutionStarted:
		return unmarshal(&event.ExecutionStarted{})
	case event.TypeToolCallStarted:
		return unmarshal(&event.ToolCallStarted{})
	case event.TypeToolCallCompleted:
		return unmarshal(&event.ToolCallCompleted{})
	case event.TypeToolCallFailed:
		return unmarshal(&event.ToolCallFailed{})
	case event.TypeAuthorizationDenied:
		return unmarshal(&event.AuthorizationDenied{})
	case event.TypeThinking:
		return unmarshal(&event.Thinking{})
	case event.TypeAnswerReady:
		return unmarshal(&event.AnswerReady{})
	case event.TypeCompleted:
		return unmarshal(&event.Completed{})
	case event.TypeCompletedWithErrors:
		return unmarshal(&event.CompletedWithErrors{})
	case event.TypeWaitingForApproval:
		return unmarshal(&event.WaitingForApproval{})
	case event.TypeMessageQueued:
		return unmarshal(&event.MessageQueued{})
	case event.TypeInterrupted:
		return unmarshal(&event.Interrupted{})
	case event.TypeError:
		return unmarshal(&event.ErrorInfo{})
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
