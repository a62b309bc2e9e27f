package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrPlanNotFound   = errors.New("plan not found")
	ErrPlanNotWaiting = errors.New("plan is not waiting for approval")
	ErrPlanWrongState = errors.New("plan is not in the expected state")
)

// PlanStore persists plans in SQLite. Steps are immutable after proposal, so
// the document column is written once at Save; transitions update only the
// status and timing columns, and Get overlays them onto the document.
type PlanStore struct {
	db *sql.DB
}

// NewPlanStore opens the store and creates the schema if needed.
func NewPlanStore(db *sql.DB) (*PlanStore, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			max_risk TEXT NOT NULL,
			plan_json TEXT NOT NULL,
			reject_reason TEXT,
			proposed_at DATETIME NOT NULL,
			started_at DATETIME,
			completed_at DATETIME,
			duration_ms INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_plans_session ON plans(session_id, status);
		CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating plans table: %w", err)
	}
	return &PlanStore{db: db}, nil
}

// Save persists a new plan in its current status.
func (s *PlanStore) Save(ctx context.Context, plan *Plan) error {
	ctx, span := tracer.Start(ctx, "plan_store.save",
		trace.WithAttributes(
			attribute.String("plan_id", plan.ID),
			attribute.String("session_id", plan.SessionID),
		))
	defer span.End()

	doc, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, session_id, status, max_risk, plan_json, proposed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.SessionID, string(plan.Status), string(plan.MaxRisk),
		string(doc), plan.ProposedAt,
	)
	if err != nil {
		return fmt.Errorf("saving plan %s: %w", plan.ID, err)
	}
	return nil
}

// Get returns a plan by id with the live status and timing columns applied.
func (s *PlanStore) Get(ctx context.Context, planID string) (*Plan, error) {
	var doc, status string
	var startedAt, completedAt sql.NullTime
	var durationMS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_json, status, started_at, completed_at, duration_ms
		FROM plans WHERE id = ?`, planID,
	).Scan(&doc, &status, &startedAt, &completedAt, &durationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", planID, err)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(doc), &plan); err != nil {
		return nil, fmt.Errorf("unmarshaling plan %s: %w", planID, err)
	}

	plan.Status = PlanStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		plan.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		plan.CompletedAt = &t
	}
	if durationMS.Valid {
		plan.DurationMS = durationMS.Int64
	}
	return &plan, nil
}

// ListWaiting returns all plans waiting for approval, oldest first,
// optionally filtered by session.
func (s *PlanStore) ListWaiting(ctx context.Context, sessionID string) ([]*Plan, error) {
	query := `SELECT id FROM plans WHERE status = ?`
	args := []interface{}{string(PlanWaitingApproval)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY proposed_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plans := make([]*Plan, 0, len(ids))
	for _, id := range ids {
		plan, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Transition moves a plan from one expected status to another. The guard is
// in the UPDATE itself so concurrent transitions cannot double-fire; a zero
// row count means the plan was not in the expected state.
func (s *PlanStore) Transition(ctx context.Context, planID string, from, to PlanStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ? WHERE id = ? AND status = ?`,
		string(to), planID, string(from),
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if from == PlanWaitingApproval {
			return ErrPlanNotWaiting
		}
		return ErrPlanWrongState
	}

	log.Info().Str("plan_id", planID).
		Str("from", string(from)).Str("to", string(to)).
		Msg("plan_transition")
	return nil
}

// MarkStarted stamps the execution start time.
func (s *PlanStore) MarkStarted(ctx context.Context, planID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET started_at = ? WHERE id = ?`, time.Now().UTC(), planID)
	return err
}

// Finish moves a plan to a terminal status and stamps completion timing.
// Unlike Transition it accepts any current non-terminal status, because both
// AUTO_EXECUTING and EXECUTING plans finish through here.
func (s *PlanStore) Finish(ctx context.Context, planID string, status PlanStatus, duration time.Duration) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE plans SET status = ?, completed_at = ?, duration_ms = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), time.Now().UTC(), duration.Milliseconds(),
		planID, string(PlanCompleted), string(PlanFailed), string(PlanRejected),
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPlanWrongState
	}
	return nil
}

// Reject moves a waiting plan to REJECTED with a reason. Plans in any other
// state are left untouched.
func (s *PlanStore) Reject(ctx context.Context, planID, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE plans SET status = ?, completed_at = ?, reject_reason = ?
		WHERE id = ? AND status = ?`,
		string(PlanRejected), time.Now().UTC(), reason,
		planID, string(PlanWaitingApproval),
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrPlanNotWaiting
	}

	log.Info().Str("plan_id", planID).Str("reason", reason).Msg("plan_rejected")
	return nil
}
