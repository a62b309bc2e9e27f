package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/overwatch-ai/reins/internal/agent/tools"
)

// PlanStatus is the plan state machine's current state.
type PlanStatus string

const (
	PlanProposed        PlanStatus = "PROPOSED"
	PlanAutoExecuting   PlanStatus = "AUTO_EXECUTING"
	PlanWaitingApproval PlanStatus = "WAITING_APPROVAL"
	PlanExecuting       PlanStatus = "EXECUTING"
	PlanCompleted       PlanStatus = "COMPLETED"
	PlanFailed          PlanStatus = "FAILED"
	PlanRejected        PlanStatus = "REJECTED"
)

// Terminal reports whether the status is one of the terminal states.
func (s PlanStatus) Terminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanRejected:
		return true
	}
	return false
}

// Step is one tool invocation in a plan. Steps are immutable once the plan
// is proposed.
type Step struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Risk   tools.Risk     `json:"risk"`
	CallID string         `json:"call_id,omitempty"`
}

// Plan is a proposed ordered sequence of tool-invocation steps derived from
// one model response. Only status and timing fields mutate after proposal.
type Plan struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Purpose     string     `json:"purpose"`
	Steps       []Step     `json:"steps"`
	MaxRisk     tools.Risk `json:"max_risk"`
	Status      PlanStatus `json:"status"`
	ProposedAt  time.Time  `json:"proposed_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
}

// NewPlan creates a PROPOSED plan, computing the aggregate risk as the
// maximum across steps.
func NewPlan(sessionID, purpose string, steps []Step) *Plan {
	maxRisk := tools.RiskReadOnly
	for _, step := range steps {
		maxRisk = tools.Max(maxRisk, step.Risk)
	}
	return &Plan{
		ID:         "plan_" + uuid.New().String()[:12],
		SessionID:  sessionID,
		Purpose:    purpose,
		Steps:      steps,
		MaxRisk:    maxRisk,
		Status:     PlanProposed,
		ProposedAt: time.Now().UTC(),
	}
}
