// Package agent implements the runtime core: the session model, the plan
// detector and autonomy policy, and the state machine that drives iterations
// of call-model, classify, decide, act.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/overwatch-ai/reins/internal/llm"
)

// Autonomy controls how much risk a session may auto-execute without human
// approval, ordered from least to most permissive.
type Autonomy string

const (
	AutonomyReadOnly        Autonomy = "read_only"
	AutonomyRecommendations Autonomy = "recommendations"
	AutonomyAssisted        Autonomy = "assisted"
	AutonomySupervised      Autonomy = "supervised"
)

// Valid reports whether a is a known autonomy level.
func (a Autonomy) Valid() bool {
	switch a {
	case AutonomyReadOnly, AutonomyRecommendations, AutonomyAssisted, AutonomySupervised:
		return true
	}
	return false
}

// SessionStatus is the session state machine's current state.
type SessionStatus string

const (
	SessionPlanning            SessionStatus = "PLANNING"
	SessionExecuting           SessionStatus = "EXECUTING"
	SessionWaitingApproval     SessionStatus = "WAITING_APPROVAL"
	SessionCompleted           SessionStatus = "COMPLETED"
	SessionCompletedWithErrors SessionStatus = "COMPLETED_WITH_ERRORS"
	SessionError               SessionStatus = "ERROR"
)

// Terminal reports whether the status is one of the terminal states.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCompletedWithErrors, SessionError:
		return true
	}
	return false
}

// Turn is one conversation entry. It mirrors llm.Message so history can be
// replayed to the model verbatim.
type Turn struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
}

// Session is one ongoing conversation. The runtime mutates Status,
// PendingPlanID, and Turns on every transition; everything else is set at
// creation. At most one plan per session is waiting approval or executing.
type Session struct {
	ID            string        `json:"id"`
	ActorID       string        `json:"actor_id"`
	Autonomy      Autonomy      `json:"autonomy"`
	Status        SessionStatus `json:"status"`
	Turns         []Turn        `json:"turns"`
	PendingPlanID string        `json:"pending_plan_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NewSession creates a session in PLANNING with an empty conversation.
func NewSession(actorID string, autonomy Autonomy) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        "ses_" + uuid.New().String()[:12],
		ActorID:   actorID,
		Autonomy:  autonomy,
		Status:    SessionPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn to the conversation.
func (s *Session) Append(turn Turn) {
	s.Turns = append(s.Turns, turn)
}

// Messages converts the conversation history to provider messages.
func (s *Session) Messages() []llm.Message {
	out := make([]llm.Message, len(s.Turns))
	for i, t := range s.Turns {
		out[i] = llm.Message{
			Role:       t.Role,
			Content:    t.Content,
			ToolCallID: t.ToolCallID,
			ToolCalls:  t.ToolCalls,
		}
	}
	return out
}
