// Package event defines the typed, immutable records describing everything
// that happens during a runtime run, and the in-process Bus that fans them out
// to live subscribers.
//
// Events are write-once: the runtime creates one at each state transition,
// persists it to the event log, then publishes it on the Bus. The log is the
// order of record; the Bus never reorders relative to it.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed enumeration of event types.
type Type string

const (
	TypeSessionCreated      Type = "session_created"
	TypeSessionResumed      Type = "session_resumed"
	TypePlanningStarted     Type = "planning_started"
	TypePlanProposed        Type = "plan_proposed"
	TypePlanApproved        Type = "plan_approved"
	TypePlanRejected        Type = "plan_rejected"
	TypeExecutionStarted    Type = "execution_started"
	TypeToolCallStarted     Type = "tool_call_started"
	TypeToolCallCompleted   Type = "tool_call_completed"
	TypeToolCallFailed      Type = "tool_call_failed"
	TypeThinking            Type = "thinking"
	TypeAnswerReady         Type = "answer_ready"
	TypeCompleted           Type = "completed"
	TypeCompletedWithErrors Type = "completed_with_errors"
	TypeWaitingForApproval  Type = "waiting_for_approval"
	TypeMessageQueued       Type = "message_queued"
	TypeInterrupted         Type = "interrupted"
	TypeError               Type = "error"
	TypeAuthorizationDenied Type = "authorization_denied"
)

// Types returns every member of the closed enumeration, in declaration order.
func Types() []Type {
	return []Type{
		TypeSessionCreated, TypeSessionResumed, TypePlanningStarted,
		TypePlanProposed, TypePlanApproved, TypePlanRejected,
		TypeExecutionStarted, TypeToolCallStarted, TypeToolCallCompleted,
		TypeToolCallFailed, TypeThinking, TypeAnswerReady, TypeCompleted,
		TypeCompletedWithErrors, TypeWaitingForApproval, TypeMessageQueued,
		TypeInterrupted, TypeError, TypeAuthorizationDenied,
	}
}

// Valid reports whether t is a member of the closed enumeration.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is an immutable fact about something that occurred during a run.
// The Payload is one of the typed payload structs below, matched to Type by
// the constructor functions; call sites never assemble an Event by hand.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	PlanID    string    `json:"plan_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Typed payloads, one per event type.

// SessionCreated announces a new session.
type SessionCreated struct {
	ActorID  string `json:"actor_id"`
	Autonomy string `json:"autonomy"`
}

// SessionResumed announces re-entry into a suspended session.
type SessionResumed struct {
	Reason string `json:"reason,omitempty"`
}

// PlanningStarted marks the start of a model-call iteration.
type PlanningStarted struct {
	Iteration int `json:"iteration"`
}

// PlanProposed carries the summary of a detected plan, including whether the
// autonomy policy will auto-execute it.
type PlanProposed struct {
	Purpose     string `json:"purpose"`
	StepCount   int    `json:"step_count"`
	RiskLevel   string `json:"risk_level"`
	AutoExecute bool   `json:"auto_execute"`
}

// PlanApproved records an external approval.
type PlanApproved struct {
	ApprovedBy string `json:"approved_by"`
}

// PlanRejected records an external rejection.
type PlanRejected struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason,omitempty"`
}

// ExecutionStarted marks the transition into plan execution.
type ExecutionStarted struct {
	StepCount int `json:"step_count"`
}

// ToolCallStarted marks the start of one step.
type ToolCallStarted struct {
	StepIndex int    `json:"step_index"`
	Tool      string `json:"tool"`
}

// ToolCallCompleted carries the result preview of a successful step.
type ToolCallCompleted struct {
	StepIndex     int    `json:"step_index"`
	Tool          string `json:"tool"`
	ResultPreview string `json:"result_preview"`
	Attempts      int    `json:"attempts"`
	DurationMS    int64  `json:"duration_ms"`
}

// ToolCallFailed records an exhausted-retry or non-retryable step failure.
type ToolCallFailed struct {
	StepIndex int    `json:"step_index"`
	Tool      string `json:"tool"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
}

// AuthorizationDenied records a per-step authorization denial.
type AuthorizationDenied struct {
	StepIndex int    `json:"step_index"`
	Tool      string `json:"tool"`
	Reason    string `json:"reason"`
}

// Thinking carries an intermediate text segment from the model.
type Thinking struct {
	Text string `json:"text"`
}

// AnswerReady carries the final assistant answer.
type AnswerReady struct {
	Text string `json:"text"`
}

// Completed marks a fully successful terminal state.
type Completed struct {
	DurationMS int64 `json:"duration_ms"`
}

// CompletedWithErrors marks a terminal state with at least one failed step.
type CompletedWithErrors struct {
	FailedSteps int   `json:"failed_steps"`
	DurationMS  int64 `json:"duration_ms"`
}

// WaitingForApproval marks suspension pending human review.
type WaitingForApproval struct {
	RiskLevel string `json:"risk_level"`
	Autonomy  string `json:"autonomy"`
}

// MessageQueued records a user turn accepted into the conversation.
type MessageQueued struct {
	Preview string `json:"preview"`
}

// Interrupted records an externally interrupted run.
type Interrupted struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorInfo records a fatal runtime-loop failure.
type ErrorInfo struct {
	Message string `json:"message"`
}

func newEvent(t Type, sessionID, planID string, payload any) Event {
	return Event{
		ID:        "evt_" + uuid.New().String()[:12],
		Type:      t,
		SessionID: sessionID,
		PlanID:    planID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Constructors. One per type so the payload cannot be mismatched.

func NewSessionCreated(sessionID string, p SessionCreated) Event {
	return newEvent(TypeSessionCreated, sessionID, "", p)
}

func NewSessionResumed(sessionID string, p SessionResumed) Event {
	return newEvent(TypeSessionResumed, sessionID, "", p)
}

func NewPlanningStarted(sessionID string, p PlanningStarted) Event {
	return newEvent(TypePlanningStarted, sessionID, "", p)
}

func NewPlanProposed(sessionID, planID string, p PlanProposed) Event {
	return newEvent(TypePlanProposed, sessionID, planID, p)
}

func NewPlanApproved(sessionID, planID string, p PlanApproved) Event {
	return newEvent(TypePlanApproved, sessionID, planID, p)
}

func NewPlanRejected(sessionID, planID string, p PlanRejected) Event {
	return newEvent(TypePlanRejected, sessionID, planID, p)
}

func NewExecutionStarted(sessionID, planID string, p ExecutionStarted) Event {
	return newEvent(TypeExecutionStarted, sessionID, planID, p)
}

func NewToolCallStarted(sessionID, planID string, p ToolCallStarted) Event {
	return newEvent(TypeToolCallStarted, sessionID, planID, p)
}

func NewToolCallCompleted(sessionID, planID string, p ToolCallCompleted) Event {
	return newEvent(TypeToolCallCompleted, sessionID, planID, p)
}

func NewToolCallFailed(sessionID, planID string, p ToolCallFailed) Event {
	return newEvent(TypeToolCallFailed, sessionID, planID, p)
}

func NewAuthorizationDenied(sessionID, planID string, p AuthorizationDenied) Event {
	return newEvent(TypeAuthorizationDenied, sessionID, planID, p)
}

func NewThinking(sessionID string, p Thinking) Event {
	return newEvent(TypeThinking, sessionID, "", p)
}

func NewAnswerReady(sessionID string, p AnswerReady) Event {
	return newEvent(TypeAnswerReady, sessionID, "", p)
}

func NewCompleted(sessionID, planID string, p Completed) Event {
	return newEvent(TypeCompleted, sessionID, planID, p)
}

func NewCompletedWithErrors(sessionID, planID string, p CompletedWithErrors) Event {
	return newEvent(TypeCompletedWithErrors, sessionID, planID, p)
}

func NewWaitingForApproval(sessionID, planID string, p WaitingForApproval) Event {
	return newEvent(TypeWaitingForApproval, sessionID, planID, p)
}

func NewMessageQueued(sessionID string, p MessageQueued) Event {
	return newEvent(TypeMessageQueued, sessionID, "", p)
}

func NewInterrupted(sessionID, planID string, p Interrupted) Event {
	return newEvent(TypeInterrupted, sessionID, planID, p)
}

func NewError(sessionID string, p ErrorInfo) Event {
	return newEvent(TypeError, sessionID, "", p)
}
