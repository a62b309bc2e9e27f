package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/overwatch-ai/reins/internal/agent/tools"
	"github.com/overwatch-ai/reins/internal/authz"
	"github.com/overwatch-ai/reins/internal/event"
	"github.com/overwatch-ai/reins/internal/llm"
	reinsotel "github.com/overwatch-ai/reins/internal/otel"
	"github.com/overwatch-ai/reins/internal/retry"
)

var tracer = reinsotel.Tracer("github.com/overwatch-ai/reins/internal/agent")

var (
	ErrPlanSessionMismatch = errors.New("plan does not belong to session")
	ErrSessionBusy         = errors.New("session has a plan waiting approval or executing")
)

const (
	resultPreviewLen  = 500
	messagePreviewLen = 120
)

// Runner drives the session state machine: call the model, classify the
// response, decide via the autonomy policy, and act. Every transition emits
// an event through the Emitter (persist first, then fan out).
//
// A Runner handles many sessions; each session's run is sequential, but
// different sessions run concurrently with no shared mutable state beyond
// the stores and the breaker/tracker, which guard themselves.
type Runner struct {
	sessions *SessionStore
	plans    *PlanStore
	registry *tools.Registry
	caps     *tools.Capabilities
	checker  *authz.Checker
	emitter  *event.Emitter
	router   *llm.Router
	retrier  *retry.Executor
	breaker  *CircuitBreaker
	failures *ToolFailureTracker

	model         string
	systemPrompt  string
	maxIterations int
	planThreshold int
}

// RunnerConfig holds the dependencies for constructing a Runner.
type RunnerConfig struct {
	Sessions     *SessionStore
	Plans        *PlanStore
	Registry     *tools.Registry
	Capabilities *tools.Capabilities
	Checker      *authz.Checker
	Emitter      *event.Emitter
	Router       *llm.Router
	Retry        *retry.Executor

	Model         string
	SystemPrompt  string
	MaxIterations int // model-call iterations per run; <= 0 defaults to 8
	PlanThreshold int // tool calls at or above which a response becomes a plan; <= 0 defaults to 2

	Breaker  *CircuitBreaker     // optional; nil = defaults
	Failures *ToolFailureTracker // optional; nil = defaults
}

// NewRunner creates a runner with the given dependencies.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.PlanThreshold <= 0 {
		cfg.PlanThreshold = 2
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.NewExecutor(retry.DefaultConfig())
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewCircuitBreaker(0, 0)
	}
	if cfg.Failures == nil {
		cfg.Failures = NewToolFailureTracker(0, 0)
	}
	if cfg.Capabilities == nil {
		cfg.Capabilities = tools.DefaultCapabilities()
	}
	return &Runner{
		sessions:      cfg.Sessions,
		plans:         cfg.Plans,
		registry:      cfg.Registry,
		caps:          cfg.Capabilities,
		checker:       cfg.Checker,
		emitter:       cfg.Emitter,
		router:        cfg.Router,
		retrier:       cfg.Retry,
		breaker:       cfg.Breaker,
		failures:      cfg.Failures,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		maxIterations: cfg.MaxIterations,
		planThreshold: cfg.PlanThreshold,
	}
}

// StartSession creates a new session for the actor and emits session_created.
func (r *Runner) StartSession(ctx context.Context, actorID string, autonomy Autonomy) (*Session, error) {
	if !autonomy.Valid() {
		return nil, fmt.Errorf("unknown autonomy level %q", autonomy)
	}

	session := NewSession(actorID, autonomy)
	if r.systemPrompt != "" {
		session.Append(Turn{Role: "system", Content: r.systemPrompt})
	}
	if err := r.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	r.emit(ctx, event.NewSessionCreated(session.ID, event.SessionCreated{
		ActorID:  actorID,
		Autonomy: string(autonomy),
	}))

	log.Info().
		Str("session_id", session.ID).
		Str("actor_id", actorID).
		Str("autonomy", string(autonomy)).
		Msg("session_created")
	return session, nil
}

// HandleMessage appends a user turn and runs the state machine. If the
// session is suspended waiting for approval (or mid-execution), the message
// is queued into the conversation and the run is not re-entered; it will be
// seen by the model after the pending plan resolves.
func (r *Runner) HandleMessage(ctx context.Context, sessionID, message string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "agent.handle_message",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resumed := session.Status.Terminal()
	session.Append(Turn{Role: "user", Content: message})
	r.emit(ctx, event.NewMessageQueued(session.ID, event.MessageQueued{
		Preview: truncate(message, messagePreviewLen),
	}))

	if session.Status == SessionWaitingApproval || session.Status == SessionExecuting {
		if err := r.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
		return session, nil
	}

	if resumed {
		r.emit(ctx, event.NewSessionResumed(session.ID, event.SessionResumed{Reason: "new_message"}))
	}

	if err := r.run(ctx, session); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return session, err
	}
	return session, nil
}

// RunFromTrigger starts a fresh session for a scheduled or webhook trigger
// and runs the prompt through the state machine. Unattended runs follow the
// same autonomy policy as interactive ones: a plan above the auto-execute
// line suspends in WAITING_APPROVAL until an operator resolves it.
func (r *Runner) RunFromTrigger(ctx context.Context, actorID, autonomy, prompt, invocationType string) error {
	session, err := r.StartSession(ctx, actorID, Autonomy(autonomy))
	if err != nil {
		return err
	}
	log.Info().
		Str("session_id", session.ID).
		Str("actor_id", actorID).
		Str("invocation_type", invocationType).
		Msg("trigger_run_started")

	_, err = r.HandleMessage(ctx, session.ID, prompt)
	return err
}

// run is the PLANNING loop. Each iteration calls the model and classifies
// the response; the loop ends on a final answer, a plan (executed or
// suspended), or the iteration cap.
func (r *Runner) run(ctx context.Context, session *Session) error {
	ctx, span := tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("session_id", session.ID),
			attribute.String("session.autonomy", string(session.Autonomy)),
		))
	defer span.End()

	start := time.Now()

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		session.Status = SessionPlanning
		session.PendingPlanID = ""
		if err := r.sessions.Save(ctx, session); err != nil {
			return err
		}
		r.emit(ctx, event.NewPlanningStarted(session.ID, event.PlanningStarted{Iteration: iteration}))

		resp, err := r.callModel(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				r.emit(ctx, event.NewInterrupted(session.ID, "", event.Interrupted{Reason: ctx.Err().Error()}))
				return r.failSession(ctx, session, "run interrupted: "+ctx.Err().Error())
			}
			return r.failSession(ctx, session, "model call failed: "+err.Error())
		}

		cls := Classify(session.ID, resp, r.caps, r.planThreshold)
		span.SetAttributes(attribute.String("response.kind", string(cls.Kind)))

		switch cls.Kind {
		case ResponseNoTools:
			session.Append(Turn{Role: "assistant", Content: resp.Content})
			r.emit(ctx, event.NewAnswerReady(session.ID, event.AnswerReady{Text: resp.Content}))

			session.Status = SessionCompleted
			if err := r.sessions.Save(ctx, session); err != nil {
				return err
			}
			r.emit(ctx, event.NewCompleted(session.ID, "", event.Completed{
				DurationMS: time.Since(start).Milliseconds(),
			}))
			return nil

		case ResponseDirectCalls:
			if resp.Content != "" {
				r.emit(ctx, event.NewThinking(session.ID, event.Thinking{Text: resp.Content}))
			}
			session.Append(Turn{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

			// Direct calls go through the same authorization and retry
			// path as plan steps, just without a persisted plan record.
			r.executeSteps(ctx, session, "", cls.Steps)
			if err := r.sessions.Save(ctx, session); err != nil {
				return err
			}
			continue

		case ResponsePlan:
			if resp.Content != "" {
				r.emit(ctx, event.NewThinking(session.ID, event.Thinking{Text: resp.Content}))
			}
			session.Append(Turn{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
			return r.handlePlan(ctx, session, cls.Plan, start)
		}
	}

	return r.failSession(ctx, session,
		fmt.Sprintf("iteration cap exceeded (%d model calls without a final answer)", r.maxIterations))
}

// handlePlan persists a detected plan, emits plan_proposed, and either
// executes it or suspends the session in WAITING_APPROVAL.
func (r *Runner) handlePlan(ctx context.Context, session *Session, plan *Plan, runStart time.Time) error {
	auto := AutoExecute(plan.MaxRisk, session.Autonomy)

	if err := r.plans.Save(ctx, plan); err != nil {
		return r.failSession(ctx, session, "persisting plan: "+err.Error())
	}
	session.PendingPlanID = plan.ID

	r.emit(ctx, event.NewPlanProposed(session.ID, plan.ID, event.PlanProposed{
		Purpose:     plan.Purpose,
		StepCount:   len(plan.Steps),
		RiskLevel:   string(plan.MaxRisk),
		AutoExecute: auto,
	}))

	log.Info().
		Str("session_id", session.ID).
		Str("plan_id", plan.ID).
		Str("max_risk", string(plan.MaxRisk)).
		Int("steps", len(plan.Steps)).
		Bool("auto_execute", auto).
		Msg("plan_proposed")

	if !auto {
		if err := r.plans.Transition(ctx, plan.ID, PlanProposed, PlanWaitingApproval); err != nil {
			return r.failSession(ctx, session, "suspending plan: "+err.Error())
		}
		session.Status = SessionWaitingApproval
		if err := r.sessions.Save(ctx, session); err != nil {
			return err
		}
		r.emit(ctx, event.NewWaitingForApproval(session.ID, plan.ID, event.WaitingForApproval{
			RiskLevel: string(plan.MaxRisk),
			Autonomy:  string(session.Autonomy),
		}))
		return nil
	}

	if err := r.plans.Transition(ctx, plan.ID, PlanProposed, PlanAutoExecuting); err != nil {
		return r.failSession(ctx, session, "starting plan: "+err.Error())
	}
	session.Status = SessionExecuting
	if err := r.sessions.Save(ctx, session); err != nil {
		return err
	}
	return r.executePlan(ctx, session, plan, runStart)
}

// Approve resumes a session suspended in WAITING_APPROVAL by executing the
// plan. Rejected if the plan is not currently waiting for that session; no
// state mutates in that case.
func (r *Runner) Approve(ctx context.Context, sessionID, planID, approvedBy string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "agent.approve",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("plan_id", planID),
		))
	defer span.End()

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := r.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.SessionID != sessionID {
		return nil, ErrPlanSessionMismatch
	}

	// The guard lives in the UPDATE: this fails without mutation when the
	// plan is not WAITING_APPROVAL.
	if err := r.plans.Transition(ctx, planID, PlanWaitingApproval, PlanExecuting); err != nil {
		return nil, err
	}

	r.emit(ctx, event.NewPlanApproved(session.ID, plan.ID, event.PlanApproved{ApprovedBy: approvedBy}))
	r.emit(ctx, event.NewSessionResumed(session.ID, event.SessionResumed{Reason: "plan_approved"}))

	log.Info().
		Str("session_id", sessionID).
		Str("plan_id", planID).
		Str("approved_by", approvedBy).
		Msg("plan_approved")

	session.Status = SessionExecuting
	if err := r.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	if err := r.executePlan(ctx, session, plan, time.Now()); err != nil {
		return session, err
	}
	return session, nil
}

// Reject terminates a plan suspended in WAITING_APPROVAL. Rejected if the
// plan is not currently waiting for that session; no state mutates then.
func (r *Runner) Reject(ctx context.Context, sessionID, planID, rejectedBy, reason string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "agent.reject",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("plan_id", planID),
		))
	defer span.End()

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	plan, err := r.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.SessionID != sessionID {
		return nil, ErrPlanSessionMismatch
	}

	if err := r.plans.Reject(ctx, planID, reason); err != nil {
		return nil, err
	}

	r.emit(ctx, event.NewPlanRejected(session.ID, plan.ID, event.PlanRejected{
		RejectedBy: rejectedBy,
		Reason:     reason,
	}))

	session.Status = SessionCompleted
	session.PendingPlanID = ""
	if err := r.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	r.emit(ctx, event.NewCompleted(session.ID, plan.ID, event.Completed{}))
	return session, nil
}

// executePlan runs every step of a plan in order and settles the plan and
// session into a terminal state. Step failures never abort the plan; only
// the terminal status reflects them.
func (r *Runner) executePlan(ctx context.Context, session *Session, plan *Plan, runStart time.Time) error {
	ctx, span := tracer.Start(ctx, "agent.execute_plan",
		trace.WithAttributes(
			attribute.String("plan_id", plan.ID),
			attribute.Int("plan.steps", len(plan.Steps)),
		))
	defer span.End()

	planStart := time.Now()
	if err := r.plans.MarkStarted(ctx, plan.ID); err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("plan_mark_started_failed")
	}
	r.emit(ctx, event.NewExecutionStarted(session.ID, plan.ID, event.ExecutionStarted{
		StepCount: len(plan.Steps),
	}))

	failed := r.executeSteps(ctx, session, plan.ID, plan.Steps)

	planDuration := time.Since(planStart)
	runDuration := time.Since(runStart)
	session.PendingPlanID = ""

	if failed > 0 {
		if err := r.plans.Finish(ctx, plan.ID, PlanFailed, planDuration); err != nil {
			log.Warn().Err(err).Str("plan_id", plan.ID).Msg("plan_finish_failed")
		}
		session.Status = SessionCompletedWithErrors
		if err := r.sessions.Save(ctx, session); err != nil {
			return err
		}
		r.emit(ctx, event.NewCompletedWithErrors(session.ID, plan.ID, event.CompletedWithErrors{
			FailedSteps: failed,
			DurationMS:  runDuration.Milliseconds(),
		}))
		return nil
	}

	if err := r.plans.Finish(ctx, plan.ID, PlanCompleted, planDuration); err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("plan_finish_failed")
	}
	session.Status = SessionCompleted
	if err := r.sessions.Save(ctx, session); err != nil {
		return err
	}
	r.emit(ctx, event.NewCompleted(session.ID, plan.ID, event.Completed{
		DurationMS: runDuration.Milliseconds(),
	}))
	return nil
}

// executeSteps runs steps in order through the authorization gate and the
// retry executor, emitting started/completed/failed/denied per step and
// appending tool-result turns to the conversation. Returns the number of
// failed steps. A denied or failed step never prevents later steps.
func (r *Runner) executeSteps(ctx context.Context, session *Session, planID string, steps []Step) int {
	failed := 0
	for i, step := range steps {
		r.emit(ctx, event.NewToolCallStarted(session.ID, planID, event.ToolCallStarted{
			StepIndex: i,
			Tool:      step.Tool,
		}))

		if reason := r.authorize(ctx, session.ActorID, step); reason != "" {
			r.emit(ctx, event.NewAuthorizationDenied(session.ID, planID, event.AuthorizationDenied{
				StepIndex: i,
				Tool:      step.Tool,
				Reason:    reason,
			}))
			r.breaker.RecordDenial(session.ActorID)
			session.Append(toolTurn(step, "authorization denied: "+reason))
			failed++
			continue
		}
		r.breaker.RecordSuccess(session.ActorID)

		tool, ok := r.registry.Get(step.Tool)
		if !ok {
			r.emit(ctx, event.NewToolCallFailed(session.ID, planID, event.ToolCallFailed{
				StepIndex: i,
				Tool:      step.Tool,
				Error:     "unknown tool",
				Attempts:  0,
			}))
			session.Append(toolTurn(step, "error: unknown tool "+step.Tool))
			failed++
			continue
		}

		if err := tools.ValidateArgs(tool, step.Args); err != nil {
			r.emit(ctx, event.NewToolCallFailed(session.ID, planID, event.ToolCallFailed{
				StepIndex: i,
				Tool:      step.Tool,
				Error:     err.Error(),
				Attempts:  0,
			}))
			session.Append(toolTurn(step, "error: "+err.Error()))
			failed++
			continue
		}

		result, res := retry.DoValue(ctx, r.retrier, func(ctx context.Context) (string, error) {
			return tool.Execute(ctx, step.Args)
		})
		if res.Err != nil {
			r.emit(ctx, event.NewToolCallFailed(session.ID, planID, event.ToolCallFailed{
				StepIndex: i,
				Tool:      step.Tool,
				Error:     res.Err.Error(),
				Attempts:  res.Attempts,
			}))
			r.failures.RecordToolFailure(session.ActorID, step.Tool, res.Err.Error())
			session.Append(toolTurn(step, "error: "+res.Err.Error()))
			failed++
			continue
		}

		r.emit(ctx, event.NewToolCallCompleted(session.ID, planID, event.ToolCallCompleted{
			StepIndex:     i,
			Tool:          step.Tool,
			ResultPreview: truncate(result, resultPreviewLen),
			Attempts:      res.Attempts,
			DurationMS:    res.Duration.Milliseconds(),
		}))
		session.Append(toolTurn(step, result))
	}
	return failed
}

// authorize clears a step through the circuit breaker and the authorization
// checker. Returns the deny reason, or "" when allowed.
func (r *Runner) authorize(ctx context.Context, actorID string, step Step) string {
	if err := r.breaker.Check(actorID); err != nil {
		return err.Error()
	}
	decision, err := r.checker.Check(ctx, actorID, step.Tool, step.Args)
	if err != nil {
		return "authorization check failed: " + err.Error()
	}
	if !decision.Allowed {
		return decision.Reason
	}
	return ""
}

// callModel resolves the provider and sends the conversation with the
// registered tool schema.
func (r *Runner) callModel(ctx context.Context, session *Session) (*llm.Response, error) {
	provider, model, err := r.router.Resolve(r.model)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, &llm.Request{
		Model:    model,
		Messages: session.Messages(),
		Tools:    r.toolSchema(),
	})
	if err != nil {
		return nil, err
	}

	llm.RecordCostMetrics(ctx,
		provider.EstimateCost(model, resp.InputTokens, resp.OutputTokens),
		session.ID, model)
	return resp, nil
}

// toolSchema converts the registry's tools to provider tool definitions.
func (r *Runner) toolSchema() []llm.Tool {
	list := r.registry.List()
	out := make([]llm.Tool, 0, len(list))
	for _, t := range list {
		params := map[string]interface{}{"type": "object"}
		if raw := t.InputSchema(); len(raw) > 0 {
			var parsed map[string]interface{}
			if err := json.Unmarshal(raw, &parsed); err == nil {
				params = parsed
			}
		}
		out = append(out, llm.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return out
}

// failSession records a fatal runtime-loop failure: status ERROR, no partial
// credit, and an error event so the failure is never silent to an observer.
func (r *Runner) failSession(ctx context.Context, session *Session, msg string) error {
	r.emit(ctx, event.NewError(session.ID, event.ErrorInfo{Message: msg}))

	session.Status = SessionError
	session.PendingPlanID = ""
	if err := r.sessions.Save(ctx, session); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("session_save_failed_after_error")
	}

	log.Error().Str("session_id", session.ID).Str("error", msg).Msg("session_failed")
	return errors.New(msg)
}

// emit persists and publishes one event. Emission failures are logged by the
// emitter; the run continues so a storage hiccup cannot silently stall a
// session mid-execution.
func (r *Runner) emit(ctx context.Context, ev event.Event) {
	if err := r.emitter.Emit(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("session_id", ev.SessionID).
			Str("event_type", string(ev.Type)).
			Msg("event_emit_failed")
	}
}

func toolTurn(step Step, content string) Turn {
	return Turn{Role: "tool", Content: content, ToolCallID: step.CallID}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
