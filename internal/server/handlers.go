package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/overwatch-ai/reins/internal/agent"
	"github.com/overwatch-ai/reins/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type createSessionRequest struct {
	ActorID  string `json:"actor_id"`
	Autonomy string `json:"autonomy"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	actorID := requestctx.ActorID(r.Context())
	if actorID == "" {
		actorID = req.ActorID
	}
	if actorID == "" {
		actorID = "default"
	}
	autonomy := agent.Autonomy(req.Autonomy)
	if req.Autonomy == "" {
		autonomy = agent.AutonomyRecommendations
	}

	session, err := s.runner.StartSession(r.Context(), actorID, autonomy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"session_id": session.ID,
		"actor_id":   session.ActorID,
		"autonomy":   string(session.Autonomy),
		"status":     string(session.Status),
	})
}

type sessionMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sessionMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	session, err := s.runner.HandleMessage(ctx, sessionID, req.Message)
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		// Fatal runtime-loop failure: the session is in ERROR and the error
		// event is already in the log.
		log.Error().Err(err).Str("session_id", sessionID).Msg("session_run_error")
		writeError(w, http.StatusInternalServerError, "run_failed", err.Error())
		return
	}

	resp := map[string]interface{}{
		"session_id": session.ID,
		"status":     string(session.Status),
	}
	if session.Status == agent.SessionWaitingApproval {
		resp["pending_plan_id"] = session.PendingPlanID
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	if answer := lastAnswer(session); answer != "" {
		resp["answer"] = answer
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, agent.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	sessions, err := s.sessions.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	exists, err := s.sessions.Exists(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	events, err := s.events.BySession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"events":     events,
		"count":      len(events),
	})
}

func (s *Server) handlePlansPending(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListWaiting(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

func (s *Server) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	plan, err := s.plans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, agent.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type planDecisionRequest struct {
	SessionID string `json:"session_id"`
	By        string `json:"by"`
	Reason    string `json:"reason"`
}

func (s *Server) handlePlanApprove(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "id")
	req, plan, ok := s.decodePlanDecision(w, r, planID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), runTimeout)
	defer cancel()

	session, err := s.runner.Approve(ctx, req.SessionID, planID, req.By)
	if err != nil {
		s.writePlanDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"plan_id":    plan.ID,
		"status":     string(session.Status),
	})
}

func (s *Server) handlePlanReject(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "id")
	req, plan, ok := s.decodePlanDecision(w, r, planID)
	if !ok {
		return
	}

	session, err := s.runner.Reject(r.Context(), req.SessionID, planID, req.By, req.Reason)
	if err != nil {
		s.writePlanDecisionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"plan_id":    plan.ID,
		"status":     string(session.Status),
	})
}

// decodePlanDecision parses an approve/reject body and resolves defaults: the
// session id comes from the plan itself when omitted, the deciding identity
// from the authenticated actor.
func (s *Server) decodePlanDecision(w http.ResponseWriter, r *http.Request, planID string) (*planDecisionRequest, *agent.Plan, bool) {
	var req planDecisionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
			return nil, nil, false
		}
	}

	plan, err := s.plans.Get(r.Context(), planID)
	if err != nil {
		if errors.Is(err, agent.ErrPlanNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return nil, nil, false
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil, nil, false
	}

	if req.SessionID == "" {
		req.SessionID = plan.SessionID
	}
	if req.By == "" {
		req.By = requestctx.ActorID(r.Context())
	}
	if req.By == "" {
		req.By = "api"
	}
	return &req, plan, true
}

func (s *Server) writePlanDecisionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrSessionNotFound), errors.Is(err, agent.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, agent.ErrPlanNotWaiting), errors.Is(err, agent.ErrPlanWrongState):
		writeError(w, http.StatusConflict, "plan_not_waiting", err.Error())
	case errors.Is(err, agent.ErrPlanSessionMismatch):
		writeError(w, http.StatusConflict, "session_mismatch", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// lastAnswer returns the newest assistant turn with text content.
func lastAnswer(session *agent.Session) string {
	for i := len(session.Turns) - 1; i >= 0; i-- {
		if session.Turns[i].Role == "assistant" && session.Turns[i].Content != "" {
			return session.Turns[i].Content
		}
	}
	return ""
}
