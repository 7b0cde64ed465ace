package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/shoprules/internal/logger"
	"github.com/liamcoop/shoprules/rules"
	"github.com/liamcoop/shoprules/validation"
)

// WarningsHeader carries the ids of LOW rules that failed on an allowed request
const WarningsHeader = "X-Rule-Warnings"

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		RulesLoaded: s.store.Len(),
		CheckedAt:   time.Now().UTC(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Database = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	respondJSON(w, http.StatusOK, resp)
}

// Validation handler
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "entity is required", nil)
		return
	}

	evaluationID := uuid.NewString()

	result, err := s.orchestrator.Validate(r.Context(), entityType, req.Entity, req.Context)
	if err != nil {
		var unknown *validation.UnknownEntityTypeError
		if errors.As(err, &unknown) {
			respondError(w, http.StatusBadRequest, "unknown entity type", err)
			return
		}
		var invalid *validation.InvalidSubEntityError
		if errors.As(err, &invalid) {
			logger.WarnHttp4xx()
			respondError(w, http.StatusBadRequest, "invalid context", err)
			return
		}
		logger.ErrorHttp5xx()
		logger.Error("Rule configuration error", "evaluationId", evaluationID, "entityType", entityType, "error", err)
		respondError(w, http.StatusInternalServerError, "rule configuration error", nil)
		return
	}

	decision := s.policy.Handle(result)
	resp := ValidateResponse{
		EvaluationID: evaluationID,
		Allowed:      decision.Action == rules.ActionAllow,
		Warnings:     decision.Warnings,
	}

	switch {
	case decision.Action == rules.ActionAllow:
		if len(decision.Warnings) > 0 {
			w.Header().Set(WarningsHeader, strings.Join(outcomeRules(decision.Warnings), ","))
		}
		respondJSON(w, http.StatusOK, resp)

	case decision.SecurityAlert:
		logger.WarnHttp4xx()
		logger.Security("Request rejected by critical business rule",
			"evaluationId", evaluationID,
			"entityType", entityType,
			"rules", outcomeRules(decision.Violations),
			"remoteAddr", r.RemoteAddr,
		)
		resp.Error = decision.Message
		resp.Warnings = nil
		respondJSON(w, http.StatusForbidden, resp)

	case decision.ExposeDetail:
		logger.WarnHttp4xx()
		resp.Error = decision.Message
		resp.Violations = decision.Violations
		respondJSON(w, http.StatusUnprocessableEntity, resp)

	default:
		logger.WarnHttp4xx()
		logger.Info("Request rejected by business rules",
			"evaluationId", evaluationID,
			"entityType", entityType,
			"rules", outcomeRules(decision.Violations),
			"violations", outcomeMessages(decision.Violations),
		)
		resp.Error = decision.Message
		respondJSON(w, http.StatusUnprocessableEntity, resp)
	}
}

// Rule registry status handler
func (s *Server) handleRuleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.store.Stats())
}

// List rules of one group
func (s *Server) handleListGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")

	snapshot := s.store.GetRulesByGroup(group)
	if len(snapshot) == 0 {
		respondError(w, http.StatusNotFound, "rule group not found", nil)
		return
	}

	resp := RuleGroupResponse{
		Group: group,
		Rules: make([]rules.Descriptor, 0, len(snapshot)),
	}
	for _, rule := range snapshot {
		resp.Rules = append(resp.Rules, rule.Describe())
	}
	respondJSON(w, http.StatusOK, resp)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	def := req.definition()

	// Compile before persisting so a broken expression never reaches the database
	if _, err := s.compiler.Compile(def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	if s.source != nil {
		if err := s.source.Save(r.Context(), &def); err != nil {
			logger.ErrorHttp5xx()
			logger.Error("Failed to persist rule definition", "rule", def.RuleID(), "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save rule", err)
			return
		}
	}

	if err := s.compiler.Register(s.store, def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule", err)
		return
	}

	logger.Info("Rule registered", "rule", def.RuleID(), "persisted", s.source != nil)

	rule, _ := s.store.Get(def.RuleID())
	respondJSON(w, http.StatusCreated, rule.Describe())
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	name := chi.URLParam(r, "name")

	// Persisted definition first; the registry is only touched once that succeeds
	persisted := false
	if s.source != nil {
		err := s.source.Delete(r.Context(), group, name)
		switch {
		case err == nil:
			persisted = true
		case !errors.Is(err, rules.ErrDefinitionNotFound):
			logger.ErrorHttp5xx()
			logger.Error("Failed to delete rule definition", "rule", rules.RuleID(group, name), "error", err)
			respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
			return
		}
	}

	removed := s.store.RemoveRule(group, name) || persisted

	if !removed {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}

	logger.Info("Rule removed", "rule", rules.RuleID(group, name))
	w.WriteHeader(http.StatusNoContent)
}

// outcomeMessages pairs each rule id with its resolved message for logging
func outcomeMessages(outcomes []rules.Outcome) map[string]string {
	messages := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		messages[o.Rule] = o.Message
	}
	return messages
}

func outcomeRules(outcomes []rules.Outcome) []string {
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		ids = append(ids, o.Rule)
	}
	return ids
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}
