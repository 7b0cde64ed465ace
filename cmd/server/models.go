package main

import (
	"time"

	"github.com/liamcoop/shoprules/rules"
)

// API request and response models

// ValidateRequest is the body of POST /api/v1/validate/{entityType}
type ValidateRequest struct {
	Entity  map[string]any `json:"entity" validate:"required"`
	Context map[string]any `json:"context,omitempty"`
}

// ValidateResponse is returned for allowed and rejected requests alike
type ValidateResponse struct {
	EvaluationID string          `json:"evaluationId"`
	Allowed      bool            `json:"allowed"`
	Error        string          `json:"error,omitempty"`
	Violations   []rules.Outcome `json:"violations,omitempty"`
	Warnings     []rules.Outcome `json:"warnings"`
}

// CreateRuleRequest registers a CEL rule
type CreateRuleRequest struct {
	Group             string         `json:"group" validate:"required"`
	Name              string         `json:"name" validate:"required"`
	Type              rules.RuleType `json:"type" validate:"required"`
	Severity          rules.Severity `json:"severity" validate:"required"`
	Description       string         `json:"description"`
	Expression        string         `json:"expression" validate:"required"`
	Message           string         `json:"message"`
	MessageExpression string         `json:"messageExpression,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	RequiresContext   bool           `json:"requiresContext,omitempty"`
}

func (r CreateRuleRequest) definition() rules.Definition {
	return rules.Definition{
		Group:             r.Group,
		Name:              r.Name,
		Type:              r.Type,
		Severity:          r.Severity,
		Description:       r.Description,
		Expression:        r.Expression,
		Message:           r.Message,
		MessageExpression: r.MessageExpression,
		Context:           r.Context,
		RequiresContext:   r.RequiresContext,
		Active:            true,
	}
}

// RuleGroupResponse lists the rules of a group
type RuleGroupResponse struct {
	Group string             `json:"group"`
	Rules []rules.Descriptor `json:"rules"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string    `json:"status"`
	RulesLoaded int       `json:"rulesLoaded"`
	Database    string    `json:"database,omitempty"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
