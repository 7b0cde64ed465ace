package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/shoprules/internal/logger"
	"github.com/liamcoop/shoprules/rules"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	noon := func() time.Time { return time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC) }
	s, err := NewServer(context.Background(), ServerOptions{
		LoadDefaultRules: true,
		RuleTimeout:      time.Second,
		RequestTimeout:   5 * time.Second,
		Clock:            noon,
	})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return s
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeValidateResponse(t *testing.T, rec *httptest.ResponseRecorder) ValidateResponse {
	t.Helper()

	var resp ValidateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestValidateEndpoint(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name           string
		entityType     string
		body           map[string]any
		wantStatus     int
		wantAllowed    bool
		wantViolations bool
	}{
		{
			name:        "valid product is allowed",
			entityType:  "product",
			body:        map[string]any{"entity": map[string]any{"price": 49.99}},
			wantStatus:  http.StatusOK,
			wantAllowed: true,
		},
		{
			name:           "HIGH violation exposes detail",
			entityType:     "product",
			body:           map[string]any{"entity": map[string]any{"price": 2}},
			wantStatus:     http.StatusUnprocessableEntity,
			wantViolations: true,
		},
		{
			name:       "MEDIUM violation hides detail",
			entityType: "product",
			body:       map[string]any{"entity": map[string]any{"price": 1500}},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "order over maximum is rejected",
			entityType: "order",
			body: map[string]any{
				"entity":  map[string]any{"total_amount_usd": 15000},
				"context": map[string]any{"items": []any{}},
			},
			wantStatus:     http.StatusUnprocessableEntity,
			wantViolations: true,
		},
		{
			name:       "payment from order context is evaluated",
			entityType: "order",
			body: map[string]any{
				"entity":  map[string]any{"total_amount_usd": 150},
				"context": map[string]any{"paymentData": map[string]any{"amount": 6000}},
			},
			wantStatus:     http.StatusUnprocessableEntity,
			wantViolations: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/api/v1/validate/"+tc.entityType, tc.body)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}

			resp := decodeValidateResponse(t, rec)
			if resp.EvaluationID == "" {
				t.Error("evaluationId should be set")
			}
			if resp.Allowed != tc.wantAllowed {
				t.Errorf("allowed = %v, want %v", resp.Allowed, tc.wantAllowed)
			}
			if (len(resp.Violations) > 0) != tc.wantViolations {
				t.Errorf("violations = %v, want present=%v", resp.Violations, tc.wantViolations)
			}
		})
	}
}

func TestValidateGenericMessageForMediumViolation(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/validate/product", map[string]any{
		"entity": map[string]any{"price": 1500},
	})
	resp := decodeValidateResponse(t, rec)

	if strings.Contains(resp.Error, "1500") {
		t.Errorf("MEDIUM rejection should not echo violation detail, got %q", resp.Error)
	}
	if resp.Error != s.policy.GenericMessage {
		t.Errorf("error = %q, want generic message", resp.Error)
	}
}

func TestValidateLowViolationSetsWarningsHeader(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/validate/order", map[string]any{
		"entity": map[string]any{"total_amount_usd": 0.5},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(WarningsHeader); got != "order:minimum_order_amount" {
		t.Errorf("%s = %q, want order:minimum_order_amount", WarningsHeader, got)
	}

	resp := decodeValidateResponse(t, rec)
	if !resp.Allowed {
		t.Error("LOW violations must not block the request")
	}
	if len(resp.Warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(resp.Warnings))
	}
}

func TestValidateCriticalRuleIsForbidden(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/rules", map[string]any{
		"group":       "product",
		"name":        "blocked_price_point",
		"type":        "RISK",
		"severity":    "CRITICAL",
		"description": "Price point used by a known fraud pattern",
		"expression":  "entity.price != 13.0",
		"message":     "Blocked price point",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/validate/product", map[string]any{
		"entity": map[string]any{"price": 13, "cardNumber": "4111111111111111"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}

	resp := decodeValidateResponse(t, rec)
	if resp.Allowed {
		t.Error("CRITICAL violation must reject the request")
	}
	if len(resp.Violations) != 0 {
		t.Errorf("CRITICAL rejection should not expose violations, got %v", resp.Violations)
	}
}

func TestValidateCriticalRejectionOmitsWarningsHeader(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/rules", map[string]any{
		"group":      "order",
		"name":       "blocked_total",
		"type":       "RISK",
		"severity":   "CRITICAL",
		"expression": "entity.total_amount_usd != 0.5",
		"message":    "Blocked order total",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	// The LOW minimum-amount rule also fails for this total
	rec = doRequest(t, s, http.MethodPost, "/api/v1/validate/order", map[string]any{
		"entity": map[string]any{"total_amount_usd": 0.5},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(WarningsHeader); got != "" {
		t.Errorf("%s = %q, want unset on a rejected request", WarningsHeader, got)
	}
}

func TestValidateMediumRejectionLogsDetail(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/validate/product", map[string]any{
		"entity": map[string]any{"price": 1500},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	logged := buf.String()
	if !strings.Contains(logged, "product:maximum_price") || !strings.Contains(logged, "exceeds the maximum") {
		t.Errorf("log output should carry the violation message, got %s", logged)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		name string
		path string
		body any
	}{
		{"unknown entity type", "/api/v1/validate/invoice", map[string]any{"entity": map[string]any{}}},
		{"missing entity", "/api/v1/validate/product", map[string]any{"context": map[string]any{}}},
		{"payment data not an object", "/api/v1/validate/order", map[string]any{
			"entity":  map[string]any{"total_amount_usd": 150},
			"context": map[string]any{"paymentData": "visa"},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/validate/product", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRuleStatusAndGroupListing(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/rules/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats struct {
		TotalRules int      `json:"totalRules"`
		Groups     []string `json:"groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalRules != 9 {
		t.Errorf("totalRules = %d, want 9", stats.TotalRules)
	}
	if len(stats.Groups) != 4 {
		t.Errorf("groups = %v, want 4 groups", stats.Groups)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/rules/order", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var group RuleGroupResponse
	if err := json.NewDecoder(rec.Body).Decode(&group); err != nil {
		t.Fatalf("failed to decode group: %v", err)
	}
	wantOrder := []string{
		"order:minimum_order_amount",
		"order:maximum_order_amount",
		"order:maximum_items_per_order",
		"order:business_hours_delivery",
	}
	if len(group.Rules) != len(wantOrder) {
		t.Fatalf("rules = %d, want %d", len(group.Rules), len(wantOrder))
	}
	for i, id := range wantOrder {
		if group.Rules[i].ID != id {
			t.Errorf("rules[%d] = %s, want %s", i, group.Rules[i].ID, id)
		}
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/rules/shipping", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown group status = %d, want 404", rec.Code)
	}
}

func TestCreateRuleRejectsInvalidExpression(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/rules", map[string]any{
		"group":      "product",
		"name":       "broken",
		"type":       "VALIDATION",
		"severity":   "HIGH",
		"expression": "entity.price >",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	if s.store.Has("product:broken") {
		t.Error("invalid rule must not be registered")
	}
}

func TestDeleteRule(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/rules/product/maximum_price", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if s.store.Has("product:maximum_price") {
		t.Error("rule should have been removed")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/validate/product", map[string]any{
		"entity": map[string]any{"price": 1500},
	})
	if rec.Code != http.StatusOK {
		t.Errorf("validate after delete status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodDelete, "/api/v1/rules/product/maximum_price", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestDeleteRuleKeepsRegistryWhenSourceFails(t *testing.T) {
	s := newTestServer(t)

	db, err := sql.Open("postgres", "postgres://localhost:5432/shoprules?sslmode=disable")
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	db.Close()
	s.source = rules.NewPostgresDefinitionSource(db)

	rec := doRequest(t, s, http.MethodDelete, "/api/v1/rules/order/maximum_order_amount", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !s.store.Has("order:maximum_order_amount") {
		t.Error("rule must stay registered when the persisted delete fails")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if health.Status != "healthy" || health.RulesLoaded != 9 {
		t.Errorf("health = %+v", health)
	}

	doRequest(t, s, http.MethodPost, "/api/v1/validate/product", map[string]any{
		"entity": map[string]any{"price": 20},
	})

	rec = doRequest(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"shoprules_evaluations_total", "shoprules_evaluation_duration_seconds", "shoprules_security_events_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
