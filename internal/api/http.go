// Package api exposes the agent over HTTP (REST) and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/scout/internal/feedback"
	"github.com/kalambet/scout/internal/pipeline"
	"github.com/kalambet/scout/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner is the pipeline surface the HTTP layer needs.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, text string) (pipeline.Reply, error)
}

// PolicyStore reads and writes retrieval policies and feedback history.
type PolicyStore interface {
	Policies() ([]storage.SearchPolicy, error)
	UpsertPolicy(storage.SearchPolicy) error
	FeedbackEvents() ([]storage.FeedbackEvent, error)
	ToolUseEvents() ([]storage.ToolUseEvent, error)
}

// NewHandler returns the REST API handler.
func NewHandler(runner TurnRunner, store PolicyStore) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/v1/query", handleQuery(runner))
	r.Get("/v1/policies", handleListPolicies(store))
	r.Put("/v1/policies", handlePutPolicy(store))
	r.Get("/v1/feedback/summary", handleFeedbackSummary(store))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// queryRequest is the body for POST /v1/query.
type queryRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

func handleQuery(runner TurnRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		reply, err := runner.RunTurn(r.Context(), req.ConversationID, req.Text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "processing turn: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

func handleListPolicies(store PolicyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policies, err := store.Policies()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing policies: %v", err)
			return
		}

		type policyEntry struct {
			Pattern string              `json:"pattern"`
			Rules   storage.PolicyRules `json:"rules"`
		}
		out := make([]policyEntry, 0, len(policies))
		for _, p := range policies {
			out = append(out, policyEntry{Pattern: p.Pattern, Rules: p.Rules})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

// putPolicyRequest is the body for PUT /v1/policies, the API equivalent of
// teaching a search hint in conversation.
type putPolicyRequest struct {
	Pattern string              `json:"pattern"`
	Rules   storage.PolicyRules `json:"rules"`
}

func handlePutPolicy(store PolicyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req putPolicyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Pattern) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pattern is required")
			return
		}

		if err := store.UpsertPolicy(storage.SearchPolicy{
			Pattern: strings.ToLower(strings.TrimSpace(req.Pattern)),
			Rules:   req.Rules,
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving policy: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// feedbackSummary is the body for GET /v1/feedback/summary.
type feedbackSummary struct {
	TotalEvents int                  `json:"total_events"`
	ByType      map[string]int       `json:"by_type"`
	BySeverity  map[string]int       `json:"by_severity"`
	ToolStats   []feedback.ToolStats `json:"tool_stats"`
}

func handleFeedbackSummary(store PolicyStore) http.HandlerFunc {
	learner := feedback.NewLearner()
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := store.FeedbackEvents()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading feedback: %v", err)
			return
		}
		toolEvents, err := store.ToolUseEvents()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading tool use log: %v", err)
			return
		}

		summary := feedbackSummary{
			TotalEvents: len(events),
			ByType:      map[string]int{},
			BySeverity:  map[string]int{},
			ToolStats:   learner.Stats(toolEvents),
		}
		for _, e := range events {
			for _, t := range e.Types {
				summary.ByType[t]++
			}
			summary.BySeverity[e.Severity]++
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(summary)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
