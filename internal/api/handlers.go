// Package api exposes the HTTP surface: run triggers, rule management, and
// the reply log.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mailpilot/mailpilot/internal/responder"
	"github.com/mailpilot/mailpilot/internal/rules"
	"github.com/mailpilot/mailpilot/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds handler dependencies.
type Deps struct {
	Store    *storage.Store
	Runner   *responder.Runner
	Sessions Sessions

	// CronSecret authorizes scheduled triggers (exact match).
	CronSecret string
	// ServiceRefreshToken is the fallback mailbox credential for triggers
	// without a session-bound one.
	ServiceRefreshToken string
	// NewMailbox builds a mailbox from a refresh token. Injected so tests
	// run without the Gmail API.
	NewMailbox func(ctx context.Context, refreshToken string) (responder.Mailbox, error)
}

// NewHandler returns the HTTP handler for the full API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/process", handleProcessScheduled(deps))
	r.Post("/process", handleProcessInteractive(deps))

	r.Group(func(r chi.Router) {
		r.Use(requireSession(deps.Sessions))
		r.Get("/rules", handleListRules(deps))
		r.Post("/rules", handleCreateRule(deps))
		r.Put("/rules/{id}", handleUpdateRule(deps))
		r.Delete("/rules/{id}", handleDeleteRule(deps))
		r.Get("/logs", handleListLogs(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- Triggers ---

// handleProcessScheduled is the cron entry point: bearer shared secret,
// service credential only.
func handleProcessScheduled(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || !secretEqual(auth[len(prefix):], deps.CronSecret) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing cron secret")
			return
		}
		runAndRespond(w, r, deps, deps.ServiceRefreshToken)
	}
}

// handleProcessInteractive accepts either a session or the shared secret via
// the X-Cron-Secret header. A session-bound mailbox credential is preferred
// over the service one.
func handleProcessInteractive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := deps.Sessions.FromRequest(r)
		if session == nil && !secretEqual(r.Header.Get("X-Cron-Secret"), deps.CronSecret) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "session or cron secret required")
			return
		}

		refreshToken := deps.ServiceRefreshToken
		if session != nil && session.RefreshToken != "" {
			refreshToken = session.RefreshToken
		}
		runAndRespond(w, r, deps, refreshToken)
	}
}

type processResponse struct {
	Message   string                 `json:"message"`
	Processed int                    `json:"processed"`
	Inspected []responder.Inspection `json:"inspected,omitempty"`
}

func runAndRespond(w http.ResponseWriter, r *http.Request, deps Deps, refreshToken string) {
	if refreshToken == "" {
		httpError(w, http.StatusBadRequest, "configuration_error", "no mailbox credential available")
		return
	}

	mbx, err := deps.NewMailbox(r.Context(), refreshToken)
	if err != nil {
		httpError(w, http.StatusBadRequest, "configuration_error", "building mailbox client: %v", err)
		return
	}

	opts := responder.Options{Diagnostics: r.URL.Query().Get("diagnostics") != ""}
	res, err := deps.Runner.Run(r.Context(), mbx, opts)
	if errors.Is(err, responder.ErrMailboxUnavailable) {
		httpError(w, http.StatusBadGateway, "api_error", "run failed: %v", err)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "run failed: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(processResponse{
		Message:   "done",
		Processed: res.Processed,
		Inspected: res.Inspected,
	})
}

// --- Rules ---

func handleListRules(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := deps.Store.Rules()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load rules: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rs)
	}
}

func handleCreateRule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, ok := decodeRule(w, r)
		if !ok {
			return
		}

		rule.ID = uuid.New().String()
		rule.CreatedAt = time.Now().UTC()

		rs, err := deps.Store.Rules()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load rules: %v", err)
			return
		}
		rs = append(rs, rule)
		if err := deps.Store.SaveRules(rs); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save rules: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rule)
	}
}

func handleUpdateRule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rule, ok := decodeRule(w, r)
		if !ok {
			return
		}
		rule.ID = id

		rs, err := deps.Store.Rules()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load rules: %v", err)
			return
		}

		idx := -1
		for i := range rs {
			if rs[i].ID == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			httpError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}

		// Creation time is immutable; keep the stored one.
		rule.CreatedAt = rs[idx].CreatedAt
		rs[idx] = rule
		if err := deps.Store.SaveRules(rs); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save rules: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rule)
	}
}

func handleDeleteRule(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		rs, err := deps.Store.Rules()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load rules: %v", err)
			return
		}

		kept := rs[:0]
		for _, rule := range rs {
			if rule.ID != id {
				kept = append(kept, rule)
			}
		}
		// Deleting an absent rule is a no-op, not an error.
		if err := deps.Store.SaveRules(kept); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save rules: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func decodeRule(w http.ResponseWriter, r *http.Request) (rules.Rule, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return rules.Rule{}, false
	}
	if err := rule.Validate(); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid rule: %v", err)
		return rules.Rule{}, false
	}
	return rule, true
}

// --- Logs ---

func handleListLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logs, err := deps.Store.Logs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load logs: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(logs)
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
