package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/switchboard/internal/intent"
	"github.com/kalambet/switchboard/internal/model"
	"github.com/kalambet/switchboard/internal/pipeline"
	"github.com/kalambet/switchboard/internal/queue"
	"github.com/kalambet/switchboard/internal/tracing"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP handlers need.
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Classifier *intent.Classifier
	Token      string
	// AdminIDs get the admin role on POST /v1/messages; everyone else is
	// a regular user.
	AdminIDs       []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	ChatID      string            `json:"chat_id"`
	DisplayName string            `json:"display_name"`
	Text        string            `json:"text"`
	Kind        string            `json:"kind"`
	Metadata    map[string]string `json:"metadata"`
}

// MessageResponse is returned by POST /v1/messages.
type MessageResponse struct {
	TraceID  string         `json:"trace_id"`
	Response model.Response `json:"response"`
	Error    string         `json:"error,omitempty"`
}

// NewHandler returns the HTTP API. /health and /metrics are public;
// everything under /v1 needs the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token, deps.Logger))

		r.Post("/messages", handleMessage(deps))
		r.Post("/classify", handleClassify(deps))
		r.Get("/agents", handleAgents(deps))

		r.Get("/traces/metrics", handleTraceMetrics(deps))
		r.Get("/traces/active", handleActiveTraces(deps))
		r.Get("/traces/{id}", handleGetTrace(deps))

		r.Get("/users/{id}/traces", handleUserTraces(deps))
		r.Get("/users/{id}/preferences", handleUserPreferences(deps))
		r.Delete("/users/{id}/memory", handleClearMemory(deps))

		r.Get("/confirmations/stats", handleConfirmationStats(deps))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		role := model.RoleUser
		if slices.Contains(deps.AdminIDs, req.UserID) {
			role = model.RoleAdmin
		}
		msg, err := model.NewMessage(model.MessageParams{
			ID:          req.ID,
			UserID:      req.UserID,
			Role:        role,
			DisplayName: req.DisplayName,
			ChatID:      req.ChatID,
			Text:        req.Text,
			Kind:        model.Kind(req.Kind),
			Metadata:    req.Metadata,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p := deps.Pipeline
		if msg, err = p.Start(msg); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "starting trace: %v", err)
			return
		}
		p.Deps().Tracer.AddEvent(msg.TraceID, tracing.Event{
			Component: tracing.ComponentAuth,
			Step:      tracing.StepParsed,
			Details:   map[string]any{"role": string(role)},
			Success:   true,
		})

		ctx, cancel := context.WithTimeout(r.Context(), deps.RequestTimeout)
		defer cancel()
		resp, err := p.Handle(ctx, msg)

		out := MessageResponse{TraceID: msg.TraceID, Response: resp}
		code := http.StatusOK
		if err != nil {
			out.Error = err.Error()
			code = statusFor(err)
			deps.Logger.Warn("message not processed", "trace_id", msg.TraceID, "status", code, "error", err)
		}
		writeJSON(w, code, out)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func handleClassify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, classify(deps.Classifier, req.Text))
	}
}

// Classification is the result of classifying one text, including the
// clarification step and its options.
type Classification struct {
	intent.Result
	Clarified intent.Result   `json:"clarified"`
	Options   []intent.Option `json:"options,omitempty"`
}

func classify(c *intent.Classifier, text string) Classification {
	res := c.Classify(text)
	out := Classification{Result: res, Clarified: c.Clarify(text, res)}
	if out.Clarified.Intent == intent.ClarificationNeeded {
		out.Options = c.ClarificationOptions(text)
	}
	return out
}

func handleAgents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Pipeline.Deps().Router.Status())
	}
}

func handleTraceMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Pipeline.Deps().Tracer.GetPerformanceMetrics())
	}
}

func handleActiveTraces(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Pipeline.Deps().Tracer.GetActiveTraces())
	}
}

func handleGetTrace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tr, ok := deps.Pipeline.Deps().Tracer.GetTrace(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "trace not found")
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}
}

func handleUserTraces(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)
		writeJSON(w, http.StatusOK, deps.Pipeline.Deps().Tracer.GetUserTraces(chi.URLParam(r, "id"), limit))
	}
}

func handleUserPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs := deps.Pipeline.Deps().Preferences
		if prefs == nil {
			httpError(w, http.StatusNotFound, "not_found", "preference learning is disabled")
			return
		}
		writeJSON(w, http.StatusOK, prefs.UserStatistics(chi.URLParam(r, "id")))
	}
}

func handleClearMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := deps.Pipeline.Deps().Router.ClearUserMemory(chi.URLParam(r, "id"))
		writeJSON(w, http.StatusOK, map[string]int{"agents_cleared": n})
	}
}

func handleConfirmationStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		confirms := deps.Pipeline.Deps().Confirmations
		if confirms == nil {
			httpError(w, http.StatusNotFound, "not_found", "confirmations are disabled")
			return
		}
		writeJSON(w, http.StatusOK, confirms.Stats())
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
