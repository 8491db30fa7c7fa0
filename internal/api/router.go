// Package api exposes the prediction service over HTTP and MCP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/vinq/internal/auth"
	"github.com/kalambet/vinq/internal/predict"
	"github.com/kalambet/vinq/internal/predlog"
	"github.com/kalambet/vinq/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxBatchBodySize = 8 << 20   // 8MB

// Authenticator issues and verifies tokens.
type Authenticator interface {
	TokenVerifier
	Login(username, password string) (auth.Token, error)
}

// HistoryStore is the durable prediction history.
type HistoryStore interface {
	ListPredictions(limit, offset int) ([]storage.Prediction, error)
	DeletePredictions() (int64, error)
}

type Deps struct {
	Service *predict.Service
	Log     *predlog.Log
	Auth    Authenticator
	History HistoryStore // optional; history endpoints answer 404 when nil
	Index   http.Handler // optional; serves GET /
	Logger  *slog.Logger
}

// NewRouter returns the full HTTP surface: public prediction endpoints, login
// and the admin API.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(deps.Logger))
	r.Use(recoverer(deps.Logger))

	if deps.Index != nil {
		r.Method(http.MethodGet, "/", deps.Index)
	}
	r.Get("/health", handleHealth(deps))
	r.Get("/model-info", handleModelInfo(deps))
	r.Post("/predict", handlePredict(deps))
	r.Post("/auth/login", handleLogin(deps))

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireToken(deps.Auth))
		r.Use(RequireRole(auth.RoleAdmin))

		r.Get("/feature-importance", handleFeatureImportance(deps))
		r.Get("/model-info", handleModelInfo(deps))
		r.Post("/reload-model", handleReloadModel(deps))
		r.Post("/predict-batch", handlePredictBatch(deps))
		r.Get("/logs", handleListLogs(deps))
		r.Delete("/logs", handleClearLogs(deps))
		r.Get("/logs/history", handleLogHistory(deps))
		r.Delete("/logs/history", handleClearHistory(deps))
		r.Get("/logs/stream", handleLogStream(deps))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not_found", "no route for %s %s", r.Method, r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "invalid_request_error", "method %s not allowed on %s", r.Method, r.URL.Path)
	})
	return r
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
