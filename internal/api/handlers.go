package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/vinq/internal/auth"
	"github.com/kalambet/vinq/internal/features"
	"github.com/kalambet/vinq/internal/model"
	"github.com/kalambet/vinq/internal/predict"
)

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"model_loaded": deps.Service.Loaded(),
			"features":     features.Names(),
		})
	}
}

func handleModelInfo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md, err := deps.Service.Describe(r.Context())
		if err != nil {
			modelError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, md)
	}
}

type predictResponse struct {
	predict.Result
	Input map[string]any `json:"input"`
}

func handlePredict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var payload map[string]any
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil || payload == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request body must be a JSON object")
			return
		}

		res, err := deps.Service.PredictOne(r.Context(), payload)
		if err != nil {
			predictError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, predictResponse{Result: res, Input: payload})
	}
}

// predictError maps validation failures to 400 with the feature contract as a
// hint. Anything else is reported generically.
func predictError(w http.ResponseWriter, deps Deps, err error) {
	var errType string
	switch {
	case errors.Is(err, features.ErrMissingFeature):
		errType = "missing_feature"
	case errors.Is(err, features.ErrInvalidFeatureValue):
		errType = "invalid_feature_value"
	default:
		modelError(w, deps, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    errType,
		},
		"hint": map[string]any{
			"required_features": features.Names(),
		},
	})
}

func modelError(w http.ResponseWriter, deps Deps, err error) {
	if errors.Is(err, model.ErrLoad) {
		deps.Logger.Error("model unavailable", "error", err)
		httpError(w, http.StatusInternalServerError, "model_error", "model is unavailable")
		return
	}
	deps.Logger.Error("prediction failed", "error", err)
	httpError(w, http.StatusInternalServerError, "api_error", "internal server error")
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		tok, err := deps.Auth.Login(strings.TrimSpace(req.Username), strings.TrimSpace(req.Password))
		if errors.Is(err, auth.ErrInvalidCredentials) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "invalid credentials")
			return
		}
		if err != nil {
			deps.Logger.Error("login failed", "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "internal server error")
			return
		}
		deps.Logger.Info("user logged in", "username", req.Username, "role", tok.Role)
		writeJSON(w, http.StatusOK, tok)
	}
}

func handleFeatureImportance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Service.Importances(r.Context()))
	}
}

func handleReloadModel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Service.Reload(r.Context()); err != nil {
			deps.Logger.Error("model reload failed", "error", err)
			httpError(w, http.StatusInternalServerError, "model_error", "reload failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "reloaded",
			"model_file": deps.Service.Path(),
		})
	}
}

func handlePredictBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodySize)
		defer r.Body.Close()

		var raw []json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || len(raw) == 0 {
			httpError(w, http.StatusBadRequest, "malformed_batch_request", "send a non-empty JSON array")
			return
		}

		items := make([]map[string]any, len(raw))
		for i, msg := range raw {
			dec := json.NewDecoder(bytes.NewReader(msg))
			dec.UseNumber()
			var item map[string]any
			if err := dec.Decode(&item); err == nil {
				items[i] = item
			}
		}

		res, err := deps.Service.PredictBatch(r.Context(), items)
		if err != nil {
			modelError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := deps.Log.Items()
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(items),
			"items": items,
		})
	}
}

func handleClearLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Log.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleLogHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "prediction history is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := deps.History.ListPredictions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list predictions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count": len(items),
			"items": items,
		})
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			httpError(w, http.StatusNotFound, "not_found", "prediction history is disabled")
			return
		}
		n, err := deps.History.DeletePredictions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete predictions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "deleted": n})
	}
}
