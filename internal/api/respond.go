package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/services"
	"github.com/Lllllllleong/docreconstruct/internal/store"
	"github.com/go-chi/chi/v5/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes and generic bodies. Access
// denials on documents all look like a missing document to the caller; the
// real reason only goes to the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logCtx := slog.With("method", r.Method, "path", r.URL.Path, "requestId", middleware.GetReqID(r.Context()))

	var quotaErr *models.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		used, limit, remaining := quotaErr.Used, quotaErr.Limit, quotaErr.Remaining()
		logCtx.Info("Quota exceeded.", "used", used, "limit", limit)
		writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{
			Error: "document quota exceeded", Used: &used, Limit: &limit, Remaining: &remaining,
		})
	case errors.Is(err, models.ErrInvalidAssertion), errors.Is(err, services.ErrInvalidSession):
		logCtx.Info("Authentication failed.", "error", err)
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "authentication required"})
	case errors.Is(err, models.ErrNotOwner), errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNotReady):
		logCtx.Info("Document access denied.", "reason", err)
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "document not found"})
	case errors.Is(err, store.ErrIdentityNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "identity not found"})
	case errors.Is(err, models.ErrForbidden):
		logCtx.Warn("Privileged route refused.")
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: "forbidden"})
	case errors.Is(err, models.ErrInvalidSource):
		logCtx.Info("Rejected source upload.", "error", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: models.ErrInvalidSource.Error()})
	case errors.Is(err, services.ErrInvalidOverride), errors.Is(err, errBadRequest):
		logCtx.Info("Rejected request.", "error", err)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrEmailTaken):
		logCtx.Warn("Email already bound to another subject.")
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "email already registered"})
	case errors.Is(err, models.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "invalid status transition"})
	case errors.Is(err, models.ErrHandoffFailed):
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "document accepted but processing could not be started"})
	case errors.Is(err, models.ErrArtifactMissing):
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "document artifact unavailable"})
	default:
		logCtx.Error("Request failed.", "error", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "internal error"})
	}
}
