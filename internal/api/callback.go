package api

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/go-chi/chi/v5"
)

// statusCallback receives status reports from the processing collaborator.
func (s *Server) statusCallback(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(callbackTokenHeader)
	if s.deps.CallbackToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.CallbackToken)) != 1 {
		slog.Warn("Rejected status callback with bad token.", "client", s.clientIP(r))
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "authentication required"})
		return
	}

	var update models.StatusUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&update); err != nil {
		writeError(w, r, badRequest("malformed status update"))
		return
	}
	id := chi.URLParam(r, "id")
	if update.DocumentID != "" && update.DocumentID != id {
		writeError(w, r, badRequest("document id mismatch"))
		return
	}
	update.DocumentID = id

	doc, err := s.deps.Documents.Transition(r.Context(), update.Transition(s.now().UTC()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Summary())
}
