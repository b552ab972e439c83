package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/go-chi/chi/v5"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.LoginLimiter != nil {
		client := s.clientIP(r)
		d := s.deps.LoginLimiter.Allow(r.Context(), "login:"+client)
		if !d.Allowed {
			slog.Warn("Login rate limit hit.", "client", client, "count", d.Count)
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter(s.now()).Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "too many authentication attempts"})
			return
		}
	}

	raw := bearerToken(r)
	if raw == "" {
		var req models.SessionRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, badRequest("malformed session request"))
			return
		}
		raw = req.IDToken
	}
	if raw == "" {
		writeError(w, r, models.ErrInvalidAssertion)
		return
	}

	assertion, err := s.deps.Verifier.Verify(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ident, claims, err := s.deps.Identities.Resolve(r.Context(), assertion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, expiresAt, err := s.deps.Sessions.Issue(claims)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, models.SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      s.deps.Identities.View(ident),
		Quota:     claims.Quota,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	usage, err := s.deps.Documents.Quota().Usage(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MeResponse{
		IdentityID: claims.IdentityID,
		Email:      claims.Email,
		Role:       claims.Role,
		Quota:      claims.Quota,
		Usage:      usage,
		ExpiresAt:  claims.ExpiresAt,
	})
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	usage, err := s.deps.Documents.Quota().Usage(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	// Refuse early so an over-quota caller does not upload the whole body.
	if err := s.deps.Documents.Quota().Check(r.Context(), claims); err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "upload too large"})
			return
		}
		writeError(w, r, badRequest("multipart field \"file\" is required"))
		return
	}
	defer file.Close()
	source, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, badRequest("failed to read upload"))
		return
	}

	doc, err := s.deps.Documents.Create(r.Context(), claims, header.Filename, source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc.Summary())
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	resp, err := s.deps.Documents.Dashboard(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	doc, err := s.deps.Documents.Get(r.Context(), claims, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc.Summary())
}

func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	id := chi.URLParam(r, "id")
	artifact, err := s.deps.Documents.Download(r.Context(), claims, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer artifact.Body.Close()

	h := w.Header()
	h.Set("Content-Type", artifact.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	if artifact.Size > 0 {
		h.Set("Content-Length", strconv.FormatInt(artifact.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact.Body); err != nil {
		slog.Warn("Download interrupted.", "documentId", id, "error", err)
	}
}

func (s *Server) adminListDocuments(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	limit := adminListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, badRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, adminListLimit)
	}
	docs, err := s.deps.Documents.ListAll(r.Context(), claims, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ListDocumentsResponse{Documents: docs})
}

func (s *Server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	users, err := s.deps.Identities.ListIdentities(r.Context(), claims)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

func (s *Server) adminSetQuota(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	var req models.QuotaOverrideRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, r, badRequest("malformed quota override"))
		return
	}
	view, err := s.deps.Identities.SetQuotaOverride(r.Context(), claims, chi.URLParam(r, "id"), req.Override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
