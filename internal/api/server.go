// Package api exposes the document service over HTTP.
package api

import (
	"net"
	"net/http"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/ratelimit"
	"github.com/Lllllllleong/docreconstruct/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	sessionCookie       = "session"
	callbackTokenHeader = "X-Callback-Token"
	adminListLimit      = 500
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Verifier       services.AssertionVerifier
	Identities     *services.IdentityResolver
	Sessions       *services.SessionIssuer
	Documents      *services.DocumentService
	LoginLimiter   ratelimit.Limiter
	CallbackToken  string
	MaxUploadBytes int64
	SecureCookies  bool
	// TrustedProxies are the peers whose forwarding headers are believed.
	TrustedProxies []*net.IPNet
}

type Server struct {
	deps Deps
	now  func() time.Time
}

func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 50 << 20
	}
	return &Server{deps: deps, now: time.Now}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/session", s.createSession)
		r.Delete("/auth/session", s.deleteSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/auth/me", s.me)
			r.Get("/quota", s.quota)

			r.Post("/documents", s.createDocument)
			r.Get("/documents", s.listDocuments)
			r.Get("/documents/{id}", s.getDocument)
			r.Get("/documents/{id}/download", s.downloadDocument)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requirePrivileged)
				r.Get("/documents", s.adminListDocuments)
				r.Get("/documents/{id}/download", s.downloadDocument)
				r.Get("/users", s.adminListUsers)
				r.Put("/users/{id}/quota", s.adminSetQuota)
			})
		})
	})

	r.Post("/internal/documents/{id}/status", s.statusCallback)
	return r
}
