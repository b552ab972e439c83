// Package app wires configuration into a running document service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docreconstruct/internal/api"
	"github.com/Lllllllleong/docreconstruct/internal/config"
	"github.com/Lllllllleong/docreconstruct/internal/gcp"
	"github.com/Lllllllleong/docreconstruct/internal/ratelimit"
	"github.com/Lllllllleong/docreconstruct/internal/services"
	"github.com/Lllllllleong/docreconstruct/internal/store"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config     *config.Config
	Store      store.Store
	Identities *services.IdentityResolver
	Documents  *services.DocumentService
	Handler    http.Handler

	closers []func() error
}

// New builds every collaborator named by cfg, including the HTTP handler. On
// error, anything already opened is closed again.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	err := a.buildCore(ctx)
	if err == nil {
		err = a.buildHTTP(ctx)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	slog.Info("Document service initialized.", "storeBackend", cfg.StoreBackend, "workflowId", cfg.WorkflowID)
	return a, nil
}

// NewListener builds only what status events need: the store and the
// document service. Handler is left nil.
func NewListener(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.buildCore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	slog.Info("Status listener initialized.", "storeBackend", cfg.StoreBackend)
	return a, nil
}

func (a *App) buildCore(ctx context.Context) error {
	cfg := a.Config
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	artifacts, err := a.openArtifacts(ctx, cfg)
	if err != nil {
		return err
	}
	launcher, err := a.openLauncher(ctx, cfg)
	if err != nil {
		return err
	}

	a.Identities = services.NewIdentityResolver(s, cfg.PrivilegedEmails, cfg.DefaultQuota)
	a.Documents = services.NewDocumentService(s, artifacts, launcher)
	return nil
}

func (a *App) buildHTTP(ctx context.Context) error {
	cfg := a.Config
	verifier, err := openVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	a.Handler = api.NewServer(api.Deps{
		Verifier:       verifier,
		Identities:     a.Identities,
		Sessions:       services.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL),
		Documents:      a.Documents,
		LoginLimiter:   a.openLimiter(cfg),
		CallbackToken:  cfg.CallbackToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		SecureCookies:  cfg.SecureCookies,
		TrustedProxies: cfg.TrustedProxies,
	}).Routes()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		return store.NewFirestoreStore(client, store.FirestoreConfig{
			IdentitiesCollection: cfg.IdentitiesCollection,
			DocumentsCollection:  cfg.DocumentsCollection,
		}), nil
	case config.BackendPostgres:
		pool, err := store.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s := store.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.BackendMemory:
		slog.Warn("Using in-memory store. Data is lost on restart.")
		return store.NewMemStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func (a *App) openArtifacts(ctx context.Context, cfg *config.Config) (services.ArtifactStore, error) {
	if cfg.SourceBucket == "" {
		return services.NewFileArtifacts(cfg.ArtifactRoot)
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return gcp.NewGCSArtifacts(client, cfg.SourceBucket), nil
}

func (a *App) openLauncher(ctx context.Context, cfg *config.Config) (services.ProcessingLauncher, error) {
	if cfg.WorkflowID == "" {
		return services.LogLauncher{}, nil
	}
	launcher, err := gcp.NewWorkflowLauncher(ctx, gcp.WorkflowConfig{
		ProjectID:        cfg.ProjectID,
		WorkflowLocation: cfg.WorkflowLocation,
		WorkflowID:       cfg.WorkflowID,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, launcher.Close)
	return launcher, nil
}

func openVerifier(ctx context.Context, cfg *config.Config) (services.AssertionVerifier, error) {
	var chain services.ChainVerifier
	if cfg.GoogleClientID != "" {
		google, err := gcp.NewGoogleVerifier(ctx, cfg.GoogleClientID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, google)
	}
	if cfg.AssertionSecret != "" {
		chain = append(chain, services.NewHMACAssertionVerifier(cfg.AssertionSecret))
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

func (a *App) openLimiter(cfg *config.Config) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.LoginRateLimit, cfg.LoginRateWindow)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	return ratelimit.NewRedis(client, cfg.LoginRateLimit, cfg.LoginRateWindow)
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
