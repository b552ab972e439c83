package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ProcessingLauncher hands a created document to the processing collaborator.
type ProcessingLauncher interface {
	Launch(ctx context.Context, req models.ProcessingRequest) error
}

// LogLauncher only records the hand-off. It is used when no workflow is
// configured, e.g. for local runs against the memory store.
type LogLauncher struct{}

func (LogLauncher) Launch(_ context.Context, req models.ProcessingRequest) error {
	slog.Warn("No processing workflow configured. Document stays pending.", "documentId", req.DocumentID, "sourceUri", req.SourceLocation)
	return nil
}

// DocumentService is the lifecycle entry point used by the HTTP and event
// handlers.
type DocumentService struct {
	docs      store.DocumentStore
	quota     *QuotaEnforcer
	gate      AccessGate
	artifacts ArtifactStore
	downloads *DownloadResponder
	launcher  ProcessingLauncher

	now   func() time.Time
	newID func() string
}

func NewDocumentService(docs store.DocumentStore, artifacts ArtifactStore, launcher ProcessingLauncher) *DocumentService {
	return &DocumentService{
		docs:      docs,
		quota:     NewQuotaEnforcer(docs),
		artifacts: artifacts,
		downloads: NewDownloadResponder(artifacts),
		launcher:  launcher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Quota exposes the enforcer for usage reporting.
func (s *DocumentService) Quota() *QuotaEnforcer {
	return s.quota
}

func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return "document.pdf"
	}
	return name
}

// Create accepts a new source document. The returned document is pending; if
// the source could not be stored or handed off, the document is still
// returned together with an error wrapping models.ErrHandoffFailed.
func (s *DocumentService) Create(ctx context.Context, claims models.Claims, filename string, source []byte) (*models.Document, error) {
	logCtx := slog.With("identityId", claims.IdentityID)

	if err := s.quota.Check(ctx, claims); err != nil {
		logCtx.Info("Document creation blocked by quota.", "error", err)
		return nil, err
	}
	info, err := InspectPDF(source)
	if err != nil {
		logCtx.Info("Rejected source upload.", "error", err)
		return nil, err
	}

	id := s.newID()
	now := s.now().UTC()
	doc, err := s.docs.CreateDocument(ctx, store.CreateDocumentParams{
		ID:             id,
		OwnerID:        claims.IdentityID,
		Filename:       cleanFilename(filename),
		SourceLocation: s.artifacts.SourceLocation(id),
		Quota:          claims.Quota,
		WindowStart:    WindowStart(now),
		Now:            now,
	})
	if err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			logCtx.Info("Document creation blocked by quota.", "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	logCtx = logCtx.With("documentId", doc.ID)
	logCtx.Info("Created document.", "sourcePages", info.PageCount, "sourceHash", info.SHA256)

	if err := s.artifacts.Save(ctx, doc.SourceLocation, source); err != nil {
		logCtx.Error("CRITICAL: Failed to store source. Document left pending.", "error", err)
		return doc, fmt.Errorf("%w: %v", models.ErrHandoffFailed, err)
	}
	req := models.ProcessingRequest{
		DocumentID:     doc.ID,
		OwnerID:        doc.OwnerID,
		SourceLocation: doc.SourceLocation,
		Filename:       doc.OriginalFilename,
	}
	if err := s.launcher.Launch(ctx, req); err != nil {
		logCtx.Error("CRITICAL: Failed to hand off document. Document left pending.", "error", err)
		return doc, fmt.Errorf("%w: %v", models.ErrHandoffFailed, err)
	}
	logCtx.Info("Hand-off to processing complete.")
	return doc, nil
}

// Transition applies a status report from the processing collaborator.
// Rejected transitions are anomalies and are logged at error level.
func (s *DocumentService) Transition(ctx context.Context, t models.Transition) (*models.Document, error) {
	if t.At.IsZero() {
		t.At = s.now().UTC()
	}
	logCtx := slog.With("documentId", t.DocumentID, "to", t.To)

	doc, err := s.docs.TransitionDocument(ctx, t)
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		logCtx.Error("Rejected status transition.", "expected", t.From, "error", err)
		return nil, err
	case errors.Is(err, models.ErrNotFound):
		logCtx.Warn("Status update for unknown document.")
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to transition document: %w", err)
	}
	logCtx.Info("Document status updated.")
	return doc, nil
}

// List returns the caller's own documents, newest first.
func (s *DocumentService) List(ctx context.Context, claims models.Claims) ([]models.DocumentSummary, error) {
	docs, err := s.docs.ListDocumentsByOwner(ctx, claims.IdentityID)
	if err != nil {
		return nil, err
	}
	return summaries(docs), nil
}

// Dashboard loads the caller's documents and quota usage concurrently.
func (s *DocumentService) Dashboard(ctx context.Context, claims models.Claims) (models.ListDocumentsResponse, error) {
	var (
		docs  []models.DocumentSummary
		usage models.QuotaUsage
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		docs, err = s.List(gctx, claims)
		return err
	})
	eg.Go(func() error {
		var err error
		usage, err = s.quota.Usage(gctx, claims)
		return err
	})
	if err := eg.Wait(); err != nil {
		return models.ListDocumentsResponse{}, err
	}
	return models.ListDocumentsResponse{Documents: docs, Quota: &usage}, nil
}

// Get returns a document the caller may read.
func (s *DocumentService) Get(ctx context.Context, claims models.Claims, id string) (*models.Document, error) {
	return s.authorized(ctx, claims, id, models.OpReadMetadata)
}

// ListAll is an admin operation across all owners.
func (s *DocumentService) ListAll(ctx context.Context, claims models.Claims, limit int) ([]models.DocumentSummary, error) {
	if !claims.Privileged() {
		return nil, models.ErrForbidden
	}
	docs, err := s.docs.ListDocuments(ctx, limit)
	if err != nil {
		return nil, err
	}
	return summaries(docs), nil
}

// Download opens the artifact of a completed document the caller may read.
func (s *DocumentService) Download(ctx context.Context, claims models.Claims, id string) (*Artifact, error) {
	doc, err := s.authorized(ctx, claims, id, models.OpDownload)
	if err != nil {
		return nil, err
	}
	artifact, err := s.downloads.Open(ctx, doc)
	if errors.Is(err, models.ErrArtifactMissing) {
		slog.Error("CRITICAL: Completed document has no readable artifact.", "documentId", doc.ID, "resultLocation", doc.ResultLocation, "error", err)
	}
	return artifact, err
}

func (s *DocumentService) authorized(ctx context.Context, claims models.Claims, id string, op models.Operation) (*models.Document, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if err := s.gate.Authorize(claims, doc, op); err != nil {
		return nil, err
	}
	return doc, nil
}

func summaries(docs []models.Document) []models.DocumentSummary {
	out := make([]models.DocumentSummary, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Summary())
	}
	return out
}
