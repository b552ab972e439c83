package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/store"
)

type docFixture struct {
	store    *store.MemStore
	service  *DocumentService
	resolver *IdentityResolver
	launcher *fakeLauncher
	clock    *fakeClock
	files    *FileArtifacts
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	s := store.NewMemStore()
	files, err := NewFileArtifacts(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileArtifacts failed: %v", err)
	}
	clock := newFakeClock()
	launcher := &fakeLauncher{}

	svc := NewDocumentService(s, files, launcher)
	svc.now = clock.Now
	svc.quota.now = clock.Now

	return &docFixture{
		store:    s,
		service:  svc,
		resolver: newTestResolver(s, clock),
		launcher: launcher,
		clock:    clock,
		files:    files,
	}
}

func (f *docFixture) login(t *testing.T, subject, email string) models.Claims {
	t.Helper()
	_, claims, err := f.resolver.Resolve(context.Background(), models.Assertion{SubjectID: subject, Email: email})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return claims
}

// complete drives a document to completed the way the processing
// collaborator would, writing a result artifact first.
func (f *docFixture) complete(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	loc := fmt.Sprintf("file://results/%s.pdf", id)
	if err := f.files.Save(ctx, loc, []byte("%PDF-reconstructed")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.service.Transition(ctx, models.Transition{DocumentID: id, To: models.StatusProcessing}); err != nil {
		t.Fatalf("processing transition failed: %v", err)
	}
	if _, err := f.service.Transition(ctx, models.Transition{DocumentID: id, To: models.StatusCompleted, ResultLocation: loc, Metrics: &models.Metrics{PageCount: 1}}); err != nil {
		t.Fatalf("completed transition failed: %v", err)
	}
}

func TestCreateHandsOffPendingDocument(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-a", "a@x.com")

	doc, err := f.service.Create(context.Background(), claims, `C:\Users\ann\paper.pdf`, minimalPDF(1))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if doc.Status != models.StatusPending || doc.ResultLocation != "" {
		t.Errorf("Expected pending document without result, got %+v", doc)
	}
	if doc.OriginalFilename != "paper.pdf" {
		t.Errorf("Expected cleaned filename, got %q", doc.OriginalFilename)
	}
	if f.launcher.count() != 1 || f.launcher.launched[0].SourceLocation != doc.SourceLocation {
		t.Fatalf("Expected one hand-off for %s, got %+v", doc.SourceLocation, f.launcher.launched)
	}
	body, _, err := f.files.Open(context.Background(), doc.SourceLocation)
	if err != nil {
		t.Fatalf("Expected stored source, got %v", err)
	}
	body.Close()
}

func TestCreateEnforcesQuotaWindow(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-a", "a@x.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.service.Create(ctx, claims, "p.pdf", minimalPDF(1)); err != nil {
			t.Fatalf("creation %d failed: %v", i+1, err)
		}
		f.clock.Advance(time.Hour)
	}

	_, err := f.service.Create(ctx, claims, "p.pdf", minimalPDF(1))
	var qerr *models.QuotaExceededError
	if !errors.As(err, &qerr) {
		t.Fatalf("Expected QuotaExceededError, got %v", err)
	}
	if qerr.Used != 3 || qerr.Limit != 3 || qerr.Remaining() != 0 {
		t.Errorf("unexpected quota error %+v", qerr)
	}

	usage, err := f.service.Quota().Usage(ctx, claims)
	if err != nil || usage.Used != 3 || usage.Remaining != 0 {
		t.Errorf("unexpected usage %+v (%v)", usage, err)
	}

	// The first creation leaves the window 24h after it happened.
	f.clock.Advance(21*time.Hour + time.Second)
	if _, err := f.service.Create(ctx, claims, "p.pdf", minimalPDF(1)); err != nil {
		t.Fatalf("Expected creation after window to succeed, got %v", err)
	}
	if f.launcher.count() != 4 {
		t.Errorf("Expected 4 hand-offs, got %d", f.launcher.count())
	}
}

func TestCreateConcurrentNeverExceedsQuota(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-a", "a@x.com")
	source := minimalPDF(1)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.Create(context.Background(), claims, "p.pdf", source); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			} else if !errors.Is(err, models.ErrQuotaExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 3 {
		t.Fatalf("Expected exactly 3 creations, got %d", created)
	}
}

func TestCreatePrivilegedIsUnlimited(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-admin", "admin@example.com")
	for i := 0; i < 5; i++ {
		if _, err := f.service.Create(context.Background(), claims, "p.pdf", minimalPDF(1)); err != nil {
			t.Fatalf("creation %d failed: %v", i+1, err)
		}
	}
}

func TestCreateRejectsInvalidSource(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-a", "a@x.com")

	_, err := f.service.Create(context.Background(), claims, "p.pdf", []byte("plain text"))
	if !errors.Is(err, models.ErrInvalidSource) {
		t.Fatalf("Expected ErrInvalidSource, got %v", err)
	}
	docs, _ := f.service.List(context.Background(), claims)
	if len(docs) != 0 {
		t.Errorf("Expected no document to be created, got %d", len(docs))
	}
}

func TestCreateHandoffFailureLeavesPending(t *testing.T) {
	f := newDocFixture(t)
	f.launcher.err = errors.New("workflow unavailable")
	claims := f.login(t, "sub-a", "a@x.com")

	doc, err := f.service.Create(context.Background(), claims, "p.pdf", minimalPDF(1))
	if !errors.Is(err, models.ErrHandoffFailed) {
		t.Fatalf("Expected ErrHandoffFailed, got %v", err)
	}
	if doc == nil {
		t.Fatal("Expected the created document to be returned")
	}
	stored, err := f.store.GetDocument(context.Background(), doc.ID)
	if err != nil || stored.Status != models.StatusPending {
		t.Errorf("Expected document to remain pending, got %+v (%v)", stored, err)
	}
}

func TestTransitionRejectsStaleCallback(t *testing.T) {
	f := newDocFixture(t)
	claims := f.login(t, "sub-a", "a@x.com")
	ctx := context.Background()
	doc, err := f.service.Create(ctx, claims, "p.pdf", minimalPDF(1))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.complete(t, doc.ID)

	_, err = f.service.Transition(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusFailed, ErrorDetails: "timeout"})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	got, _ := f.service.Get(ctx, claims, doc.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if _, err := f.service.Transition(ctx, models.Transition{DocumentID: "nope", To: models.StatusProcessing}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDownloadAccess(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	alice := f.login(t, "sub-a", "a@x.com")
	bob := f.login(t, "sub-b", "b@x.com")
	admin := f.login(t, "sub-admin", "admin@example.com")

	done, _ := f.service.Create(ctx, alice, "thesis.pdf", minimalPDF(1))
	pending, _ := f.service.Create(ctx, alice, "draft.pdf", minimalPDF(1))
	f.complete(t, done.ID)

	a, err := f.service.Download(ctx, alice, done.ID)
	if err != nil {
		t.Fatalf("owner download failed: %v", err)
	}
	data, _ := io.ReadAll(a.Body)
	a.Body.Close()
	if string(data) != "%PDF-reconstructed" || a.Filename != "thesis-reconstructed.pdf" {
		t.Errorf("unexpected artifact %q %s", data, a.Filename)
	}

	if _, err := f.service.Download(ctx, bob, done.ID); !errors.Is(err, models.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner for bob, got %v", err)
	}
	if _, err := f.service.Get(ctx, bob, done.ID); !errors.Is(err, models.ErrNotOwner) {
		t.Errorf("Expected ErrNotOwner reading metadata, got %v", err)
	}
	if _, err := f.service.Download(ctx, alice, pending.ID); !errors.Is(err, models.ErrNotReady) {
		t.Errorf("Expected ErrNotReady for pending, got %v", err)
	}
	if _, err := f.service.Download(ctx, alice, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	a, err = f.service.Download(ctx, admin, done.ID)
	if err != nil {
		t.Fatalf("admin download failed: %v", err)
	}
	a.Body.Close()
}

func TestDownloadArtifactMissing(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	alice := f.login(t, "sub-a", "a@x.com")
	doc, _ := f.service.Create(ctx, alice, "p.pdf", minimalPDF(1))
	f.service.Transition(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusProcessing})
	f.service.Transition(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusCompleted, ResultLocation: "file://results/gone.pdf"})

	if _, err := f.service.Download(ctx, alice, doc.ID); !errors.Is(err, models.ErrArtifactMissing) {
		t.Errorf("Expected ErrArtifactMissing, got %v", err)
	}
}

func TestDashboardAndListAll(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	alice := f.login(t, "sub-a", "a@x.com")
	bob := f.login(t, "sub-b", "b@x.com")
	admin := f.login(t, "sub-admin", "admin@example.com")

	first, _ := f.service.Create(ctx, alice, "one.pdf", minimalPDF(1))
	f.clock.Advance(time.Minute)
	second, _ := f.service.Create(ctx, alice, "two.pdf", minimalPDF(1))
	f.service.Create(ctx, bob, "bob.pdf", minimalPDF(1))

	dash, err := f.service.Dashboard(ctx, alice)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if len(dash.Documents) != 2 || dash.Documents[0].ID != second.ID || dash.Documents[1].ID != first.ID {
		t.Errorf("Expected newest first, got %+v", dash.Documents)
	}
	if dash.Quota == nil || dash.Quota.Used != 2 || dash.Quota.Remaining != 1 {
		t.Errorf("unexpected quota %+v", dash.Quota)
	}

	if _, err := f.service.ListAll(ctx, alice, 0); !errors.Is(err, models.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	all, err := f.service.ListAll(ctx, admin, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("Expected 3 documents, got %d (%v)", len(all), err)
	}
}
