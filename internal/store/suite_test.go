package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/google/uuid"
)

// runStoreSuite exercises the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertIdentityRefreshesProfileOnly", func(t *testing.T) {
		testUpsertIdentity(t, newStore(t))
	})
	t.Run("EmailIsUnique", func(t *testing.T) {
		testEmailUnique(t, newStore(t))
	})
	t.Run("QuotaWindow", func(t *testing.T) {
		testQuotaWindow(t, newStore(t))
	})
	t.Run("UnlimitedQuota", func(t *testing.T) {
		testUnlimitedQuota(t, newStore(t))
	})
	t.Run("ConcurrentCreationsRespectQuota", func(t *testing.T) {
		testConcurrentCreations(t, newStore(t))
	})
	t.Run("ForwardOnlyTransitions", func(t *testing.T) {
		testTransitions(t, newStore(t))
	})
	t.Run("StaleCallbackRejected", func(t *testing.T) {
		testStaleCallback(t, newStore(t))
	})
	t.Run("ListOrderAndOverride", func(t *testing.T) {
		testListAndOverride(t, newStore(t))
	})
}

var suiteStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedIdentity(t *testing.T, s Store, subject, email string) *models.Identity {
	t.Helper()
	ident, err := s.UpsertIdentity(context.Background(), IdentityUpsert{
		Assertion: models.Assertion{SubjectID: subject, Email: email, DisplayName: subject},
		Role:      models.RoleOrdinary,
		Now:       suiteStart,
	})
	if err != nil {
		t.Fatalf("UpsertIdentity(%s) failed: %v", subject, err)
	}
	return ident
}

func createDoc(s Store, owner string, quota models.Quota, now time.Time) (*models.Document, error) {
	return s.CreateDocument(context.Background(), CreateDocumentParams{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		Filename:    "paper.pdf",
		Quota:       quota,
		WindowStart: now.Add(-24 * time.Hour),
		Now:         now,
	})
}

func testUpsertIdentity(t *testing.T, s Store) {
	ctx := context.Background()
	first, err := s.UpsertIdentity(ctx, IdentityUpsert{
		Assertion: models.Assertion{SubjectID: "sub-123", Email: "a@x.com", DisplayName: "Ann"},
		Role:      models.RolePrivileged,
		Now:       suiteStart,
	})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	override := 7
	if _, err := s.SetQuotaOverride(ctx, first.ID, &override); err != nil {
		t.Fatalf("SetQuotaOverride failed: %v", err)
	}

	second, err := s.UpsertIdentity(ctx, IdentityUpsert{
		Assertion: models.Assertion{SubjectID: "sub-123", Email: "a@x.com", DisplayName: "Ann B."},
		Role:      models.RoleOrdinary,
		Now:       suiteStart.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("Expected same identity id, got %s and %s", first.ID, second.ID)
	}
	if second.DisplayName != "Ann B." {
		t.Errorf("Expected refreshed display name, got %q", second.DisplayName)
	}
	if second.Role != models.RolePrivileged {
		t.Errorf("Expected role to be preserved, got %s", second.Role)
	}
	if second.QuotaOverride == nil || *second.QuotaOverride != 7 {
		t.Errorf("Expected override 7 to be preserved, got %v", second.QuotaOverride)
	}
	if !second.UpdatedAt.Equal(suiteStart.Add(time.Hour)) {
		t.Errorf("Expected updatedAt refresh, got %v", second.UpdatedAt)
	}
}

func testEmailUnique(t *testing.T, s Store) {
	seedIdentity(t, s, "sub-a", "same@x.com")
	_, err := s.UpsertIdentity(context.Background(), IdentityUpsert{
		Assertion: models.Assertion{SubjectID: "sub-b", Email: "same@x.com"},
		Role:      models.RoleOrdinary,
		Now:       suiteStart,
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("Expected ErrEmailTaken, got %v", err)
	}
}

func testQuotaWindow(t *testing.T, s Store) {
	owner := seedIdentity(t, s, "sub-quota", "q@x.com")
	quota := models.Quota{Limit: 3}

	for i := 0; i < 3; i++ {
		if _, err := createDoc(s, owner.ID, quota, suiteStart.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("creation %d failed: %v", i+1, err)
		}
	}
	_, err := createDoc(s, owner.ID, quota, suiteStart.Add(time.Hour))
	var qerr *models.QuotaExceededError
	if !errors.As(err, &qerr) || !errors.Is(err, models.ErrQuotaExceeded) {
		t.Fatalf("Expected QuotaExceededError, got %v", err)
	}
	if qerr.Used != 3 || qerr.Limit != 3 {
		t.Errorf("unexpected quota error: %+v", qerr)
	}

	// 24h after the first creation it falls out of the window.
	if _, err := createDoc(s, owner.ID, quota, suiteStart.Add(24*time.Hour+time.Second)); err != nil {
		t.Fatalf("creation after window failed: %v", err)
	}
	n, err := s.CountDocumentsSince(context.Background(), owner.ID, suiteStart.Add(time.Second))
	if err != nil {
		t.Fatalf("CountDocumentsSince failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 documents since first+1s, got %d", n)
	}
}

func testUnlimitedQuota(t *testing.T, s Store) {
	owner := seedIdentity(t, s, "sub-admin", "admin@x.com")
	for i := 0; i < 6; i++ {
		if _, err := createDoc(s, owner.ID, models.UnlimitedQuota, suiteStart); err != nil {
			t.Fatalf("unlimited creation %d failed: %v", i+1, err)
		}
	}
}

func testConcurrentCreations(t *testing.T, s Store) {
	owner := seedIdentity(t, s, "sub-race", "race@x.com")
	quota := models.Quota{Limit: 3}

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		denied  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := createDoc(s, owner.ID, quota, suiteStart)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, models.ErrQuotaExceeded):
				denied++
			default:
				t.Errorf("unexpected creation error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 3 || denied != workers-3 {
		t.Fatalf("Expected 3 created and %d denied, got %d and %d", workers-3, created, denied)
	}
}

func testTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	owner := seedIdentity(t, s, "sub-tr", "tr@x.com")
	doc, err := createDoc(s, owner.ID, models.UnlimitedQuota, suiteStart)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if doc.Status != models.StatusPending || doc.ResultLocation != "" {
		t.Fatalf("unexpected new document: %+v", doc)
	}

	_, err = s.TransitionDocument(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusCompleted, ResultLocation: "gs://out/x.pdf", At: suiteStart})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected pending->completed to be rejected, got %v", err)
	}
	got, _ := s.GetDocument(ctx, doc.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("Expected status to remain pending, got %s", got.Status)
	}

	if _, err := s.TransitionDocument(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusProcessing, At: suiteStart}); err != nil {
		t.Fatalf("pending->processing failed: %v", err)
	}
	_, err = s.TransitionDocument(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusCompleted, At: suiteStart})
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected completed without location to be rejected, got %v", err)
	}
	done, err := s.TransitionDocument(ctx, models.Transition{
		DocumentID:     doc.ID,
		To:             models.StatusCompleted,
		ResultLocation: "gs://out/x.pdf",
		Metrics:        &models.Metrics{PageCount: 9, ProblemCount: 1},
		At:             suiteStart.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("processing->completed failed: %v", err)
	}
	if !done.Ready() || done.PageCount != 9 || done.ProblemCount != 1 {
		t.Errorf("unexpected completed document: %+v", done)
	}
	if _, err := s.TransitionDocument(ctx, models.Transition{DocumentID: "missing", To: models.StatusProcessing}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testStaleCallback(t *testing.T, s Store) {
	ctx := context.Background()
	owner := seedIdentity(t, s, "sub-stale", "stale@x.com")
	doc, err := createDoc(s, owner.ID, models.UnlimitedQuota, suiteStart)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.TransitionDocument(ctx, models.Transition{DocumentID: doc.ID, To: models.StatusProcessing, At: suiteStart}); err != nil {
		t.Fatalf("pending->processing failed: %v", err)
	}

	completed := models.Transition{DocumentID: doc.ID, To: models.StatusCompleted, ResultLocation: "gs://out/ok.pdf", At: suiteStart}
	failed := models.Transition{DocumentID: doc.ID, To: models.StatusFailed, ErrorDetails: "late", At: suiteStart}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, tr := range []models.Transition{completed, failed} {
		wg.Add(1)
		go func(i int, tr models.Transition) {
			defer wg.Done()
			_, results[i] = s.TransitionDocument(ctx, tr)
		}(i, tr)
	}
	wg.Wait()
	if (results[0] == nil) == (results[1] == nil) {
		t.Fatalf("Expected exactly one transition to win, got %v and %v", results[0], results[1])
	}

	// Whatever won, a further delayed callback can never move it.
	final, _ := s.GetDocument(ctx, doc.ID)
	for _, tr := range []models.Transition{completed, failed} {
		if _, err := s.TransitionDocument(ctx, tr); !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("Expected late %s to be rejected, got %v", tr.To, err)
		}
	}
	after, _ := s.GetDocument(ctx, doc.ID)
	if after.Status != final.Status || after.ResultLocation != final.ResultLocation {
		t.Errorf("terminal document changed: %+v -> %+v", final, after)
	}
	if (after.Status == models.StatusCompleted) != (after.ResultLocation != "") {
		t.Errorf("result location invariant broken: %+v", after)
	}
}

func testListAndOverride(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedIdentity(t, s, "sub-list-a", "la@x.com")
	b := seedIdentity(t, s, "sub-list-b", "lb@x.com")
	for i := 0; i < 3; i++ {
		if _, err := createDoc(s, a.ID, models.UnlimitedQuota, suiteStart.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, err := createDoc(s, b.ID, models.UnlimitedQuota, suiteStart); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	docs, err := s.ListDocumentsByOwner(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListDocumentsByOwner failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents for a, got %d", len(docs))
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].CreatedAt.After(docs[i-1].CreatedAt) {
			t.Errorf("documents not newest first: %v", docs)
		}
	}
	all, err := s.ListDocuments(ctx, 2)
	if err != nil || len(all) != 2 {
		t.Fatalf("Expected 2 documents with limit, got %d (%v)", len(all), err)
	}

	limit := 10
	updated, err := s.SetQuotaOverride(ctx, b.ID, &limit)
	if err != nil || updated.QuotaOverride == nil || *updated.QuotaOverride != 10 {
		t.Fatalf("SetQuotaOverride failed: %+v %v", updated, err)
	}
	cleared, err := s.SetQuotaOverride(ctx, b.ID, nil)
	if err != nil || cleared.QuotaOverride != nil {
		t.Fatalf("clearing override failed: %+v %v", cleared, err)
	}
	if _, err := s.SetQuotaOverride(ctx, "nope", nil); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound, got %v", err)
	}
	idents, err := s.ListIdentities(ctx)
	if err != nil || len(idents) != 2 {
		t.Errorf("Expected 2 identities, got %d (%v)", len(idents), err)
	}
}
