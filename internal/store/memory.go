package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
)

// MemStore is a thread-safe in-process Store used for local runs and tests.
// A single mutex linearises quota counting with inserts and makes transitions
// compare-and-swap.
type MemStore struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
	emails     map[string]string
	documents  map[string]*models.Document
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		identities: make(map[string]*models.Identity),
		emails:     make(map[string]string),
		documents:  make(map[string]*models.Document),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) UpsertIdentity(_ context.Context, in IdentityUpsert) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := IdentityID(in.Assertion.SubjectID)
	if existing, ok := m.identities[id]; ok {
		refreshIdentity(existing, in)
		return copyIdentity(existing), nil
	}
	email := strings.ToLower(in.Assertion.Email)
	if owner, ok := m.emails[email]; ok && owner != id {
		return nil, ErrEmailTaken
	}
	ident := newIdentity(in)
	m.identities[id] = ident
	m.emails[email] = id
	return copyIdentity(ident), nil
}

func (m *MemStore) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return copyIdentity(ident), nil
}

func (m *MemStore) ListIdentities(_ context.Context) ([]models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		out = append(out, *copyIdentity(ident))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemStore) SetQuotaOverride(_ context.Context, id string, override *int) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	ident.QuotaOverride = copyInt(override)
	return copyIdentity(ident), nil
}

func (m *MemStore) CreateDocument(_ context.Context, p CreateDocumentParams) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.identities[p.OwnerID]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	if _, exists := m.documents[p.ID]; exists {
		return nil, fmt.Errorf("document %s already exists", p.ID)
	}
	used := m.countSinceLocked(p.OwnerID, p.WindowStart)
	if !p.Quota.Allows(used) {
		return nil, &models.QuotaExceededError{Used: used, Limit: p.Quota.Limit}
	}
	doc := newDocument(p)
	m.documents[doc.ID] = doc
	owner.LastDocumentAt = p.Now
	out := *doc
	return &out, nil
}

func (m *MemStore) TransitionDocument(_ context.Context, t models.Transition) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.documents[t.DocumentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := models.ValidateTransition(doc.Status, t); err != nil {
		return nil, err
	}
	t.Apply(doc)
	out := *doc
	return &out, nil
}

func (m *MemStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *doc
	return &out, nil
}

func (m *MemStore) ListDocumentsByOwner(_ context.Context, ownerID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Document
	for _, doc := range m.documents {
		if doc.OwnerID == ownerID {
			out = append(out, *doc)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemStore) ListDocuments(_ context.Context, limit int) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		out = append(out, *doc)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CountDocumentsSince(_ context.Context, ownerID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countSinceLocked(ownerID, since), nil
}

// countSinceLocked must be called while holding m.mu.
func (m *MemStore) countSinceLocked(ownerID string, since time.Time) int {
	n := 0
	for _, doc := range m.documents {
		if doc.OwnerID == ownerID && !doc.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

func sortNewestFirst(docs []models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID > docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
}

func copyIdentity(ident *models.Identity) *models.Identity {
	out := *ident
	out.QuotaOverride = copyInt(ident.QuotaOverride)
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
