package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/docreconstruct/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig names the collections used by FirestoreStore.
type FirestoreConfig struct {
	IdentitiesCollection string
	DocumentsCollection  string
}

// FirestoreStore keeps identities and documents in two Firestore collections.
// Document creation reads the owner's identity inside the transaction and
// writes lastDocumentAt back to it, so concurrent creations for the same owner
// contend on one document and are serialised by Firestore.
//
// Two composite indexes on the documents collection are required:
// (ownerId ASC, createdAt ASC) for the quota window query and
// (ownerId ASC, createdAt DESC) for ListDocumentsByOwner.
type FirestoreStore struct {
	client     *firestore.Client
	identities *firestore.CollectionRef
	documents  *firestore.CollectionRef
}

// NewFirestoreStore wraps an existing client.
func NewFirestoreStore(client *firestore.Client, cfg FirestoreConfig) *FirestoreStore {
	if cfg.IdentitiesCollection == "" {
		cfg.IdentitiesCollection = "identities"
	}
	if cfg.DocumentsCollection == "" {
		cfg.DocumentsCollection = "documents"
	}
	return &FirestoreStore{
		client:     client,
		identities: client.Collection(cfg.IdentitiesCollection),
		documents:  client.Collection(cfg.DocumentsCollection),
	}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) UpsertIdentity(ctx context.Context, in IdentityUpsert) (*models.Identity, error) {
	var result *models.Identity
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.identities.Doc(IdentityID(in.Assertion.SubjectID))
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			taken, err := tx.Documents(s.identities.Where("email", "==", in.Assertion.Email).Limit(1)).GetAll()
			if err != nil {
				return fmt.Errorf("failed to query identities by email: %w", err)
			}
			if len(taken) > 0 {
				return ErrEmailTaken
			}
			result = newIdentity(in)
			return tx.Create(ref, result)
		case err != nil:
			return fmt.Errorf("failed to read identity: %w", err)
		}

		var ident models.Identity
		if err := snap.DataTo(&ident); err != nil {
			return fmt.Errorf("failed to decode identity %s: %w", ref.ID, err)
		}
		refreshIdentity(&ident, in)
		result = &ident
		return tx.Update(ref, []firestore.Update{
			{Path: "displayName", Value: ident.DisplayName},
			{Path: "avatarUrl", Value: ident.AvatarURL},
			{Path: "updatedAt", Value: ident.UpdatedAt},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *FirestoreStore) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	snap, err := s.identities.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity %s: %w", id, err)
	}
	var ident models.Identity
	if err := snap.DataTo(&ident); err != nil {
		return nil, fmt.Errorf("failed to decode identity %s: %w", id, err)
	}
	return &ident, nil
}

func (s *FirestoreStore) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	it := s.identities.OrderBy("email", firestore.Asc).Documents(ctx)
	defer it.Stop()

	var out []models.Identity
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list identities: %w", err)
		}
		var ident models.Identity
		if err := snap.DataTo(&ident); err != nil {
			slog.Warn("Skipping undecodable identity.", "identityId", snap.Ref.ID, "error", err)
			continue
		}
		out = append(out, ident)
	}
	return out, nil
}

func (s *FirestoreStore) SetQuotaOverride(ctx context.Context, id string, override *int) (*models.Identity, error) {
	ref := s.identities.Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{{Path: "quotaOverride", Value: override}})
	if status.Code(err) == codes.NotFound {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update quota override for %s: %w", id, err)
	}
	return s.GetIdentity(ctx, id)
}

func (s *FirestoreStore) CreateDocument(ctx context.Context, p CreateDocumentParams) (*models.Document, error) {
	doc := newDocument(p)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ownerRef := s.identities.Doc(p.OwnerID)
		if _, err := tx.Get(ownerRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrIdentityNotFound
			}
			return fmt.Errorf("failed to read owner identity: %w", err)
		}
		if !p.Quota.Unlimited {
			snaps, err := tx.Documents(s.windowQuery(p.OwnerID, p.WindowStart)).GetAll()
			if err != nil {
				return fmt.Errorf("failed to count documents in quota window: %w", err)
			}
			if !p.Quota.Allows(len(snaps)) {
				return &models.QuotaExceededError{Used: len(snaps), Limit: p.Quota.Limit}
			}
		}
		if err := tx.Update(ownerRef, []firestore.Update{{Path: "lastDocumentAt", Value: p.Now}}); err != nil {
			return err
		}
		return tx.Create(s.documents.Doc(doc.ID), doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FirestoreStore) TransitionDocument(ctx context.Context, t models.Transition) (*models.Document, error) {
	var result models.Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.documents.Doc(t.DocumentID)
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		if err := snap.DataTo(&result); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", t.DocumentID, err)
		}
		if err := models.ValidateTransition(result.Status, t); err != nil {
			return err
		}
		t.Apply(&result)

		updates := []firestore.Update{
			{Path: "status", Value: result.Status},
			{Path: "updatedAt", Value: result.UpdatedAt},
		}
		switch result.Status {
		case models.StatusCompleted:
			updates = append(updates,
				firestore.Update{Path: "resultLocation", Value: result.ResultLocation},
				firestore.Update{Path: "pageCount", Value: result.PageCount},
				firestore.Update{Path: "problemCount", Value: result.ProblemCount},
			)
		case models.StatusFailed:
			updates = append(updates, firestore.Update{Path: "errorDetails", Value: result.ErrorDetails})
		}
		// The update precondition pins the snapshot we validated against.
		return tx.Update(ref, updates, firestore.LastUpdateTime(snap.UpdateTime))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *FirestoreStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.documents.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *FirestoreStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error) {
	q := s.documents.Where("ownerId", "==", ownerID).OrderBy("createdAt", firestore.Desc)
	return s.collect(ctx, q)
}

func (s *FirestoreStore) ListDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	q := s.documents.OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.collect(ctx, q)
}

func (s *FirestoreStore) CountDocumentsSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	it := s.windowQuery(ownerID, since).Select().Documents(ctx)
	defer it.Stop()

	n := 0
	for {
		_, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count documents: %w", err)
		}
		n++
	}
}

func (s *FirestoreStore) windowQuery(ownerID string, since time.Time) firestore.Query {
	return s.documents.Where("ownerId", "==", ownerID).Where("createdAt", ">=", since)
}

func (s *FirestoreStore) collect(ctx context.Context, q firestore.Query) ([]models.Document, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	var out []models.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			slog.Warn("Skipping undecodable document.", "documentId", snap.Ref.ID, "error", err)
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}
