// Package store holds the identity and document records. Every backend
// enforces the lifecycle rules itself: creations are counted against the quota
// window and inserted atomically, and status transitions are compare-and-swap
// on the current status.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrIdentityNotFound is returned when no identity has the requested id.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrEmailTaken is returned when a new subject presents an email that
	// already belongs to another identity.
	ErrEmailTaken = errors.New("email already bound to another identity")
)

// identityNamespace scopes the UUIDv5 ids derived from subject ids.
var identityNamespace = uuid.MustParse("6f1c0b8e-4f43-5d7a-9a51-2d0f3f1b7c11")

// IdentityID derives the internal identity id for an external subject.
func IdentityID(subjectID string) string {
	return uuid.NewSHA1(identityNamespace, []byte(subjectID)).String()
}

// IdentityUpsert is the input to UpsertIdentity.
type IdentityUpsert struct {
	Assertion models.Assertion
	// Role is only used when the identity is created.
	Role models.Role
	Now  time.Time
}

// CreateDocumentParams is the input to CreateDocument.
type CreateDocumentParams struct {
	ID             string
	OwnerID        string
	Filename       string
	SourceLocation string
	Quota          models.Quota
	WindowStart    time.Time
	Now            time.Time
}

// IdentityStore manages identity records.
type IdentityStore interface {
	// UpsertIdentity creates the identity for a first-seen subject or refreshes
	// its display fields. Role, email and quota override are never changed here.
	UpsertIdentity(ctx context.Context, in IdentityUpsert) (*models.Identity, error)
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)
	// SetQuotaOverride sets or clears (nil) the per-identity quota override.
	SetQuotaOverride(ctx context.Context, id string, override *int) (*models.Identity, error)
}

// DocumentStore manages document records.
type DocumentStore interface {
	// CreateDocument counts the owner's documents created since WindowStart and
	// inserts a pending document only if Quota allows one more, as one atomic
	// step. A blocked creation returns *models.QuotaExceededError.
	CreateDocument(ctx context.Context, p CreateDocumentParams) (*models.Document, error)
	// TransitionDocument validates t against the current status and applies it
	// atomically. Rejected transitions wrap models.ErrInvalidTransition and
	// leave the record unchanged.
	TransitionDocument(ctx context.Context, t models.Transition) (*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// ListDocumentsByOwner returns the owner's documents, newest first.
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]models.Document, error)
	// ListDocuments returns up to limit documents across all owners, newest first.
	ListDocuments(ctx context.Context, limit int) ([]models.Document, error)
	CountDocumentsSince(ctx context.Context, ownerID string, since time.Time) (int, error)
}

// Store is the single shared resource of the service.
type Store interface {
	IdentityStore
	DocumentStore
	Close() error
}

// newIdentity builds the record for a first-seen subject.
func newIdentity(in IdentityUpsert) *models.Identity {
	a := in.Assertion
	return &models.Identity{
		ID:          IdentityID(a.SubjectID),
		SubjectID:   a.SubjectID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
		Role:        in.Role,
		CreatedAt:   in.Now,
		UpdatedAt:   in.Now,
	}
}

// refreshIdentity applies the mutable profile fields of a repeat sighting.
func refreshIdentity(ident *models.Identity, in IdentityUpsert) {
	ident.DisplayName = in.Assertion.DisplayName
	ident.AvatarURL = in.Assertion.AvatarURL
	ident.UpdatedAt = in.Now
}

func newDocument(p CreateDocumentParams) *models.Document {
	return &models.Document{
		ID:               p.ID,
		OwnerID:          p.OwnerID,
		OriginalFilename: p.Filename,
		Status:           models.StatusPending,
		SourceLocation:   p.SourceLocation,
		CreatedAt:        p.Now,
		UpdatedAt:        p.Now,
	}
}
