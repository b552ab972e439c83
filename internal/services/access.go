package services

import "github.com/Lllllllleong/docreconstruct/internal/models"

// AccessGate decides whether a requester may perform an operation on a
// document. It is pure and needs no store access.
type AccessGate struct{}

// Authorize returns nil to permit, or one of models.ErrNotFound,
// models.ErrNotOwner and models.ErrNotReady.
func (AccessGate) Authorize(claims models.Claims, doc *models.Document, op models.Operation) error {
	if doc == nil {
		return models.ErrNotFound
	}
	if !claims.Privileged() && doc.OwnerID != claims.IdentityID {
		return models.ErrNotOwner
	}
	if op == models.OpDownload && !doc.Ready() {
		return models.ErrNotReady
	}
	return nil
}
