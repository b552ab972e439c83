package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/store"
)

// ErrInvalidOverride is returned for a negative quota override.
var ErrInvalidOverride = errors.New("quota override must not be negative")

// IdentityResolver maps verified assertions onto identity records and derives
// the claims a session carries.
type IdentityResolver struct {
	store        store.IdentityStore
	privileged   map[string]struct{}
	defaultQuota int
	now          func() time.Time
}

func NewIdentityResolver(s store.IdentityStore, privilegedEmails []string, defaultQuota int) *IdentityResolver {
	allow := make(map[string]struct{}, len(privilegedEmails))
	for _, email := range privilegedEmails {
		allow[normalizeEmail(email)] = struct{}{}
	}
	return &IdentityResolver{
		store:        s,
		privileged:   allow,
		defaultQuota: defaultQuota,
		now:          time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Resolve creates the identity on first sight or refreshes its profile, and
// returns the claims for a new session.
func (r *IdentityResolver) Resolve(ctx context.Context, a models.Assertion) (*models.Identity, models.Claims, error) {
	a.SubjectID = strings.TrimSpace(a.SubjectID)
	a.Email = normalizeEmail(a.Email)
	if a.SubjectID == "" || a.Email == "" {
		return nil, models.Claims{}, fmt.Errorf("%w: subject and email are required", models.ErrInvalidAssertion)
	}

	role := models.RoleOrdinary
	if _, ok := r.privileged[a.Email]; ok {
		role = models.RolePrivileged
	}
	now := r.now().UTC()
	ident, err := r.store.UpsertIdentity(ctx, store.IdentityUpsert{Assertion: a, Role: role, Now: now})
	if err != nil {
		return nil, models.Claims{}, fmt.Errorf("failed to resolve identity: %w", err)
	}
	slog.Info("Identity resolved.", "identityId", ident.ID, "role", ident.Role)
	return ident, r.ClaimsFor(ident, now), nil
}

// EffectiveQuota applies the quota rules: privileged identities are unlimited,
// otherwise the override wins over the default.
func (r *IdentityResolver) EffectiveQuota(ident *models.Identity) models.Quota {
	switch {
	case ident.Role == models.RolePrivileged:
		return models.UnlimitedQuota
	case ident.QuotaOverride != nil:
		return models.Quota{Limit: *ident.QuotaOverride}
	default:
		return models.Quota{Limit: r.defaultQuota}
	}
}

func (r *IdentityResolver) ClaimsFor(ident *models.Identity, issuedAt time.Time) models.Claims {
	return models.Claims{
		IdentityID: ident.ID,
		Email:      ident.Email,
		Role:       ident.Role,
		Quota:      r.EffectiveQuota(ident),
		IssuedAt:   issuedAt,
	}
}

// View projects an identity for API callers.
func (r *IdentityResolver) View(ident *models.Identity) models.IdentityView {
	return models.IdentityView{
		ID:            ident.ID,
		Email:         ident.Email,
		DisplayName:   ident.DisplayName,
		AvatarURL:     ident.AvatarURL,
		Role:          ident.Role,
		QuotaOverride: ident.QuotaOverride,
		Quota:         r.EffectiveQuota(ident),
	}
}

// ListIdentities is an admin operation.
func (r *IdentityResolver) ListIdentities(ctx context.Context, claims models.Claims) ([]models.IdentityView, error) {
	if !claims.Privileged() {
		return nil, models.ErrForbidden
	}
	idents, err := r.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.IdentityView, 0, len(idents))
	for i := range idents {
		out = append(out, r.View(&idents[i]))
	}
	return out, nil
}

// SetQuotaOverride is an admin operation. Sessions already issued to the
// target keep their old quota until they re-authenticate.
func (r *IdentityResolver) SetQuotaOverride(ctx context.Context, claims models.Claims, id string, override *int) (models.IdentityView, error) {
	if !claims.Privileged() {
		return models.IdentityView{}, models.ErrForbidden
	}
	if override != nil && *override < 0 {
		return models.IdentityView{}, ErrInvalidOverride
	}
	ident, err := r.store.SetQuotaOverride(ctx, id, override)
	if err != nil {
		return models.IdentityView{}, err
	}
	slog.Info("Quota override updated.", "identityId", id, "adminId", claims.IdentityID, "override", override)
	return r.View(ident), nil
}
