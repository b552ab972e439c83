package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/docreconstruct/internal/models"
	"github.com/Lllllllleong/docreconstruct/internal/store"
)

// QuotaWindow is the trailing window creations are counted over.
const QuotaWindow = 24 * time.Hour

// QuotaEnforcer reports usage and pre-checks creations. The authoritative
// check runs inside store.DocumentStore.CreateDocument.
type QuotaEnforcer struct {
	docs store.DocumentStore
	now  func() time.Time
}

func NewQuotaEnforcer(docs store.DocumentStore) *QuotaEnforcer {
	return &QuotaEnforcer{docs: docs, now: time.Now}
}

// WindowStart is the earliest creation time that still counts at now.
func WindowStart(now time.Time) time.Time {
	return now.Add(-QuotaWindow)
}

func (q *QuotaEnforcer) Usage(ctx context.Context, claims models.Claims) (models.QuotaUsage, error) {
	start := WindowStart(q.now().UTC())
	used, err := q.docs.CountDocumentsSince(ctx, claims.IdentityID, start)
	if err != nil {
		return models.QuotaUsage{}, err
	}
	return models.NewQuotaUsage(claims.Quota, used, start), nil
}

// Check is advisory: a nil result does not reserve a slot.
func (q *QuotaEnforcer) Check(ctx context.Context, claims models.Claims) error {
	if claims.Quota.Unlimited {
		return nil
	}
	usage, err := q.Usage(ctx, claims)
	if err != nil {
		return err
	}
	if !claims.Quota.Allows(usage.Used) {
		return &models.QuotaExceededError{Used: usage.Used, Limit: claims.Quota.Limit}
	}
	return nil
}
