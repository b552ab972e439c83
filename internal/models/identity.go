package models

import "time"

// Role classifies an identity for access control and quota.
type Role string

const (
	RoleOrdinary   Role = "ordinary"
	RolePrivileged Role = "privileged"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOrdinary || r == RolePrivileged
}

// Identity bridges an external authentication subject to product-specific
// attributes. It is keyed by SubjectID; ID is derived from it.
type Identity struct {
	ID             string    `firestore:"id"`
	SubjectID      string    `firestore:"subjectId"`
	Email          string    `firestore:"email"`
	DisplayName    string    `firestore:"displayName,omitempty"`
	AvatarURL      string    `firestore:"avatarUrl,omitempty"`
	Role           Role      `firestore:"role"`
	QuotaOverride  *int      `firestore:"quotaOverride"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
	LastDocumentAt time.Time `firestore:"lastDocumentAt,omitempty"`
}

// Assertion is the verified profile handed over by the identity provider.
type Assertion struct {
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Quota is an effective creation limit per rolling window.
type Quota struct {
	Limit     int  `json:"limit"`
	Unlimited bool `json:"unlimited"`
}

// UnlimitedQuota is the sentinel carried by privileged identities.
var UnlimitedQuota = Quota{Unlimited: true}

// Allows reports whether one more creation fits given used prior creations.
func (q Quota) Allows(used int) bool {
	return q.Unlimited || used < q.Limit
}

// QuotaUsage is the display counter for a quota.
type QuotaUsage struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	Unlimited   bool      `json:"unlimited"`
	Remaining   int       `json:"remaining"`
	WindowStart time.Time `json:"windowStart"`
}

// NewQuotaUsage builds the counter for used creations under q.
func NewQuotaUsage(q Quota, used int, windowStart time.Time) QuotaUsage {
	u := QuotaUsage{Used: used, Limit: q.Limit, Unlimited: q.Unlimited, WindowStart: windowStart}
	if !q.Unlimited {
		u.Remaining = max(q.Limit-used, 0)
	}
	return u
}

// Claims is the session bundle attached to a request. It is computed once at
// authentication and treated as immutable afterwards; an admin override change
// is only picked up on the next authentication.
type Claims struct {
	IdentityID string
	Email      string
	Role       Role
	Quota      Quota
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Privileged reports whether the claims carry the privileged role.
func (c Claims) Privileged() bool {
	return c.Role == RolePrivileged
}
