package models

import "time"

// These structs define the JSON payloads exchanged with browsers, the admin
// console and the processing collaborator.

// SessionRequest carries the identity provider's assertion when it is not sent
// as a bearer token.
type SessionRequest struct {
	IDToken string `json:"idToken"`
}

// SessionResponse is returned after a successful authentication.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      IdentityView `json:"user"`
	Quota     Quota        `json:"quota"`
}

// IdentityView is the caller-visible projection of an identity.
type IdentityView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName,omitempty"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	Role          Role   `json:"role"`
	QuotaOverride *int   `json:"quotaOverride"`
	Quota         Quota  `json:"quota"`
}

// MeResponse describes the current session.
type MeResponse struct {
	IdentityID string     `json:"identityId"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Quota      Quota      `json:"quota"`
	Usage      QuotaUsage `json:"usage"`
	ExpiresAt  time.Time  `json:"expiresAt"`
}

// ListDocumentsResponse is the dashboard view of the caller's documents.
type ListDocumentsResponse struct {
	Documents []DocumentSummary `json:"documents"`
	Quota     *QuotaUsage       `json:"quota,omitempty"`
}

// QuotaOverrideRequest sets or clears (null) a per-identity override.
type QuotaOverrideRequest struct {
	Override *int `json:"override"`
}

// StatusUpdate is the status callback sent by the processing collaborator,
// either over HTTP or as a CloudEvent.
type StatusUpdate struct {
	DocumentID     string         `json:"documentId"`
	Status         DocumentStatus `json:"status"`
	ExpectedStatus DocumentStatus `json:"expectedStatus,omitempty"`
	ResultLocation string         `json:"resultLocation,omitempty"`
	PageCount      *int           `json:"pageCount,omitempty"`
	ProblemCount   *int           `json:"problemCount,omitempty"`
	ErrorDetails   string         `json:"errorDetails,omitempty"`
}

// Transition converts the update into a store transition.
func (u StatusUpdate) Transition(at time.Time) Transition {
	t := Transition{
		DocumentID:     u.DocumentID,
		From:           u.ExpectedStatus,
		To:             u.Status,
		ResultLocation: u.ResultLocation,
		ErrorDetails:   u.ErrorDetails,
		At:             at,
	}
	if u.PageCount != nil || u.ProblemCount != nil {
		t.Metrics = &Metrics{}
		if u.PageCount != nil {
			t.Metrics.PageCount = *u.PageCount
		}
		if u.ProblemCount != nil {
			t.Metrics.ProblemCount = *u.ProblemCount
		}
	}
	return t
}

// ProcessingRequest is the argument handed to the processing workflow.
type ProcessingRequest struct {
	DocumentID     string `json:"documentId"`
	OwnerID        string `json:"ownerId"`
	SourceLocation string `json:"sourceUri"`
	Filename       string `json:"filename"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Used      *int   `json:"used,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}
