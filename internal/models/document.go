package models

import "time"

// DocumentStatus is the processing state of a submitted document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document is the authoritative record of one submitted source file and its
// processing outcome. It is stored in Firestore or Postgres depending on the
// configured backend.
type Document struct {
	ID               string         `firestore:"id"`
	OwnerID          string         `firestore:"ownerId"`
	OriginalFilename string         `firestore:"originalFilename"`
	Status           DocumentStatus `firestore:"status"`
	SourceLocation   string         `firestore:"sourceLocation,omitempty"`
	ResultLocation   string         `firestore:"resultLocation,omitempty"`
	PageCount        int            `firestore:"pageCount,omitempty"`
	ProblemCount     int            `firestore:"problemCount,omitempty"`
	ErrorDetails     string         `firestore:"errorDetails,omitempty"`
	CreatedAt        time.Time      `firestore:"createdAt"`
	UpdatedAt        time.Time      `firestore:"updatedAt"`
}

// Ready reports whether the document's artifact can be served.
func (d *Document) Ready() bool {
	return d.Status == StatusCompleted && d.ResultLocation != ""
}

// Summary is the projection handed to callers outside the lifecycle store.
// Storage locations are deliberately absent.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:           d.ID,
		Filename:     d.OriginalFilename,
		Status:       d.Status,
		PageCount:    d.PageCount,
		ProblemCount: d.ProblemCount,
		CreatedAt:    d.CreatedAt,
	}
}

// DocumentSummary is the list/detail view of a document.
type DocumentSummary struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	Status       DocumentStatus `json:"status"`
	PageCount    int            `json:"pageCount"`
	ProblemCount int            `json:"problemCount"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Metrics are derived by the processing collaborator and only recorded on
// completion.
type Metrics struct {
	PageCount    int `json:"pageCount"`
	ProblemCount int `json:"problemCount"`
}

// Operation names what a requester wants to do with a document.
type Operation string

const (
	OpReadMetadata Operation = "read-metadata"
	OpDownload     Operation = "download"
)
