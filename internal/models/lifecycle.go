package models

import (
	"fmt"
	"time"
)

// Transition is a request to move a document to a new status. From, when set,
// is a compare-and-swap precondition on the current status.
type Transition struct {
	DocumentID     string
	From           DocumentStatus
	To             DocumentStatus
	ResultLocation string
	Metrics        *Metrics
	ErrorDetails   string
	At             time.Time
}

// CanTransition reports whether from -> to is one of the forward edges
// pending->processing, processing->completed or processing->failed.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// ValidateTransition checks t against the document's current status. Every
// store backend calls it while holding its lock or transaction so the result
// is a compare-and-swap on current.
func ValidateTransition(current DocumentStatus, t Transition) error {
	if !t.To.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, t.To)
	}
	if t.From != "" && t.From != current {
		return fmt.Errorf("%w: precondition %s does not match current status %s", ErrInvalidTransition, t.From, current)
	}
	if !CanTransition(current, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, t.To)
	}
	if t.To == StatusCompleted && t.ResultLocation == "" {
		return fmt.Errorf("%w: completed requires a result location", ErrInvalidTransition)
	}
	if t.To != StatusCompleted && t.ResultLocation != "" {
		return fmt.Errorf("%w: result location is only accepted with completed", ErrInvalidTransition)
	}
	if t.To != StatusCompleted && t.Metrics != nil {
		return fmt.Errorf("%w: metrics are only accepted with completed", ErrInvalidTransition)
	}
	if t.Metrics != nil && (t.Metrics.PageCount < 0 || t.Metrics.ProblemCount < 0) {
		return fmt.Errorf("%w: metrics must not be negative", ErrInvalidTransition)
	}
	return nil
}

// Apply copies the fields a validated transition sets onto d.
func (t Transition) Apply(d *Document) {
	d.Status = t.To
	d.UpdatedAt = t.At
	switch t.To {
	case StatusCompleted:
		d.ResultLocation = t.ResultLocation
		if t.Metrics != nil {
			d.PageCount = t.Metrics.PageCount
			d.ProblemCount = t.Metrics.ProblemCount
		}
	case StatusFailed:
		d.ErrorDetails = t.ErrorDetails
	}
}
