package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAssertion  = errors.New("invalid identity assertion")
	ErrQuotaExceeded     = errors.New("document quota exceeded")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotOwner          = errors.New("requester does not own document")
	ErrNotFound          = errors.New("document not found")
	ErrNotReady          = errors.New("document not ready")
	ErrArtifactMissing   = errors.New("document artifact missing")
	ErrForbidden         = errors.New("privileged role required")
	ErrInvalidSource     = errors.New("source is not a readable PDF")
	ErrHandoffFailed     = errors.New("processing hand-off failed")
)

// QuotaExceededError carries the counter that blocked a creation.
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d of %d used", ErrQuotaExceeded, e.Used, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Remaining is the quota left when the creation was blocked.
func (e *QuotaExceededError) Remaining() int {
	return max(e.Limit-e.Used, 0)
}
