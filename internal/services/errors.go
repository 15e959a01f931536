package services

import "github.com/sjperalta/cropcoef-api/internal/repository"

// Review workflow errors, re-exported so callers need not import repository
var (
	ErrValidation         = repository.ErrValidation
	ErrInvalidTransition  = repository.ErrInvalidTransition
	ErrVersionConflict    = repository.ErrVersionConflict
	ErrEntryNotFound      = repository.ErrEntryNotFound
	ErrSnapshotCorrupt    = repository.ErrSnapshotCorrupt
	ErrStorageUnavailable = repository.ErrStorageUnavailable
	ErrNotFound           = repository.ErrProposalNotFound
)

// ValidationError lists every invalid field of a request
type ValidationError = repository.ValidationError

// IsRetryable reports whether the whole operation may be retried unchanged
func IsRetryable(err error) bool {
	return repository.IsRetryable(err)
}
