package repository

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sjperalta/cropcoef-api/internal/snapshot"
	"github.com/sjperalta/cropcoef-api/internal/statemachine"
	"gorm.io/gorm"
)

// Review workflow errors. Every one of them is returned to the caller.
var (
	ErrValidation         = errors.New("datos de la propuesta inválidos")
	ErrInvalidTransition  = statemachine.ErrIllegalTransition
	ErrVersionConflict    = errors.New("conflicto de versión: la propuesta fue modificada, vuelva a consultarla")
	ErrEntryNotFound      = errors.New("entrada de auditoría no encontrada")
	ErrSnapshotCorrupt    = snapshot.ErrCorrupt
	ErrStorageUnavailable = errors.New("almacenamiento no disponible")
	ErrProposalNotFound   = errors.New("propuesta no encontrada")

	// ErrNoTransaction signals a programming error: a write was attempted
	// outside the transaction owned by the review service.
	ErrNoTransaction = errors.New("operation requires an ambient transaction")
)

var taxonomy = []error{
	ErrValidation,
	ErrInvalidTransition,
	ErrVersionConflict,
	ErrEntryNotFound,
	ErrSnapshotCorrupt,
	ErrStorageUnavailable,
	ErrProposalNotFound,
	ErrNoTransaction,
}

// ValidationError lists every invalid field of a proposal input.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsTaxonomyError reports whether err already carries one of the workflow errors
func IsTaxonomyError(err error) bool {
	for _, known := range taxonomy {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// StorageError wraps driver/transaction failures as ErrStorageUnavailable,
// leaving workflow errors untouched.
func StorageError(err error) error {
	if err == nil || IsTaxonomyError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func conflictError(id string, expected, actual int64) error {
	if actual < 0 {
		return fmt.Errorf("%w (propuesta %s: la versión %d ya no es la vigente)", ErrVersionConflict, id, expected)
	}
	return fmt.Errorf("%w (propuesta %s: versión esperada %d, actual %d)", ErrVersionConflict, id, expected, actual)
}

// Postgres SQLSTATEs worth retrying the whole operation for
var retryablePgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available (lock_timeout)
}

// IsRetryable reports whether the caller may safely retry the whole operation
// unchanged. Version conflicts are not retryable: the caller must re-read.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrVersionConflict) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePgCodes[pgErr.Code]
	}
	return errors.Is(err, ErrStorageUnavailable)
}

// isDuplicateKeyError relies on gorm's TranslateError, which maps unique
// violations of every dialect to ErrDuplicatedKey.
func isDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
