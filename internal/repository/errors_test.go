package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"coefficients.kc_mid": "debe ser menor o igual a 2",
		"actor":               "es obligatorio",
	}}

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t,
		"datos de la propuesta inválidos: actor: es obligatorio; coefficients.kc_mid: debe ser menor o igual a 2",
		err.Error())
}

func TestStorageError(t *testing.T) {
	driverErr := errors.New("connection refused")

	wrapped := StorageError(driverErr)
	assert.ErrorIs(t, wrapped, ErrStorageUnavailable)
	assert.ErrorIs(t, wrapped, driverErr)

	conflict := fmt.Errorf("%w: stale", ErrVersionConflict)
	assert.Same(t, conflict, StorageError(conflict))
	assert.Nil(t, StorageError(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"lock timeout", StorageError(&pgconn.PgError{Code: "55P03"}), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"storage unavailable", StorageError(errors.New("broken pipe")), true},
		{"version conflict", conflictError("p", 1, 2), false},
		{"validation", &ValidationError{Fields: map[string]string{"x": "y"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, isDuplicateKeyError(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert audit entry: %w", gorm.ErrDuplicatedKey)))
	assert.False(t, isDuplicateKeyError(errors.New("boom")))
}
