package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sjperalta/cropcoef-api/internal/database"
	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect("sqlite:file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func inTx(db *gorm.DB, fn func(dbc dbctx.Context) error) error {
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.WithTx(ctx, tx))
	})
}

func validCoefficients() models.Coefficients {
	return models.Coefficients{
		KcIni: 0.4, KcDev: 0.7, KcMid: 1.15, KcEnd: 0.8,
		LIni: 25, LDev: 35, LMid: 40, LLate: 30,
		SeasonLength: 130,
	}
}

func validCreateInput() CreateInput {
	return CreateInput{
		SubjectID:    "maize-grain",
		Coefficients: validCoefficients(),
		Provenance: models.Provenance{
			Source:           "FAO-56",
			SubmitterName:    "Ana Ruiz",
			SubmitterContact: "ana@example.org",
		},
	}
}

func createProposal(t *testing.T, db *gorm.DB, store ProposalStore) *models.CoefficientProposal {
	t.Helper()
	var m *Mutation
	require.NoError(t, inTx(db, func(dbc dbctx.Context) error {
		var err error
		m, err = store.Create(dbc, validCreateInput())
		return err
	}))
	return m.Proposal
}
