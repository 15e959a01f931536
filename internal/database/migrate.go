package database

import (
	"fmt"

	"github.com/sjperalta/cropcoef-api/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the proposal and audit tables. The audit table
// has no foreign key to proposals, so removing a proposal can never cascade
// into its history.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.CoefficientProposal{}, &models.AuditLogEntry{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
