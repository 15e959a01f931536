package repository

import (
	"errors"
	"fmt"

	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"gorm.io/gorm"
)

// HistoryReader reconstructs a proposal's history from the audit log.
// It never writes and takes no locks.
type HistoryReader interface {
	EntriesFor(dbc dbctx.Context, proposalID string) ([]models.AuditLogEntry, error)
	Entry(dbc dbctx.Context, entryID string) (*models.AuditLogEntry, error)
	StateAt(dbc dbctx.Context, proposalID, entryID string) (models.Snapshot, error)
}

type historyReader struct {
	db *gorm.DB
}

// NewHistoryReader creates a new history reader
func NewHistoryReader(db *gorm.DB) HistoryReader {
	return &historyReader{db: db}
}

// EntriesFor returns every entry of a proposal, oldest first. Deleted
// proposals keep their history.
func (r *historyReader) EntriesFor(dbc dbctx.Context, proposalID string) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	err := dbc.DB(r.db).
		Where("proposal_id = ?", proposalID).
		Order("proposal_version ASC").
		Find(&entries).Error
	if err != nil {
		return nil, StorageError(err)
	}
	return entries, nil
}

func (r *historyReader) Entry(dbc dbctx.Context, entryID string) (*models.AuditLogEntry, error) {
	var entry models.AuditLogEntry
	err := dbc.DB(r.db).Where("id = ?", entryID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, StorageError(err)
	}
	return &entry, nil
}

// StateAt returns the proposal state right after the given entry was recorded
func (r *historyReader) StateAt(dbc dbctx.Context, proposalID, entryID string) (models.Snapshot, error) {
	entry, err := r.Entry(dbc, entryID)
	if err != nil {
		return "", err
	}
	if entry.ProposalID != proposalID {
		return "", fmt.Errorf("%w: %s no pertenece a la propuesta %s", ErrEntryNotFound, entryID, proposalID)
	}
	if entry.AfterSnapshot.IsEmpty() {
		return "", fmt.Errorf("%w: %s no tiene estado posterior", ErrEntryNotFound, entryID)
	}
	return entry.AfterSnapshot, nil
}
