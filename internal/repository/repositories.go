package repository

import (
	"gorm.io/gorm"
)

// Repositories holds all repository instances
type Repositories struct {
	Proposal ProposalStore
	Audit    AuditRecorder
	History  HistoryReader
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB, opts ...StoreOption) *Repositories {
	return &Repositories{
		Proposal: NewProposalStore(db, opts...),
		Audit:    NewAuditRecorder(db),
		History:  NewHistoryReader(db),
	}
}
