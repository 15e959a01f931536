package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"gorm.io/gorm"
)

// AppendInput describes one proposal mutation to record
type AppendInput struct {
	ProposalID      string
	ProposalVersion int64
	Action          models.AuditAction
	Before          models.Snapshot
	After           models.Snapshot
	Actor           string
	Reason          string
	RevertedFrom    *string
}

// AuditRecorder appends immutable audit entries. It never opens a
// transaction of its own: the entry commits or rolls back with the mutation.
type AuditRecorder interface {
	Append(dbc dbctx.Context, in AppendInput) (*models.AuditLogEntry, error)
}

type auditRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditRecorder creates a new audit recorder
func NewAuditRecorder(db *gorm.DB) AuditRecorder {
	return &auditRecorder{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *auditRecorder) Append(dbc dbctx.Context, in AppendInput) (*models.AuditLogEntry, error) {
	if dbc.Tx == nil {
		return nil, ErrNoTransaction
	}
	if err := checkAppend(in); err != nil {
		return nil, err
	}

	entry := &models.AuditLogEntry{
		ID:                  uuid.NewString(),
		ProposalID:          in.ProposalID,
		ProposalVersion:     in.ProposalVersion,
		Action:              in.Action,
		BeforeSnapshot:      in.Before,
		AfterSnapshot:       in.After,
		Actor:               in.Actor,
		Reason:              in.Reason,
		RevertedFromEntryID: in.RevertedFrom,
		CreatedAt:           r.now(),
	}

	if err := dbc.DB(r.db).Create(entry).Error; err != nil {
		// The only unique key besides the random id is idx_audit_proposal_version,
		// so a duplicate means another writer already recorded this version.
		if isDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: ya existe una entrada para la versión %d de %s", ErrVersionConflict, in.ProposalVersion, in.ProposalID)
		}
		return nil, StorageError(err)
	}
	return entry, nil
}

func checkAppend(in AppendInput) error {
	problems := map[string]string{}
	if !in.Action.Valid() {
		problems["action_type"] = fmt.Sprintf("acción desconocida %q", string(in.Action))
	}
	if in.ProposalID == "" {
		problems["proposal_id"] = "es obligatorio"
	}
	if in.ProposalVersion < 1 {
		problems["proposal_version"] = "debe ser mayor a 0"
	}
	if strings.TrimSpace(in.Actor) == "" {
		problems["actor"] = "es obligatorio"
	}

	switch in.Action {
	case models.AuditActionCreate:
		if !in.Before.IsEmpty() {
			problems["before_snapshot"] = "debe estar vacío al crear"
		}
		if in.After.IsEmpty() {
			problems["after_snapshot"] = "es obligatorio"
		}
	case models.AuditActionDelete:
		if in.Before.IsEmpty() {
			problems["before_snapshot"] = "es obligatorio"
		}
		if !in.After.IsEmpty() {
			problems["after_snapshot"] = "debe estar vacío al eliminar"
		}
	default:
		if in.Before.IsEmpty() {
			problems["before_snapshot"] = "es obligatorio"
		}
		if in.After.IsEmpty() {
			problems["after_snapshot"] = "es obligatorio"
		}
	}

	if in.Action == models.AuditActionRevert && (in.RevertedFrom == nil || *in.RevertedFrom == "") {
		problems["reverted_from_entry_id"] = "es obligatorio al revertir"
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}
