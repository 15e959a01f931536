package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/snapshot"
	"github.com/sjperalta/cropcoef-api/internal/statemachine"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateInput carries the caller-supplied fields of a new proposal
type CreateInput struct {
	SubjectID    string
	Coefficients models.Coefficients
	Provenance   models.Provenance
}

// EditInput carries replacement fields for a pending proposal
type EditInput struct {
	Coefficients models.Coefficients
	Provenance   models.Provenance
}

// Mutation is the outcome of a committed-to-be proposal write: the new row
// plus the snapshots on either side of it. Before is empty for a create,
// After is empty for a delete.
type Mutation struct {
	Proposal *models.CoefficientProposal
	Before   models.Snapshot
	After    models.Snapshot
}

// ProposalStore owns proposal rows. Every write must run inside dbc.Tx.
type ProposalStore interface {
	Create(dbc dbctx.Context, in CreateInput) (*Mutation, error)
	Edit(dbc dbctx.Context, id string, expectedVersion int64, in EditInput) (*Mutation, error)
	Approve(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error)
	Reject(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error)
	Revert(dbc dbctx.Context, id string, expectedVersion int64, target models.Snapshot) (*Mutation, error)
	Delete(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error)
	Get(dbc dbctx.Context, id string) (*models.CoefficientProposal, error)
}

// StoreOption configures a proposal store
type StoreOption func(*proposalStore)

// WithLockTimeout bounds how long a write waits for the row lock (Postgres only)
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *proposalStore) { s.lockTimeout = d }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) StoreOption {
	return func(s *proposalStore) { s.now = now }
}

type proposalStore struct {
	db          *gorm.DB
	lockTimeout time.Duration
	now         func() time.Time
}

// NewProposalStore creates a new proposal store
func NewProposalStore(db *gorm.DB, opts ...StoreOption) ProposalStore {
	s := &proposalStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *proposalStore) Create(dbc dbctx.Context, in CreateInput) (*Mutation, error) {
	if dbc.Tx == nil {
		return nil, ErrNoTransaction
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.CoefficientProposal{
		ID:           uuid.NewString(),
		SubjectID:    in.SubjectID,
		Coefficients: in.Coefficients,
		Provenance:   in.Provenance,
		Status:       models.ProposalStatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	after, err := snapshot.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := dbc.DB(s.db).Create(p).Error; err != nil {
		return nil, StorageError(err)
	}

	return &Mutation{Proposal: p, After: after}, nil
}

// Edit checks the version, then the status, then the new fields, so an edit
// of a decided proposal reports InvalidTransition whatever its payload.
func (s *proposalStore) Edit(dbc dbctx.Context, id string, expectedVersion int64, in EditInput) (*Mutation, error) {
	return s.mutate(dbc, id, expectedVersion, false, func(ctx context.Context, p *models.CoefficientProposal) error {
		if err := statemachine.NewProposalFSM(p).Edit(ctx); err != nil {
			return err
		}
		if err := validateMutable(in.Coefficients, in.Provenance); err != nil {
			return err
		}
		p.Coefficients = in.Coefficients
		p.Provenance = in.Provenance
		return nil
	})
}

func (s *proposalStore) Approve(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error) {
	return s.mutate(dbc, id, expectedVersion, false, func(ctx context.Context, p *models.CoefficientProposal) error {
		return statemachine.NewProposalFSM(p).Approve(ctx)
	})
}

func (s *proposalStore) Reject(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error) {
	return s.mutate(dbc, id, expectedVersion, false, func(ctx context.Context, p *models.CoefficientProposal) error {
		return statemachine.NewProposalFSM(p).Reject(ctx)
	})
}

// Revert overwrites the mutable fields from target and forces the status
// back to pending, whatever status target recorded.
func (s *proposalStore) Revert(dbc dbctx.Context, id string, expectedVersion int64, target models.Snapshot) (*Mutation, error) {
	fields, err := snapshot.Decode(target)
	if err != nil {
		return nil, err
	}
	if err := validateMutable(fields.Coefficients, fields.Provenance); err != nil {
		return nil, err
	}
	return s.mutate(dbc, id, expectedVersion, false, func(ctx context.Context, p *models.CoefficientProposal) error {
		if err := statemachine.NewProposalFSM(p).Revert(ctx); err != nil {
			return err
		}
		restored := fields
		restored.Status = p.Status
		restored.ApplyTo(p)
		return nil
	})
}

// Delete tombstones the row. Audit entries that reference it are untouched.
func (s *proposalStore) Delete(dbc dbctx.Context, id string, expectedVersion int64) (*Mutation, error) {
	return s.mutate(dbc, id, expectedVersion, true, func(_ context.Context, p *models.CoefficientProposal) error {
		if !p.MayDelete() {
			return fmt.Errorf("%w: proposal cannot be deleted in current state: %s", ErrInvalidTransition, p.Status)
		}
		return nil
	})
}

func (s *proposalStore) Get(dbc dbctx.Context, id string) (*models.CoefficientProposal, error) {
	var p models.CoefficientProposal
	err := dbc.DB(s.db).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	return &p, nil
}

// mutate is the single write path: lock the row, compare versions, let apply
// decide legality and new field values, then compare-and-swap the row.
func (s *proposalStore) mutate(
	dbc dbctx.Context,
	id string,
	expectedVersion int64,
	tombstone bool,
	apply func(ctx context.Context, p *models.CoefficientProposal) error,
) (*Mutation, error) {
	if dbc.Tx == nil {
		return nil, ErrNoTransaction
	}
	ctx := dbc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	tx := dbc.DB(s.db)

	current, err := s.lockForUpdate(tx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, conflictError(id, expectedVersion, current.Version)
	}

	before, err := snapshot.Encode(current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}

	next := *current
	if err := apply(ctx, &next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()

	columns := mutableColumns(&next)
	var after models.Snapshot
	if tombstone {
		next.DeletedAt = gorm.DeletedAt{Time: next.UpdatedAt, Valid: true}
		columns["deleted_at"] = next.UpdatedAt
	} else {
		after, err = snapshot.Encode(&next)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	// The version predicate makes the write a compare-and-swap, which keeps the
	// guarantee on engines where FOR UPDATE is a no-op.
	res := tx.Model(&models.CoefficientProposal{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(columns)
	if res.Error != nil {
		return nil, StorageError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, conflictError(id, expectedVersion, -1)
	}

	return &Mutation{Proposal: &next, Before: before, After: after}, nil
}

func (s *proposalStore) lockForUpdate(tx *gorm.DB, id string) (*models.CoefficientProposal, error) {
	if s.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			return nil, StorageError(err)
		}
	}

	var p models.CoefficientProposal
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, notFoundOr(err, id)
	}
	return &p, nil
}

func notFoundOr(err error, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrProposalNotFound, id)
	}
	return StorageError(err)
}

func mutableColumns(p *models.CoefficientProposal) map[string]interface{} {
	c := p.Coefficients
	pv := p.Provenance
	return map[string]interface{}{
		"kc_ini":            c.KcIni,
		"kc_dev":            c.KcDev,
		"kc_mid":            c.KcMid,
		"kc_end":            c.KcEnd,
		"l_ini":             c.LIni,
		"l_dev":             c.LDev,
		"l_mid":             c.LMid,
		"l_late":            c.LLate,
		"season_length":     c.SeasonLength,
		"source":            pv.Source,
		"submitter_name":    pv.SubmitterName,
		"submitter_contact": pv.SubmitterContact,
		"status":            p.Status,
		"version":           p.Version,
		"updated_at":        p.UpdatedAt,
	}
}
