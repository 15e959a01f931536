package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/sjperalta/cropcoef-api/internal/jobs"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/repository"
	"github.com/sjperalta/cropcoef-api/internal/snapshot"
	"github.com/sjperalta/cropcoef-api/pkg/logger"
)

const tracerName = "github.com/sjperalta/cropcoef-api/internal/services"

// Upper bound for refreshing read models after a commit
const readModelTimeout = 2 * time.Second

// SubmitRequest creates a new pending proposal
type SubmitRequest struct {
	SubjectID    string
	Coefficients models.Coefficients
	Provenance   models.Provenance
	Actor        string
	Reason       string
}

// EditRequest replaces the mutable fields of a pending proposal
type EditRequest struct {
	ExpectedVersion int64
	Coefficients    models.Coefficients
	Provenance      models.Provenance
	Actor           string
	Reason          string
}

// DecisionRequest is used for approve, reject and delete
type DecisionRequest struct {
	ExpectedVersion int64
	Actor           string
	Reason          string
}

// RevertRequest restores the state recorded right after EntryID
type RevertRequest struct {
	ExpectedVersion int64
	EntryID         string
	Actor           string
	Reason          string
}

// Result is the outcome of a committed mutation
type Result struct {
	Proposal     *models.CoefficientProposal `json:"proposal"`
	AuditEntryID string                      `json:"audit_entry_id"`
}

// ReviewService is the only entry point that mutates proposals. Every
// operation runs the proposal write and its audit entry in one transaction.
type ReviewService struct {
	db     *gorm.DB
	repos  *repository.Repositories
	worker *jobs.Worker
	tracer trace.Tracer

	mu         sync.RWMutex
	readModels []Listener
	listeners  []Listener
}

// NewReviewService creates the review service. A nil worker makes listener
// dispatch synchronous.
func NewReviewService(db *gorm.DB, repos *repository.Repositories, worker *jobs.Worker) *ReviewService {
	return &ReviewService{
		db:     db,
		repos:  repos,
		worker: worker,
		tracer: otel.Tracer(tracerName),
	}
}

// Subscribe registers a listener for committed mutations. Listeners run on
// the worker after the operation has returned.
func (s *ReviewService) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SubscribeReadModel registers a copy of proposal state (a cache) that must
// reflect a mutation before the operation returns. It runs on the caller's
// goroutine right after commit.
func (s *ReviewService) SubscribeReadModel(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readModels = append(s.readModels, l)
}

// Submit creates a proposal at version 1 with status pending
func (s *ReviewService) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	return s.run(ctx, "Submit", "", func(dbc dbctx.Context) (*repository.Mutation, *models.AuditLogEntry, error) {
		mut, err := s.repos.Proposal.Create(dbc, repository.CreateInput{
			SubjectID:    req.SubjectID,
			Coefficients: req.Coefficients,
			Provenance:   req.Provenance,
		})
		if err != nil {
			return nil, nil, err
		}
		entry, err := s.record(dbc, mut, models.AuditActionCreate, req.Actor, req.Reason, nil)
		return mut, entry, err
	})
}

// Edit replaces coefficients and provenance of a pending proposal
func (s *ReviewService) Edit(ctx context.Context, id string, req EditRequest) (*Result, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	return s.run(ctx, "Edit", id, func(dbc dbctx.Context) (*repository.Mutation, *models.AuditLogEntry, error) {
		mut, err := s.repos.Proposal.Edit(dbc, id, req.ExpectedVersion, repository.EditInput{
			Coefficients: req.Coefficients,
			Provenance:   req.Provenance,
		})
		if err != nil {
			return nil, nil, err
		}
		entry, err := s.record(dbc, mut, models.AuditActionUpdate, req.Actor, req.Reason, nil)
		return mut, entry, err
	})
}

// Approve moves a pending proposal to approved
func (s *ReviewService) Approve(ctx context.Context, id string, req DecisionRequest) (*Result, error) {
	return s.decide(ctx, "Approve", id, req, models.AuditActionApprove, s.repos.Proposal.Approve)
}

// Reject moves a pending proposal to rejected
func (s *ReviewService) Reject(ctx context.Context, id string, req DecisionRequest) (*Result, error) {
	return s.decide(ctx, "Reject", id, req, models.AuditActionReject, s.repos.Proposal.Reject)
}

// Delete tombstones a proposal. Its history stays readable.
func (s *ReviewService) Delete(ctx context.Context, id string, req DecisionRequest) (*Result, error) {
	return s.decide(ctx, "Delete", id, req, models.AuditActionDelete, s.repos.Proposal.Delete)
}

// Revert restores the mutable fields recorded after req.EntryID and puts the
// proposal back to pending. The history is never rewritten: the revert is a
// new entry.
func (s *ReviewService) Revert(ctx context.Context, id string, req RevertRequest) (*Result, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	return s.run(ctx, "Revert", id, func(dbc dbctx.Context) (*repository.Mutation, *models.AuditLogEntry, error) {
		target, err := s.repos.History.StateAt(dbc, id, req.EntryID)
		if err != nil {
			return nil, nil, err
		}
		mut, err := s.repos.Proposal.Revert(dbc, id, req.ExpectedVersion, target)
		if err != nil {
			return nil, nil, err
		}
		entryID := req.EntryID
		entry, err := s.record(dbc, mut, models.AuditActionRevert, req.Actor, revertReason(req.EntryID, req.Reason), &entryID)
		return mut, entry, err
	})
}

// Get returns the current state of a live proposal
func (s *ReviewService) Get(ctx context.Context, id string) (*models.CoefficientProposal, error) {
	p, err := s.repos.Proposal.Get(dbctx.New(ctx), id)
	if err != nil {
		return nil, repository.StorageError(err)
	}
	return p, nil
}

// History returns every audit entry of a proposal, oldest first. Deleted
// proposals keep their history.
func (s *ReviewService) History(ctx context.Context, id string) ([]models.AuditLogEntry, error) {
	entries, err := s.repos.History.EntriesFor(dbctx.New(ctx), id)
	if err != nil {
		return nil, repository.StorageError(err)
	}
	return entries, nil
}

// StateAt decodes the proposal state recorded right after entryID
func (s *ReviewService) StateAt(ctx context.Context, id, entryID string) (*snapshot.Fields, error) {
	snap, err := s.repos.History.StateAt(dbctx.New(ctx), id, entryID)
	if err != nil {
		return nil, repository.StorageError(err)
	}
	fields, err := snapshot.Decode(snap)
	if err != nil {
		return nil, err
	}
	return &fields, nil
}

type storeDecision func(dbc dbctx.Context, id string, expectedVersion int64) (*repository.Mutation, error)

func (s *ReviewService) decide(ctx context.Context, op, id string, req DecisionRequest, action models.AuditAction, apply storeDecision) (*Result, error) {
	if err := requireActor(req.Actor); err != nil {
		return nil, err
	}
	return s.run(ctx, op, id, func(dbc dbctx.Context) (*repository.Mutation, *models.AuditLogEntry, error) {
		mut, err := apply(dbc, id, req.ExpectedVersion)
		if err != nil {
			return nil, nil, err
		}
		entry, err := s.record(dbc, mut, action, req.Actor, req.Reason, nil)
		return mut, entry, err
	})
}

func (s *ReviewService) record(dbc dbctx.Context, mut *repository.Mutation, action models.AuditAction, actor, reason string, revertedFrom *string) (*models.AuditLogEntry, error) {
	return s.repos.Audit.Append(dbc, repository.AppendInput{
		ProposalID:      mut.Proposal.ID,
		ProposalVersion: mut.Proposal.Version,
		Action:          action,
		Before:          mut.Before,
		After:           mut.After,
		Actor:           actor,
		Reason:          reason,
		RevertedFrom:    revertedFrom,
	})
}

type unitOfWork func(dbc dbctx.Context) (*repository.Mutation, *models.AuditLogEntry, error)

// run executes fn inside one transaction and dispatches the committed event.
// Nothing fn wrote is visible unless it returns without error.
func (s *ReviewService) run(ctx context.Context, op, proposalID string, fn unitOfWork) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "review."+op)
	defer span.End()
	if proposalID != "" {
		span.SetAttributes(attribute.String("proposal.id", proposalID))
	}

	var (
		mut   *repository.Mutation
		entry *models.AuditLogEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		mut, entry, err = fn(dbctx.WithTx(ctx, tx))
		return err
	})
	if err != nil {
		err = repository.StorageError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logFailure(op, proposalID, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("proposal.id", mut.Proposal.ID),
		attribute.Int64("proposal.version", mut.Proposal.Version),
		attribute.String("audit.action", string(entry.Action)),
	)
	logger.Info("Proposal mutation committed",
		"op", op,
		"proposal_id", mut.Proposal.ID,
		"action", string(entry.Action),
		"version", mut.Proposal.Version,
		"actor", entry.Actor,
	)

	ev := CommittedEvent{Proposal: *mut.Proposal, Entry: *entry}
	s.refreshReadModels(ctx, ev)
	s.dispatch(ev)
	return &Result{Proposal: mut.Proposal, AuditEntryID: entry.ID}, nil
}

// refreshReadModels runs even if the caller's context was cancelled after
// commit: the mutation is durable and the copies must follow it.
func (s *ReviewService) refreshReadModels(ctx context.Context, ev CommittedEvent) {
	s.mu.RLock()
	readModels := append([]Listener(nil), s.readModels...)
	s.mu.RUnlock()
	if len(readModels) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readModelTimeout)
	defer cancel()
	for _, rm := range readModels {
		if err := rm.OnCommitted(ctx, ev); err != nil {
			logger.Error("Read model refresh failed", "proposal_id", ev.Proposal.ID, "version", ev.Proposal.Version, "error", err)
		}
	}
}

func (s *ReviewService) dispatch(ev CommittedEvent) {
	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, l := range listeners {
		l := l
		job := func(ctx context.Context) error { return l.OnCommitted(ctx, ev) }
		if s.worker != nil {
			if err := s.worker.Enqueue(job); err == nil {
				continue
			}
		}
		if err := job(context.Background()); err != nil {
			logger.Error("Committed event listener failed", "proposal_id", ev.Proposal.ID, "error", err)
		}
	}
}

func logFailure(op, proposalID string, err error) {
	attrs := []any{"op", op, "proposal_id", proposalID, "error", err}
	switch {
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrInvalidTransition):
		logger.Warn("Proposal mutation refused", attrs...)
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrSnapshotCorrupt):
		logger.Error("Proposal mutation failed", attrs...)
	default:
		logger.Debug("Proposal mutation rejected", attrs...)
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &ValidationError{Fields: map[string]string{"actor": "es obligatorio"}}
	}
	return nil
}

func revertReason(entryID, reason string) string {
	base := fmt.Sprintf("revert to audit entry %s", entryID)
	if reason = strings.TrimSpace(reason); reason != "" {
		return base + ": " + reason
	}
	return base
}
