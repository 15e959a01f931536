package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sjperalta/cropcoef-api/internal/models"
)

// Proposal events
const (
	EventEdit    = "edit"
	EventApprove = "approve"
	EventReject  = "reject"
	EventRevert  = "revert"
)

// ErrIllegalTransition is returned when an event is not allowed from the
// proposal's current status
var ErrIllegalTransition = errors.New("transición de estado inválida")

// ProposalFSM wraps a proposal with its state machine
type ProposalFSM struct {
	proposal *models.CoefficientProposal
	fsm      *fsm.FSM
}

// NewProposalFSM creates a new proposal state machine
func NewProposalFSM(proposal *models.CoefficientProposal) *ProposalFSM {
	pfsm := &ProposalFSM{
		proposal: proposal,
	}

	pfsm.fsm = fsm.NewFSM(
		proposal.Status,
		fsm.Events{
			// pending → pending (field changes only)
			{Name: EventEdit, Src: []string{models.ProposalStatusPending}, Dst: models.ProposalStatusPending},

			// pending → approved
			{Name: EventApprove, Src: []string{models.ProposalStatusPending}, Dst: models.ProposalStatusApproved},

			// pending → rejected
			{Name: EventReject, Src: []string{models.ProposalStatusPending}, Dst: models.ProposalStatusRejected},

			// any → pending; the only exit from a decided proposal
			{Name: EventRevert, Src: []string{models.ProposalStatusPending, models.ProposalStatusApproved, models.ProposalStatusRejected}, Dst: models.ProposalStatusPending},
		},
		fsm.Callbacks{},
	)

	return pfsm
}

// Edit keeps the proposal pending
func (p *ProposalFSM) Edit(ctx context.Context) error {
	if !p.proposal.MayEdit() {
		return fmt.Errorf("%w: proposal cannot be edited in current state: %s", ErrIllegalTransition, p.proposal.Status)
	}
	return p.fire(ctx, EventEdit)
}

// Approve transitions the proposal to approved
func (p *ProposalFSM) Approve(ctx context.Context) error {
	if !p.proposal.MayApprove() {
		return fmt.Errorf("%w: proposal cannot be approved in current state: %s", ErrIllegalTransition, p.proposal.Status)
	}
	return p.fire(ctx, EventApprove)
}

// Reject transitions the proposal to rejected
func (p *ProposalFSM) Reject(ctx context.Context) error {
	if !p.proposal.MayReject() {
		return fmt.Errorf("%w: proposal cannot be rejected in current state: %s", ErrIllegalTransition, p.proposal.Status)
	}
	return p.fire(ctx, EventReject)
}

// Revert sends the proposal back to pending
func (p *ProposalFSM) Revert(ctx context.Context) error {
	if !p.proposal.MayRevert() {
		return fmt.Errorf("%w: proposal cannot be reverted in current state: %s", ErrIllegalTransition, p.proposal.Status)
	}
	return p.fire(ctx, EventRevert)
}

func (p *ProposalFSM) fire(ctx context.Context, event string) error {
	if err := p.fsm.Event(ctx, event); err != nil {
		// pending → pending is a legal self-loop, which looplab/fsm reports as NoTransitionError
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return fmt.Errorf("%w: failed to %s proposal: %v", ErrIllegalTransition, event, err)
		}
	}

	p.proposal.Status = p.fsm.Current()
	return nil
}
