package statemachine

import (
	"context"
	"testing"

	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestProposalFSM_Transitions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    string
		fire    func(*ProposalFSM) error
		want    string
		wantErr bool
	}{
		{"approve pending", models.ProposalStatusPending, func(f *ProposalFSM) error { return f.Approve(ctx) }, models.ProposalStatusApproved, false},
		{"reject pending", models.ProposalStatusPending, func(f *ProposalFSM) error { return f.Reject(ctx) }, models.ProposalStatusRejected, false},
		{"edit pending self-loop", models.ProposalStatusPending, func(f *ProposalFSM) error { return f.Edit(ctx) }, models.ProposalStatusPending, false},
		{"revert approved", models.ProposalStatusApproved, func(f *ProposalFSM) error { return f.Revert(ctx) }, models.ProposalStatusPending, false},
		{"revert rejected", models.ProposalStatusRejected, func(f *ProposalFSM) error { return f.Revert(ctx) }, models.ProposalStatusPending, false},
		{"revert pending self-loop", models.ProposalStatusPending, func(f *ProposalFSM) error { return f.Revert(ctx) }, models.ProposalStatusPending, false},
		{"approve approved", models.ProposalStatusApproved, func(f *ProposalFSM) error { return f.Approve(ctx) }, models.ProposalStatusApproved, true},
		{"reject approved", models.ProposalStatusApproved, func(f *ProposalFSM) error { return f.Reject(ctx) }, models.ProposalStatusApproved, true},
		{"approve rejected", models.ProposalStatusRejected, func(f *ProposalFSM) error { return f.Approve(ctx) }, models.ProposalStatusRejected, true},
		{"edit rejected", models.ProposalStatusRejected, func(f *ProposalFSM) error { return f.Edit(ctx) }, models.ProposalStatusRejected, true},
		{"edit approved", models.ProposalStatusApproved, func(f *ProposalFSM) error { return f.Edit(ctx) }, models.ProposalStatusApproved, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &models.CoefficientProposal{Status: tt.from}
			machine := NewProposalFSM(p)

			err := tt.fire(machine)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIllegalTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, p.Status)
		})
	}
}
