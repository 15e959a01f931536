package services

import (
	"context"

	"github.com/sjperalta/cropcoef-api/internal/models"
)

// CommittedEvent describes one mutation after its transaction committed
type CommittedEvent struct {
	Proposal models.CoefficientProposal
	Entry    models.AuditLogEntry
}

// Deleted reports whether the mutation tombstoned the proposal
func (e CommittedEvent) Deleted() bool {
	return e.Entry.Action == models.AuditActionDelete
}

// Listener reacts to committed mutations. Listeners run outside the
// transaction; their errors are logged and never undo the mutation.
type Listener interface {
	OnCommitted(ctx context.Context, ev CommittedEvent) error
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, ev CommittedEvent) error

func (f ListenerFunc) OnCommitted(ctx context.Context, ev CommittedEvent) error {
	return f(ctx, ev)
}
