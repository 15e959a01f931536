package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/cropcoef-api/internal/config"
	"github.com/sjperalta/cropcoef-api/internal/jobs"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionNotifier_LogsDecisionsOnly(t *testing.T) {
	var buf bytes.Buffer
	n := NewDecisionNotifier(&config.Config{}, slog.New(slog.NewJSONHandler(&buf, nil)))

	ev := CommittedEvent{
		Proposal: models.CoefficientProposal{ID: "p-1", Status: models.ProposalStatusApproved, Version: 2,
			Provenance: models.Provenance{SubmitterContact: "ana@example.org"}},
		Entry: models.AuditLogEntry{ID: "e-2", Action: models.AuditActionApprove, Actor: "reviewer"},
	}
	require.NoError(t, n.OnCommitted(context.Background(), ev))
	assert.Contains(t, buf.String(), `"decision":"approve"`)
	assert.Contains(t, buf.String(), `"notify":"ana@example.org"`)

	buf.Reset()
	ev.Entry.Action = models.AuditActionUpdate
	require.NoError(t, n.OnCommitted(context.Background(), ev))
	assert.Empty(t, buf.String())
}

func decisionEvent(contact string) CommittedEvent {
	return CommittedEvent{
		Proposal: models.CoefficientProposal{ID: "p-1", SubjectID: "maize-grain", Status: models.ProposalStatusRejected, Version: 3,
			Provenance: models.Provenance{SubmitterName: "Ana Ruiz", SubmitterContact: contact}},
		Entry: models.AuditLogEntry{ID: "e-3", Action: models.AuditActionReject, Actor: "reviewer", Reason: "Kc mid fuera de rango regional"},
	}
}

func TestDecisionNotifier_EmailsSubmitter(t *testing.T) {
	var sent []*resend.SendEmailRequest
	n := &DecisionNotifier{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		from: "noreply@cropcoef.app",
		send: func(_ context.Context, req *resend.SendEmailRequest) error {
			sent = append(sent, req)
			return nil
		},
	}

	require.NoError(t, n.OnCommitted(context.Background(), decisionEvent("Ana Ruiz <ana@example.org>")))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"ana@example.org"}, sent[0].To)
	assert.Equal(t, "noreply@cropcoef.app", sent[0].From)
	assert.Equal(t, "Propuesta rechazada", sent[0].Subject)
	assert.Contains(t, sent[0].Html, "maize-grain")
	assert.Contains(t, sent[0].Html, "Kc mid fuera de rango regional")

	// Contacts that are not email addresses are only logged
	require.NoError(t, n.OnCommitted(context.Background(), decisionEvent("+34 600 000 000")))
	assert.Len(t, sent, 1)

	// Edits never notify
	ev := decisionEvent("ana@example.org")
	ev.Entry.Action = models.AuditActionUpdate
	require.NoError(t, n.OnCommitted(context.Background(), ev))
	assert.Len(t, sent, 1)
}

func TestDecisionNotifier_SendFailureIsReturned(t *testing.T) {
	n := &DecisionNotifier{
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		from: "noreply@cropcoef.app",
		send: func(context.Context, *resend.SendEmailRequest) error { return errors.New("resend unavailable") },
	}

	err := n.OnCommitted(context.Background(), decisionEvent("ana@example.org"))
	assert.EqualError(t, err, "resend unavailable")
}

func TestNewDecisionNotifier_EmailNeedsAPIKey(t *testing.T) {
	assert.Nil(t, NewDecisionNotifier(nil, nil).send)
	assert.Nil(t, NewDecisionNotifier(&config.Config{FromEmail: "noreply@cropcoef.app"}, nil).send)

	n := NewDecisionNotifier(&config.Config{ResendAPIKey: "re_test", FromEmail: "noreply@cropcoef.app"}, nil)
	assert.NotNil(t, n.send)
	assert.Equal(t, "noreply@cropcoef.app", n.from)
}

type recordingListener struct {
	mu     sync.Mutex
	events []CommittedEvent
	wg     *sync.WaitGroup
}

func (l *recordingListener) OnCommitted(_ context.Context, ev CommittedEvent) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if l.wg != nil {
		l.wg.Done()
	}
	return nil
}

func TestReviewService_DispatchesAfterCommitOnly(t *testing.T) {
	svc, db := newTestService(t)
	worker := jobs.NewWorker(1)
	defer worker.Shutdown()
	svc = NewReviewService(db, repository.NewRepositories(db), worker)

	var wg sync.WaitGroup
	l := &recordingListener{wg: &wg}
	svc.Subscribe(l)

	wg.Add(2)
	res, err := svc.Submit(context.Background(), scenarioSubmission())
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), res.Proposal.ID, DecisionRequest{ExpectedVersion: 7, Actor: "r"})
	require.ErrorIs(t, err, ErrVersionConflict)
	_, err = svc.Delete(context.Background(), res.Proposal.ID, DecisionRequest{ExpectedVersion: 1, Actor: "r"})
	require.NoError(t, err)
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.events, 2)
	actions := []models.AuditAction{l.events[0].Entry.Action, l.events[1].Entry.Action}
	assert.ElementsMatch(t, []models.AuditAction{models.AuditActionCreate, models.AuditActionDelete}, actions)
	for _, ev := range l.events {
		if ev.Deleted() {
			assert.Equal(t, int64(2), ev.Proposal.Version)
		}
	}
}

func TestNewServices(t *testing.T) {
	_, db := newTestService(t)
	svcs := NewServices(db, repository.NewRepositories(db), nil)
	require.NotNil(t, svcs.Review)
	assert.Equal(t, jobs.WorkerStats{}, svcs.Job.GetStatus())
}

func TestReviewService_RefreshesReadModelsBeforeReturning(t *testing.T) {
	svc, db := newTestService(t)
	worker := jobs.NewWorker(1)
	svc = NewReviewService(db, repository.NewRepositories(db), worker)

	release := make(chan struct{})
	defer worker.Shutdown()
	defer close(release)
	svc.Subscribe(ListenerFunc(func(context.Context, CommittedEvent) error {
		<-release
		return nil
	}))

	readModel := &recordingListener{}
	svc.SubscribeReadModel(readModel)
	svc.SubscribeReadModel(ListenerFunc(func(context.Context, CommittedEvent) error {
		return errors.New("redis down")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	res, err := svc.Submit(ctx, scenarioSubmission())
	require.NoError(t, err)
	cancel()

	approved, err := svc.Approve(context.Background(), res.Proposal.ID, DecisionRequest{ExpectedVersion: 1, Actor: "r"})
	require.NoError(t, err)

	readModel.mu.Lock()
	defer readModel.mu.Unlock()
	require.Len(t, readModel.events, 2)
	assert.Equal(t, approved.Proposal.Version, readModel.events[1].Proposal.Version)
	assert.Equal(t, models.ProposalStatusApproved, readModel.events[1].Proposal.Status)
}
