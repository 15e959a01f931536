package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/cropcoef-api/internal/config"
	"github.com/sjperalta/cropcoef-api/internal/models"
	"github.com/sjperalta/cropcoef-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

var decisionSubjects = map[models.AuditAction]string{
	models.AuditActionApprove: "Propuesta aprobada",
	models.AuditActionReject:  "Propuesta rechazada",
	models.AuditActionRevert:  "Propuesta devuelta a revisión",
}

// mailSender delivers one email
type mailSender func(ctx context.Context, req *resend.SendEmailRequest) error

// DecisionNotifier reports reviewer decisions. Every decision is logged in a
// stable shape; when Resend is configured and the submitter contact is an
// email address, the submitter also gets an email.
type DecisionNotifier struct {
	log  *slog.Logger
	from string
	send mailSender
}

// NewDecisionNotifier creates a notifier writing to log, or to the global
// logger when nil. Email is enabled when cfg carries a Resend API key.
func NewDecisionNotifier(cfg *config.Config, log *slog.Logger) *DecisionNotifier {
	if log == nil {
		log = logger.Log
	}
	n := &DecisionNotifier{log: log}
	if cfg == nil || cfg.ResendAPIKey == "" || cfg.FromEmail == "" {
		return n
	}

	client := resend.NewClient(cfg.ResendAPIKey)
	n.from = cfg.FromEmail
	n.send = func(ctx context.Context, req *resend.SendEmailRequest) error {
		_, err := client.Emails.SendWithContext(ctx, req)
		return err
	}
	return n
}

func (n *DecisionNotifier) OnCommitted(ctx context.Context, ev CommittedEvent) error {
	subject, ok := decisionSubjects[ev.Entry.Action]
	if !ok {
		return nil
	}

	attrs := []any{
		slog.String("proposal_id", ev.Proposal.ID),
		slog.String("subject_id", ev.Proposal.SubjectID),
		slog.String("decision", string(ev.Entry.Action)),
		slog.String("status", ev.Proposal.Status),
		slog.Int64("version", ev.Proposal.Version),
		slog.String("actor", ev.Entry.Actor),
		slog.String("audit_entry_id", ev.Entry.ID),
	}
	if ev.Entry.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Entry.Reason))
	}
	if ev.Proposal.Provenance.SubmitterContact != "" {
		attrs = append(attrs, slog.String("notify", ev.Proposal.Provenance.SubmitterContact))
	}
	n.log.InfoContext(ctx, "Proposal decision recorded", attrs...)

	if n.send == nil {
		return nil
	}
	to, err := mail.ParseAddress(ev.Proposal.Provenance.SubmitterContact)
	if err != nil {
		return nil
	}
	return n.sendDecision(ctx, to.Address, subject, ev)
}

func (n *DecisionNotifier) sendDecision(ctx context.Context, to, subject string, ev CommittedEvent) error {
	data := struct {
		Subject    string
		Name       string
		SubjectID  string
		Decision   string
		Status     string
		Version    int64
		Actor      string
		Reason     string
		ProposalID string
		EntryID    string
	}{
		Subject:    subject,
		Name:       ev.Proposal.Provenance.SubmitterName,
		SubjectID:  ev.Proposal.SubjectID,
		Decision:   subject,
		Status:     ev.Proposal.Status,
		Version:    ev.Proposal.Version,
		Actor:      ev.Entry.Actor,
		Reason:     ev.Entry.Reason,
		ProposalID: ev.Proposal.ID,
		EntryID:    ev.Entry.ID,
	}

	body, err := renderTemplate("decision.html", data)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if err := n.send(ctx, params); err != nil {
		n.log.ErrorContext(ctx, "Failed to send decision email", "to", to, "proposal_id", ev.Proposal.ID, "error", err)
		return err
	}

	n.log.InfoContext(ctx, "Decision email sent", "to", to, "subject", subject, "proposal_id", ev.Proposal.ID)
	return nil
}

func renderTemplate(name string, data interface{}) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
