package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// AuditAction is the closed set of mutations recorded in the audit log
type AuditAction string

const (
	AuditActionCreate  AuditAction = "create"
	AuditActionUpdate  AuditAction = "update"
	AuditActionApprove AuditAction = "approve"
	AuditActionReject  AuditAction = "reject"
	AuditActionDelete  AuditAction = "delete"
	AuditActionRevert  AuditAction = "revert"
)

// AuditActions lists every valid action
var AuditActions = []AuditAction{
	AuditActionCreate,
	AuditActionUpdate,
	AuditActionApprove,
	AuditActionReject,
	AuditActionDelete,
	AuditActionRevert,
}

// Valid reports whether a belongs to the closed action set
func (a AuditAction) Valid() bool {
	for _, known := range AuditActions {
		if a == known {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer and refuses unknown actions
func (a AuditAction) Value() (driver.Value, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown audit action %q", string(a))
	}
	return string(a), nil
}

// Scan implements sql.Scanner and refuses unknown actions
func (a *AuditAction) Scan(value interface{}) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("audit action: unsupported column type %T", value)
	}
	action := AuditAction(raw)
	if !action.Valid() {
		return fmt.Errorf("unknown audit action %q", raw)
	}
	*a = action
	return nil
}

// AuditLogEntry is one immutable record of a proposal mutation.
// ProposalID deliberately carries no foreign key: entries outlive the proposal.
type AuditLogEntry struct {
	ID                  string      `gorm:"primaryKey;size:36" json:"id"`
	ProposalID          string      `gorm:"size:36;not null;uniqueIndex:idx_audit_proposal_version,priority:1" json:"proposal_id"`
	ProposalVersion     int64       `gorm:"not null;uniqueIndex:idx_audit_proposal_version,priority:2" json:"proposal_version"`
	Action              AuditAction `gorm:"size:16;not null" json:"action_type"`
	BeforeSnapshot      Snapshot    `gorm:"type:text" json:"before_snapshot"`
	AfterSnapshot       Snapshot    `gorm:"type:text" json:"after_snapshot"`
	Actor               string      `gorm:"size:255;not null" json:"actor"`
	Reason              string      `gorm:"type:text" json:"reason"`
	RevertedFromEntryID *string     `gorm:"size:36" json:"reverted_from_entry_id,omitempty"`
	CreatedAt           time.Time   `gorm:"not null" json:"created_at"`
}

// TableName specifies the table name for AuditLogEntry
func (AuditLogEntry) TableName() string {
	return "proposal_audit_logs"
}
