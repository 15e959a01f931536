package models

import (
	"time"

	"gorm.io/gorm"
)

// CoefficientProposal is an externally submitted set of crop coefficients
// awaiting a review decision.
type CoefficientProposal struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	SubjectID    string         `gorm:"size:64;not null;index" json:"subject_id"`
	Coefficients Coefficients   `gorm:"embedded" json:"coefficients"`
	Provenance   Provenance     `gorm:"embedded" json:"provenance"`
	Status       string         `gorm:"size:16;not null;default:pending;index" json:"status"`
	Version      int64          `gorm:"not null" json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for CoefficientProposal
func (CoefficientProposal) TableName() string {
	return "coefficient_proposals"
}

// Proposal status constants
const (
	ProposalStatusPending  = "pending"
	ProposalStatusApproved = "approved"
	ProposalStatusRejected = "rejected"
)

// Coefficients holds the stage multipliers (Kc) and stage durations (days)
// of a crop season. Durations must add up to SeasonLength.
type Coefficients struct {
	KcIni        float64 `gorm:"column:kc_ini;not null" json:"kc_ini" validate:"gte=0,lte=2"`
	KcDev        float64 `gorm:"column:kc_dev;not null" json:"kc_dev" validate:"gte=0,lte=2"`
	KcMid        float64 `gorm:"column:kc_mid;not null" json:"kc_mid" validate:"gte=0,lte=2"`
	KcEnd        float64 `gorm:"column:kc_end;not null" json:"kc_end" validate:"gte=0,lte=2"`
	LIni         int     `gorm:"column:l_ini;not null" json:"l_ini" validate:"gte=0"`
	LDev         int     `gorm:"column:l_dev;not null" json:"l_dev" validate:"gte=0"`
	LMid         int     `gorm:"column:l_mid;not null" json:"l_mid" validate:"gte=0"`
	LLate        int     `gorm:"column:l_late;not null" json:"l_late" validate:"gte=0"`
	SeasonLength int     `gorm:"column:season_length;not null" json:"season_length" validate:"gt=0"`
}

// TotalDuration returns the sum of the four stage durations
func (c Coefficients) TotalDuration() int {
	return c.LIni + c.LDev + c.LMid + c.LLate
}

// Provenance describes where a proposal came from. All fields are opaque.
type Provenance struct {
	Source           string `gorm:"column:source;type:text" json:"source" validate:"max=2000"`
	SubmitterName    string `gorm:"column:submitter_name;size:255" json:"submitter_name" validate:"max=255"`
	SubmitterContact string `gorm:"column:submitter_contact;size:255" json:"submitter_contact" validate:"max=255"`
}

// IsValidProposalStatus reports whether s is one of the three known statuses
func IsValidProposalStatus(s string) bool {
	switch s {
	case ProposalStatusPending, ProposalStatusApproved, ProposalStatusRejected:
		return true
	}
	return false
}

// IsPending returns true if the proposal still awaits a decision
func (p *CoefficientProposal) IsPending() bool {
	return p.Status == ProposalStatusPending
}

// MayEdit returns true if the proposal fields can be changed
func (p *CoefficientProposal) MayEdit() bool {
	return p.IsPending()
}

// MayApprove returns true if the proposal can be approved
func (p *CoefficientProposal) MayApprove() bool {
	return p.IsPending()
}

// MayReject returns true if the proposal can be rejected
func (p *CoefficientProposal) MayReject() bool {
	return p.IsPending()
}

// MayRevert returns true if the proposal can be restored to a prior snapshot.
// Revert is the only way out of approved/rejected.
func (p *CoefficientProposal) MayRevert() bool {
	return IsValidProposalStatus(p.Status)
}

// MayDelete returns true if the proposal can be removed
func (p *CoefficientProposal) MayDelete() bool {
	return IsValidProposalStatus(p.Status)
}
