// Package snapshot encodes the mutable fields of a coefficient proposal into
// a canonical (RFC 8785) JSON form used for audit before/after states.
//
// Two logically equal proposals always encode to byte-identical snapshots,
// so snapshots can be compared with == and replayed verbatim.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/sjperalta/cropcoef-api/internal/models"
)

// ErrCorrupt is returned when stored snapshot data cannot be decoded
var ErrCorrupt = errors.New("snapshot corrupto")

// Fields is the mutable part of a proposal. ID, subject, version and
// timestamps are intentionally not part of a snapshot.
type Fields struct {
	Coefficients models.Coefficients `json:"coefficients"`
	Provenance   models.Provenance   `json:"provenance"`
	Status       string              `json:"status"`
}

// FieldsOf extracts the mutable fields of p
func FieldsOf(p *models.CoefficientProposal) Fields {
	return Fields{
		Coefficients: p.Coefficients,
		Provenance:   p.Provenance,
		Status:       p.Status,
	}
}

// ApplyTo overwrites the mutable fields of p
func (f Fields) ApplyTo(p *models.CoefficientProposal) {
	p.Coefficients = f.Coefficients
	p.Provenance = f.Provenance
	p.Status = f.Status
}

// Encode returns the canonical snapshot of p
func Encode(p *models.CoefficientProposal) (models.Snapshot, error) {
	return EncodeFields(FieldsOf(p))
}

// EncodeFields returns the canonical snapshot of f
func EncodeFields(f Fields) (models.Snapshot, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return models.Snapshot(canonical), nil
}

// Decode is the inverse of Encode. Empty, malformed or unknown-shaped input
// fails with ErrCorrupt.
func Decode(s models.Snapshot) (Fields, error) {
	var f Fields
	if s.IsEmpty() {
		return f, fmt.Errorf("%w: snapshot vacío", ErrCorrupt)
	}

	dec := json.NewDecoder(strings.NewReader(string(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Fields{}, fmt.Errorf("%w: datos extra después del objeto", ErrCorrupt)
	}
	if !models.IsValidProposalStatus(f.Status) {
		return Fields{}, fmt.Errorf("%w: estado desconocido %q", ErrCorrupt, f.Status)
	}
	return f, nil
}
