package models

import (
	"database/sql/driver"
	"fmt"
)

// Snapshot is the canonical serialized form of a proposal's mutable fields.
// The empty snapshot stands for "no state" (before a create, after a delete).
// It is persisted as text so the stored bytes are exactly the encoded bytes.
type Snapshot string

// IsEmpty reports whether the snapshot carries no state
func (s Snapshot) IsEmpty() bool {
	return s == ""
}

// Value implements driver.Valuer
func (s Snapshot) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner
func (s *Snapshot) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*s = ""
	case string:
		*s = Snapshot(v)
	case []byte:
		*s = Snapshot(string(v))
	default:
		return fmt.Errorf("snapshot: unsupported column type %T", value)
	}
	return nil
}
