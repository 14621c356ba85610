// Package models provides data model definitions for the ExpandNote sync core.
package models

import (
	"encoding/json"
	"time"
)

// Resolution names the outcome applied to a conflict record.
type Resolution string

const (
	ResolutionLastWriteWins Resolution = "last_write_wins"
	ResolutionKeepLocal     Resolution = "keep_local"
	ResolutionTakeRemote    Resolution = "take_remote"
	ResolutionPending       Resolution = "pending"
)

// ConflictRecord retains both sides of a version conflict. The losing edit is
// never discarded: until ResolvedAt is set the record holds the full local
// and remote JSON so the user can inspect and choose, and after resolution it
// stays as an audit trail of what was overwritten.
type ConflictRecord struct {
	ID            UUID            `db:"id" json:"id"`
	EntityType    EntityType      `db:"entity_type" json:"entity_type"`
	EntityID      string          `db:"entity_id" json:"entity_id"`
	OwnerID       UUID            `db:"owner_id" json:"owner_id"`
	LocalJSON     json.RawMessage `db:"local_json" json:"local_json"`
	RemoteJSON    json.RawMessage `db:"remote_json" json:"remote_json"`
	LocalVersion  int64           `db:"local_version" json:"local_version"`
	RemoteVersion int64           `db:"remote_version" json:"remote_version"`
	DetectedAt    int64           `db:"detected_at" json:"detected_at"`
	ResolvedAt    *int64          `db:"resolved_at" json:"resolved_at,omitempty"`
	Resolution    Resolution      `db:"resolution" json:"resolution"`
}

// TableName returns the table name for ConflictRecord.
func (ConflictRecord) TableName() string {
	return "conflict_records"
}

// Open reports whether the conflict still awaits a decision.
func (c *ConflictRecord) Open() bool {
	return c.ResolvedAt == nil
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictRecord) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
