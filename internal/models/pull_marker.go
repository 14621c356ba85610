// Package models provides data model definitions for the ExpandNote sync core.
package models

// PullMarker tracks, per entity type and owner, the last server change
// timestamp that was pulled. Used for incremental fetch on reconnect instead
// of re-downloading the full data set.
type PullMarker struct {
	EntityType   EntityType `db:"entity_type" json:"entity_type"`
	OwnerID      UUID       `db:"owner_id" json:"owner_id"`
	LastPulledAt int64      `db:"last_pulled_at" json:"last_pulled_at"`
}

// TableName returns the table name for PullMarker.
func (PullMarker) TableName() string {
	return "pull_markers"
}
