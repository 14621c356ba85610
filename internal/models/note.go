// Package models provides data model definitions for the ExpandNote sync core.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Note is a locally mirrored note snapshot.
//
// SyncVersion is the optimistic-concurrency token assigned by the remote
// authority. It is never decreased by a local write; zero means the note has
// not been confirmed by the server yet. DeletedAt is the tombstone marker: a
// tombstoned note is excluded from active views but retained until the remote
// delete is acknowledged, then purged.
type Note struct {
	ID          UUID    `db:"id" json:"id"`
	OwnerID     UUID    `db:"owner_id" json:"owner_id"`
	Title       *string `db:"title" json:"title,omitempty"`
	Content     string  `db:"content" json:"content"`
	Favorite    bool    `db:"favorite" json:"favorite"`
	CreatedAt   int64   `db:"created_at" json:"created_at"`
	UpdatedAt   int64   `db:"updated_at" json:"updated_at"`
	DeletedAt   *int64  `db:"deleted_at" json:"deleted_at,omitempty"`
	SyncVersion int64   `db:"sync_version" json:"sync_version"`
}

// TableName returns the table name for Note.
func (Note) TableName() string {
	return "notes"
}

// Deleted reports whether the note carries a tombstone.
func (n *Note) Deleted() bool {
	return n.DeletedAt != nil
}

// Touch updates the UpdatedAt timestamp.
func (n *Note) Touch() {
	n.UpdatedAt = time.Now().Unix()
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (n *Note) CreatedAtTime() time.Time {
	return time.Unix(n.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (n *Note) UpdatedAtTime() time.Time {
	return time.Unix(n.UpdatedAt, 0)
}
