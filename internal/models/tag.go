// Package models provides data model definitions for the ExpandNote sync core.
package models

import "time"

// MaxTagsPerNote is the hard cap on live tags attached to one note.
// Enforced optimistically before enqueue and authoritatively by the server.
const MaxTagsPerNote = 5

// Tag is a user-defined label for organizing notes.
type Tag struct {
	ID        UUID   `db:"id" json:"id"`
	OwnerID   UUID   `db:"owner_id" json:"owner_id"`
	Name      string `db:"name" json:"name"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for Tag.
func (Tag) TableName() string {
	return "tags"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (t *Tag) CreatedAtTime() time.Time {
	return time.Unix(t.CreatedAt, 0)
}

// NoteTag links a note to a tag. The composite (note_id, tag_id) key is the
// whole identity; the relation carries no independent state.
type NoteTag struct {
	NoteID    UUID  `db:"note_id" json:"note_id"`
	TagID     UUID  `db:"tag_id" json:"tag_id"`
	OwnerID   UUID  `db:"owner_id" json:"owner_id"`
	CreatedAt int64 `db:"created_at" json:"created_at"`
}

// TableName returns the table name for NoteTag.
func (NoteTag) TableName() string {
	return "note_tags"
}

// Key returns the composite identity used for queue ordering.
func (nt *NoteTag) Key() string {
	return string(nt.NoteID) + ":" + string(nt.TagID)
}
