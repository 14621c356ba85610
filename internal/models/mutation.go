// Package models provides data model definitions for the ExpandNote sync core.
package models

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies which mirror table a mutation targets.
type EntityType string

const (
	EntityNote    EntityType = "note"
	EntityTag     EntityType = "tag"
	EntityNoteTag EntityType = "note_tag"
)

// Operation is the kind of mutation queued for the remote authority.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MutationStatus is the lifecycle state of a queue entry.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSent    MutationStatus = "sent"
	MutationFailed  MutationStatus = "failed"
)

// PayloadSchemaVersion is the current version of the queue payload envelope.
// Entries queued before an app upgrade carry the version they were written
// with; DecodeEnvelope refuses versions newer than this.
const PayloadSchemaVersion = 1

// PayloadEnvelope wraps every queued payload with an explicit schema version
// and entity tag so mutations survive app upgrades.
type PayloadEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	EntityType    EntityType      `json:"entity_type"`
	Data          json.RawMessage `json:"data"`
}

// EncodeEnvelope wraps entity JSON in the current envelope version.
func EncodeEnvelope(entityType EntityType, data json.RawMessage) (json.RawMessage, error) {
	env := PayloadEnvelope{
		SchemaVersion: PayloadSchemaVersion,
		EntityType:    entityType,
		Data:          data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode payload envelope: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope unwraps a queued payload. Versions newer than the running
// binary are rejected; older known versions are upgraded here (only v1
// exists today, so upgrade is currently the identity).
func DecodeEnvelope(raw json.RawMessage) (*PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	if env.SchemaVersion < 1 || env.SchemaVersion > PayloadSchemaVersion {
		return nil, fmt.Errorf("unsupported payload schema version %d", env.SchemaVersion)
	}
	return &env, nil
}

// MutationEntry is one durable row of the mutation queue: a locally authored
// write that has not yet been confirmed by the remote authority.
//
// EnqueuedAt is a strictly increasing unix-nano timestamp; entries for the
// same entity id are drained in ascending EnqueuedAt order. Snapshot holds
// the pre-mutation entity JSON (nil for creates) used to roll the mirror
// back when the server rejects the mutation permanently.
type MutationEntry struct {
	ID           UUID            `db:"id" json:"id"`
	EntityType   EntityType      `db:"entity_type" json:"entity_type"`
	EntityID     string          `db:"entity_id" json:"entity_id"`
	OwnerID      UUID            `db:"owner_id" json:"owner_id"`
	Op           Operation       `db:"op" json:"op"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Snapshot     json.RawMessage `db:"snapshot" json:"snapshot,omitempty"`
	EnqueuedAt   int64           `db:"enqueued_at" json:"enqueued_at"`
	Status       MutationStatus  `db:"status" json:"status"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	NextRetryAt  int64           `db:"next_retry_at" json:"next_retry_at"`
	LastError    string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for MutationEntry.
func (MutationEntry) TableName() string {
	return "mutation_queue"
}

// EntityKey returns the (type, id) key used for per-entity serialization.
func (m *MutationEntry) EntityKey() string {
	return string(m.EntityType) + "/" + m.EntityID
}
