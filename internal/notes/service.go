// Package notes is the application-facing surface of the sync core. Every
// mutation follows the same offline-first path: validate, write the mirror
// optimistically, queue the mutation durably, then let the reconciler settle
// it with the remote. Reads never touch the network.
package notes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/queue"
	"github.com/altitudeinfosys/expandnote/internal/status"
	"github.com/altitudeinfosys/expandnote/internal/store"
	"github.com/altitudeinfosys/expandnote/internal/uuid"
)

// MaxContentLength bounds note content, matching the server's limit.
const MaxContentLength = 1 << 20

// ConflictResolver settles a parked conflict by explicit user choice.
type ConflictResolver interface {
	ResolveConflict(ctx context.Context, recordID models.UUID, keepLocal bool) error
}

// Service exposes the local-first note operations. The owner id is an
// explicit parameter on every call so data isolation is visible at the call
// site.
type Service struct {
	store    *store.Store
	queue    *queue.Queue
	status   *status.Aggregator
	resolver ConflictResolver
}

// NewService wires the Service. resolver may be set later via SetResolver.
func NewService(st *store.Store, q *queue.Queue, agg *status.Aggregator) *Service {
	return &Service{store: st, queue: q, status: agg}
}

// SetResolver attaches the conflict resolver (the reconciler).
func (s *Service) SetResolver(r ConflictResolver) {
	s.resolver = r
}

// FetchAll returns the owner's live notes from the mirror, newest first.
// Queued local edits are already in the mirror, so reads always include the
// caller's own writes.
func (s *Service) FetchAll(ctx context.Context, ownerID models.UUID) ([]*models.Note, error) {
	if err := uuid.Validate(string(ownerID)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid owner id", err)
	}
	return s.store.ListNotes(ctx, ownerID)
}

// Get returns one live note.
func (s *Service) Get(ctx context.Context, ownerID models.UUID, id string) (*models.Note, error) {
	note, err := s.store.GetNote(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if note.Deleted() {
		return nil, apperrors.New(apperrors.ErrNotFound, "note not found")
	}
	return note, nil
}

// Save creates or updates a note: mirror first, queue second. A new note
// gets its id here; the same id keys the remote upsert, which is what makes
// replays idempotent.
func (s *Service) Save(ctx context.Context, ownerID models.UUID, note *models.Note) error {
	if err := uuid.Validate(string(ownerID)); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid owner id", err)
	}
	if len(note.Content) > MaxContentLength {
		return apperrors.New(apperrors.ErrValidation, "content too large")
	}
	if note.Title != nil && strings.TrimSpace(*note.Title) == "" {
		note.Title = nil
	}

	now := time.Now().Unix()
	op := models.OpUpdate
	var snapshot json.RawMessage

	if note.ID == "" {
		op = models.OpCreate
		note.ID = models.UUID(uuid.New())
		note.CreatedAt = now
	} else {
		prior, err := s.store.GetNote(ctx, ownerID, string(note.ID))
		switch {
		case err == nil:
			if prior.Deleted() {
				return apperrors.New(apperrors.ErrInvalid, "cannot edit a deleted note")
			}
			snapshot, err = json.Marshal(prior)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrInternal, "failed to snapshot note", err)
			}
			note.CreatedAt = prior.CreatedAt
			note.SyncVersion = prior.SyncVersion
		case apperrors.Is(err, apperrors.ErrNotFound):
			op = models.OpCreate
			note.CreatedAt = now
		default:
			return err
		}
	}
	note.OwnerID = ownerID
	note.UpdatedAt = now

	if err := s.store.PutNote(ctx, note); err != nil {
		return err
	}
	return s.enqueue(ctx, models.EntityNote, string(note.ID), ownerID, op, note, snapshot)
}

// Remove tombstones a note and queues the remote delete. The row is purged
// from the mirror only after the server acknowledges.
func (s *Service) Remove(ctx context.Context, ownerID models.UUID, id string) error {
	prior, err := s.store.GetNote(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if prior.Deleted() {
		return nil // removing twice is a no-op
	}
	snapshot, err := json.Marshal(prior)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to snapshot note", err)
	}

	now := time.Now().Unix()
	if err := s.store.TombstoneNote(ctx, ownerID, id, now); err != nil {
		return err
	}
	deleted := *prior
	deleted.DeletedAt = &now
	deleted.UpdatedAt = now
	return s.enqueue(ctx, models.EntityNote, id, ownerID, models.OpDelete, &deleted, snapshot)
}

// Search runs a full-text query over the owner's live notes.
func (s *Service) Search(ctx context.Context, ownerID models.UUID, query string) ([]*models.Note, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.store.ListNotes(ctx, ownerID)
	}
	return s.store.SearchNotes(ctx, ownerID, query)
}

// CreateTag creates a tag and queues it for the remote.
func (s *Service) CreateTag(ctx context.Context, ownerID models.UUID, name string) (*models.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tag name cannot be empty")
	}
	tag := &models.Tag{
		ID:        models.UUID(uuid.New()),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.store.PutTag(ctx, tag); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, models.EntityTag, string(tag.ID), ownerID, models.OpCreate, tag, nil); err != nil {
		return nil, err
	}
	return tag, nil
}

// Tags lists the owner's tags.
func (s *Service) Tags(ctx context.Context, ownerID models.UUID) ([]*models.Tag, error) {
	return s.store.ListTags(ctx, ownerID)
}

// DeleteTag removes a tag locally and queues the remote delete.
func (s *Service) DeleteTag(ctx context.Context, ownerID models.UUID, tagID string) error {
	tag, err := s.store.GetTag(ctx, ownerID, tagID)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(tag)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to snapshot tag", err)
	}
	if err := s.store.DeleteTag(ctx, ownerID, tagID); err != nil {
		return err
	}
	return s.enqueue(ctx, models.EntityTag, tagID, ownerID, models.OpDelete, tag, snapshot)
}

// AttachTag links a tag to a note. The five tag cap is checked here against
// the mirror before anything is queued; the server re-checks authoritatively
// and a rejection rolls the optimistic attach back.
func (s *Service) AttachTag(ctx context.Context, ownerID, noteID, tagID models.UUID) error {
	if _, err := s.Get(ctx, ownerID, string(noteID)); err != nil {
		return err
	}
	if _, err := s.store.GetTag(ctx, ownerID, string(tagID)); err != nil {
		return err
	}

	count, err := s.store.CountLiveNoteTags(ctx, ownerID, noteID)
	if err != nil {
		return err
	}
	if count >= models.MaxTagsPerNote {
		return apperrors.New(apperrors.ErrTagLimitExceeded, "note already has the maximum number of tags")
	}

	nt := &models.NoteTag{
		NoteID:    noteID,
		TagID:     tagID,
		OwnerID:   ownerID,
		CreatedAt: time.Now().Unix(),
	}
	if err := s.store.PutNoteTag(ctx, nt); err != nil {
		return err
	}
	return s.enqueue(ctx, models.EntityNoteTag, nt.Key(), ownerID, models.OpCreate, nt, nil)
}

// DetachTag unlinks a tag from a note.
func (s *Service) DetachTag(ctx context.Context, ownerID, noteID, tagID models.UUID) error {
	nt := &models.NoteTag{NoteID: noteID, TagID: tagID, OwnerID: ownerID}
	snapshot, err := json.Marshal(nt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to snapshot relation", err)
	}
	if err := s.store.DeleteNoteTag(ctx, ownerID, noteID, tagID); err != nil {
		return err
	}
	return s.enqueue(ctx, models.EntityNoteTag, nt.Key(), ownerID, models.OpDelete, nt, snapshot)
}

// NoteTags lists the tags attached to a note.
func (s *Service) NoteTags(ctx context.Context, ownerID, noteID models.UUID) ([]*models.Tag, error) {
	return s.store.ListNoteTags(ctx, ownerID, noteID)
}

// SyncStatus returns the aggregated user-facing sync state.
func (s *Service) SyncStatus() models.SyncState {
	return s.status.Aggregate()
}

// EntityStates returns the per-entity sync states for detail views.
func (s *Service) EntityStates() map[string]models.SyncState {
	return s.status.Snapshot()
}

// ManualSync requests an immediate drain; false means one was already
// running and will cover the queued work.
func (s *Service) ManualSync() bool {
	return s.status.ManualSync()
}

// Conflicts lists the owner's unresolved conflicts.
func (s *Service) Conflicts(ctx context.Context, ownerID models.UUID) ([]*models.ConflictRecord, error) {
	return s.store.ListOpenConflicts(ctx, ownerID)
}

// Resolve settles a parked conflict.
func (s *Service) Resolve(ctx context.Context, recordID models.UUID, keepLocal bool) error {
	if s.resolver == nil {
		return apperrors.New(apperrors.ErrSyncNotConfigured, "no reconciler attached")
	}
	return s.resolver.ResolveConflict(ctx, recordID, keepLocal)
}

// enqueue wraps the entity in a versioned envelope, appends it to the
// durable queue and nudges the reconciler.
func (s *Service) enqueue(ctx context.Context, entityType models.EntityType, entityID string, ownerID models.UUID, op models.Operation, entity interface{}, snapshot json.RawMessage) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode entity", err)
	}
	payload, err := models.EncodeEnvelope(entityType, data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to envelope payload", err)
	}

	entry := &models.MutationEntry{
		EntityType: entityType,
		EntityID:   entityID,
		OwnerID:    ownerID,
		Op:         op,
		Payload:    payload,
		Snapshot:   snapshot,
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return err
	}
	s.status.Apply(entityType, entityID, models.EventEnqueue)
	s.status.ManualSync()
	return nil
}
