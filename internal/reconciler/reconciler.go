// Package reconciler drains the mutation queue against the remote authority.
// It owns the per-entity sync state machine: every queue entry passes through
// here exactly once per attempt, and every mirror write that originates from
// the server goes through applyRemoteState.
package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/altitudeinfosys/expandnote/internal/config"
	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/logging"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/queue"
	"github.com/altitudeinfosys/expandnote/internal/reconciler/conflict"
	"github.com/altitudeinfosys/expandnote/internal/remote"
	"github.com/altitudeinfosys/expandnote/internal/status"
	"github.com/altitudeinfosys/expandnote/internal/store"
)

// RemoteAPI is the slice of the remote client the reconciler needs.
type RemoteAPI interface {
	PutEntity(ctx context.Context, entityType models.EntityType, entityID string, data json.RawMessage, expectedVersion int64) (*remote.UpsertResult, error)
	DeleteEntity(ctx context.Context, entityType models.EntityType, entityID string, expectedVersion int64) error
	FetchEntity(ctx context.Context, entityType models.EntityType, entityID string) (*remote.RemoteEntity, error)
	FetchSince(ctx context.Context, entityType models.EntityType, since int64) ([]*remote.RemoteEntity, int64, error)
}

// Reconciler pushes queued mutations to the remote and applies the
// authoritative results back to the mirror.
type Reconciler struct {
	store    *store.Store
	queue    *queue.Queue
	status   *status.Aggregator
	remote   RemoteAPI
	cfg      *config.Config
	resolver *conflict.Resolver

	mu       sync.Mutex
	draining bool
	halted   bool
	online   bool
	drainCh  chan struct{}
}

// New wires a Reconciler. It registers itself as the aggregator's drain
// trigger.
func New(st *store.Store, q *queue.Queue, agg *status.Aggregator, rem RemoteAPI, cfg *config.Config) *Reconciler {
	r := &Reconciler{
		store:    st,
		queue:    q,
		status:   agg,
		remote:   rem,
		cfg:      cfg,
		resolver: conflict.NewResolver(cfg.ConflictStrategy),
		online:   true,
		drainCh:  make(chan struct{}, 1),
	}
	agg.SetDrainTrigger(r)
	return r
}

// Run drives the reconciler until ctx is cancelled: a periodic tick plus
// manual drain requests. Call from its own goroutine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		case <-r.drainCh:
			r.drain(ctx)
		}
	}
}

// TriggerDrain requests an immediate drain. Reports false when a drain is
// already running; the running drain will pick up all currently queued work,
// so the caller has nothing more to do.
func (r *Reconciler) TriggerDrain() bool {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return false
	}
	// A manual trigger is also how the user retries after re-authenticating
	r.halted = false
	r.mu.Unlock()

	select {
	case r.drainCh <- struct{}{}:
	default:
	}
	return true
}

// SetOnline records a connectivity change. Coming back online flips deferred
// entities to pending and kicks a drain.
func (r *Reconciler) SetOnline(online bool) {
	r.mu.Lock()
	was := r.online
	r.online = online
	r.mu.Unlock()

	if online && !was {
		for key, s := range r.status.Snapshot() {
			if s != models.StateOffline {
				continue
			}
			entityType, entityID := splitKey(key)
			r.status.Apply(entityType, entityID, models.EventNetworkUp)
		}
		r.TriggerDrain()
	}
}

// Halted reports whether draining is stopped awaiting re-authentication.
func (r *Reconciler) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted
}

// drain processes due queue heads in rounds of up to Workers concurrent
// entries until nothing is due. One drain runs at a time.
func (r *Reconciler) drain(ctx context.Context) {
	r.mu.Lock()
	if r.draining || r.halted {
		r.mu.Unlock()
		return
	}
	r.draining = true
	// Each drain attempt tests connectivity for itself. The offline latch
	// only cuts short the remainder of this pass after a transport failure
	// inside it; the next tick or manual sync always tries again, with the
	// per-entry backoff deciding what is actually due.
	r.online = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.draining = false
		r.mu.Unlock()
	}()

	r.status.NotifyDrainStarted()
	logging.Debug("drain started")

	for {
		if ctx.Err() != nil {
			r.status.NotifyDrainFailed("shutdown")
			return
		}
		r.mu.Lock()
		halted, online := r.halted, r.online
		r.mu.Unlock()
		if halted {
			r.status.NotifyDrainFailed("authentication required")
			return
		}
		if !online {
			r.status.NotifyDrainFailed("offline")
			return
		}

		heads, err := r.queue.DueHeads(ctx, time.Now().UnixNano(), r.cfg.Workers*4)
		if err != nil {
			logging.ErrorWithCode("failed to read queue heads",
				string(apperrors.CodeOf(err)), err)
			r.status.NotifyDrainFailed("queue read failed")
			return
		}

		// Conflicted entities stay parked until resolved
		var workable []*models.MutationEntry
		for _, e := range heads {
			parked, err := r.store.HasOpenConflict(ctx, e.EntityType, e.EntityID)
			if err != nil {
				logging.ErrorWithCode("failed to check conflict state",
					string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
				continue
			}
			if !parked {
				workable = append(workable, e)
			}
		}
		if len(workable) == 0 {
			break
		}

		sem := make(chan struct{}, r.cfg.Workers)
		var wg sync.WaitGroup
		for _, e := range workable {
			sem <- struct{}{}
			wg.Add(1)
			go func(entry *models.MutationEntry) {
				defer wg.Done()
				defer func() { <-sem }()
				r.processEntry(ctx, entry)
			}(e)
		}
		wg.Wait()
	}

	r.status.NotifyDrainCompleted()
	logging.Debug("drain completed")
}

// processEntry attempts one queue entry against the remote and settles the
// outcome: ack, retry, conflict, rollback or halt.
func (r *Reconciler) processEntry(ctx context.Context, e *models.MutationEntry) {
	env, err := models.DecodeEnvelope(e.Payload)
	if err != nil {
		// A payload this binary cannot read will never succeed; drop it and
		// restore the snapshot so the mirror is not left optimistic.
		logging.ErrorWithCode("dropping unreadable queue entry",
			string(apperrors.ErrQueueCorrupt), err, map[string]interface{}{
				"entry": string(e.ID), "entity": e.EntityKey(),
			})
		r.rollback(ctx, e)
		return
	}

	r.status.Apply(e.EntityType, e.EntityID, models.EventSendStart)
	if err := r.queue.MarkSent(ctx, e.ID); err != nil {
		logging.ErrorWithCode("failed to mark entry sent",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.DrainTimeout)
	defer cancel()

	// The payload carries the version seen at enqueue time; earlier acks for
	// the same entity may have advanced the mirror since. The mirror's
	// version is always the latest the server confirmed to us.
	expected := syncVersionOf(env.Data)
	if e.EntityType == models.EntityNote {
		if cur, gerr := r.store.GetNote(ctx, e.OwnerID, e.EntityID); gerr == nil && cur.SyncVersion > expected {
			expected = cur.SyncVersion
		}
	}

	var result *remote.UpsertResult
	if e.Op == models.OpDelete {
		err = r.remote.DeleteEntity(attemptCtx, e.EntityType, e.EntityID, expected)
	} else {
		result, err = r.remote.PutEntity(attemptCtx, e.EntityType, e.EntityID, env.Data, expected)
	}

	switch {
	case err == nil:
		r.acknowledge(ctx, e, result)

	case isVersionConflict(err):
		r.handleConflict(ctx, e, env.Data, err)

	case apperrors.Is(err, apperrors.ErrAuth):
		r.haltForAuth(ctx, e)

	case apperrors.Transient(err):
		r.deferForNetwork(ctx, e, err)

	default:
		// Permanent rejection: undo the optimistic local write
		logging.Warn("mutation rejected by server", map[string]interface{}{
			"entity": e.EntityKey(), "error": err.Error(),
		})
		r.rollback(ctx, e)
	}
}

// haltForAuth stops all draining and keeps the entry queued. Re-auth followed
// by a manual sync resumes.
func (r *Reconciler) haltForAuth(ctx context.Context, e *models.MutationEntry) {
	r.mu.Lock()
	r.halted = true
	r.mu.Unlock()
	if rerr := r.queue.Retract(ctx, e.ID); rerr != nil {
		logging.ErrorWithCode("failed to retract entry",
			string(apperrors.CodeOf(rerr)), rerr, map[string]interface{}{"entry": string(e.ID)})
	}
	logging.Warn("draining halted pending re-authentication")
}

// deferForNetwork schedules a backoff retry for the entry and marks the
// entity offline. The rest of the current pass is skipped.
func (r *Reconciler) deferForNetwork(ctx context.Context, e *models.MutationEntry, cause error) {
	if ferr := r.queue.Fail(ctx, e.ID, cause.Error(), r.cfg.BackoffBase, r.cfg.BackoffCap); ferr != nil {
		logging.ErrorWithCode("failed to schedule retry",
			string(apperrors.CodeOf(ferr)), ferr, map[string]interface{}{"entry": string(e.ID)})
	}
	r.status.Apply(e.EntityType, e.EntityID, models.EventNetworkDown)
	r.mu.Lock()
	r.online = false
	r.mu.Unlock()
	logging.Info("transient failure, retry scheduled", map[string]interface{}{
		"entity": e.EntityKey(), "attempt": e.AttemptCount + 1,
	})
}

// acknowledge applies the server's authoritative state and retires the entry.
func (r *Reconciler) acknowledge(ctx context.Context, e *models.MutationEntry, result *remote.UpsertResult) {
	if e.Op == models.OpDelete {
		r.purgeLocal(ctx, e)
	} else if result != nil {
		if err := r.applyRemoteState(ctx, e.EntityType, e.OwnerID, result.State, result.SyncVersion); err != nil {
			logging.ErrorWithCode("failed to apply server state",
				string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
		}
	}
	if err := r.queue.Complete(ctx, e.ID); err != nil {
		logging.ErrorWithCode("failed to complete entry",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
		return
	}
	r.applySettled(ctx, e, models.EventAck, models.EventAckDrained)
}

// rollback undoes the optimistic mirror write for a permanently rejected
// entry and drops the entry.
func (r *Reconciler) rollback(ctx context.Context, e *models.MutationEntry) {
	if e.Op == models.OpCreate || e.Snapshot == nil {
		r.purgeLocal(ctx, e)
	} else if err := r.applyRemoteState(ctx, e.EntityType, e.OwnerID, e.Snapshot, syncVersionOf(e.Snapshot)); err != nil {
		logging.ErrorWithCode("failed to restore snapshot",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
	}
	if err := r.queue.Remove(ctx, e.ID); err != nil {
		logging.ErrorWithCode("failed to remove rejected entry",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
	}
	r.applySettled(ctx, e, models.EventRollback, models.EventRollbackDrained)
}

// applySettled applies the with-more-work or drained variant of an event
// depending on whether the entity still has queued entries.
func (r *Reconciler) applySettled(ctx context.Context, e *models.MutationEntry, more, drained models.SyncEvent) {
	has, err := r.queue.HasPendingForEntity(ctx, e.EntityType, e.EntityID)
	if err != nil {
		logging.ErrorWithCode("failed to check entity queue",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
		has = true
	}
	if has {
		r.status.Apply(e.EntityType, e.EntityID, more)
	} else {
		r.status.Apply(e.EntityType, e.EntityID, drained)
	}
}

// purgeLocal removes the entity's local row after a delete ack or a rejected
// create.
func (r *Reconciler) purgeLocal(ctx context.Context, e *models.MutationEntry) {
	var err error
	switch e.EntityType {
	case models.EntityNote:
		err = r.store.PurgeNote(ctx, e.OwnerID, e.EntityID)
	case models.EntityTag:
		err = r.store.DeleteTag(ctx, e.OwnerID, e.EntityID)
	case models.EntityNoteTag:
		noteID, tagID := splitNoteTagID(e.EntityID)
		err = r.store.DeleteNoteTag(ctx, e.OwnerID, noteID, tagID)
	}
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		logging.ErrorWithCode("failed to purge local entity",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
	}
}

// applyRemoteState writes the server's view of an entity into the mirror.
func (r *Reconciler) applyRemoteState(ctx context.Context, entityType models.EntityType, ownerID models.UUID, state json.RawMessage, version int64) error {
	switch entityType {
	case models.EntityNote:
		var note models.Note
		if err := json.Unmarshal(state, &note); err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to decode server note", err)
		}
		if note.OwnerID == "" {
			note.OwnerID = ownerID
		}
		note.SyncVersion = version
		// A queued local delete must stay visible as deleted even while
		// earlier edits for the note are still being acknowledged
		if note.DeletedAt == nil {
			if cur, err := r.store.GetNote(ctx, note.OwnerID, string(note.ID)); err == nil && cur.Deleted() {
				if pending, _ := r.queue.HasPendingForEntity(ctx, models.EntityNote, string(note.ID)); pending {
					note.DeletedAt = cur.DeletedAt
				}
			}
		}
		return r.store.PutNote(ctx, &note)
	case models.EntityTag:
		var tag models.Tag
		if err := json.Unmarshal(state, &tag); err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to decode server tag", err)
		}
		if tag.OwnerID == "" {
			tag.OwnerID = ownerID
		}
		return r.store.PutTag(ctx, &tag)
	case models.EntityNoteTag:
		var nt models.NoteTag
		if err := json.Unmarshal(state, &nt); err != nil {
			return apperrors.Wrap(apperrors.ErrInternal, "failed to decode server note tag", err)
		}
		if nt.OwnerID == "" {
			nt.OwnerID = ownerID
		}
		return r.store.PutNoteTag(ctx, &nt)
	}
	return apperrors.New(apperrors.ErrInternal, "unknown entity type")
}

func isVersionConflict(err error) bool {
	return apperrors.Is(err, apperrors.ErrConflict)
}

// syncVersionOf extracts sync_version from entity JSON, zero when absent.
func syncVersionOf(raw json.RawMessage) int64 {
	var doc struct {
		SyncVersion int64 `json:"sync_version"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return 0
	}
	return doc.SyncVersion
}

func splitKey(key string) (models.EntityType, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return models.EntityType(key[:i]), key[i+1:]
		}
	}
	return models.EntityType(key), ""
}

// splitNoteTagID splits the composite "noteID:tagID" relation id.
func splitNoteTagID(id string) (models.UUID, models.UUID) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return models.UUID(id[:i]), models.UUID(id[i+1:])
		}
	}
	return models.UUID(id), ""
}
