package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/logging"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/reconciler/conflict"
	"github.com/altitudeinfosys/expandnote/internal/remote"
)

// handleConflict settles a 409. Strategy: field-merge against the snapshot
// first and re-apply once with the server's version; only when both sides
// edited the same field does the configured resolution strategy run.
func (r *Reconciler) handleConflict(ctx context.Context, e *models.MutationEntry, local json.RawMessage, confErr error) {
	var vc *remote.VersionConflict
	if !errors.As(confErr, &vc) {
		// 409 without a readable body: nothing to merge against, park it
		r.park(ctx, e, local, nil, 0)
		return
	}

	if e.Op == models.OpDelete {
		// A delete raced a remote edit. The edit is information the user has
		// not seen; never silently destroy it under either strategy.
		r.park(ctx, e, local, vc.CurrentState, vc.CurrentSyncVersion)
		return
	}

	merged, err := conflict.Merge(e.Snapshot, local, vc.CurrentState)
	if err != nil {
		logging.ErrorWithCode("merge failed",
			string(apperrors.ErrConflict), err, map[string]interface{}{
				"entity": e.EntityKey(),
			})
		r.park(ctx, e, local, vc.CurrentState, vc.CurrentSyncVersion)
		return
	}

	if merged.Clean {
		switch r.reapply(ctx, e, merged.Merged, vc.CurrentSyncVersion) {
		case reapplyAcked, reapplySettled:
			return
		}
		// The window moved under us; fall through to strategy
	}

	switch r.resolver.Resolve(local, vc.CurrentState) {
	case conflict.OutcomeLocalWins:
		// Push the merged document, not the raw local one: local values fill
		// the contested fields, but fields only the remote touched survive.
		switch r.reapply(ctx, e, merged.Merged, vc.CurrentSyncVersion) {
		case reapplyAcked:
			r.recordResolved(ctx, e, local, vc, models.ResolutionLastWriteWins)
		case reapplyConflicted:
			r.park(ctx, e, local, vc.CurrentState, vc.CurrentSyncVersion)
		}

	case conflict.OutcomeRemoteWins:
		if err := r.applyRemoteState(ctx, e.EntityType, e.OwnerID, vc.CurrentState, vc.CurrentSyncVersion); err != nil {
			logging.ErrorWithCode("failed to apply winning remote state",
				string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
		}
		if err := r.queue.Remove(ctx, e.ID); err != nil {
			logging.ErrorWithCode("failed to drop losing entry",
				string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
		}
		r.recordResolved(ctx, e, local, vc, models.ResolutionLastWriteWins)
		r.applySettled(ctx, e, models.EventRollback, models.EventRollbackDrained)

	default:
		r.park(ctx, e, local, vc.CurrentState, vc.CurrentSyncVersion)
	}
}

// reapplyResult classifies the outcome of a conflict re-apply attempt.
type reapplyResult int

const (
	// reapplyAcked: the server accepted the document; the entry is retired.
	reapplyAcked reapplyResult = iota
	// reapplySettled: the attempt failed for a non-conflict reason and was
	// routed to the matching path (backoff retry, auth halt, or rollback);
	// the caller has nothing left to decide.
	reapplySettled
	// reapplyConflicted: the version moved again between the 409 and the
	// retry; the caller's strategy decides what happens next.
	reapplyConflicted
)

// reapply retries the mutation once with the server's current version. Only a
// further version conflict is returned to the caller; every other failure is
// classified exactly as a first-attempt failure would be, so a network blip
// or expired token during the retry never turns into a parked conflict.
func (r *Reconciler) reapply(ctx context.Context, e *models.MutationEntry, doc json.RawMessage, expected int64) reapplyResult {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.DrainTimeout)
	defer cancel()

	result, err := r.remote.PutEntity(attemptCtx, e.EntityType, e.EntityID, doc, expected)
	switch {
	case err == nil:
		r.acknowledge(ctx, e, result)
		return reapplyAcked

	case isVersionConflict(err):
		return reapplyConflicted

	case apperrors.Is(err, apperrors.ErrAuth):
		r.haltForAuth(ctx, e)
		return reapplySettled

	case apperrors.Transient(err):
		r.deferForNetwork(ctx, e, err)
		return reapplySettled

	default:
		// Permanent rejection, e.g. the tag cap re-check still failing
		logging.Warn("conflict retry rejected by server", map[string]interface{}{
			"entity": e.EntityKey(), "error": err.Error(),
		})
		r.rollback(ctx, e)
		return reapplySettled
	}
}

// park records the conflict, keeps the entry queued and freezes the entity
// in the conflict state until an explicit resolution.
func (r *Reconciler) park(ctx context.Context, e *models.MutationEntry, local, remoteState json.RawMessage, remoteVersion int64) {
	rec := &models.ConflictRecord{
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		OwnerID:       e.OwnerID,
		LocalJSON:     local,
		RemoteJSON:    remoteState,
		LocalVersion:  syncVersionOf(local),
		RemoteVersion: remoteVersion,
		DetectedAt:    time.Now().Unix(),
		Resolution:    models.ResolutionPending,
	}
	if rec.RemoteJSON == nil {
		rec.RemoteJSON = json.RawMessage(`{}`)
	}
	if err := r.store.SaveConflict(ctx, rec); err != nil {
		logging.ErrorWithCode("failed to save conflict record",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
	}
	if err := r.queue.Retract(ctx, e.ID); err != nil {
		logging.ErrorWithCode("failed to retract conflicted entry",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entry": string(e.ID)})
	}
	r.status.Apply(e.EntityType, e.EntityID, models.EventConflict)
	r.status.NotifyConflict(rec)
	logging.Warn("conflict parked for manual resolution", map[string]interface{}{
		"entity": e.EntityKey(),
	})
}

// recordResolved keeps an audit record for a conflict settled automatically.
func (r *Reconciler) recordResolved(ctx context.Context, e *models.MutationEntry, local json.RawMessage, vc *remote.VersionConflict, res models.Resolution) {
	now := time.Now().Unix()
	rec := &models.ConflictRecord{
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		OwnerID:       e.OwnerID,
		LocalJSON:     local,
		RemoteJSON:    vc.CurrentState,
		LocalVersion:  syncVersionOf(local),
		RemoteVersion: vc.CurrentSyncVersion,
		DetectedAt:    now,
		ResolvedAt:    &now,
		Resolution:    res,
	}
	if rec.RemoteJSON == nil {
		rec.RemoteJSON = json.RawMessage(`{}`)
	}
	if err := r.store.SaveConflict(ctx, rec); err != nil {
		logging.ErrorWithCode("failed to save resolution record",
			string(apperrors.CodeOf(err)), err, map[string]interface{}{"entity": e.EntityKey()})
	}
}

// ResolveConflict settles a parked conflict by explicit choice. keepLocal
// re-applies the preserved local document over the server state; otherwise
// the server state is accepted and the local edit dropped from the queue
// (it remains readable in the resolved record).
func (r *Reconciler) ResolveConflict(ctx context.Context, recordID models.UUID, keepLocal bool) error {
	rec, err := r.store.GetConflict(ctx, recordID)
	if err != nil {
		return err
	}
	if !rec.Open() {
		return apperrors.New(apperrors.ErrInvalid, "conflict already resolved")
	}

	if keepLocal {
		// Push the preserved local edit with a fresh version token
		current, err := r.remote.FetchEntity(ctx, rec.EntityType, rec.EntityID)
		expected := rec.RemoteVersion
		if err == nil {
			expected = current.SyncVersion
		} else if !apperrors.Is(err, apperrors.ErrNotFound) {
			return err
		}

		doc := withSyncVersion(rec.LocalJSON, expected)
		result, err := r.remote.PutEntity(ctx, rec.EntityType, rec.EntityID, doc, expected)
		if err != nil {
			return err
		}
		if err := r.applyRemoteState(ctx, rec.EntityType, rec.OwnerID, result.State, result.SyncVersion); err != nil {
			return err
		}
		if err := r.store.MarkConflictResolved(ctx, recordID, models.ResolutionKeepLocal); err != nil {
			return err
		}
	} else {
		// Drop the superseded local mutations first so the remote state is
		// not reshaped around a tombstone that is being abandoned
		if err := r.dropEntityEntries(ctx, rec.EntityType, rec.EntityID); err != nil {
			return err
		}
		if err := r.applyRemoteState(ctx, rec.EntityType, rec.OwnerID, rec.RemoteJSON, rec.RemoteVersion); err != nil {
			return err
		}
		if err := r.store.MarkConflictResolved(ctx, recordID, models.ResolutionTakeRemote); err != nil {
			return err
		}
	}

	// The queued mutation that collided is superseded either way
	if err := r.dropEntityEntries(ctx, rec.EntityType, rec.EntityID); err != nil {
		return err
	}

	r.status.Apply(rec.EntityType, rec.EntityID, models.EventResolved)
	r.status.Apply(rec.EntityType, rec.EntityID, models.EventAckDrained)
	r.TriggerDrain()
	return nil
}

// dropEntityEntries removes every queued mutation for one entity.
func (r *Reconciler) dropEntityEntries(ctx context.Context, entityType models.EntityType, entityID string) error {
	entries, err := r.queue.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.queue.Remove(ctx, e.ID); err != nil {
			return err
		}
	}
	return nil
}

// withSyncVersion returns the document with its sync_version field replaced.
func withSyncVersion(raw json.RawMessage, version int64) json.RawMessage {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	doc["sync_version"] = version
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}
