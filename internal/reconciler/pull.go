package reconciler

import (
	"context"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/logging"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

// pullOrder: relations come after the rows they reference.
var pullOrder = []models.EntityType{models.EntityNote, models.EntityTag, models.EntityNoteTag}

// Pull fetches remote changes since the stored pull markers and applies them
// to the mirror. Entities with queued local mutations are skipped: the local
// edit wins the mirror until the reconciler settles it, which is what keeps
// reads showing the user's own writes.
func (r *Reconciler) Pull(ctx context.Context, ownerID models.UUID) error {
	for _, entityType := range pullOrder {
		since, err := r.store.GetPullMarker(ctx, entityType, ownerID)
		if err != nil {
			return err
		}

		entities, serverTS, err := r.remote.FetchSince(ctx, entityType, since)
		if err != nil {
			return err
		}

		for _, ent := range entities {
			pending, err := r.queue.HasPendingForEntity(ctx, entityType, ent.ID)
			if err != nil {
				return err
			}
			if pending {
				continue
			}
			parked, err := r.store.HasOpenConflict(ctx, entityType, ent.ID)
			if err != nil {
				return err
			}
			if parked {
				continue
			}

			if ent.Deleted {
				r.purgeLocal(ctx, &models.MutationEntry{
					EntityType: entityType, EntityID: ent.ID, OwnerID: ownerID,
				})
				continue
			}
			if err := r.applyRemoteState(ctx, entityType, ownerID, ent.State, ent.SyncVersion); err != nil {
				logging.ErrorWithCode("failed to apply pulled entity",
					string(apperrors.CodeOf(err)), err, map[string]interface{}{
						"entity": string(entityType) + "/" + ent.ID,
					})
			}
		}

		if serverTS > since {
			if err := r.store.SetPullMarker(ctx, entityType, ownerID, serverTS); err != nil {
				return err
			}
		}
	}
	return nil
}
