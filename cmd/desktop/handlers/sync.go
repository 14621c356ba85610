package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/altitudeinfosys/expandnote/internal/crypto"
	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/notes"
	"github.com/altitudeinfosys/expandnote/internal/queue"
	"github.com/altitudeinfosys/expandnote/internal/store"
)

// Puller runs an incremental pull of remote changes into the mirror.
type Puller interface {
	Pull(ctx context.Context, ownerID models.UUID) error
}

// SyncHandler handles sync status, triggers, conflicts and credentials.
type SyncHandler struct {
	svc       *notes.Service
	store     *store.Store
	queue     *queue.Queue
	puller    Puller
	machineID string
}

// NewSyncHandler creates a new SyncHandler. puller may be nil when the remote
// side is not configured.
func NewSyncHandler(svc *notes.Service, st *store.Store, q *queue.Queue, machineID string) *SyncHandler {
	return &SyncHandler{svc: svc, store: st, queue: q, machineID: machineID}
}

// SetPuller attaches the reconciler's pull entry point.
func (h *SyncHandler) SetPuller(p Puller) {
	h.puller = p
}

// GetStatus handles GET /sync/status
// Returns the aggregated status, per-entity states and the queue depth.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.PendingCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	configured := true
	if _, err := h.store.GetEnabledCredential(r.Context()); err != nil {
		if !apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
			writeError(w, err)
			return
		}
		configured = false
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     string(h.svc.SyncStatus()),
		"entities":   h.svc.EntityStates(),
		"pending":    pending,
		"configured": configured,
	})
}

// TriggerSync handles POST /sync/now
// Requests an immediate drain. Idempotent: a second trigger while a drain is
// running reports started=false and queues nothing extra.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	started := h.svc.ManualSync()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": started,
	})
}

// Pull handles POST /sync/pull
// Fetches remote changes since the stored pull marker and applies them to
// the mirror.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.puller == nil {
		writeError(w, apperrors.New(apperrors.ErrSyncNotConfigured, "remote sync is not configured"))
		return
	}

	if err := h.puller.Pull(r.Context(), owner); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "pulled",
	})
}

// ListConflicts handles GET /sync/conflicts
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conflicts, err := h.svc.Conflicts(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"total":     len(conflicts),
	})
}

// ResolveConflict handles POST /sync/conflicts/{id}/resolve
// The body names the winning side: {"resolution": "keep_local"} or
// {"resolution": "take_remote"}.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	var keepLocal bool
	switch request.Resolution {
	case "keep_local":
		keepLocal = true
	case "take_remote":
		keepLocal = false
	default:
		writeError(w, apperrors.New(apperrors.ErrInvalid, "resolution must be keep_local or take_remote"))
		return
	}

	recordID := models.UUID(r.PathValue("id"))
	if err := h.svc.Resolve(r.Context(), recordID, keepLocal); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "resolved",
		"resolution": request.Resolution,
	})
}

// GetCredentials handles GET /sync/credentials
// Returns the remote endpoint with the token redacted.
func (h *SyncHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	cred, err := h.store.GetEnabledCredential(r.Context())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"configured": false,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": true,
		"base_url":   cred.BaseURL,
		"token":      "***REDACTED***",
		"updated_at": cred.UpdatedAt,
	})
}

// SetCredentials handles POST /sync/credentials
// Stores the remote endpoint and an encrypted bearer token, replacing any
// previously enabled credential.
func (h *SyncHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var request struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if request.BaseURL == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "base_url is required"))
		return
	}
	if request.Token == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "token is required"))
		return
	}

	encrypted, err := crypto.EncryptToken(request.Token, h.machineID)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInternal, "failed to encrypt token", err))
		return
	}

	cred := &models.RemoteCredential{
		BaseURL:        request.BaseURL,
		TokenEncrypted: encrypted,
	}
	if err := h.store.SaveCredential(r.Context(), cred); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "saved",
	})
}

// DeleteCredentials handles DELETE /sync/credentials
// Disables sync; queued mutations stay durable for when sync returns.
func (h *SyncHandler) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DisableCredentials(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "disabled",
	})
}
