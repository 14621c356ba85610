package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/notes"
)

// TagHandler handles tag operations, including note attachments.
type TagHandler struct {
	svc *notes.Service
}

// NewTagHandler creates a new TagHandler.
func NewTagHandler(svc *notes.Service) *TagHandler {
	return &TagHandler{svc: svc}
}

// ListTags handles GET /tags
func (h *TagHandler) ListTags(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tags, err := h.svc.Tags(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags":  tags,
		"total": len(tags),
	})
}

// CreateTag handles POST /tags
func (h *TagHandler) CreateTag(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	tag, err := h.svc.CreateTag(r.Context(), owner, request.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tag)
}

// DeleteTag handles DELETE /tags/{id}
func (h *TagHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteTag(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "deleted",
	})
}

// ListNoteTags handles GET /notes/{id}/tags
func (h *TagHandler) ListNoteTags(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tags, err := h.svc.NoteTags(r.Context(), owner, models.UUID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags":  tags,
		"total": len(tags),
	})
}

// AttachTag handles PUT /notes/{id}/tags/{tagID}
func (h *TagHandler) AttachTag(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	noteID := models.UUID(r.PathValue("id"))
	tagID := models.UUID(r.PathValue("tagID"))
	if err := h.svc.AttachTag(r.Context(), owner, noteID, tagID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "attached",
	})
}

// DetachTag handles DELETE /notes/{id}/tags/{tagID}
func (h *TagHandler) DetachTag(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	noteID := models.UUID(r.PathValue("id"))
	tagID := models.UUID(r.PathValue("tagID"))
	if err := h.svc.DetachTag(r.Context(), owner, noteID, tagID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "detached",
	})
}
