package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/notes"
)

// NoteHandler handles note operations.
type NoteHandler struct {
	svc *notes.Service
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(svc *notes.Service) *NoteHandler {
	return &NoteHandler{svc: svc}
}

// noteRequest is the write body for create and update.
type noteRequest struct {
	Title    *string `json:"title"`
	Content  string  `json:"content"`
	Favorite bool    `json:"favorite"`
}

// ListNotes handles GET /notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.svc.FetchAll(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes": items,
		"total": len(items),
	})
}

// CreateNote handles POST /notes
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request noteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	note := &models.Note{
		Title:    request.Title,
		Content:  request.Content,
		Favorite: request.Favorite,
	}
	if err := h.svc.Save(r.Context(), owner, note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// GetNote handles GET /notes/{id}
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	note, err := h.svc.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// UpdateNote handles PUT /notes/{id}
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var request noteRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	note := &models.Note{
		ID:       models.UUID(r.PathValue("id")),
		Title:    request.Title,
		Content:  request.Content,
		Favorite: request.Favorite,
	}
	if err := h.svc.Save(r.Context(), owner, note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/{id}
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Remove(r.Context(), owner, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "deleted",
	})
}

// SearchNotes handles GET /notes/search?q=
func (h *NoteHandler) SearchNotes(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query().Get("q")
	items, err := h.svc.Search(r.Context(), owner, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notes": items,
		"total": len(items),
		"query": query,
	})
}
