// Package handlers tests for the note REST endpoints. These verify HTTP
// request handling, status codes, and response shapes against a real
// in-memory mirror.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/altitudeinfosys/expandnote/internal/db"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/notes"
	"github.com/altitudeinfosys/expandnote/internal/queue"
	"github.com/altitudeinfosys/expandnote/internal/status"
	"github.com/altitudeinfosys/expandnote/internal/store"
	"github.com/altitudeinfosys/expandnote/internal/uuid"
)

// setupService builds a service over a fresh in-memory database.
func setupService(t *testing.T) (*notes.Service, *store.Store, *queue.Queue, string) {
	t.Helper()
	database, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	st := store.NewStore(database.DB)
	t.Cleanup(func() { st.Close() })
	q, err := queue.NewQueue(database.DB)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}

	svc := notes.NewService(st, q, status.NewAggregator())
	return svc, st, q, uuid.New()
}

func createNote(t *testing.T, h *NoteHandler, owner, content string) *models.Note {
	t.Helper()
	body, _ := json.Marshal(map[string]interface{}{"content": content})
	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader(body))
	req.Header.Set(ownerHeader, owner)
	w := httptest.NewRecorder()

	h.CreateNote(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var note models.Note
	if err := json.NewDecoder(w.Body).Decode(&note); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}
	return &note
}

func TestNoteHandler_CreateNote(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	note := createNote(t, handler, owner, "hello from the api")
	if note.ID == "" {
		t.Error("expected the note id to be assigned")
	}
	if note.Content != "hello from the api" {
		t.Errorf("expected content to round-trip, got %q", note.Content)
	}
}

func TestNoteHandler_CreateNote_MissingOwner(t *testing.T) {
	svc, _, _, _ := setupService(t)
	handler := NewNoteHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/notes", bytes.NewReader([]byte(`{"content":"x"}`)))
	w := httptest.NewRecorder()

	handler.CreateNote(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestNoteHandler_ListNotes(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	createNote(t, handler, owner, "first")
	createNote(t, handler, owner, "second")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set(ownerHeader, owner)
	w := httptest.NewRecorder()

	handler.ListNotes(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response struct {
		Notes []*models.Note `json:"notes"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 2 {
		t.Errorf("expected 2 notes, got %d", response.Total)
	}
}

func TestNoteHandler_ListNotes_OwnerIsolation(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	createNote(t, handler, owner, "mine")

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set(ownerHeader, uuid.New())
	w := httptest.NewRecorder()

	handler.ListNotes(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 0 {
		t.Errorf("expected another owner to see 0 notes, got %d", response.Total)
	}
}

func TestNoteHandler_GetNote_NotFound(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/notes/missing", nil)
	req.Header.Set(ownerHeader, owner)
	req.SetPathValue("id", uuid.New())
	w := httptest.NewRecorder()

	handler.GetNote(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestNoteHandler_UpdateNote(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	note := createNote(t, handler, owner, "before")

	body, _ := json.Marshal(map[string]interface{}{"content": "after"})
	req := httptest.NewRequest(http.MethodPut, "/notes/"+string(note.ID), bytes.NewReader(body))
	req.Header.Set(ownerHeader, owner)
	req.SetPathValue("id", string(note.ID))
	w := httptest.NewRecorder()

	handler.UpdateNote(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var updated models.Note
	if err := json.NewDecoder(w.Body).Decode(&updated); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}
	if updated.Content != "after" {
		t.Errorf("expected updated content, got %q", updated.Content)
	}
}

func TestNoteHandler_DeleteNote(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	note := createNote(t, handler, owner, "doomed")

	req := httptest.NewRequest(http.MethodDelete, "/notes/"+string(note.ID), nil)
	req.Header.Set(ownerHeader, owner)
	req.SetPathValue("id", string(note.ID))
	w := httptest.NewRecorder()

	handler.DeleteNote(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	// Gone from reads afterwards
	req = httptest.NewRequest(http.MethodGet, "/notes/"+string(note.ID), nil)
	req.Header.Set(ownerHeader, owner)
	req.SetPathValue("id", string(note.ID))
	w = httptest.NewRecorder()

	handler.GetNote(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 after delete, got %d", w.Code)
	}
}

func TestNoteHandler_SearchNotes(t *testing.T) {
	svc, _, _, owner := setupService(t)
	handler := NewNoteHandler(svc)

	createNote(t, handler, owner, "grocery list with apples")
	createNote(t, handler, owner, "meeting agenda")

	req := httptest.NewRequest(http.MethodGet, "/notes/search?q=apples", nil)
	req.Header.Set(ownerHeader, owner)
	w := httptest.NewRecorder()

	handler.SearchNotes(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response struct {
		Notes []*models.Note `json:"notes"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 1 {
		t.Fatalf("expected 1 hit, got %d", response.Total)
	}
	if response.Notes[0].Content != "grocery list with apples" {
		t.Errorf("unexpected hit: %q", response.Notes[0].Content)
	}
}

func TestTagHandler_AttachBeyondCapRejected(t *testing.T) {
	svc, _, _, owner := setupService(t)
	noteHandler := NewNoteHandler(svc)
	tagHandler := NewTagHandler(svc)

	note := createNote(t, noteHandler, owner, "heavily tagged")

	attach := func(tagID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/notes/"+string(note.ID)+"/tags/"+tagID, nil)
		req.Header.Set(ownerHeader, owner)
		req.SetPathValue("id", string(note.ID))
		req.SetPathValue("tagID", tagID)
		w := httptest.NewRecorder()
		tagHandler.AttachTag(w, req)
		return w
	}

	for i := 0; i < models.MaxTagsPerNote; i++ {
		body, _ := json.Marshal(map[string]string{"name": string(rune('a' + i))})
		req := httptest.NewRequest(http.MethodPost, "/tags", bytes.NewReader(body))
		req.Header.Set(ownerHeader, owner)
		w := httptest.NewRecorder()
		tagHandler.CreateTag(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", w.Code)
		}
		var tag models.Tag
		if err := json.NewDecoder(w.Body).Decode(&tag); err != nil {
			t.Fatalf("failed to decode tag: %v", err)
		}
		if got := attach(string(tag.ID)); got.Code != http.StatusOK {
			t.Fatalf("attach %d: expected status 200, got %d", i, got.Code)
		}
	}

	body, _ := json.Marshal(map[string]string{"name": "overflow"})
	req := httptest.NewRequest(http.MethodPost, "/tags", bytes.NewReader(body))
	req.Header.Set(ownerHeader, owner)
	w := httptest.NewRecorder()
	tagHandler.CreateTag(w, req)
	var extra models.Tag
	if err := json.NewDecoder(w.Body).Decode(&extra); err != nil {
		t.Fatalf("failed to decode tag: %v", err)
	}

	if got := attach(string(extra.ID)); got.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for the sixth tag, got %d", got.Code)
	}
}
