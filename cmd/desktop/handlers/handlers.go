// Package handlers provides the REST API surface of the desktop daemon.
// Every endpoint operates on the local mirror; nothing here waits on the
// network.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/uuid"
)

// ownerHeader carries the acting owner's id. The daemon is local and trusts
// the caller; isolation between owners happens in the store queries.
const ownerHeader = "X-Owner-ID"

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error to its HTTP status and writes the error envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]interface{}{
		"code":    string(apperrors.CodeOf(err)),
		"message": err.Error(),
	})
}

func httpStatus(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrTagLimitExceeded:
		return http.StatusUnprocessableEntity
	case apperrors.ErrConflict:
		return http.StatusConflict
	case apperrors.ErrAuth:
		return http.StatusUnauthorized
	case apperrors.ErrSyncNotConfigured:
		return http.StatusPreconditionFailed
	case apperrors.ErrNetwork, apperrors.ErrSyncTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ownerID extracts and validates the owner id header.
func ownerID(r *http.Request) (models.UUID, error) {
	raw := r.Header.Get(ownerHeader)
	if raw == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "missing "+ownerHeader+" header")
	}
	if err := uuid.Validate(raw); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid owner id", err)
	}
	return models.UUID(raw), nil
}
