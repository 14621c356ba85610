package store

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/uuid"
)

// =====================================================
// PullMarker Operations
// =====================================================

// GetPullMarker returns the last pulled server timestamp for an entity type,
// zero when nothing has been pulled yet.
func (s *Store) GetPullMarker(ctx context.Context, entityType models.EntityType, ownerID models.UUID) (int64, error) {
	query := "SELECT last_pulled_at FROM pull_markers WHERE entity_type = ? AND owner_id = ?"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to get pull marker", err)
	}
	var ts int64
	err = stmt.QueryRowContext(ctx, entityType, ownerID).Scan(&ts)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to get pull marker", err)
	}
	return ts, nil
}

// SetPullMarker advances the pull position. The marker never moves backwards.
func (s *Store) SetPullMarker(ctx context.Context, entityType models.EntityType, ownerID models.UUID, lastPulledAt int64) error {
	query := `
	INSERT INTO pull_markers (entity_type, owner_id, last_pulled_at)
	VALUES (?, ?, ?)
	ON CONFLICT(entity_type, owner_id) DO UPDATE SET
		last_pulled_at = MAX(last_pulled_at, excluded.last_pulled_at)
	`
	_, err := s.db.ExecContext(ctx, query, entityType, ownerID, lastPulledAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to set pull marker", err)
	}
	return nil
}

// =====================================================
// RemoteCredential Operations
// =====================================================

// SaveCredential stores a credential and makes it the single enabled one.
func (s *Store) SaveCredential(ctx context.Context, cred *models.RemoteCredential) error {
	now := time.Now().Unix()
	if cred.ID == "" {
		cred.ID = models.UUID(uuid.New())
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cred.IsEnabled = true

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save credential", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE remote_credentials SET is_enabled = 0"); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to disable credentials", err)
	}

	query := `
	INSERT INTO remote_credentials (id, base_url, token_encrypted, is_enabled, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		base_url = excluded.base_url,
		token_encrypted = excluded.token_encrypted,
		is_enabled = excluded.is_enabled,
		updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query, cred.ID, cred.BaseURL, cred.TokenEncrypted,
		cred.IsEnabled, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save credential", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save credential", err)
	}
	return nil
}

// GetEnabledCredential returns the active credential. ErrSyncNotConfigured
// when none is set up.
func (s *Store) GetEnabledCredential(ctx context.Context) (*models.RemoteCredential, error) {
	query := `
	SELECT id, base_url, token_encrypted, is_enabled, created_at, updated_at
	FROM remote_credentials WHERE is_enabled = 1
	ORDER BY updated_at DESC LIMIT 1
	`
	var cred models.RemoteCredential
	err := s.db.QueryRowContext(ctx, query).Scan(&cred.ID, &cred.BaseURL,
		&cred.TokenEncrypted, &cred.IsEnabled, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no remote credential configured")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get credential", err)
	}
	return &cred, nil
}

// DisableCredentials turns sync off without deleting the stored endpoint.
func (s *Store) DisableCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "UPDATE remote_credentials SET is_enabled = 0, updated_at = ?", time.Now().Unix())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to disable credentials", err)
	}
	return nil
}

// =====================================================
// ConflictRecord Operations
// =====================================================

// SaveConflict persists both sides of a version conflict.
func (s *Store) SaveConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if rec.ID == "" {
		rec.ID = models.UUID(uuid.New())
	}
	if rec.Resolution == "" {
		rec.Resolution = models.ResolutionPending
	}
	query := `
	INSERT INTO conflict_records (id, entity_type, entity_id, owner_id, local_json, remote_json,
		local_version, remote_version, detected_at, resolved_at, resolution)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, rec.ID, rec.EntityType, rec.EntityID, rec.OwnerID,
		string(rec.LocalJSON), string(rec.RemoteJSON), rec.LocalVersion, rec.RemoteVersion,
		rec.DetectedAt, rec.ResolvedAt, rec.Resolution)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to save conflict", err)
	}
	return nil
}

const conflictColumns = `id, entity_type, entity_id, owner_id, local_json, remote_json,
	local_version, remote_version, detected_at, resolved_at, resolution`

func scanConflict(scan func(dest ...interface{}) error) (*models.ConflictRecord, error) {
	var rec models.ConflictRecord
	var localJSON, remoteJSON string
	var resolvedAt sql.NullInt64
	err := scan(&rec.ID, &rec.EntityType, &rec.EntityID, &rec.OwnerID, &localJSON, &remoteJSON,
		&rec.LocalVersion, &rec.RemoteVersion, &rec.DetectedAt, &resolvedAt, &rec.Resolution)
	if err != nil {
		return nil, err
	}
	rec.LocalJSON = []byte(localJSON)
	rec.RemoteJSON = []byte(remoteJSON)
	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Int64
	}
	return &rec, nil
}

// GetConflict retrieves a conflict record by id.
func (s *Store) GetConflict(ctx context.Context, id models.UUID) (*models.ConflictRecord, error) {
	query := "SELECT " + conflictColumns + " FROM conflict_records WHERE id = ?"
	rec, err := scanConflict(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "conflict record not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get conflict", err)
	}
	return rec, nil
}

// ListOpenConflicts returns unresolved conflicts for an owner, oldest first.
func (s *Store) ListOpenConflicts(ctx context.Context, ownerID models.UUID) ([]*models.ConflictRecord, error) {
	query := `
	SELECT ` + conflictColumns + ` FROM conflict_records
	WHERE owner_id = ? AND resolved_at IS NULL
	ORDER BY detected_at
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list conflicts", err)
	}
	defer rows.Close()

	var records []*models.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan conflict", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list conflicts", err)
	}
	return records, nil
}

// HasOpenConflict reports whether the entity is parked in the conflict state.
func (s *Store) HasOpenConflict(ctx context.Context, entityType models.EntityType, entityID string) (bool, error) {
	query := "SELECT COUNT(*) FROM conflict_records WHERE entity_type = ? AND entity_id = ? AND resolved_at IS NULL"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "failed to check conflict", err)
	}
	var count int
	if err := stmt.QueryRowContext(ctx, entityType, entityID).Scan(&count); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "failed to check conflict", err)
	}
	return count > 0, nil
}

// MarkConflictResolved stamps the record with its outcome.
func (s *Store) MarkConflictResolved(ctx context.Context, id models.UUID, resolution models.Resolution) error {
	query := "UPDATE conflict_records SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL"
	res, err := s.db.ExecContext(ctx, query, time.Now().Unix(), resolution, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to resolve conflict", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to resolve conflict", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "open conflict record not found")
	}
	return nil
}
