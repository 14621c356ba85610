// Package store is the local mirror: full offline snapshots of the user's
// notes, tags and relations, plus the sync bookkeeping tables. All reads and
// writes hit sqlite; the remote is never consulted here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

// Store provides mirror CRUD for all models. Every method takes the owner id
// explicitly so data isolation is visible at each call site rather than
// buried in ambient session state.
type Store struct {
	db *sql.DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (s *Store) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (s *Store) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Note Operations
// =====================================================

const noteColumns = "id, owner_id, title, content, favorite, created_at, updated_at, deleted_at, sync_version"

func scanNote(scan func(dest ...interface{}) error) (*models.Note, error) {
	var n models.Note
	var title sql.NullString
	var deletedAt sql.NullInt64
	err := scan(&n.ID, &n.OwnerID, &title, &n.Content, &n.Favorite,
		&n.CreatedAt, &n.UpdatedAt, &deletedAt, &n.SyncVersion)
	if err != nil {
		return nil, err
	}
	if title.Valid {
		n.Title = &title.String
	}
	if deletedAt.Valid {
		n.DeletedAt = &deletedAt.Int64
	}
	return &n, nil
}

// PutNote inserts or replaces the note in the mirror. Used both for local
// optimistic writes and for applying authoritative server state, so it never
// touches timestamps itself.
func (s *Store) PutNote(ctx context.Context, note *models.Note) error {
	query := `
	INSERT INTO notes (` + noteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		title = excluded.title,
		content = excluded.content,
		favorite = excluded.favorite,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		deleted_at = excluded.deleted_at,
		sync_version = excluded.sync_version
	`
	_, err := s.db.ExecContext(ctx, query, note.ID, note.OwnerID, note.Title, note.Content,
		note.Favorite, note.CreatedAt, note.UpdatedAt, note.DeletedAt, note.SyncVersion)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to put note", err)
	}
	return nil
}

// GetNote retrieves a note by id, tombstoned or not. Callers that only want
// live notes check Deleted() themselves; the reconciler needs the tombstones.
func (s *Store) GetNote(ctx context.Context, ownerID models.UUID, id string) (*models.Note, error) {
	query := "SELECT " + noteColumns + " FROM notes WHERE id = ? AND owner_id = ?"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get note", err)
	}
	note, err := scanNote(stmt.QueryRowContext(ctx, id, ownerID).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "note not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get note", err)
	}
	return note, nil
}

// ListNotes returns the owner's live notes, most recently updated first.
// Tombstoned notes are excluded from active views.
func (s *Store) ListNotes(ctx context.Context, ownerID models.UUID) ([]*models.Note, error) {
	query := `
	SELECT ` + noteColumns + ` FROM notes
	WHERE owner_id = ? AND deleted_at IS NULL
	ORDER BY updated_at DESC
	`
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list notes", err)
	}
	rows, err := stmt.QueryContext(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list notes", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan note", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list notes", err)
	}
	return notes, nil
}

// TombstoneNote marks the note deleted without removing the row. The row is
// kept until the remote delete is acknowledged so the delete survives
// restarts and can still be rolled back.
func (s *Store) TombstoneNote(ctx context.Context, ownerID models.UUID, id string, deletedAt int64) error {
	query := "UPDATE notes SET deleted_at = ?, updated_at = ? WHERE id = ? AND owner_id = ?"
	res, err := s.db.ExecContext(ctx, query, deletedAt, deletedAt, id, ownerID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to tombstone note", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to tombstone note", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "note not found")
	}
	return nil
}

// PurgeNote hard-deletes the note row. Called only after the remote delete is
// acknowledged; purging earlier would lose the tombstone on restart.
func (s *Store) PurgeNote(ctx context.Context, ownerID models.UUID, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to purge note", err)
	}
	return nil
}

// SearchNotes runs a full-text search over the owner's live notes.
func (s *Store) SearchNotes(ctx context.Context, ownerID models.UUID, match string) ([]*models.Note, error) {
	query := `
	SELECT n.id, n.owner_id, n.title, n.content, n.favorite,
	       n.created_at, n.updated_at, n.deleted_at, n.sync_version
	FROM notes n
	JOIN notes_fts f ON f.rowid = n.rowid
	WHERE notes_fts MATCH ? AND n.owner_id = ? AND n.deleted_at IS NULL
	ORDER BY rank
	`
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to search notes", err)
	}
	rows, err := stmt.QueryContext(ctx, match, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to search notes", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note, err := scanNote(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan note", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to search notes", err)
	}
	return notes, nil
}
