package store

import (
	"context"
	"database/sql"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
)

// =====================================================
// Tag Operations
// =====================================================

// PutTag inserts or replaces a tag in the mirror.
func (s *Store) PutTag(ctx context.Context, tag *models.Tag) error {
	query := `
	INSERT INTO tags (id, owner_id, name, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		created_at = excluded.created_at
	`
	_, err := s.db.ExecContext(ctx, query, tag.ID, tag.OwnerID, tag.Name, tag.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to put tag", err)
	}
	return nil
}

// GetTag retrieves a tag by id.
func (s *Store) GetTag(ctx context.Context, ownerID models.UUID, id string) (*models.Tag, error) {
	query := "SELECT id, owner_id, name, created_at FROM tags WHERE id = ? AND owner_id = ?"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get tag", err)
	}
	var tag models.Tag
	err = stmt.QueryRowContext(ctx, id, ownerID).Scan(&tag.ID, &tag.OwnerID, &tag.Name, &tag.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "tag not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to get tag", err)
	}
	return &tag, nil
}

// ListTags returns all of the owner's tags ordered by name.
func (s *Store) ListTags(ctx context.Context, ownerID models.UUID) ([]*models.Tag, error) {
	query := "SELECT id, owner_id, name, created_at FROM tags WHERE owner_id = ? ORDER BY name"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list tags", err)
	}
	rows, err := stmt.QueryContext(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list tags", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.OwnerID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan tag", err)
		}
		tags = append(tags, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list tags", err)
	}
	return tags, nil
}

// DeleteTag removes a tag and its note relations from the mirror.
func (s *Store) DeleteTag(ctx context.Context, ownerID models.UUID, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM note_tags WHERE tag_id = ? AND owner_id = ?", id, ownerID); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete tag relations", err)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM tags WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete tag", err)
	}
	return nil
}

// =====================================================
// NoteTag Operations
// =====================================================

// PutNoteTag attaches a tag to a note.
func (s *Store) PutNoteTag(ctx context.Context, nt *models.NoteTag) error {
	query := `
	INSERT INTO note_tags (note_id, tag_id, owner_id, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(note_id, tag_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, nt.NoteID, nt.TagID, nt.OwnerID, nt.CreatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to put note tag", err)
	}
	return nil
}

// DeleteNoteTag detaches a tag from a note.
func (s *Store) DeleteNoteTag(ctx context.Context, ownerID, noteID, tagID models.UUID) error {
	query := "DELETE FROM note_tags WHERE note_id = ? AND tag_id = ? AND owner_id = ?"
	_, err := s.db.ExecContext(ctx, query, noteID, tagID, ownerID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to delete note tag", err)
	}
	return nil
}

// ListNoteTags returns the tags attached to a note.
func (s *Store) ListNoteTags(ctx context.Context, ownerID, noteID models.UUID) ([]*models.Tag, error) {
	query := `
	SELECT t.id, t.owner_id, t.name, t.created_at
	FROM tags t
	JOIN note_tags nt ON nt.tag_id = t.id
	WHERE nt.note_id = ? AND nt.owner_id = ?
	ORDER BY t.name
	`
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list note tags", err)
	}
	rows, err := stmt.QueryContext(ctx, noteID, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list note tags", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.OwnerID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan note tag", err)
		}
		tags = append(tags, &tag)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list note tags", err)
	}
	return tags, nil
}

// CountLiveNoteTags counts tags currently attached to a note. Used to enforce
// the per-note cap optimistically before a new attach is queued.
func (s *Store) CountLiveNoteTags(ctx context.Context, ownerID, noteID models.UUID) (int, error) {
	query := "SELECT COUNT(*) FROM note_tags WHERE note_id = ? AND owner_id = ?"
	stmt, err := s.PrepareStmt(query)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count note tags", err)
	}
	var count int
	if err := stmt.QueryRowContext(ctx, noteID, ownerID).Scan(&count); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count note tags", err)
	}
	return count, nil
}
