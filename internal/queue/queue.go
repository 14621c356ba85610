// Package queue is the durable mutation queue: every local write lands here
// before the reconciler pushes it to the remote authority. Entries live in
// sqlite so queued work survives restarts and crashes.
package queue

import (
	"context"
	"database/sql"
	"sync"
	"time"

	apperrors "github.com/altitudeinfosys/expandnote/internal/errors"
	"github.com/altitudeinfosys/expandnote/internal/models"
	"github.com/altitudeinfosys/expandnote/internal/uuid"
)

// Queue provides ordered access to pending mutations. Ordering is by
// enqueued_at, a strictly increasing unix-nano watermark assigned under a
// lock, so two writes in the same nanosecond still have a total order.
type Queue struct {
	db *sql.DB

	mu     sync.Mutex
	lastTS int64
}

// NewQueue opens the queue over an already migrated database and loads the
// timestamp watermark so newly queued entries sort after everything durable.
func NewQueue(db *sql.DB) (*Queue, error) {
	q := &Queue{db: db}
	var last sql.NullInt64
	err := db.QueryRow("SELECT MAX(enqueued_at) FROM mutation_queue").Scan(&last)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to load queue watermark", err)
	}
	if last.Valid {
		q.lastTS = last.Int64
	}
	return q, nil
}

// nextTimestamp returns a strictly increasing unix-nano timestamp.
func (q *Queue) nextTimestamp() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := time.Now().UnixNano()
	if ts <= q.lastTS {
		ts = q.lastTS + 1
	}
	q.lastTS = ts
	return ts
}

// Enqueue durably appends a mutation. The entry's ID, EnqueuedAt and Status
// are assigned here; everything else must already be set by the caller.
func (q *Queue) Enqueue(ctx context.Context, entry *models.MutationEntry) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	entry.EnqueuedAt = q.nextTimestamp()
	entry.Status = models.MutationPending
	entry.NextRetryAt = 0

	query := `
	INSERT INTO mutation_queue (id, entity_type, entity_id, owner_id, op, payload, snapshot,
		enqueued_at, status, attempt_count, next_retry_at, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var snapshot interface{}
	if entry.Snapshot != nil {
		snapshot = string(entry.Snapshot)
	}
	_, err := q.db.ExecContext(ctx, query, entry.ID, entry.EntityType, entry.EntityID,
		entry.OwnerID, entry.Op, string(entry.Payload), snapshot,
		entry.EnqueuedAt, entry.Status, entry.AttemptCount, entry.NextRetryAt, entry.LastError)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to enqueue mutation", err)
	}
	return nil
}

const entryColumns = `id, entity_type, entity_id, owner_id, op, payload, snapshot,
	enqueued_at, status, attempt_count, next_retry_at, last_error`

func scanEntry(scan func(dest ...interface{}) error) (*models.MutationEntry, error) {
	var e models.MutationEntry
	var payload string
	var snapshot sql.NullString
	err := scan(&e.ID, &e.EntityType, &e.EntityID, &e.OwnerID, &e.Op, &payload, &snapshot,
		&e.EnqueuedAt, &e.Status, &e.AttemptCount, &e.NextRetryAt, &e.LastError)
	if err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	if snapshot.Valid {
		e.Snapshot = []byte(snapshot.String)
	}
	return &e, nil
}

// DueHeads returns, for each entity whose oldest entry is ready, that oldest
// entry, in global enqueue order. An entity whose head is in flight (sent) or
// still backing off is skipped entirely, which is what keeps draining FIFO
// per entity with at most one in-flight mutation per entity id.
func (q *Queue) DueHeads(ctx context.Context, now int64, limit int) ([]*models.MutationEntry, error) {
	query := `
	SELECT ` + entryColumns + ` FROM mutation_queue q
	WHERE q.status != 'sent'
	  AND q.next_retry_at <= ?
	  AND q.enqueued_at = (
		SELECT MIN(enqueued_at) FROM mutation_queue h
		WHERE h.entity_type = q.entity_type AND h.entity_id = q.entity_id
	  )
	ORDER BY q.enqueued_at
	LIMIT ?
	`
	rows, err := q.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to query due heads", err)
	}
	defer rows.Close()

	var entries []*models.MutationEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueueCorrupt, "failed to scan queue entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to query due heads", err)
	}
	return entries, nil
}

// MarkSent flags the entry as in flight so DueHeads stops returning its
// entity until the attempt settles.
func (q *Queue) MarkSent(ctx context.Context, id models.UUID) error {
	return q.setStatus(ctx, id, models.MutationSent)
}

// Complete removes an acknowledged entry. Removal is the durable record of
// the ack: an entry present at startup was by definition never confirmed.
func (q *Queue) Complete(ctx context.Context, id models.UUID) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM mutation_queue WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to complete queue entry", err)
	}
	return nil
}

// Fail records a transient failure: bumps the attempt count and schedules the
// retry at now + Backoff. The entry stays at the head of its entity lane.
func (q *Queue) Fail(ctx context.Context, id models.UUID, lastError string, base, cap time.Duration) error {
	var attempts int
	err := q.db.QueryRowContext(ctx, "SELECT attempt_count FROM mutation_queue WHERE id = ?", id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrNotFound, "queue entry not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to fail queue entry", err)
	}

	nextRetry := time.Now().Add(Backoff(attempts, base, cap)).UnixNano()
	query := `
	UPDATE mutation_queue
	SET status = 'failed', attempt_count = attempt_count + 1, next_retry_at = ?, last_error = ?
	WHERE id = ?
	`
	_, err = q.db.ExecContext(ctx, query, nextRetry, lastError, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to fail queue entry", err)
	}
	return nil
}

// Retract marks an in-flight entry pending again without penalty, used when
// an attempt is abandoned before the outcome is known.
func (q *Queue) Retract(ctx context.Context, id models.UUID) error {
	return q.setStatus(ctx, id, models.MutationPending)
}

// Remove drops an entry that will never be retried, such as after a
// permanent validation rejection.
func (q *Queue) Remove(ctx context.Context, id models.UUID) error {
	return q.Complete(ctx, id)
}

func (q *Queue) setStatus(ctx context.Context, id models.UUID, status models.MutationStatus) error {
	res, err := q.db.ExecContext(ctx, "UPDATE mutation_queue SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update queue entry", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to update queue entry", err)
	}
	if affected == 0 {
		return apperrors.New(apperrors.ErrNotFound, "queue entry not found")
	}
	return nil
}

// PendingCount returns how many entries remain queued, regardless of status.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mutation_queue").Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to count queue entries", err)
	}
	return count, nil
}

// HasPendingForEntity reports whether any entry remains for the entity.
func (q *Queue) HasPendingForEntity(ctx context.Context, entityType models.EntityType, entityID string) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM mutation_queue WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID).Scan(&count)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "failed to check entity queue", err)
	}
	return count > 0, nil
}

// ListForEntity returns the entity's entries in enqueue order.
func (q *Queue) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]*models.MutationEntry, error) {
	query := `
	SELECT ` + entryColumns + ` FROM mutation_queue q
	WHERE entity_type = ? AND entity_id = ?
	ORDER BY enqueued_at
	`
	rows, err := q.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list entity queue", err)
	}
	defer rows.Close()

	var entries []*models.MutationEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrQueueCorrupt, "failed to scan queue entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to list entity queue", err)
	}
	return entries, nil
}

// ResetInFlight returns all in-flight entries to pending. Called once at
// startup: an entry still marked sent after a crash may or may not have
// reached the server, and replaying it is safe because the remote upsert is
// idempotent.
func (q *Queue) ResetInFlight(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE mutation_queue SET status = 'pending' WHERE status = 'sent'")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to reset in-flight entries", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "failed to reset in-flight entries", err)
	}
	return int(affected), nil
}

// Backoff returns the retry delay after the given number of failed attempts:
// min(cap, base * 2^attempt).
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap || d <= 0 {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
