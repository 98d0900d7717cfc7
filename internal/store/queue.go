package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/offsync/internal/mutation"
)

// EnqueueMutation persists a pending mutation.
// Returns inserted=false when the id is already queued or was already
// applied; neither case is an error, so enqueueing is idempotent per id.
func (s *Store) EnqueueMutation(ctx context.Context, m mutation.Mutation) (inserted bool, err error) {
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("enqueue mutation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("enqueue mutation: begin tx: %w", err)
	}
	defer tx.Rollback()

	var applied int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_mutations WHERE id = ?
	`, m.ID).Scan(&applied); err != nil {
		return false, fmt.Errorf("enqueue mutation: check applied: %w", err)
	}
	if applied > 0 {
		return false, nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO pending_mutations (id, kind, endpoint, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, string(m.Kind), m.Endpoint, string(m.Payload), m.EnqueuedAt)
	if err != nil {
		return false, fmt.Errorf("enqueue mutation: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue mutation: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("enqueue mutation: commit: %w", err)
	}
	return rowsAffected > 0, nil
}

// PendingMutations returns queued mutations in replay order.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) PendingMutations(ctx context.Context) ([]mutation.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, endpoint, payload, enqueued_at, attempts, last_error
		FROM pending_mutations
		ORDER BY enqueued_at ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("pending mutations: %w", err)
	}
	defer rows.Close()

	muts := []mutation.Mutation{}
	for rows.Next() {
		m, err := scanMutation(rows.Scan)
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending mutations: %w", err)
	}
	return muts, nil
}

// PendingMutation returns one queued mutation by id.
func (s *Store) PendingMutation(ctx context.Context, id string) (mutation.Mutation, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, endpoint, payload, enqueued_at, attempts, last_error
		FROM pending_mutations WHERE id = ?
	`, id)
	m, err := scanMutation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return mutation.Mutation{}, false, nil
	}
	if err != nil {
		return mutation.Mutation{}, false, err
	}
	return m, true, nil
}

// PendingCount returns the number of queued mutations.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.Count(ctx, PartitionPendingMutations)
}

// CompleteMutation removes a successfully replayed mutation and records a
// tombstone so the same id can never be enqueued again.
func (s *Store) CompleteMutation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("complete mutation: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete mutation %s: delete: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applied_mutations (id, applied_at) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, s.now().UnixMilli()); err != nil {
		return fmt.Errorf("complete mutation %s: tombstone: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("complete mutation %s: commit: %w", id, err)
	}
	return nil
}

// IsApplied reports whether a mutation id has already been replayed.
func (s *Store) IsApplied(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_mutations WHERE id = ?
	`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("check applied %s: %w", id, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter of a queued mutation and
// stores the failure message. Returns the new attempt count.
func (s *Store) RecordFailure(ctx context.Context, id, reason string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		UPDATE pending_mutations
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
		RETURNING attempts
	`, reason, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("record failure %s: %w", id, ErrMutationNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("record failure %s: %w", id, err)
	}
	return attempts, nil
}

// DeadLetter atomically moves a queued mutation to the dead-letter table.
func (s *Store) DeadLetter(ctx context.Context, id string, status int, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dead letter: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, kind, endpoint, payload, enqueued_at, attempts, status, reason, failed_at)
		SELECT id, kind, endpoint, payload, enqueued_at, attempts, ?, ?, ?
		FROM pending_mutations WHERE id = ?
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			failed_at = excluded.failed_at
	`, status, reason, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("dead letter %s: insert: %w", id, err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("dead letter %s: rows affected: %w", id, err)
	}
	if moved == 0 {
		return fmt.Errorf("dead letter %s: %w", id, ErrMutationNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dead letter %s: delete: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dead letter %s: commit: %w", id, err)
	}
	return nil
}

// DeadLetters returns dead-lettered mutations, oldest failure first.
func (s *Store) DeadLetters(ctx context.Context) ([]mutation.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, endpoint, payload, enqueued_at, attempts, status, reason, failed_at
		FROM dead_letters
		ORDER BY failed_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("dead letters: %w", err)
	}
	defer rows.Close()

	letters := []mutation.DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}

// DeadLetterCount returns the number of dead-lettered mutations.
func (s *Store) DeadLetterCount(ctx context.Context) (int, error) {
	return s.Count(ctx, PartitionDeadLetters)
}

// RequeueDeadLetter moves a dead letter back into the pending queue with
// its original enqueue time and a reset attempt counter.
func (s *Store) RequeueDeadLetter(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("requeue %s: begin tx: %w", id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO pending_mutations (id, kind, endpoint, payload, enqueued_at)
		SELECT id, kind, endpoint, payload, enqueued_at FROM dead_letters WHERE id = ?
		ON CONFLICT(id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("requeue %s: insert: %w", id, err)
	}
	moved, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue %s: rows affected: %w", id, err)
	}
	if moved == 0 {
		return fmt.Errorf("requeue %s: %w", id, ErrMutationNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("requeue %s: delete: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("requeue %s: commit: %w", id, err)
	}
	return nil
}

// queueRecords renders queue tables as generic records for partition reads.
func (s *Store) queueRecords(ctx context.Context, partition string) ([]Record, error) {
	var values []any
	switch partition {
	case PartitionPendingMutations:
		muts, err := s.PendingMutations(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range muts {
			values = append(values, m)
		}
	case PartitionDeadLetters:
		letters, err := s.DeadLetters(ctx)
		if err != nil {
			return nil, err
		}
		for _, dl := range letters {
			values = append(values, dl)
		}
	}

	records := make([]Record, 0, len(values))
	for _, v := range values {
		r, err := toRecord(v)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", partition, err)
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *Store) queueRecord(ctx context.Context, partition, id string) (Record, bool, error) {
	records, err := s.queueRecords(ctx, partition)
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func toRecord(v any) (Record, error) {
	var id string
	switch val := v.(type) {
	case mutation.Mutation:
		id = val.ID
	case mutation.DeadLetter:
		id = val.ID
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Value: data}, nil
}

func scanMutation(scan func(dest ...any) error) (mutation.Mutation, error) {
	var m mutation.Mutation
	var kind, payload string
	if err := scan(&m.ID, &kind, &m.Endpoint, &payload, &m.EnqueuedAt, &m.Attempts, &m.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("scan mutation: %w", err)
	}
	m.Kind = mutation.Kind(kind)
	if payload != "" {
		m.Payload = json.RawMessage(payload)
	}
	return m, nil
}

func scanDeadLetter(scan func(dest ...any) error) (mutation.DeadLetter, error) {
	var dl mutation.DeadLetter
	var kind, payload string
	if err := scan(&dl.ID, &kind, &dl.Endpoint, &payload, &dl.EnqueuedAt, &dl.Attempts, &dl.Status, &dl.Reason, &dl.FailedAt); err != nil {
		return dl, fmt.Errorf("scan dead letter: %w", err)
	}
	dl.Kind = mutation.Kind(kind)
	if payload != "" {
		dl.Payload = json.RawMessage(payload)
	}
	return dl, nil
}
