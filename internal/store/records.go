package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/offsync/internal/canonical"
)

// Record is a cached entity stored under its domain id.
// Value is kept byte-for-byte as written.
type Record struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// KeyRecords derives ids from the "id" field of each JSON value.
// String and numeric ids are accepted; numeric ids keep their text form.
func KeyRecords(values ...json.RawMessage) ([]Record, error) {
	records := make([]Record, 0, len(values))
	for i, v := range values {
		id, err := recordID(v)
		if err != nil {
			return nil, fmt.Errorf("record[%d]: %w", i, err)
		}
		records = append(records, Record{ID: id, Value: v})
	}
	return records, nil
}

func recordID(value json.RawMessage) (string, error) {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&probe); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	raw := bytes.TrimSpace(probe.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrMissingID
	}

	var id any
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("decode id: %w", err)
	}
	switch v := id.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", ErrMissingID
		}
		return v, nil
	case float64:
		// Keep the literal text so 10 and 10.0 stay distinct keys.
		return string(raw), nil
	default:
		return "", fmt.Errorf("%w: id must be a string or number, got %s", ErrMissingID, raw)
	}
}

// Put upserts JSON values keyed by their "id" field in one transaction.
// If any value is invalid the whole call fails and nothing is written.
func (s *Store) Put(ctx context.Context, partition string, values ...json.RawMessage) error {
	records, err := KeyRecords(values...)
	if err != nil {
		return fmt.Errorf("put %s: %w", partition, err)
	}
	return s.PutRecords(ctx, partition, records...)
}

// PutRecords upserts records with explicit ids in one transaction.
// New records are appended after existing ones; updated records keep
// their position.
func (s *Store) PutRecords(ctx context.Context, partition string, records ...Record) error {
	if err := s.checkWritable(partition); err != nil {
		return fmt.Errorf("put %s: %w", partition, err)
	}
	if err := validateRecords(records); err != nil {
		return fmt.Errorf("put %s: %w", partition, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s: begin tx: %w", partition, err)
	}
	defer tx.Rollback() // No-op if committed

	now := s.now().UnixMilli()
	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (partition, id, value, position, updated_at)
			VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM records WHERE partition = ?), ?)
			ON CONFLICT(partition, id) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, partition, canonical.NormalizeKey(r.ID), string(r.Value), partition, now)
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", partition, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %s: commit: %w", partition, err)
	}
	return nil
}

// Replace atomically swaps the partition contents for the given records,
// preserving their order. Used to mirror a full collection read.
func (s *Store) Replace(ctx context.Context, partition string, records ...Record) error {
	if err := s.checkWritable(partition); err != nil {
		return fmt.Errorf("replace %s: %w", partition, err)
	}
	if err := validateRecords(records); err != nil {
		return fmt.Errorf("replace %s: %w", partition, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: begin tx: %w", partition, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("replace %s: clear: %w", partition, err)
	}

	now := s.now().UnixMilli()
	for i, r := range records {
		// Duplicate ids in one payload: last one wins, first position kept.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (partition, id, value, position, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(partition, id) DO UPDATE SET
				value = excluded.value,
				updated_at = excluded.updated_at
		`, partition, canonical.NormalizeKey(r.ID), string(r.Value), i, now)
		if err != nil {
			return fmt.Errorf("replace %s/%s: %w", partition, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: commit: %w", partition, err)
	}
	return nil
}

// GetAll returns every record in the partition in stored order.
// Returns an empty slice (not nil) for an empty partition.
func (s *Store) GetAll(ctx context.Context, partition string) ([]Record, error) {
	if err := s.checkPartition(partition); err != nil {
		return nil, fmt.Errorf("get all %s: %w", partition, err)
	}
	if _, ok := queuePartitions[partition]; ok {
		return s.queueRecords(ctx, partition)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, value FROM records
		WHERE partition = ?
		ORDER BY position ASC, id COLLATE BINARY ASC
	`, partition)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", partition, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var value string
		if err := rows.Scan(&r.ID, &value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Value = json.RawMessage(value)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// GetOne returns the record stored under id.
// A missing record is reported with found=false, not an error.
func (s *Store) GetOne(ctx context.Context, partition, id string) (Record, bool, error) {
	if err := s.checkPartition(partition); err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", partition, err)
	}
	if _, ok := queuePartitions[partition]; ok {
		return s.queueRecord(ctx, partition, id)
	}

	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM records WHERE partition = ? AND id = ?
	`, partition, canonical.NormalizeKey(id)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s/%s: %w", partition, id, err)
	}
	return Record{ID: canonical.NormalizeKey(id), Value: json.RawMessage(value)}, true, nil
}

// Delete removes one record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	if err := s.checkPartition(partition); err != nil {
		return fmt.Errorf("delete %s: %w", partition, err)
	}

	query := `DELETE FROM records WHERE partition = ? AND id = ?`
	args := []any{partition, canonical.NormalizeKey(id)}
	if table, ok := queuePartitions[partition]; ok {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
		args = []any{id}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s/%s: %w", partition, id, err)
	}
	return nil
}

// Clear removes every record and read snapshot in the partition. The
// partition itself stays.
func (s *Store) Clear(ctx context.Context, partition string) error {
	if err := s.checkPartition(partition); err != nil {
		return fmt.Errorf("clear %s: %w", partition, err)
	}

	if table, ok := queuePartitions[partition]; ok {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("clear %s: %w", partition, err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear %s: begin tx: %w", partition, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("clear %s: %w", partition, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM read_snapshots WHERE partition = ?`, partition); err != nil {
		return fmt.Errorf("clear %s: snapshots: %w", partition, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear %s: commit: %w", partition, err)
	}
	return nil
}

// Count returns the number of records in the partition.
func (s *Store) Count(ctx context.Context, partition string) (int, error) {
	if err := s.checkPartition(partition); err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}

	query := `SELECT COUNT(*) FROM records WHERE partition = ?`
	args := []any{partition}
	if table, ok := queuePartitions[partition]; ok {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
		args = nil
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", partition, err)
	}
	return n, nil
}

func (s *Store) checkWritable(partition string) error {
	if err := s.checkPartition(partition); err != nil {
		return err
	}
	if _, ok := queuePartitions[partition]; ok {
		return fmt.Errorf("%w: %q", ErrReservedPartition, partition)
	}
	return nil
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("record[%d]: %w", i, ErrMissingID)
		}
		if !json.Valid(r.Value) {
			return fmt.Errorf("record[%d] %q: value is not valid JSON", i, r.ID)
		}
	}
	return nil
}
