package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PutSnapshot stores body verbatim under key, replacing any earlier
// snapshot. The snapshot belongs to partition and is removed when the
// partition is cleared.
func (s *Store) PutSnapshot(ctx context.Context, partition, key string, body json.RawMessage) error {
	if err := s.checkWritable(partition); err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	if key == "" {
		return fmt.Errorf("put snapshot: key must not be empty")
	}
	if !json.Valid(body) {
		return fmt.Errorf("put snapshot %s: body is not valid JSON", key)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_snapshots (key, partition, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			partition = excluded.partition,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, key, partition, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return nil
}

// Snapshot returns the body stored under key.
// A missing snapshot is reported with found=false, not an error.
func (s *Store) Snapshot(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM read_snapshots WHERE key = ?
	`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	return json.RawMessage(body), true, nil
}
