package proxy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_partitions (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	partition TEXT NOT NULL REFERENCES cache_partitions(name) ON DELETE CASCADE,
	key       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	header    TEXT NOT NULL,
	body      BLOB NOT NULL,
	stored_at INTEGER NOT NULL,
	PRIMARY KEY (partition, key)
);
`

// Cache holds named response partitions in a proxy-owned SQLite file.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// OpenPartition creates a partition if it does not exist.
func (c *Cache) OpenPartition(ctx context.Context, name string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_partitions (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, c.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("open cache partition %s: %w", name, err)
	}
	return nil
}

// Partitions lists partition names in creation order.
func (c *Cache) Partitions(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT name FROM cache_partitions ORDER BY created_at, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list cache partitions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan cache partition: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeletePartition removes a partition and all its entries.
// Returns false if the partition did not exist.
func (c *Cache) DeletePartition(ctx context.Context, name string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete cache partition %s: begin tx: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition = ?`, name); err != nil {
		return false, fmt.Errorf("delete cache partition %s: entries: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM cache_partitions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete cache partition %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cache partition %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete cache partition %s: commit: %w", name, err)
	}
	return n > 0, nil
}

// Put stores resp under key, overwriting any previous entry.
// The partition is created if needed.
func (c *Cache) Put(ctx context.Context, partition, key string, resp *Response) error {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache put: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := c.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_partitions (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, partition, now); err != nil {
		return fmt.Errorf("cache put %s: %w", partition, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (partition, key, status, header, body, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition, key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			stored_at = excluded.stored_at
	`, partition, key, resp.Status, string(header), body, now); err != nil {
		return fmt.Errorf("cache put %s %q: %w", partition, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cache put: commit: %w", err)
	}
	return nil
}

// Match returns the entry stored under key, if any.
func (c *Cache) Match(ctx context.Context, partition, key string) (*Response, bool, error) {
	var (
		status int
		header string
		body   []byte
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT status, header, body FROM cache_entries WHERE partition = ? AND key = ?
	`, partition, key).Scan(&status, &header, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache match %s %q: %w", partition, key, err)
	}

	resp := &Response{Status: status, Header: http.Header{}, Body: body}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, false, fmt.Errorf("decode cached header: %w", err)
	}
	return resp, true, nil
}

// Keys lists the keys stored in a partition.
func (c *Cache) Keys(ctx context.Context, partition string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT key FROM cache_entries WHERE partition = ? ORDER BY key
	`, partition)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
