package store

import (
	"context"
	"fmt"
	"strings"
)

// Built-in partition names.
const (
	PartitionTasks               = "tasks"
	PartitionTeamMembers         = "team-members"
	PartitionAnalytics           = "analytics"
	PartitionVoiceHistory        = "voice-history"
	PartitionNotifications       = "notifications"
	PartitionCurrentUser         = "current-user"
	PartitionVoiceRecordingQueue = "voice-recording-queue"
	PartitionPendingMutations    = "pending-mutations"
	PartitionDeadLetters         = "dead-letters"
)

// Schema version tracking:
// 1 - Entity partitions and the pending-mutation queue
// 2 - Voice recording queue, dead letters, applied-mutation tombstones
// 3 - Read snapshots for filtered and empty collection reads
const currentSchemaVersion = 3

type schemaVersion struct {
	Version    int
	Partitions []string
	Statements []string
}

// schemaVersions lists additive schema upgrades in order. Versions are never
// edited after release; new partitions go into a new version.
var schemaVersions = []schemaVersion{
	{
		Version: 1,
		Partitions: []string{
			PartitionTasks,
			PartitionTeamMembers,
			PartitionAnalytics,
			PartitionVoiceHistory,
			PartitionNotifications,
			PartitionCurrentUser,
			PartitionPendingMutations,
		},
	},
	{
		Version: 2,
		Partitions: []string{
			PartitionVoiceRecordingQueue,
			PartitionDeadLetters,
		},
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS dead_letters (
				id          TEXT PRIMARY KEY,
				kind        TEXT NOT NULL,
				endpoint    TEXT NOT NULL,
				payload     TEXT NOT NULL DEFAULT '',
				enqueued_at INTEGER NOT NULL,
				attempts    INTEGER NOT NULL DEFAULT 0,
				status      INTEGER NOT NULL DEFAULT 0,
				reason      TEXT NOT NULL,
				failed_at   INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS applied_mutations (
				id         TEXT PRIMARY KEY,
				applied_at INTEGER NOT NULL
			)`,
		},
	},
	{
		Version: 3,
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS read_snapshots (
				key        TEXT PRIMARY KEY,
				partition  TEXT NOT NULL REFERENCES partitions(name),
				body       TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_read_snapshots_partition
				ON read_snapshots(partition)`,
		},
	},
}

// queuePartitions are backed by dedicated tables rather than records.
var queuePartitions = map[string]string{
	PartitionPendingMutations: "pending_mutations",
	PartitionDeadLetters:      "dead_letters",
}

// registerPartitions inserts partition rows that do not exist yet.
// Existing rows keep their original version and creation time.
func (s *Store) registerPartitions(names []string, version int) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("partition name must not be empty")
		}
		_, err := s.db.Exec(`
			INSERT INTO partitions (name, schema_version, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO NOTHING
		`, name, version, s.now().UnixMilli())
		if err != nil {
			return fmt.Errorf("register partition %q: %w", name, err)
		}
	}
	return nil
}

func (s *Store) loadPartitions() error {
	names, err := s.Partitions(context.Background())
	if err != nil {
		return err
	}
	s.partitions = make(map[string]bool, len(names))
	for _, name := range names {
		s.partitions[name] = true
	}
	return nil
}

// Partitions returns all registered partition names in alphabetical order.
func (s *Store) Partitions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM partitions ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return names, nil
}

// HasPartition reports whether the partition is declared.
func (s *Store) HasPartition(name string) bool {
	return s.partitions[name]
}

func (s *Store) checkPartition(name string) error {
	if !s.partitions[name] {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}
	return nil
}
