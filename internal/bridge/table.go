package bridge

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/roach88/offsync/internal/store"
)

// SingletonKey is the record id used for singleton resources.
const SingletonKey = "self"

// Mapping binds an API path prefix to a Local Store partition.
type Mapping struct {
	Prefix    string `json:"prefix"`
	Partition string `json:"partition"`

	// Singleton resources hold one value, stored under SingletonKey.
	Singleton bool `json:"singleton,omitempty"`
}

// Target is a resource resolved against a Table.
type Target struct {
	Mapping

	// ID is set for item reads ("<prefix>/<id>").
	ID string

	// Filtered is true when the collection read carried a query string.
	Filtered bool

	// Key identifies the exact read: the path plus its sorted query.
	Key string
}

// IsItem reports whether the target names a single record.
func (t Target) IsItem() bool {
	return t.ID != ""
}

// Table maps API resources to partitions. Longest prefix wins.
type Table struct {
	mappings []Mapping
}

// DefaultMappings is the built-in resource table.
func DefaultMappings() []Mapping {
	return []Mapping{
		{Prefix: "/api/tasks", Partition: store.PartitionTasks},
		{Prefix: "/api/team", Partition: store.PartitionTeamMembers},
		{Prefix: "/api/analytics", Partition: store.PartitionAnalytics, Singleton: true},
		{Prefix: "/api/voice/history", Partition: store.PartitionVoiceHistory},
		{Prefix: "/api/notifications", Partition: store.PartitionNotifications},
		{Prefix: "/api/auth/me", Partition: store.PartitionCurrentUser, Singleton: true},
	}
}

// NewTable creates a table from mappings. A later mapping with the same
// prefix replaces an earlier one.
func NewTable(mappings ...Mapping) (*Table, error) {
	t := &Table{}
	for _, m := range mappings {
		if err := t.Add(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTable returns a table holding DefaultMappings.
func DefaultTable() *Table {
	t, err := NewTable(DefaultMappings()...)
	if err != nil {
		panic(fmt.Sprintf("bridge: default table: %v", err))
	}
	return t
}

// Add registers or replaces a mapping.
func (t *Table) Add(m Mapping) error {
	m.Prefix = strings.TrimRight(m.Prefix, "/")
	if !strings.HasPrefix(m.Prefix, "/") {
		return fmt.Errorf("mapping prefix must start with /, got %q", m.Prefix)
	}
	if m.Partition == "" {
		return fmt.Errorf("mapping %s: partition is required", m.Prefix)
	}

	for i, existing := range t.mappings {
		if existing.Prefix == m.Prefix {
			t.mappings[i] = m
			return nil
		}
	}
	t.mappings = append(t.mappings, m)
	sort.SliceStable(t.mappings, func(i, j int) bool {
		return len(t.mappings[i].Prefix) > len(t.mappings[j].Prefix)
	})
	return nil
}

// Mappings returns the table contents, longest prefix first.
func (t *Table) Mappings() []Mapping {
	out := make([]Mapping, len(t.mappings))
	copy(out, t.mappings)
	return out
}

// Resolve finds the mapping for resource. Nested paths below an item
// ("<prefix>/<id>/more") are not mapped.
func (t *Table) Resolve(resource string) (Target, bool) {
	u, err := url.Parse(resource)
	if err != nil {
		return Target{}, false
	}
	path := strings.TrimRight(u.Path, "/")

	for _, m := range t.mappings {
		if path == m.Prefix {
			return Target{Mapping: m, Filtered: u.RawQuery != "", Key: readKey(path, u.RawQuery)}, true
		}
		rest, ok := strings.CutPrefix(path, m.Prefix+"/")
		if !ok {
			continue
		}
		if m.Singleton || rest == "" || strings.Contains(rest, "/") {
			return Target{}, false
		}
		id, err := url.PathUnescape(rest)
		if err != nil {
			return Target{}, false
		}
		return Target{Mapping: m, ID: id, Key: readKey(path, u.RawQuery)}, true
	}
	return Target{}, false
}

func readKey(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	if q, err := url.ParseQuery(rawQuery); err == nil && len(q) > 0 {
		rawQuery = q.Encode()
	}
	return path + "?" + rawQuery
}
