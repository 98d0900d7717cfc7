// Package bridge connects API reads to the Local Store.
//
// Every successful read of a mapped resource is mirrored into its partition.
// When a read fails while offline, the last mirrored value is returned
// instead, so the UI keeps rendering the last known server state.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/offsync/internal/store"
)

// Reader performs live API reads. Implemented by *api.Client.
type Reader interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

// Cache is the mirror target. Implemented by *store.Store.
type Cache interface {
	Replace(ctx context.Context, partition string, records ...store.Record) error
	PutRecords(ctx context.Context, partition string, records ...store.Record) error
	GetAll(ctx context.Context, partition string) ([]store.Record, error)
	GetOne(ctx context.Context, partition, id string) (store.Record, bool, error)
	PutSnapshot(ctx context.Context, partition, key string, body json.RawMessage) error
	Snapshot(ctx context.Context, key string) (json.RawMessage, bool, error)
}

// Connectivity reports whether the network is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Response is the result of a Read.
type Response struct {
	Body json.RawMessage

	// Cached is true when Body came from the Local Store.
	Cached bool
}

// Bridge serves resource reads with an offline fallback.
type Bridge struct {
	api    Reader
	cache  Cache
	online Connectivity
	table  *Table

	mu      sync.Mutex
	gen     uint64
	changed chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithTable replaces the default resource table.
func WithTable(t *Table) Option {
	return func(b *Bridge) { b.table = t }
}

// New creates a Bridge.
func New(r Reader, c Cache, online Connectivity, opts ...Option) *Bridge {
	b := &Bridge{
		api:     r,
		cache:   c,
		online:  online,
		table:   DefaultTable(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Table returns the resource table in use.
func (b *Bridge) Table() *Table {
	return b.table
}

// Read fetches resource from the API and mirrors it.
//
// On failure the stored value is returned only if the monitor reports
// offline, the resource is mapped, and something was stored. Otherwise the
// API error is returned.
func (b *Bridge) Read(ctx context.Context, resource string) (Response, error) {
	target, mapped := b.table.Resolve(resource)

	body, err := b.api.Get(ctx, resource)
	if err == nil {
		if mapped {
			if merr := b.mirror(ctx, target, body); merr != nil {
				slog.Warn("mirror read failed",
					"resource", resource,
					"partition", target.Partition,
					"error", merr,
				)
			}
		}
		return Response{Body: body}, nil
	}

	if !mapped || b.online.IsOnline() {
		return Response{}, err
	}

	cached, found, ferr := b.fallback(ctx, target)
	if ferr != nil {
		slog.Warn("offline fallback failed", "resource", resource, "error", ferr)
		return Response{}, err
	}
	if !found {
		return Response{}, err
	}
	slog.Debug("served from local store", "resource", resource, "partition", target.Partition)
	return Response{Body: cached, Cached: true}, nil
}

func (b *Bridge) mirror(ctx context.Context, t Target, body json.RawMessage) error {
	switch {
	case t.Filtered:
		// The exact body is kept for this query; records are merged so
		// unfiltered reads see the update too.
		if !t.Singleton {
			if err := b.mergeCollection(ctx, t, body); err != nil {
				return err
			}
		}
		return b.cache.PutSnapshot(ctx, t.Partition, t.Key, body)
	case t.Singleton:
		return b.cache.PutRecords(ctx, t.Partition, store.Record{ID: SingletonKey, Value: body})
	case t.IsItem():
		return b.cache.PutRecords(ctx, t.Partition, store.Record{ID: t.ID, Value: body})
	}

	records, err := collectionRecords(body)
	if err != nil {
		return err
	}
	if err := b.cache.Replace(ctx, t.Partition, records...); err != nil {
		return err
	}
	// Marks the collection as mirrored, so an empty listing is served
	// as [] rather than treated as never read.
	return b.cache.PutSnapshot(ctx, t.Partition, t.Key, body)
}

func (b *Bridge) mergeCollection(ctx context.Context, t Target, body json.RawMessage) error {
	records, err := collectionRecords(body)
	if err != nil {
		return err
	}
	return b.cache.PutRecords(ctx, t.Partition, records...)
}

func collectionRecords(body json.RawMessage) ([]store.Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("collection body is not a JSON array: %w", err)
	}
	return store.KeyRecords(items...)
}

func (b *Bridge) fallback(ctx context.Context, t Target) (json.RawMessage, bool, error) {
	switch {
	case t.Filtered:
		return b.cache.Snapshot(ctx, t.Key)
	case t.Singleton:
		rec, found, err := b.cache.GetOne(ctx, t.Partition, SingletonKey)
		return rec.Value, found, err
	case t.IsItem():
		rec, found, err := b.cache.GetOne(ctx, t.Partition, t.ID)
		return rec.Value, found, err
	}

	records, err := b.cache.GetAll(ctx, t.Partition)
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		_, mirrored, err := b.cache.Snapshot(ctx, t.Key)
		if err != nil || !mirrored {
			return nil, false, err
		}
		return json.RawMessage(`[]`), true, nil
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r.Value)
	}
	buf.WriteByte(']')
	return buf.Bytes(), true, nil
}

// Invalidate marks every cached read stale. Observers waiting on Changed
// are woken.
func (b *Bridge) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	close(b.changed)
	b.changed = make(chan struct{})
	slog.Debug("query cache invalidated", "generation", b.gen)
}

// Generation returns the number of invalidations so far.
func (b *Bridge) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Changed returns a channel closed by the next Invalidate.
func (b *Bridge) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}
