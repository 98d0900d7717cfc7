package proxy

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_PutMatchOverwrite(t *testing.T) {
	ctx := context.Background()
	c := createTestCache(t)

	resp := &Response{Status: 200, Header: http.Header{"Content-Type": []string{"text/css"}}, Body: []byte("a{}")}
	require.NoError(t, c.Put(ctx, "s", "GET /app.css", resp))

	got, found, err := c.Match(ctx, "s", "GET /app.css")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200, got.Status)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("a{}"), got.Body)

	require.NoError(t, c.Put(ctx, "s", "GET /app.css", &Response{Status: 200, Header: http.Header{}, Body: []byte("b{}")}))
	got, _, err = c.Match(ctx, "s", "GET /app.css")
	require.NoError(t, err)
	assert.Equal(t, []byte("b{}"), got.Body)

	_, found, err = c.Match(ctx, "other", "GET /app.css")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_EmptyBody(t *testing.T) {
	ctx := context.Background()
	c := createTestCache(t)

	require.NoError(t, c.Put(ctx, "s", "GET /empty", &Response{Status: 204}))
	got, found, err := c.Match(ctx, "s", "GET /empty")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, got.Body)
}

func TestCache_Partitions(t *testing.T) {
	ctx := context.Background()
	c := createTestCache(t)

	require.NoError(t, c.OpenPartition(ctx, "a"))
	require.NoError(t, c.OpenPartition(ctx, "a"))
	require.NoError(t, c.Put(ctx, "b", "GET /x", &Response{Status: 200}))

	names, err := c.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	deleted, err := c.DeletePartition(ctx, "b")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.DeletePartition(ctx, "b")
	require.NoError(t, err)
	assert.False(t, deleted)

	keys, err := c.Keys(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, keys)

	names, err = c.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	c, err := OpenCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "s", "GET /", &Response{Status: 200, Body: []byte("hi")}))
	require.NoError(t, c.Close())

	c, err = OpenCache(path)
	require.NoError(t, err)
	defer c.Close()

	got, found, err := c.Match(ctx, "s", "GET /")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("hi"), got.Body)
}

func TestOpenCache_InvalidPath(t *testing.T) {
	_, err := OpenCache(filepath.Join(t.TempDir(), "missing", "dir", "cache.db"))
	assert.Error(t, err)
}
