package syncer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/api"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/testutil"
)

type fixture struct {
	store   *store.Store
	api     *testutil.APIRecorder
	monitor *connectivity.Monitor
	clock   *testutil.ManualClock
	coord   *Coordinator
}

// newFixture wires a coordinator to a temp store and a recording fake API.
func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rec := testutil.NewAPIRecorder(t)
	client, err := api.New(rec.URL, api.WithToken("test-token"))
	require.NoError(t, err)

	f := &fixture{
		store:   s,
		api:     rec,
		monitor: connectivity.New(online),
		clock:   testutil.NewManualClock(0),
	}
	base := []Option{
		WithClock(f.clock),
		WithIDGenerator(testutil.NewSequenceGenerator("m")),
	}
	f.coord = New(s, client, f.monitor, append(base, opts...)...)
	return f
}

// submitAt submits a write with the clock set to at.
func (f *fixture) submitAt(t *testing.T, at int64, kind mutation.Kind, endpoint, payload string) Result {
	t.Helper()
	f.clock.Set(at)
	var body json.RawMessage
	if payload != "" {
		body = json.RawMessage(payload)
	}
	res, err := f.coord.Submit(context.Background(), kind, endpoint, body)
	require.NoError(t, err)
	return res
}

func (f *fixture) pending(t *testing.T) []mutation.Mutation {
	t.Helper()
	muts, err := f.store.PendingMutations(context.Background())
	require.NoError(t, err)
	return muts
}
