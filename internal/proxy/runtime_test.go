package proxy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/bus"
)

// startRuntime runs a Runtime until the test ends.
func startRuntime(t *testing.T, net Fetcher) *Runtime {
	t.Helper()
	rt := NewRuntime(net)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return rt
}

func TestRuntime_DeployActivatesAndServes(t *testing.T) {
	ctx := context.Background()
	cache := createTestCache(t)
	net := shellNet()
	rt := startRuntime(t, net)

	w, err := NewWorker(testConfig("v1"), cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, w))

	net.setDown(true)
	resp, err := rt.Submit(ctx, get("/tasks", "text/html"))
	require.NoError(t, err)
	assert.Equal(t, SourceDynamic, resp.Source)
}

func TestRuntime_NoWorkerPassesThrough(t *testing.T) {
	ctx := context.Background()
	net := shellNet()
	rt := startRuntime(t, net)

	resp, err := rt.Submit(ctx, get("/tasks", ""))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	net.setDown(true)
	resp, err = rt.Submit(ctx, get("/tasks", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}

func TestRuntime_UpgradeRetiresOldWorker(t *testing.T) {
	ctx := context.Background()
	cache := createTestCache(t)
	net := shellNet()
	rt := startRuntime(t, net)

	v1, err := NewWorker(testConfig("v1"), cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, v1))

	v2, err := NewWorker(testConfig("v2"), cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, v2))

	// Read state through the loop so the check is ordered after Deploy.
	_, err = rt.Submit(ctx, get("/tasks", ""))
	require.NoError(t, err)
	assert.Equal(t, StateRedundant, v1.State())
	assert.Equal(t, StateActive, v2.State())

	names, err := cache.Partitions(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"offsync-static-v2", "offsync-dynamic-v2"}, names)
}

func TestRuntime_FailedDeployKeepsCurrent(t *testing.T) {
	ctx := context.Background()
	cache := createTestCache(t)
	net := shellNet()
	rt := startRuntime(t, net)

	v1, err := NewWorker(testConfig("v1"), cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, v1))

	cfg := testConfig("v2")
	cfg.ShellAssets = append(cfg.ShellAssets, "/gone.css")
	net.failURL("/gone.css")
	v2, err := NewWorker(cfg, cache, net)
	require.NoError(t, err)
	require.Error(t, rt.Deploy(ctx, v2))

	net.setDown(true)
	resp, err := rt.Submit(ctx, get("/tasks", "text/html"))
	require.NoError(t, err)
	assert.Equal(t, SourceDynamic, resp.Source, "v1 still serving")
	assert.Equal(t, StateActive, v1.State())
}

func TestRuntime_SkipWaitingMessagePromotes(t *testing.T) {
	ctx := context.Background()
	cache := createTestCache(t)
	net := shellNet()
	rt := startRuntime(t, net)

	v1, err := NewWorker(testConfig("v1"), cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, v1))

	cfg := testConfig("v2")
	cfg.HoldWaiting = true
	v2, err := NewWorker(cfg, cache, net)
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, v2))

	_, err = rt.Submit(ctx, get("/tasks", ""))
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, v2.State())
	assert.Equal(t, StateActive, v1.State())

	_, err = rt.Submit(ctx, MessageEvent{Message: bus.Message{Type: bus.TypeSkipWaiting}})
	require.NoError(t, err)

	_, err = rt.Submit(ctx, get("/tasks", ""))
	require.NoError(t, err)
	assert.Equal(t, StateActive, v2.State())
	assert.Equal(t, StateRedundant, v1.State())
}

func TestRuntime_ListenAndSyncTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.NewLocal()
	defer b.Close()
	appMsgs, unsub, err := b.Subscribe(ctx, bus.TopicApp)
	require.NoError(t, err)
	defer unsub()

	cache := createTestCache(t)
	net := shellNet()
	rt := startRuntime(t, net)

	w, err := NewWorker(testConfig("v1"), cache, net, WithPublisher(b))
	require.NoError(t, err)
	require.NoError(t, rt.Deploy(ctx, w))

	listening := make(chan error, 1)
	go func() { listening <- rt.Listen(ctx, b) }()

	// Retry until Listen has subscribed and the registration reached the worker.
	require.Eventually(t, func() bool {
		if err := b.Publish(ctx, bus.TopicProxy, bus.Message{Type: bus.TypeRegisterSync, Tag: bus.SyncTag}); err != nil {
			return false
		}
		rt.FireSyncTrigger(ctx)
		select {
		case m := <-appMsgs:
			return m.Type == bus.TypeSyncNow
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-listening:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return")
	}
}

func TestRuntime_InstallEventsRejected(t *testing.T) {
	rt := startRuntime(t, shellNet())
	_, err := rt.Submit(context.Background(), InstallEvent{})
	assert.Error(t, err)
}

func TestRuntime_StopFailsSubmissions(t *testing.T) {
	rt := NewRuntime(shellNet())
	rt.Stop()

	_, err := rt.Submit(context.Background(), get("/", ""))
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, rt.Run(context.Background()))
}

func TestRuntime_SubmitHonoursContext(t *testing.T) {
	rt := NewRuntime(shellNet()) // never run
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := rt.Submit(ctx, get("/", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
