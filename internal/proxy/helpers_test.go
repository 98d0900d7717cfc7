package proxy

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/bus"
)

var errNetworkDown = errors.New("network down")

// fakeNet is a Fetcher answering from a route table.
type fakeNet struct {
	mu     sync.Mutex
	routes map[string]*Response
	fail   map[string]bool
	down   bool
	calls  []string
}

func newFakeNet() *fakeNet {
	return &fakeNet{routes: make(map[string]*Response), fail: make(map[string]bool)}
}

func (f *fakeNet) set(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = &Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
	}
}

func (f *fakeNet) failURL(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[url] = true
}

func (f *fakeNet) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeNet) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeNet) Fetch(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Method+" "+req.URL)
	if f.down || f.fail[req.URL] {
		return nil, errNetworkDown
	}
	if r, ok := f.routes[req.URL]; ok {
		cp := *r
		cp.Source = SourceNetwork
		return &cp, nil
	}
	return &Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte("not found"), Source: SourceNetwork}, nil
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []bus.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, topic bus.Topic, msg bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if topic == bus.TopicApp {
		p.sent = append(p.sent, msg)
	}
	return nil
}

func (p *recordingPublisher) Sent() []bus.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.Message(nil), p.sent...)
}

func createTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// shellNet serves a minimal shell and one route.
func shellNet() *fakeNet {
	n := newFakeNet()
	n.set("/index.html", 200, "<html>shell</html>")
	n.set("/app.js", 200, "console.log(1)")
	n.set("/tasks", 200, "<html>tasks</html>")
	return n
}

func testConfig(version string) Config {
	return Config{
		Version:     version,
		ShellAssets: []string{"/index.html", "/app.js"},
		Routes:      []string{"/tasks"},
	}
}

// activeWorker returns an installed and activated worker.
func activeWorker(t *testing.T, cache *Cache, net *fakeNet, opts ...WorkerOption) *Worker {
	t.Helper()
	ctx := context.Background()
	w, err := NewWorker(testConfig("v1"), cache, net, opts...)
	require.NoError(t, err)
	_, err = w.Handle(ctx, InstallEvent{})
	require.NoError(t, err)
	_, err = w.Handle(ctx, ActivateEvent{})
	require.NoError(t, err)
	return w
}

func get(url, accept string) InterceptEvent {
	h := http.Header{}
	if accept != "" {
		h.Set("Accept", accept)
	}
	return InterceptEvent{Request: &Request{Method: http.MethodGet, URL: url, Header: h}}
}
