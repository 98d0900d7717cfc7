package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Call is one request received by an APIRecorder.
type Call struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Authorization  string          `json:"-"`
}

// Response is a canned reply.
type Response struct {
	Status int
	Body   string
}

// APIRecorder is a fake HTTP API that records every call in order.
//
// By default GET answers 404 and writes answer 200 with "{}". Routes set
// with Respond take precedence. Down makes the server drop connections
// without replying, which clients observe as a network error. Fail queues
// status codes returned by the next calls, regardless of route.
type APIRecorder struct {
	*httptest.Server

	mu        sync.Mutex
	calls     []Call
	routes    map[string]Response
	failing   []int
	down      bool
	delivered map[string]int
}

// NewAPIRecorder starts a recorder and closes it when the test ends.
func NewAPIRecorder(t testing.TB) *APIRecorder {
	t.Helper()
	r := StartAPIRecorder()
	t.Cleanup(r.Server.Close)
	return r
}

// StartAPIRecorder starts a recorder outside a test. The caller must Close it.
func StartAPIRecorder() *APIRecorder {
	r := &APIRecorder{
		routes:    make(map[string]Response),
		delivered: make(map[string]int),
	}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	return r
}

func routeKey(method, path string) string {
	return method + " " + path
}

// Respond sets the reply for method and path.
func (r *APIRecorder) Respond(method, path string, status int, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey(method, path)] = Response{Status: status, Body: body}
}

// Fail makes the next len(statuses) calls answer with these statuses.
func (r *APIRecorder) Fail(statuses ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = append(r.failing, statuses...)
}

// SetDown toggles connection dropping.
func (r *APIRecorder) SetDown(down bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.down = down
}

// Calls returns a copy of the recorded calls in arrival order.
func (r *APIRecorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Writes returns only non-GET/HEAD calls.
func (r *APIRecorder) Writes() []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Method != http.MethodGet && c.Method != http.MethodHead {
			out = append(out, c)
		}
	}
	return out
}

// Delivered returns how many calls carrying Idempotency-Key key were
// answered with a 2xx status.
func (r *APIRecorder) Delivered(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered[key]
}

// Reset forgets recorded calls and deliveries.
func (r *APIRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.delivered = make(map[string]int)
}

func (r *APIRecorder) serve(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	if r.down {
		r.mu.Unlock()
		dropConnection(w)
		return
	}

	call := Call{
		Method:         req.Method,
		Path:           req.URL.RequestURI(),
		IdempotencyKey: req.Header.Get("Idempotency-Key"),
		Authorization:  req.Header.Get("Authorization"),
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		call.Body = json.RawMessage(body)
	}
	r.calls = append(r.calls, call)

	var resp Response
	switch {
	case len(r.failing) > 0:
		resp = Response{Status: r.failing[0], Body: `{"error":"injected"}`}
		r.failing = r.failing[1:]
	default:
		if route, ok := r.routes[routeKey(req.Method, req.URL.Path)]; ok {
			resp = route
		} else if req.Method == http.MethodGet || req.Method == http.MethodHead {
			resp = Response{Status: http.StatusNotFound, Body: `{"error":"not found"}`}
		} else {
			resp = Response{Status: http.StatusOK, Body: `{}`}
		}
	}

	if resp.Status >= 200 && resp.Status < 300 && call.IdempotencyKey != "" {
		r.delivered[call.IdempotencyKey]++
	}
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if resp.Body != "" && req.Method != http.MethodHead {
		_, _ = io.WriteString(w, resp.Body)
	}
}

// dropConnection closes the underlying connection without a response.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic("testutil: hijack failed: " + err.Error())
	}
	conn.Close()
}
