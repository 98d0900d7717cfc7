package proxy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/roach88/offsync/internal/bus"
)

// State is a worker lifecycle state.
type State int

const (
	StateInstalling State = iota
	StateWaiting
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Request is an intercepted HTTP request.
type Request struct {
	Method string
	URL    string // path and query, e.g. "/tasks?x=1"
	Header http.Header
	Body   []byte
}

// Path returns URL without its query string.
func (r *Request) Path() string {
	path, _, _ := strings.Cut(r.URL, "?")
	return path
}

// Accept returns the Accept header.
func (r *Request) Accept() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Accept")
}

// IsNavigation reports whether the request asks for an HTML document.
func (r *Request) IsNavigation() bool {
	return r.Method == http.MethodGet && strings.Contains(r.Accept(), "text/html")
}

// CacheKey is "METHOD URL".
func (r *Request) CacheKey() string {
	return r.Method + " " + r.URL
}

// Source records where a response came from.
type Source string

const (
	SourceNetwork   Source = "network"
	SourceBypass    Source = "bypass"
	SourceStatic    Source = "static"
	SourceDynamic   Source = "dynamic"
	SourceShell     Source = "shell"
	SourceSynthetic Source = "synthetic"
)

// SourceHeader is set on every response written by Server.
const SourceHeader = "X-Offsync-Source"

// Response is a fully buffered HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Source Source
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

func (r *Response) withSource(s Source) *Response {
	cp := *r
	cp.Source = s
	return &cp
}

// offlineResponse is returned when neither network nor cache can answer.
func offlineResponse() *Response {
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:   []byte("Offline"),
		Source: SourceSynthetic,
	}
}

// Event is delivered to Worker.Handle. The concrete types below are the
// only implementations.
type Event interface {
	eventName() string
}

// InstallEvent pre-populates the caches.
type InstallEvent struct{}

// ActivateEvent removes stale caches and takes control.
type ActivateEvent struct{}

// InterceptEvent asks the worker to answer a request.
type InterceptEvent struct {
	Request *Request
}

// MessageEvent delivers a control message from an application.
type MessageEvent struct {
	Message bus.Message
}

// SyncTriggerEvent fires a registered background-sync tag.
type SyncTriggerEvent struct {
	Tag string
}

func (InstallEvent) eventName() string     { return "install" }
func (ActivateEvent) eventName() string    { return "activate" }
func (InterceptEvent) eventName() string   { return "intercept" }
func (MessageEvent) eventName() string     { return "message" }
func (SyncTriggerEvent) eventName() string { return "sync" }

// EventName returns a short name for logging.
func EventName(ev Event) string {
	if ev == nil {
		return "<nil>"
	}
	return ev.eventName()
}
