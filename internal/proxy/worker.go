package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/roach88/offsync/internal/bus"
)

// CachePrefix prefixes every cache partition name.
const CachePrefix = "offsync"

// StaticCacheName returns the static partition name for version.
func StaticCacheName(version string) string {
	return CachePrefix + "-static-" + version
}

// DynamicCacheName returns the dynamic partition name for version.
func DynamicCacheName(version string) string {
	return CachePrefix + "-dynamic-" + version
}

// DefaultAssetExtensions mark paths served cache-first.
var DefaultAssetExtensions = []string{
	".js", ".mjs", ".css", ".map",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
	".woff", ".woff2", ".ttf",
	".webmanifest",
}

// Config describes one worker version.
type Config struct {
	// Version suffixes the cache partition names, e.g. "v1".
	Version string

	// ShellAssets are cached into the static partition at install. Any
	// failure fails the install.
	ShellAssets []string

	// ShellDocument is served for navigations when offline with nothing
	// better cached. Defaults to the first shell asset.
	ShellDocument string

	// Routes are pre-fetched into the dynamic partition at install.
	// Individual failures are tolerated.
	Routes []string

	AssetExtensions []string
	AssetPrefixes   []string

	// HoldWaiting keeps an installed worker waiting until a SKIP_WAITING
	// message arrives, instead of activating at once.
	HoldWaiting bool
}

func (c Config) withDefaults() Config {
	if c.Version == "" {
		c.Version = "v1"
	}
	if c.ShellDocument == "" && len(c.ShellAssets) > 0 {
		c.ShellDocument = c.ShellAssets[0]
	}
	if c.AssetExtensions == nil {
		c.AssetExtensions = DefaultAssetExtensions
	}
	return c
}

// Publisher sends bus messages. Implemented by bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, msg bus.Message) error
}

// ErrInvalidState is returned for lifecycle events that do not apply to
// the worker's current state.
var ErrInvalidState = errors.New("invalid worker state")

// Worker is one version of the interception proxy.
//
// Worker is not safe for concurrent use; the Runtime serializes all calls
// to Handle.
type Worker struct {
	cfg   Config
	cache *Cache
	net   Fetcher
	shell ShellSource
	rules *Rules
	pub   Publisher

	state         State
	skipWaiting   bool
	claimed       bool
	registrations map[string]bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithShellSource sets where shell assets are read from at install.
// Defaults to the origin.
func WithShellSource(s ShellSource) WorkerOption {
	return func(w *Worker) { w.shell = s }
}

// WithRules sets the bypass rules. Defaults to DefaultBypassRules.
func WithRules(r *Rules) WorkerOption {
	return func(w *Worker) { w.rules = r }
}

// WithPublisher sets where SYNC_NOW is sent.
func WithPublisher(p Publisher) WorkerOption {
	return func(w *Worker) { w.pub = p }
}

// NewWorker creates a worker in the installing state.
func NewWorker(cfg Config, cache *Cache, net Fetcher, opts ...WorkerOption) (*Worker, error) {
	w := &Worker{
		cfg:           cfg.withDefaults(),
		cache:         cache,
		net:           net,
		state:         StateInstalling,
		registrations: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.shell == nil {
		w.shell = OriginShell{Fetcher: net}
	}
	if w.rules == nil {
		rules, err := CompileRules(DefaultBypassRules...)
		if err != nil {
			return nil, err
		}
		w.rules = rules
	}
	return w, nil
}

// State returns the lifecycle state.
func (w *Worker) State() State { return w.state }

// Version returns the cache version.
func (w *Worker) Version() string { return w.cfg.Version }

// StaticName returns this worker's static partition name.
func (w *Worker) StaticName() string { return StaticCacheName(w.cfg.Version) }

// DynamicName returns this worker's dynamic partition name.
func (w *Worker) DynamicName() string { return DynamicCacheName(w.cfg.Version) }

// SkipWaiting reports whether the worker asked to activate immediately.
func (w *Worker) SkipWaiting() bool { return w.skipWaiting }

// Registrations lists pending background-sync tags.
func (w *Worker) Registrations() []string {
	tags := make([]string, 0, len(w.registrations))
	for t := range w.registrations {
		tags = append(tags, t)
	}
	slices.Sort(tags)
	return tags
}

// Retire marks the worker as superseded.
func (w *Worker) Retire() {
	if w.state != StateRedundant {
		slog.Info("worker retired", "version", w.cfg.Version, "from", w.state)
	}
	w.state = StateRedundant
	w.claimed = false
}

// Handle dispatches one event. Intercept events return the response to
// send; other events return a nil response.
func (w *Worker) Handle(ctx context.Context, ev Event) (*Response, error) {
	switch e := ev.(type) {
	case InstallEvent:
		return nil, w.install(ctx)
	case ActivateEvent:
		return nil, w.activate(ctx)
	case InterceptEvent:
		if e.Request == nil {
			return nil, fmt.Errorf("intercept event missing request")
		}
		return w.intercept(ctx, e.Request), nil
	case MessageEvent:
		return nil, w.message(ctx, e.Message)
	case SyncTriggerEvent:
		return nil, w.syncTrigger(ctx, e.Tag)
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}

func (w *Worker) install(ctx context.Context) error {
	if w.state != StateInstalling {
		return fmt.Errorf("install in state %s: %w", w.state, ErrInvalidState)
	}
	slog.Info("worker installing", "version", w.cfg.Version)

	if err := w.cache.OpenPartition(ctx, w.StaticName()); err != nil {
		return w.failInstall(err)
	}
	if err := w.cache.OpenPartition(ctx, w.DynamicName()); err != nil {
		return w.failInstall(err)
	}

	for _, asset := range w.cfg.ShellAssets {
		resp, err := w.shell.FetchShell(ctx, asset)
		if err != nil {
			return w.failInstall(fmt.Errorf("precache %s: %w", asset, err))
		}
		if err := w.cache.Put(ctx, w.StaticName(), http.MethodGet+" "+asset, resp); err != nil {
			return w.failInstall(err)
		}
	}

	for _, route := range w.cfg.Routes {
		req := &Request{Method: http.MethodGet, URL: route, Header: http.Header{"Accept": []string{"text/html"}}}
		resp, err := w.net.Fetch(ctx, req)
		if err != nil {
			slog.Warn("route prefetch failed", "route", route, "error", err)
			continue
		}
		if !resp.OK() {
			slog.Warn("route prefetch failed", "route", route, "status", resp.Status)
			continue
		}
		if err := w.cache.Put(ctx, w.DynamicName(), req.CacheKey(), resp); err != nil {
			slog.Warn("route prefetch not cached", "route", route, "error", err)
		}
	}

	w.state = StateWaiting
	if !w.cfg.HoldWaiting {
		w.skipWaiting = true
	}
	slog.Info("worker installed", "version", w.cfg.Version, "skip_waiting", w.skipWaiting)
	return nil
}

func (w *Worker) failInstall(err error) error {
	w.state = StateRedundant
	slog.Error("worker install failed", "version", w.cfg.Version, "error", err)
	return fmt.Errorf("install %s: %w", w.cfg.Version, err)
}

func (w *Worker) activate(ctx context.Context) error {
	switch w.state {
	case StateActive:
		return nil
	case StateWaiting:
	default:
		return fmt.Errorf("activate in state %s: %w", w.state, ErrInvalidState)
	}

	names, err := w.cache.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, name := range names {
		if name == w.StaticName() || name == w.DynamicName() {
			continue
		}
		if _, err := w.cache.DeletePartition(ctx, name); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		slog.Info("stale cache deleted", "partition", name)
	}

	w.state = StateActive
	w.claimed = true
	slog.Info("worker active", "version", w.cfg.Version)
	return nil
}

func (w *Worker) message(ctx context.Context, msg bus.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	switch msg.Type {
	case bus.TypeSkipWaiting:
		w.skipWaiting = true
		if w.state == StateWaiting {
			return w.activate(ctx)
		}
		return nil
	case bus.TypeSyncNow:
		return w.notifyApps(ctx)
	case bus.TypeRegisterSync:
		w.registrations[msg.Tag] = true
		slog.Debug("background sync registered", "tag", msg.Tag)
		return nil
	}
	return nil
}

func (w *Worker) syncTrigger(ctx context.Context, tag string) error {
	if !w.registrations[tag] {
		return nil
	}
	if err := w.notifyApps(ctx); err != nil {
		return fmt.Errorf("sync trigger %s: %w", tag, err)
	}
	delete(w.registrations, tag)
	return nil
}

func (w *Worker) notifyApps(ctx context.Context) error {
	if w.pub == nil {
		return nil
	}
	if err := w.pub.Publish(ctx, bus.TopicApp, bus.Message{Type: bus.TypeSyncNow}); err != nil {
		return fmt.Errorf("notify apps: %w", err)
	}
	return nil
}

// isAsset reports whether p follows the static asset convention.
func (w *Worker) isAsset(p string) bool {
	for _, prefix := range w.cfg.AssetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	return ext != "" && slices.Contains(w.cfg.AssetExtensions, ext)
}

func (w *Worker) intercept(ctx context.Context, req *Request) *Response {
	if !w.claimed {
		return w.passthrough(ctx, req, SourceNetwork)
	}
	if bypass, rule := w.rules.Bypass(req); bypass {
		slog.Debug("request bypassed", "method", req.Method, "url", req.URL, "rule", rule)
		return w.passthrough(ctx, req, SourceBypass)
	}
	if w.isAsset(req.Path()) {
		return w.cacheFirst(ctx, req)
	}
	return w.networkFirst(ctx, req)
}

// passthrough fetches without touching the caches. A network failure is
// reported as 502 so the caller sees a retryable server error.
func (w *Worker) passthrough(ctx context.Context, req *Request, src Source) *Response {
	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		slog.Debug("passthrough failed", "method", req.Method, "url", req.URL, "error", err)
		return &Response{
			Status: http.StatusBadGateway,
			Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:   []byte("Bad Gateway"),
			Source: src,
		}
	}
	return resp.withSource(src)
}

func (w *Worker) cacheFirst(ctx context.Context, req *Request) *Response {
	if resp := w.match(ctx, w.StaticName(), req); resp != nil {
		return resp.withSource(SourceStatic)
	}

	resp, err := w.net.Fetch(ctx, req)
	if err != nil {
		slog.Debug("asset fetch failed", "url", req.URL, "error", err)
		if cached := w.match(ctx, w.DynamicName(), req); cached != nil {
			return cached.withSource(SourceDynamic)
		}
		return offlineResponse()
	}
	if resp.OK() {
		w.store(ctx, w.StaticName(), req, resp)
	}
	return resp
}

func (w *Worker) networkFirst(ctx context.Context, req *Request) *Response {
	resp, err := w.net.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			w.store(ctx, w.DynamicName(), req, resp)
		}
		return resp
	}
	slog.Debug("network fetch failed, trying cache", "url", req.URL, "error", err)

	if cached := w.match(ctx, w.StaticName(), req); cached != nil {
		return cached.withSource(SourceStatic)
	}
	if cached := w.match(ctx, w.DynamicName(), req); cached != nil {
		return cached.withSource(SourceDynamic)
	}
	if req.IsNavigation() && w.cfg.ShellDocument != "" {
		shell, found, err := w.cache.Match(ctx, w.StaticName(), http.MethodGet+" "+w.cfg.ShellDocument)
		if err != nil {
			slog.Warn("shell lookup failed", "error", err)
		} else if found {
			return shell.withSource(SourceShell)
		}
	}
	return offlineResponse()
}

func (w *Worker) match(ctx context.Context, partition string, req *Request) *Response {
	resp, found, err := w.cache.Match(ctx, partition, req.CacheKey())
	if err != nil {
		slog.Warn("cache lookup failed", "partition", partition, "key", req.CacheKey(), "error", err)
		return nil
	}
	if !found {
		return nil
	}
	return resp
}

func (w *Worker) store(ctx context.Context, partition string, req *Request, resp *Response) {
	if err := w.cache.Put(ctx, partition, req.CacheKey(), resp); err != nil {
		slog.Warn("cache write failed", "partition", partition, "key", req.CacheKey(), "error", err)
	}
}
