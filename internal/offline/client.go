// Package offline assembles the application-side data layer: local store,
// API client, connectivity monitor, sync coordinator, query cache bridge
// and message bus.
//
// Reads go through the bridge so successful responses are mirrored and
// offline reads fall back to the store. Writes go through the coordinator
// so they are sent directly when online and queued otherwise. The queue is
// replayed at start, when connectivity is restored and when the proxy
// broadcasts SYNC_NOW.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/offsync/internal/api"
	"github.com/roach88/offsync/internal/bridge"
	"github.com/roach88/offsync/internal/bus"
	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncer"
)

// Client is the application's entry point into the data layer.
type Client struct {
	store   *store.Store
	api     *api.Client
	monitor *connectivity.Monitor
	coord   *syncer.Coordinator
	bridge  *bridge.Bridge
	bus     bus.Bus

	pollInterval time.Duration
	ownsBus      bool
	cancelHook   func()
}

// Option configures Open.
type Option func(*options)

type options struct {
	monitor    *connectivity.Monitor
	bus        bus.Bus
	httpClient *http.Client
	syncOpts   []syncer.Option
}

// WithMonitor supplies the connectivity monitor instead of building one
// from the probe configuration.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithBus supplies the message bus. The caller keeps ownership.
func WithBus(b bus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithSyncOptions appends coordinator options.
func WithSyncOptions(opts ...syncer.Option) Option {
	return func(o *options) { o.syncOpts = append(o.syncOpts, opts...) }
}

// Open builds a Client from configuration.
func Open(cfg *config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}

	var apiOpts []api.Option
	if o.httpClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(o.httpClient))
	}
	if cfg.API.Token != "" {
		apiOpts = append(apiOpts, api.WithToken(cfg.API.Token))
	}
	apiOpts = append(apiOpts, api.WithTimeout(cfg.API.Timeout.Duration))
	apiClient, err := api.New(cfg.API.BaseURL, apiOpts...)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path, store.WithPartitions(cfg.ExtraPartitions()...))
	if err != nil {
		return nil, err
	}

	c := &Client{
		store:        st,
		api:          apiClient,
		monitor:      o.monitor,
		bus:          o.bus,
		pollInterval: cfg.Sync.PollInterval.Duration,
	}

	if c.monitor == nil {
		var monOpts []connectivity.Option
		if cfg.Probe.URL != "" {
			monOpts = append(monOpts, connectivity.WithProbe(cfg.Probe.URL, cfg.Probe.Interval.Duration))
		}
		c.monitor = connectivity.New(true, monOpts...)
	}

	syncOpts := []syncer.Option{syncer.WithMaxAttempts(cfg.Sync.MaxAttempts)}
	if c.bus == nil {
		if cfg.Bus.RedisURL != "" {
			rb, err := bus.NewRedis(cfg.Bus.RedisURL, cfg.Bus.Prefix)
			if err != nil {
				st.Close()
				return nil, err
			}
			c.bus = rb
			syncOpts = append(syncOpts, syncer.WithLease(
				syncer.NewRedisLease(rb.Client(), cfg.Sync.LeaseKey, cfg.Sync.LeaseTTL.Duration)))
		} else {
			c.bus = bus.NewLocal()
		}
		c.ownsBus = true
	}
	syncOpts = append(syncOpts, syncer.WithPublisher(c.bus))
	syncOpts = append(syncOpts, o.syncOpts...)

	c.coord = syncer.New(st, apiClient, c.monitor, syncOpts...)
	c.bridge = bridge.New(apiClient, st, c.monitor, bridge.WithTable(table))

	c.coord.OnDrained(func(context.Context) { c.bridge.Invalidate() })
	c.cancelHook = c.monitor.OnRestored(c.coord.Trigger)

	return c, nil
}

// Close releases the store and any bus the client created.
func (c *Client) Close() error {
	c.cancelHook()
	var busErr error
	if c.ownsBus {
		busErr = c.bus.Close()
	}
	if err := c.store.Close(); err != nil {
		return err
	}
	return busErr
}

// Read fetches a resource through the query cache bridge.
func (c *Client) Read(ctx context.Context, resource string) (bridge.Response, error) {
	return c.bridge.Read(ctx, resource)
}

// Submit performs a write, queueing it when it cannot be delivered now.
func (c *Client) Submit(ctx context.Context, kind mutation.Kind, endpoint string, payload json.RawMessage) (syncer.Result, error) {
	return c.coord.Submit(ctx, kind, endpoint, payload)
}

// Sync runs one replay sweep.
func (c *Client) Sync(ctx context.Context) (syncer.Report, error) {
	return c.coord.Replay(ctx)
}

// Status reports connectivity and queue sizes.
func (c *Client) Status(ctx context.Context) (syncer.Status, error) {
	return c.coord.Status(ctx)
}

// Watch reports status changes until ctx is cancelled.
func (c *Client) Watch(ctx context.Context, report func(syncer.Status)) error {
	return syncer.NewPoller(c.coord, c.pollInterval, report).Run(ctx)
}

func (c *Client) Store() *store.Store              { return c.store }
func (c *Client) Monitor() *connectivity.Monitor   { return c.monitor }
func (c *Client) Coordinator() *syncer.Coordinator { return c.coord }
func (c *Client) Bridge() *bridge.Bridge           { return c.bridge }
func (c *Client) Bus() bus.Bus                     { return c.bus }

// Run drives the monitor and the replay loop and listens for SYNC_NOW
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	msgs, cancel, err := c.bus.Subscribe(ctx, bus.TopicApp)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = c.monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = c.coord.Run(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			if msg.Type == bus.TypeSyncNow {
				slog.Debug("sync requested over bus")
				c.coord.Trigger()
			}
		}
	}
}
