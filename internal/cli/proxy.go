package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/bus"
	"github.com/roach88/offsync/internal/config"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/proxy"
)

// ProxyOptions holds flags for the proxy command.
type ProxyOptions struct {
	*RootOptions
	Listen string
}

// NewProxyCommand creates the proxy command.
func NewProxyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProxyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the intercepting proxy",
		Long: `Run the network-interception proxy in front of the origin.

On start the proxy installs a worker for proxy.version: it caches the
application shell (from the origin, or from S3 when proxy.s3.bucket is set)
and pre-fetches proxy.routes, then activates and deletes caches from other
versions. Static assets are served cache-first, everything else
network-first with a cache fallback. API calls bypass the caches.

Example:
  offsync proxy --config offsync.cue
  offsync proxy --listen :9000 -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runProxy(opts, cmd))
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "", "listen address (overrides proxy.listen)")

	return cmd
}

func runProxy(opts *ProxyOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Proxy.Listen = opts.Listen
	}

	stack, err := newProxyStack(cfg)
	if err != nil {
		return commandError(ErrCodeConfig, "failed to build proxy", err)
	}
	defer stack.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- stack.runtime.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	slog.Info("installing proxy worker", "version", cfg.Proxy.Version, "upstream", cfg.Proxy.Upstream)
	if err := stack.runtime.Deploy(ctx, stack.worker); err != nil {
		return failure(ErrCodeGeneric, "proxy install failed", err)
	}

	go func() {
		if err := stack.runtime.Listen(ctx, stack.bus); err != nil {
			slog.Error("proxy bus listener stopped", "error", err)
		}
	}()
	cancelRestored := stack.monitor.OnRestored(func() {
		go stack.runtime.FireSyncTrigger(ctx)
	})
	defer cancelRestored()
	go func() { _ = stack.monitor.Run(ctx) }()

	fmt.Fprintf(cmd.OutOrStdout(), "Proxy %s listening on %s\n", cfg.Proxy.Version, cfg.Proxy.Listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = proxy.NewServer(stack.runtime).ListenAndServe(ctx, cfg.Proxy.Listen)
	if err != nil && !errors.Is(err, context.Canceled) {
		return failure(ErrCodeGeneric, "proxy server error", err)
	}

	slog.Info("proxy stopped gracefully")
	return nil
}

// proxyStack is everything the proxy command wires together.
type proxyStack struct {
	cache    *proxy.Cache
	upstream *proxy.Upstream
	worker   *proxy.Worker
	runtime  *proxy.Runtime
	bus      bus.Bus
	monitor  *connectivity.Monitor
}

func newProxyStack(cfg *config.Config) (*proxyStack, error) {
	upstream, err := proxy.NewUpstream(cfg.Proxy.Upstream, cfg.Proxy.Timeout.Duration)
	if err != nil {
		return nil, err
	}

	workerOpts := []proxy.WorkerOption{}
	if s3cfg, ok := cfg.Proxy.ShellBucket(); ok {
		shell, err := proxy.NewS3Shell(s3cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("shell source", "bucket", s3cfg.Bucket, "endpoint", s3cfg.Endpoint)
		workerOpts = append(workerOpts, proxy.WithShellSource(shell))
	}
	if len(cfg.Proxy.Bypass) > 0 {
		rules, err := proxy.CompileRules(cfg.Proxy.Bypass...)
		if err != nil {
			return nil, err
		}
		workerOpts = append(workerOpts, proxy.WithRules(rules))
	}

	var b bus.Bus
	if cfg.Bus.RedisURL != "" {
		rb, err := bus.NewRedis(cfg.Bus.RedisURL, cfg.Bus.Prefix)
		if err != nil {
			return nil, err
		}
		b = rb
	} else {
		b = bus.NewLocal()
	}
	workerOpts = append(workerOpts, proxy.WithPublisher(b))

	cache, err := proxy.OpenCache(cfg.Proxy.CacheDB)
	if err != nil {
		b.Close()
		return nil, err
	}

	worker, err := proxy.NewWorker(cfg.Proxy.WorkerConfig(), cache, upstream, workerOpts...)
	if err != nil {
		cache.Close()
		b.Close()
		return nil, err
	}

	var monOpts []connectivity.Option
	if cfg.Probe.URL != "" {
		monOpts = append(monOpts, connectivity.WithProbe(cfg.Probe.URL, cfg.Probe.Interval.Duration))
	}

	return &proxyStack{
		cache:    cache,
		upstream: upstream,
		worker:   worker,
		runtime:  proxy.NewRuntime(upstream),
		bus:      b,
		monitor:  connectivity.New(true, monOpts...),
	}, nil
}

// Close releases the cache database and the bus.
func (s *proxyStack) Close() {
	if err := s.bus.Close(); err != nil {
		slog.Error("error closing bus", "error", err)
	}
	if err := s.cache.Close(); err != nil {
		slog.Error("error closing proxy cache", "error", err)
	}
}
