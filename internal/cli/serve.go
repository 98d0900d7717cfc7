package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/offline"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// ClientOptions are passed to offline.Open (for testing).
	ClientOptions []offline.Option
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon",
		Long: `Run the offsync sync daemon.

The daemon opens the local store, monitors connectivity and replays the
mutation queue whenever connectivity is restored, a SYNC_NOW message
arrives on the bus, or the poll interval elapses. Queued mutations are
replayed once at start-up.

Example:
  offsync serve --config offsync.cue
  OFFSYNC_REDIS_URL=redis://localhost:6379/0 offsync serve -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runServe(opts, cmd))
		},
	}

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	slog.Info("opening store", "path", cfg.Store.Path)
	client, err := offline.Open(cfg, opts.ClientOptions...)
	if err != nil {
		return commandError(ErrCodeStore, "failed to open client", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Error("error closing client", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	slog.Info("sync daemon starting", "api", cfg.API.BaseURL, "store", cfg.Store.Path)
	fmt.Fprintln(cmd.OutOrStdout(), "Sync daemon started.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = client.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return failure(ErrCodeSyncFailed, "sync daemon error", err)
	}

	slog.Info("sync daemon stopped gracefully")
	return nil
}
