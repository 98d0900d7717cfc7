package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/offline"
	"github.com/roach88/offsync/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
}

// SyncResult is the output of the sync command.
type SyncResult struct {
	syncer.Report
}

// RenderText prints the sweep summary and one line per failure.
func (r SyncResult) RenderText(w io.Writer) {
	if r.Skipped {
		fmt.Fprintln(w, "Sync skipped: another process holds the replay lease.")
		return
	}
	fmt.Fprintf(w, "Replayed %d, retained %d, dead-lettered %d, %d remaining\n",
		r.Replayed, r.Retained, r.DeadLettered, r.Remaining)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s %s: %s\n", f.Code, f.MutationID, f.Message)
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the mutation queue once",
		Long: `Replay every queued mutation once, oldest first, and exit.

Mutations the server rejects with a 4xx status are moved to dead-letters.
Network failures and 5xx responses leave the mutation queued.

Exit codes:
  0 - Queue drained
  1 - Mutations remain queued or were dead-lettered
  2 - Command error (bad config, store unavailable, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runSync(opts, cmd))
		},
	}

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	client, err := offline.Open(cfg)
	if err != nil {
		return commandError(ErrCodeStore, "failed to open client", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			slog.Error("error closing client", "error", closeErr)
		}
	}()

	ctx := commandContext(cmd)
	if cfg.Probe.URL != "" {
		if !client.Monitor().Probe(ctx) {
			return failure(ErrCodeSyncFailed, fmt.Sprintf("offline: %s unreachable", cfg.Probe.URL), nil)
		}
	}

	report, err := client.Sync(ctx)
	if err != nil {
		return failure(ErrCodeSyncFailed, "replay failed", err)
	}

	result := SyncResult{Report: report}
	if report.Retained > 0 || report.DeadLettered > 0 {
		if opts.Format != "json" {
			result.RenderText(cmd.OutOrStdout())
		}
		err := failure(ErrCodeSyncFailed, fmt.Sprintf("%d mutation(s) not replayed", report.Retained+report.DeadLettered), nil)
		err.Details = result
		return err
	}
	return opts.formatter(cmd).Success(result)
}
