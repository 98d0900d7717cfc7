package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/offline"
	"github.com/roach88/offsync/internal/syncer"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Watch bool
}

// StatusResult is the output of the status command.
type StatusResult struct {
	syncer.Status
}

// RenderText prints a one-line connectivity and queue indicator.
func (r StatusResult) RenderText(w io.Writer) {
	state := "online"
	if !r.Online {
		state = "offline"
	}
	switch {
	case r.Pending == 0:
		fmt.Fprintf(w, "%s, all changes synced", state)
	case r.Online:
		fmt.Fprintf(w, "%s, syncing %d change(s)", state, r.Pending)
	default:
		fmt.Fprintf(w, "%s, %d change(s) waiting", state, r.Pending)
	}
	if r.DeadLetters > 0 {
		fmt.Fprintf(w, ", %d dead-lettered", r.DeadLetters)
	}
	fmt.Fprintln(w)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue sizes",
		Long: `Show whether the API is reachable and how many mutations are waiting.

With --watch, print a new line every time the status changes until
interrupted. Connectivity is probed when probe.url is configured.

Examples:
  offsync status
  offsync status --watch
  offsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runStatus(opts, cmd))
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "print status changes until interrupted")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
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

	formatter := opts.formatter(cmd)

	if !opts.Watch {
		ctx := commandContext(cmd)
		client.Monitor().Probe(ctx)
		status, err := client.Status(ctx)
		if err != nil {
			return commandError(ErrCodeStore, "failed to read status", err)
		}
		return formatter.Success(StatusResult{Status: status})
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	go func() { _ = client.Monitor().Run(ctx) }()

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = client.Watch(ctx, func(st syncer.Status) {
		if opts.Format == "json" {
			// One object per line.
			_ = enc.Encode(st)
			return
		}
		StatusResult{Status: st}.RenderText(cmd.OutOrStdout())
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return failure(ErrCodeGeneric, "watch failed", err)
	}
	return nil
}
