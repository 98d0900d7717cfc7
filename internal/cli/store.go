package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/store"
)

// RecordsResult is the output of the get command.
type RecordsResult struct {
	Partition string         `json:"partition"`
	Records   []store.Record `json:"records"`
}

// RenderText prints one "id<TAB>value" line per record.
func (r RecordsResult) RenderText(w io.Writer) {
	if len(r.Records) == 0 {
		fmt.Fprintf(w, "No records in %s.\n", r.Partition)
		return
	}
	for _, rec := range r.Records {
		fmt.Fprintf(w, "%s\t%s\n", rec.ID, rec.Value)
	}
}

// PartitionsResult is the output of get without arguments.
type PartitionsResult struct {
	Partitions []string `json:"partitions"`
}

// RenderText prints one partition per line.
func (r PartitionsResult) RenderText(w io.Writer) {
	for _, p := range r.Partitions {
		fmt.Fprintln(w, p)
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [partition] [id]",
		Short: "Read records from the local store",
		Long: `Read records from the local store.

Without arguments, list the store's partitions. With a partition, print
every record in it. With a partition and an id, print that record.
The pending-mutations and dead-letters partitions show the queue.

Examples:
  offsync get
  offsync get tasks
  offsync get tasks 42
  offsync get pending-mutations --format json`,
		Args:          cobra.RangeArgs(0, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Fail(runGet(rootOpts, args, cmd))
		},
	}

	return cmd
}

func runGet(opts *RootOptions, args []string, cmd *cobra.Command) error {
	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	formatter := opts.formatter(cmd)

	switch len(args) {
	case 0:
		partitions, err := st.Partitions(ctx)
		if err != nil {
			return failure(ErrCodeStore, "failed to list partitions", err)
		}
		return formatter.Success(PartitionsResult{Partitions: partitions})

	case 1:
		if !st.HasPartition(args[0]) {
			return commandError(ErrCodeNotFound, fmt.Sprintf("unknown partition %q", args[0]), nil)
		}
		records, err := st.GetAll(ctx, args[0])
		if err != nil {
			return failure(ErrCodeStore, "failed to read partition", err)
		}
		return formatter.Success(RecordsResult{Partition: args[0], Records: records})

	default:
		if !st.HasPartition(args[0]) {
			return commandError(ErrCodeNotFound, fmt.Sprintf("unknown partition %q", args[0]), nil)
		}
		rec, found, err := st.GetOne(ctx, args[0], args[1])
		if err != nil {
			return failure(ErrCodeStore, "failed to read record", err)
		}
		if !found {
			return failure(ErrCodeNotFound, fmt.Sprintf("record %s/%s not found", args[0], args[1]), nil)
		}
		return formatter.Success(RecordsResult{Partition: args[0], Records: []store.Record{rec}})
	}
}

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	ID string
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear <partition>",
		Short: "Delete records from the local store",
		Long: `Delete every record in a partition, or one record with --id.

Clearing pending-mutations drops queued writes without sending them.

Examples:
  offsync clear tasks
  offsync clear tasks --id 42
  offsync clear dead-letters`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runClear(opts, args[0], cmd))
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "delete only this record")

	return cmd
}

func runClear(opts *ClearOptions, partition string, cmd *cobra.Command) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if !st.HasPartition(partition) {
		return commandError(ErrCodeNotFound, fmt.Sprintf("unknown partition %q", partition), nil)
	}

	ctx := commandContext(cmd)
	if opts.ID != "" {
		if err := st.Delete(ctx, partition, opts.ID); err != nil {
			return failure(ErrCodeStore, "failed to delete record", err)
		}
		return opts.formatter(cmd).Success(fmt.Sprintf("Deleted %s/%s", partition, opts.ID))
	}

	if err := st.Clear(ctx, partition); err != nil {
		return failure(ErrCodeStore, "failed to clear partition", err)
	}
	return opts.formatter(cmd).Success(fmt.Sprintf("Cleared %s", partition))
}

// openStore opens the configured store with any extra resource partitions.
func openStore(opts *RootOptions) (*store.Store, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	slog.Debug("opening store", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path, store.WithPartitions(cfg.ExtraPartitions()...))
	if err != nil {
		return nil, commandError(ErrCodeStore, "failed to open store", err)
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing store", "error", err)
	}
}
