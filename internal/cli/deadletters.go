package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/store"
)

// DeadLettersOptions holds flags for the dead-letters command.
type DeadLettersOptions struct {
	*RootOptions
	Requeue []string
}

// DeadLettersResult is the output of the dead-letters command.
type DeadLettersResult struct {
	DeadLetters []mutation.DeadLetter `json:"deadLetters"`
	Requeued    []string              `json:"requeued,omitempty"`
}

// RenderText prints one line per dead letter, or the requeued ids.
func (r DeadLettersResult) RenderText(w io.Writer) {
	for _, id := range r.Requeued {
		fmt.Fprintf(w, "Requeued %s\n", id)
	}
	if len(r.Requeued) > 0 {
		return
	}
	if len(r.DeadLetters) == 0 {
		fmt.Fprintln(w, "No dead letters.")
		return
	}
	for _, dl := range r.DeadLetters {
		status := "-"
		if dl.Status != 0 {
			status = fmt.Sprint(dl.Status)
		}
		fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\n", dl.ID, dl.Kind, dl.Endpoint, status, dl.Reason)
	}
}

// NewDeadLettersCommand creates the dead-letters command.
func NewDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeadLettersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List or requeue dead-lettered mutations",
		Long: `List mutations the server rejected or that ran out of attempts.

With --requeue, move the named mutations back into the pending queue with
their original enqueue time. They are replayed by the next sync.

Examples:
  offsync dead-letters
  offsync dead-letters --requeue 0190f7b2-... --requeue 0190f7b3-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runDeadLetters(opts, cmd))
		},
	}

	cmd.Flags().StringArrayVar(&opts.Requeue, "requeue", nil, "move a dead letter back to the queue (repeatable)")

	return cmd
}

func runDeadLetters(opts *DeadLettersOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	formatter := opts.formatter(cmd)

	if len(opts.Requeue) > 0 {
		requeued := make([]string, 0, len(opts.Requeue))
		for _, id := range opts.Requeue {
			if err := st.RequeueDeadLetter(ctx, id); err != nil {
				if errors.Is(err, store.ErrMutationNotFound) {
					return failure(ErrCodeNotFound, fmt.Sprintf("dead letter %s not found", id), nil)
				}
				return failure(ErrCodeStore, "failed to requeue", err)
			}
			requeued = append(requeued, id)
		}
		letters, err := st.DeadLetters(ctx)
		if err != nil {
			return failure(ErrCodeStore, "failed to list dead letters", err)
		}
		return formatter.Success(DeadLettersResult{DeadLetters: letters, Requeued: requeued})
	}

	letters, err := st.DeadLetters(ctx)
	if err != nil {
		return failure(ErrCodeStore, "failed to list dead letters", err)
	}
	return formatter.Success(DeadLettersResult{DeadLetters: letters})
}
