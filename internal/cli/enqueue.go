package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/bus"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/offline"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	Kind     string
	Endpoint string
	Payload  string // inline JSON, or @path to read from a file
	ID       string
	Notify   bool
}

// EnqueueResult is the output of the enqueue command.
type EnqueueResult struct {
	MutationID string `json:"mutationId"`
	Inserted   bool   `json:"inserted"`
}

// RenderText prints the queued id.
func (r EnqueueResult) RenderText(w io.Writer) {
	if !r.Inserted {
		fmt.Fprintf(w, "Mutation %s already queued or applied\n", r.MutationID)
		return
	}
	fmt.Fprintf(w, "Queued mutation %s\n", r.MutationID)
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a mutation for replay",
		Long: `Queue a write in the local mutation queue without sending it.

The mutation is replayed by the next sync, in enqueue order. Re-using an
id is a no-op, so scripted enqueues are safe to retry. Unless --notify=false
is given, a SYNC_NOW message is published so a running daemon replays at once.

Examples:
  offsync enqueue --kind create --endpoint /api/tasks --payload '{"title":"a"}'
  offsync enqueue --kind update --endpoint /api/tasks/42 --payload @task.json
  offsync enqueue --kind delete --endpoint /api/tasks/42 --id del-42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.formatter(cmd).Fail(runEnqueue(opts, cmd))
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "", "mutation kind: create, update or delete (required)")
	cmd.Flags().StringVarP(&opts.Endpoint, "endpoint", "e", "", "API path the write targets (required)")
	cmd.Flags().StringVarP(&opts.Payload, "payload", "p", "", "JSON payload, or @file")
	cmd.Flags().StringVar(&opts.ID, "id", "", "mutation id (default: new UUIDv7)")
	cmd.Flags().BoolVar(&opts.Notify, "notify", true, "publish SYNC_NOW after queueing")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("endpoint")

	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command) error {
	kind, err := mutation.ParseKind(opts.Kind)
	if err != nil {
		return commandError(ErrCodeInvalidInput, "invalid --kind", err)
	}
	payload, err := readPayload(opts.Payload)
	if err != nil {
		return commandError(ErrCodeInvalidInput, "invalid --payload", err)
	}

	id := opts.ID
	if id == "" {
		id = mutation.UUIDv7Generator{}.Generate()
	}

	m := mutation.Mutation{
		ID:         id,
		Kind:       kind,
		Endpoint:   opts.Endpoint,
		Payload:    payload,
		EnqueuedAt: mutation.SystemClock{}.NowMillis(),
	}
	if err := m.Validate(); err != nil {
		return commandError(ErrCodeInvalidInput, "invalid mutation", err)
	}

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
	inserted, err := client.Store().EnqueueMutation(ctx, m)
	if err != nil {
		return failure(ErrCodeStore, "failed to enqueue", err)
	}
	slog.Debug("mutation enqueued", "mutation_id", m.ID, "inserted", inserted)

	if inserted && opts.Notify {
		if err := client.Bus().Publish(ctx, bus.TopicApp, bus.Message{Type: bus.TypeSyncNow}); err != nil {
			slog.Warn("sync notification failed", "error", err)
		}
	}

	return opts.formatter(cmd).Success(EnqueueResult{MutationID: m.ID, Inserted: inserted})
}

// readPayload returns the payload bytes, reading "@path" from disk.
// An empty flag means no payload.
func readPayload(flag string) (json.RawMessage, error) {
	if flag == "" {
		return nil, nil
	}
	data := []byte(flag)
	if path, ok := strings.CutPrefix(flag, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = bytes.TrimSpace(b)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
