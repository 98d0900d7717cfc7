package harness

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/offsync/internal/api"
	"github.com/roach88/offsync/internal/bridge"
	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/mutation"
	"github.com/roach88/offsync/internal/store"
	"github.com/roach88/offsync/internal/syncer"
	"github.com/roach88/offsync/internal/testutil"
)

// Harness is the scenario execution engine.
// It wires a real coordinator and bridge to an in-memory store and a
// recording fake API, with a manual clock and sequential mutation ids.
type Harness struct {
	store   *store.Store
	api     *testutil.APIRecorder
	monitor *connectivity.Monitor
	clock   *testutil.ManualClock
	coord   *syncer.Coordinator
	bridge  *bridge.Bridge

	seenCalls int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a fresh fake
// API for isolation. Assertion failures are reported in Result.Errors;
// the returned error is reserved for harness failures.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rec := testutil.StartAPIRecorder()
	defer rec.Close()
	for _, r := range scenario.API {
		rec.Respond(r.Method, r.Path, r.Status, r.Body)
	}

	client, err := api.New(rec.URL)
	if err != nil {
		return nil, err
	}

	prefix := scenario.IDPrefix
	if prefix == "" {
		prefix = "m"
	}

	h := &Harness{
		store:   st,
		api:     rec,
		monitor: connectivity.New(scenario.Online),
		clock:   testutil.NewManualClock(0),
	}
	h.coord = syncer.New(st, client, h.monitor,
		syncer.WithClock(h.clock),
		syncer.WithIDGenerator(testutil.NewSequenceGenerator(prefix)),
		syncer.WithMaxAttempts(scenario.MaxAttempts),
	)
	h.bridge = bridge.New(client, st, h.monitor)

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.recordCalls(result)
	}

	status, err := h.coord.Status(ctx)
	if err != nil {
		return nil, err
	}
	result.Final = Final{Pending: status.Pending, DeadLetters: status.DeadLetters}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, &AssertionContext{Store: st, Ctx: ctx}) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Submit != nil:
		return h.submit(ctx, step.Submit, result)

	case step.Online != nil:
		h.monitor.Set(*step.Online)
		result.AddEvent(EventConnectivity, map[string]any{"online": *step.Online})

	case step.Replay:
		report, err := h.coord.Replay(ctx)
		if err != nil {
			return err
		}
		result.AddEvent(EventReplay, map[string]any{
			"replayed":      report.Replayed,
			"retained":      report.Retained,
			"dead_lettered": report.DeadLettered,
			"remaining":     report.Remaining,
		})

	case step.Read != "":
		fields := map[string]any{"resource": step.Read}
		resp, err := h.bridge.Read(ctx, step.Read)
		if err != nil {
			fields["error"] = errorKind(err)
		} else {
			fields["cached"] = resp.Cached
			if len(resp.Body) > 0 {
				fields["body"] = resp.Body
			}
		}
		result.AddEvent(EventRead, fields)

	case len(step.Fail) > 0:
		h.api.Fail(step.Fail...)

	case step.Down != nil:
		h.api.SetDown(*step.Down)

	case step.Respond != nil:
		h.api.Respond(step.Respond.Method, step.Respond.Path, step.Respond.Status, step.Respond.Body)
	}
	return nil
}

func (h *Harness) submit(ctx context.Context, s *SubmitStep, result *Result) error {
	kind, err := mutation.ParseKind(s.Kind)
	if err != nil {
		return err
	}

	var payload json.RawMessage
	if s.Payload != nil {
		payload, err = json.Marshal(s.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	h.clock.Set(s.At)
	fields := map[string]any{"kind": string(kind), "endpoint": s.Endpoint}
	res, err := h.coord.Submit(ctx, kind, s.Endpoint, payload)
	if err != nil {
		fields["error"] = errorKind(err)
	} else {
		fields["mutation_id"] = res.MutationID
		fields["deferred"] = res.Deferred
	}
	result.AddEvent(EventSubmit, fields)
	return nil
}

// recordCalls appends API calls received since the previous step.
func (h *Harness) recordCalls(result *Result) {
	calls := h.api.Calls()
	for _, c := range calls[h.seenCalls:] {
		fields := map[string]any{"method": c.Method, "path": c.Path}
		if len(c.Body) > 0 {
			fields["body"] = c.Body
		}
		if c.IdempotencyKey != "" {
			fields["idempotency_key"] = c.IdempotencyKey
		}
		result.AddEvent(EventCall, fields)
	}
	h.seenCalls = len(calls)
}

// errorKind reduces an error to a stable description for traces.
func errorKind(err error) string {
	if status := api.StatusOf(err); status != 0 {
		return fmt.Sprintf("status %d", status)
	}
	if api.IsNetworkError(err) {
		return "network"
	}
	return "invalid"
}
