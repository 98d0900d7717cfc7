package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/offsync/internal/api"
	"github.com/roach88/offsync/internal/bus"
	"github.com/roach88/offsync/internal/mutation"
)

// Queue is the durable mutation queue the coordinator drains.
// Implemented by *store.Store.
type Queue interface {
	EnqueueMutation(ctx context.Context, m mutation.Mutation) (bool, error)
	PendingMutations(ctx context.Context) ([]mutation.Mutation, error)
	CompleteMutation(ctx context.Context, id string) error
	RecordFailure(ctx context.Context, id, reason string) (int, error)
	DeadLetter(ctx context.Context, id string, status int, reason string) error
	PendingCount(ctx context.Context) (int, error)
	DeadLetterCount(ctx context.Context) (int, error)
}

// Requester performs API calls. Implemented by *api.Client.
type Requester interface {
	Request(ctx context.Context, method, path string, body json.RawMessage, opts ...api.RequestOption) (json.RawMessage, error)
}

// Connectivity reports whether the network is reachable.
// Implemented by *connectivity.Monitor.
type Connectivity interface {
	IsOnline() bool
}

// Publisher sends bus messages. Implemented by bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, msg bus.Message) error
}

// Hook runs after a sweep leaves the queue empty.
type Hook func(ctx context.Context)

// Result is the outcome of Submit.
type Result struct {
	// Deferred is true when the write was queued instead of sent.
	Deferred bool `json:"deferred"`

	// MutationID identifies the write; also sent as the idempotency key.
	MutationID string `json:"mutationId"`

	// Body is the server response for writes sent directly.
	Body json.RawMessage `json:"body,omitempty"`
}

// Report summarizes one replay sweep.
type Report struct {
	Skipped      bool          `json:"skipped"`
	Replayed     int           `json:"replayed"`
	Retained     int           `json:"retained"`
	DeadLettered int           `json:"deadLettered"`
	Remaining    int           `json:"remaining"`
	Failures     []ReplayError `json:"failures"`
}

// Coordinator submits writes and replays the mutation queue.
type Coordinator struct {
	queue  Queue
	api    Requester
	online Connectivity

	ids         mutation.IDGenerator
	clock       mutation.Clock
	pub         Publisher
	lease       Lease
	maxAttempts int

	hooksMu sync.Mutex
	hooks   []Hook

	replayMu sync.Mutex
	trigger  chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator sets the mutation id source.
func WithIDGenerator(g mutation.IDGenerator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithClock sets the enqueue timestamp source.
func WithClock(clk mutation.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithPublisher enables background-sync registration over the bus.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithLease sets the cross-process replay lease.
func WithLease(l Lease) Option {
	return func(c *Coordinator) { c.lease = l }
}

// WithMaxAttempts dead-letters a retryable mutation once it has failed n
// times. Zero keeps retrying forever.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// New creates a Coordinator.
func New(q Queue, r Requester, online Connectivity, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:   q,
		api:     r,
		online:  online,
		ids:     mutation.UUIDv7Generator{},
		clock:   mutation.SystemClock{},
		lease:   NewLocalLease(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDrained registers a hook that runs after every sweep that leaves the
// queue empty. Typically used to invalidate read caches.
func (c *Coordinator) OnDrained(h Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Submit performs a write.
//
// Online, the request is sent directly and its result returned. Offline, or
// when the direct call fails with a retryable error, the write is queued and
// a deferred Result is returned. A terminal rejection from the server is
// returned as an error and nothing is queued.
func (c *Coordinator) Submit(ctx context.Context, kind mutation.Kind, endpoint string, payload json.RawMessage) (Result, error) {
	m := mutation.Mutation{
		ID:       c.ids.Generate(),
		Kind:     kind,
		Endpoint: endpoint,
		Payload:  payload,
	}
	if err := m.Validate(); err != nil {
		return Result{}, fmt.Errorf("submit: %w", err)
	}

	if c.online.IsOnline() {
		body, err := c.api.Request(ctx, kind.Method(), endpoint, payload, api.WithIdempotencyKey(m.ID))
		if err == nil {
			return Result{MutationID: m.ID, Body: body}, nil
		}
		if !api.IsRetryable(err) || ctx.Err() != nil {
			return Result{}, fmt.Errorf("submit %s %s: %w", kind.Method(), endpoint, err)
		}
		slog.Warn("direct write failed, queueing",
			"mutation_id", m.ID,
			"endpoint", endpoint,
			"error", err,
		)
	}

	m.EnqueuedAt = c.clock.NowMillis()
	if _, err := c.queue.EnqueueMutation(ctx, m); err != nil {
		return Result{}, fmt.Errorf("submit: %w", err)
	}
	slog.Info("mutation queued",
		"mutation_id", m.ID,
		"kind", m.Kind,
		"endpoint", m.Endpoint,
	)

	c.registerSync(ctx)
	return Result{Deferred: true, MutationID: m.ID}, nil
}

// registerSync asks the proxy to fire a sync trigger on reconnect.
// Failures are logged only; foreground triggers still cover replay.
func (c *Coordinator) registerSync(ctx context.Context) {
	if c.pub == nil {
		return
	}
	msg := bus.Message{Type: bus.TypeRegisterSync, Tag: bus.SyncTag}
	if err := c.pub.Publish(ctx, bus.TopicProxy, msg); err != nil {
		slog.Debug("background sync registration failed", "error", err)
	}
}

// Replay drains the mutation queue once.
//
// Mutations are sent sequentially in enqueue order. A success removes the
// mutation before the next is sent. A retryable failure records the attempt
// and keeps the mutation; a terminal failure moves it to dead-letters.
// Cancelling ctx abandons the sweep and leaves unsent mutations queued.
//
// When another holder has the lease the sweep is skipped and
// Report.Skipped is set.
func (c *Coordinator) Replay(ctx context.Context) (Report, error) {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	report := Report{Failures: []ReplayError{}}

	release, ok, err := c.lease.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	if !ok {
		slog.Debug("replay skipped, lease held elsewhere")
		report.Skipped = true
		return report, nil
	}
	defer release()

	pending, err := c.queue.PendingMutations(ctx)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	if len(pending) > 0 {
		slog.Info("replay starting", "pending", len(pending))
	}

	for _, m := range pending {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("replay: %w", err)
		}

		_, reqErr := c.api.Request(ctx, m.Kind.Method(), m.Endpoint, m.Payload, api.WithIdempotencyKey(m.ID))
		if reqErr == nil {
			if err := c.queue.CompleteMutation(ctx, m.ID); err != nil {
				return report, fmt.Errorf("replay: %w", err)
			}
			report.Replayed++
			slog.Debug("mutation replayed", "mutation_id", m.ID, "endpoint", m.Endpoint)
			continue
		}
		if ctx.Err() != nil {
			// Abandoned mid-request; the idempotency key covers a retry.
			return report, fmt.Errorf("replay: %w", ctx.Err())
		}

		re, err := c.handleFailure(ctx, m, reqErr)
		if err != nil {
			return report, fmt.Errorf("replay: %w", err)
		}
		report.Failures = append(report.Failures, *re)
		switch re.Code {
		case ErrCodeRetryable:
			report.Retained++
		default:
			report.DeadLettered++
		}
	}

	remaining, err := c.queue.PendingCount(ctx)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	report.Remaining = remaining

	if remaining == 0 {
		c.runHooks(ctx)
	}

	if report.Replayed+report.Retained+report.DeadLettered > 0 {
		slog.Info("replay finished",
			"replayed", report.Replayed,
			"retained", report.Retained,
			"dead_lettered", report.DeadLettered,
			"remaining", report.Remaining,
		)
	}
	return report, nil
}

// handleFailure records a failed attempt and dead-letters the mutation when
// the failure is terminal or attempts are exhausted.
func (c *Coordinator) handleFailure(ctx context.Context, m mutation.Mutation, reqErr error) (*ReplayError, error) {
	re := classify(m.ID, m.Endpoint, reqErr)

	if re.Code == ErrCodeRetryable {
		attempts, err := c.queue.RecordFailure(ctx, m.ID, reqErr.Error())
		if err != nil {
			return nil, err
		}
		re.Attempts = attempts
		if c.maxAttempts <= 0 || attempts < c.maxAttempts {
			slog.Warn("replay failed, mutation retained",
				"mutation_id", m.ID,
				"endpoint", m.Endpoint,
				"attempts", attempts,
				"error", reqErr,
			)
			return re, nil
		}
		re.Code = ErrCodeExhausted
	}

	if err := c.queue.DeadLetter(ctx, m.ID, re.Status, reqErr.Error()); err != nil {
		return nil, err
	}
	slog.Error("mutation dead-lettered",
		"mutation_id", m.ID,
		"endpoint", m.Endpoint,
		"code", re.Code,
		"status", re.Status,
		"error", reqErr,
	)
	return re, nil
}

func (c *Coordinator) runHooks(ctx context.Context) {
	c.hooksMu.Lock()
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}

// Trigger requests a replay from the Run loop. Multiple triggers before the
// loop wakes collapse into one sweep.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run replays once at start and then on every Trigger until ctx is
// cancelled. Sweep errors are logged and the loop continues.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("sync coordinator starting")
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync coordinator stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-c.trigger:
			c.sweep(ctx)
		}
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	if _, err := c.Replay(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("replay failed", "error", err)
	}
}

// Status is the state behind an "offline / syncing N changes" indicator.
type Status struct {
	Online      bool `json:"online"`
	Pending     int  `json:"pending"`
	DeadLetters int  `json:"deadLetters"`
}

// Status reads the current connectivity and queue sizes.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	pending, err := c.queue.PendingCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	dead, err := c.queue.DeadLetterCount(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("status: %w", err)
	}
	return Status{Online: c.online.IsOnline(), Pending: pending, DeadLetters: dead}, nil
}
