package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/offsync/internal/bus"
)

// ErrStopped is returned for events submitted after the Runtime stopped.
var ErrStopped = errors.New("proxy runtime stopped")

// Runtime serializes every event through one goroutine.
//
// Thread-safety model:
//   - Submit, Deploy: safe from any goroutine, block until handled
//   - Run: must be called from exactly one goroutine
type Runtime struct {
	queue *eventQueue
	net   Fetcher

	// Touched only by the Run goroutine.
	current *Worker
	waiting *Worker
}

// NewRuntime creates a Runtime. net answers requests while no worker
// controls the proxy.
func NewRuntime(net Fetcher) *Runtime {
	return &Runtime{queue: newEventQueue(), net: net}
}

// Submit delivers ev to the controlling worker and waits for the result.
func (r *Runtime) Submit(ctx context.Context, ev Event) (*Response, error) {
	return r.send(ctx, envelope{ev: ev})
}

// Deploy installs w and, once it skips waiting, activates it in place of
// the current worker.
func (r *Runtime) Deploy(ctx context.Context, w *Worker) error {
	_, err := r.send(ctx, envelope{deploy: w})
	return err
}

func (r *Runtime) send(ctx context.Context, env envelope) (*Response, error) {
	env.reply = make(chan reply, 1)
	if !r.queue.Enqueue(env) {
		return nil, ErrStopped
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case rep := <-env.reply:
		return rep.resp, rep.err
	}
}

// Run processes events until ctx is cancelled or Stop is called.
func (r *Runtime) Run(ctx context.Context) error {
	slog.Info("proxy runtime starting")

	for {
		if env, ok := r.queue.TryDequeue(); ok {
			resp, err := r.process(ctx, env)
			env.reply <- reply{resp: resp, err: err}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("proxy runtime stopping: context cancelled")
			r.drain(ctx.Err())
			return ctx.Err()
		case <-r.queue.Wait():
			// The signal channel closes when the queue is closed.
			if r.queue.Len() == 0 && r.queue.Closed() {
				slog.Info("proxy runtime stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop makes Run return and fails pending submissions.
func (r *Runtime) Stop() {
	r.drain(ErrStopped)
}

func (r *Runtime) drain(err error) {
	for _, env := range r.queue.Close() {
		env.reply <- reply{err: err}
	}
}

// process runs one envelope. Called only from the Run goroutine.
func (r *Runtime) process(ctx context.Context, env envelope) (*Response, error) {
	if env.deploy != nil {
		return nil, r.deploy(ctx, env.deploy)
	}

	switch ev := env.ev.(type) {
	case InterceptEvent:
		if r.current == nil {
			if ev.Request == nil {
				return nil, fmt.Errorf("intercept event missing request")
			}
			resp, err := r.net.Fetch(ctx, ev.Request)
			if err != nil {
				return offlineResponse(), nil
			}
			return resp, nil
		}
		return r.current.Handle(ctx, ev)

	case MessageEvent:
		if ev.Message.Type == bus.TypeSkipWaiting && r.waiting != nil {
			w := r.waiting
			if _, err := w.Handle(ctx, ev); err != nil {
				return nil, err
			}
			r.promote(w)
			return nil, nil
		}
		if r.current == nil {
			return nil, nil
		}
		return r.current.Handle(ctx, ev)

	case SyncTriggerEvent:
		if r.current == nil {
			return nil, nil
		}
		return r.current.Handle(ctx, ev)

	case InstallEvent, ActivateEvent:
		return nil, fmt.Errorf("%s events are delivered through Deploy", EventName(ev))

	default:
		return nil, fmt.Errorf("unknown event type %T", env.ev)
	}
}

func (r *Runtime) deploy(ctx context.Context, w *Worker) error {
	if _, err := w.Handle(ctx, InstallEvent{}); err != nil {
		return err
	}
	if r.waiting != nil && r.waiting != w {
		r.waiting.Retire()
	}
	r.waiting = w
	if !w.SkipWaiting() {
		slog.Info("worker waiting", "version", w.Version())
		return nil
	}
	if _, err := w.Handle(ctx, ActivateEvent{}); err != nil {
		return err
	}
	r.promote(w)
	return nil
}

// promote makes an activated worker the controlling one.
func (r *Runtime) promote(w *Worker) {
	if r.current != nil && r.current != w {
		r.current.Retire()
	}
	r.current = w
	if r.waiting == w {
		r.waiting = nil
	}
}

// Listen forwards bus messages on TopicProxy to the Runtime until ctx is
// cancelled or the subscription ends.
func (r *Runtime) Listen(ctx context.Context, b bus.Bus) error {
	msgs, cancel, err := b.Subscribe(ctx, bus.TopicProxy)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer cancel()

	for msg := range msgs {
		if _, err := r.Submit(ctx, MessageEvent{Message: msg}); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return nil
			}
			slog.Warn("proxy message failed", "type", msg.Type, "error", err)
		}
	}
	return nil
}

// FireSyncTrigger fires the mutation-queue background-sync tag. Wire it to
// the proxy's connectivity monitor so it runs on restoration.
func (r *Runtime) FireSyncTrigger(ctx context.Context) {
	if _, err := r.Submit(ctx, SyncTriggerEvent{Tag: bus.SyncTag}); err != nil {
		slog.Warn("sync trigger failed", "tag", bus.SyncTag, "error", err)
	}
}
