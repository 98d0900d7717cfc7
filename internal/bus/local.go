package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// subscriberBuffer bounds each local subscription; a full subscriber drops.
const subscriberBuffer = 32

// Local is an in-process Bus for single-binary deployments and tests.
type Local struct {
	mu     sync.Mutex
	subs   map[Topic]map[int]chan Message
	nextID int
	closed bool
	done   chan struct{}
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{
		subs: make(map[Topic]map[int]chan Message),
		done: make(chan struct{}),
	}
}

// Publish fans msg out to every subscriber of topic.
func (l *Local) Publish(ctx context.Context, topic Topic, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	for id, ch := range l.subs[topic] {
		select {
		case ch <- msg:
		default:
			slog.Warn("bus subscriber full, dropping message",
				"topic", topic, "subscriber", id, "type", msg.Type)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on topic.
func (l *Local) Subscribe(ctx context.Context, topic Topic) (<-chan Message, func(), error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, nil, ErrClosed
	}
	id := l.nextID
	l.nextID++
	ch := make(chan Message, subscriberBuffer)
	if l.subs[topic] == nil {
		l.subs[topic] = make(map[int]chan Message)
	}
	l.subs[topic][id] = ch
	l.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[topic][id]; ok {
				delete(l.subs[topic], id)
				close(c)
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		case <-l.done:
		}
	}()

	return ch, cancel, nil
}

// Close closes every subscription.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	for _, subs := range l.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
	}
	return nil
}
