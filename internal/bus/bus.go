// Package bus carries control messages between the proxy and application
// processes.
//
// Two topics exist: TopicProxy (app → proxy) and TopicApp (proxy → app).
// Delivery is best-effort and fire-and-forget: a message published while no
// subscriber is listening is lost.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Type identifies a control message.
type Type string

const (
	// TypeSkipWaiting asks a waiting proxy worker to take over now.
	TypeSkipWaiting Type = "SKIP_WAITING"

	// TypeSyncNow asks every application instance to replay its queue.
	TypeSyncNow Type = "SYNC_NOW"

	// TypeRegisterSync records a background-sync registration with the proxy.
	TypeRegisterSync Type = "REGISTER_SYNC"
)

// SyncTag is the background-sync tag used for the mutation queue.
const SyncTag = "sync-mutations"

// Topic names a direction on the bus.
type Topic string

const (
	// TopicProxy carries messages addressed to the proxy.
	TopicProxy Topic = "proxy"

	// TopicApp carries messages addressed to application instances.
	TopicApp Topic = "app"
)

// Message is a single control message.
type Message struct {
	Type Type   `json:"type"`
	Tag  string `json:"tag,omitempty"`
}

// Validate checks the message type is known.
func (m Message) Validate() error {
	switch m.Type {
	case TypeSkipWaiting, TypeSyncNow:
		return nil
	case TypeRegisterSync:
		if m.Tag == "" {
			return fmt.Errorf("%s requires a tag", m.Type)
		}
		return nil
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
}

func encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Bus publishes and subscribes to control messages.
type Bus interface {
	// Publish sends msg to every current subscriber of topic.
	Publish(ctx context.Context, topic Topic, msg Message) error

	// Subscribe returns a channel of messages on topic. The channel is
	// closed when cancel is called, ctx is done, or the bus is closed.
	Subscribe(ctx context.Context, topic Topic) (msgs <-chan Message, cancel func(), err error)

	// Close releases the bus and closes every subscription.
	Close() error
}
