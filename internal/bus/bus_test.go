package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func requireClosed(t *testing.T, ch <-chan Message) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"skip waiting", Message{Type: TypeSkipWaiting}, false},
		{"sync now", Message{Type: TypeSyncNow}, false},
		{"register sync", Message{Type: TypeRegisterSync, Tag: SyncTag}, false},
		{"register without tag", Message{Type: TypeRegisterSync}, true},
		{"unknown", Message{Type: "RELOAD"}, true},
		{"empty", Message{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	m, err := decode([]byte(`{"type":"REGISTER_SYNC","tag":"sync-mutations"}`))
	require.NoError(t, err)
	assert.Equal(t, Message{Type: TypeRegisterSync, Tag: SyncTag}, m)

	_, err = decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = decode([]byte(`{"type":"NOPE"}`))
	assert.Error(t, err)
}

func TestLocal_FanOutPerTopic(t *testing.T) {
	ctx := context.Background()
	b := NewLocal()
	defer b.Close()

	app1, cancel1, err := b.Subscribe(ctx, TopicApp)
	require.NoError(t, err)
	defer cancel1()
	app2, cancel2, err := b.Subscribe(ctx, TopicApp)
	require.NoError(t, err)
	defer cancel2()
	proxy, cancel3, err := b.Subscribe(ctx, TopicProxy)
	require.NoError(t, err)
	defer cancel3()

	require.NoError(t, b.Publish(ctx, TopicApp, Message{Type: TypeSyncNow}))
	require.NoError(t, b.Publish(ctx, TopicProxy, Message{Type: TypeSkipWaiting}))

	assert.Equal(t, TypeSyncNow, receive(t, app1).Type)
	assert.Equal(t, TypeSyncNow, receive(t, app2).Type)
	assert.Equal(t, TypeSkipWaiting, receive(t, proxy).Type)
}

func TestLocal_PublishWithoutSubscribers(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	assert.NoError(t, b.Publish(context.Background(), TopicApp, Message{Type: TypeSyncNow}))
}

func TestLocal_PublishInvalid(t *testing.T) {
	b := NewLocal()
	defer b.Close()
	assert.Error(t, b.Publish(context.Background(), TopicApp, Message{Type: "BOGUS"}))
}

func TestLocal_CancelClosesChannel(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), TopicApp)
	require.NoError(t, err)
	cancel()
	cancel()
	requireClosed(t, ch)

	require.NoError(t, b.Publish(context.Background(), TopicApp, Message{Type: TypeSyncNow}))
}

func TestLocal_ContextCancelClosesChannel(t *testing.T) {
	b := NewLocal()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx, TopicApp)
	require.NoError(t, err)

	cancel()
	requireClosed(t, ch)
}

func TestLocal_Close(t *testing.T) {
	b := NewLocal()
	ch, cancel, err := b.Subscribe(context.Background(), TopicProxy)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	requireClosed(t, ch)
	cancel()

	assert.ErrorIs(t, b.Publish(context.Background(), TopicProxy, Message{Type: TypeSyncNow}), ErrClosed)
	_, _, err = b.Subscribe(context.Background(), TopicProxy)
	assert.ErrorIs(t, err, ErrClosed)
}
