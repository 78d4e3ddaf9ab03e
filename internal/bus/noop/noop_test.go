package noop

import (
	"context"
	"testing"
	"time"

	"eiobot/internal/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopBus_PublishSubscribe(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Publish(ctx, bus.EventTopic("c1"), []byte("hello")))
	assert.ErrorIs(t, b.Publish(ctx, "", []byte("hello")), bus.ErrTopicEmpty)
	assert.Equal(t, int64(1), b.Dropped())

	ch, err := b.Subscribe(ctx, bus.EventTopic(""))
	require.NoError(t, err)

	select {
	case <-ch:
		t.Fatal("noop bus should not deliver messages")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestNoopBus_Closed(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), bus.ErrBusClosed)
	_, err := b.Subscribe(context.Background(), "t")
	assert.ErrorIs(t, err, bus.ErrBusClosed)
	assert.ErrorIs(t, b.Unsubscribe(""), bus.ErrTopicEmpty)
}

func TestEventTopic(t *testing.T) {
	assert.Equal(t, "events", bus.EventTopic(""))
	assert.Equal(t, "events/abc", bus.EventTopic("abc"))
}
