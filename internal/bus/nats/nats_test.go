package nats

import (
	"context"
	"os"
	"testing"
	"time"

	"eiobot/internal/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "eiobot.events", Subject("eiobot", "events"))
	assert.Equal(t, "eiobot.events.c1", Subject("eiobot", bus.EventTopic("c1")))
	assert.Equal(t, "events.c1", Subject("", "/events/c1/"))
}

func TestNew_NoServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URLs = []string{"nats://127.0.0.1:1"}
	cfg.ConnectTimeout = 200 * time.Millisecond
	_, err := New(cfg)
	assert.Error(t, err)
}

// 需要运行中的 nats-server，通过 EIOBOT_TEST_NATS_URL 指定
func TestNatsBus_PublishSubscribe(t *testing.T) {
	url := os.Getenv("EIOBOT_TEST_NATS_URL")
	if url == "" {
		t.Skip("EIOBOT_TEST_NATS_URL not set, skipping test")
	}

	cfg := DefaultConfig()
	cfg.URLs = []string{url}
	b, err := New(cfg)
	require.NoError(t, err)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, bus.EventTopic("c1"))
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.EventTopic("c1"), []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	require.NoError(t, b.Unsubscribe(bus.EventTopic("c1")))
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}
