package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"eiobot/internal/bus"
	"eiobot/internal/dispatcher"
	"eiobot/internal/metrics"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBus 记录发布的消息，可注入错误
type MockBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
}

func newMockBus() *MockBus {
	return &MockBus{published: make(map[string][][]byte)}
}

func (m *MockBus) Publish(ctx context.Context, topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published[topic] = append(m.published[topic], data)
	return nil
}

func (m *MockBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (m *MockBus) Unsubscribe(topic string) error { return nil }
func (m *MockBus) Close() error                   { return nil }

func (m *MockBus) messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[topic]
}

var _ bus.MessageBus = (*MockBus)(nil)

// captureLogs 临时替换默认logger
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLogs(t)

	h := LogEvent("u:log")
	require.NoError(t, h(context.Background(), dispatcher.Args{json.RawMessage(`"hello"`), json.RawMessage(`{"n":1}`)}))

	out := buf.String()
	assert.Contains(t, out, "event received")
	assert.Contains(t, out, "event=u:log")
	assert.Contains(t, out, "argc=2")
	assert.Contains(t, out, `[\"hello\",{\"n\":1}]`)
}

func TestRelay_PublishesEnvelope(t *testing.T) {
	b := newMockBus()
	now := time.UnixMilli(1700000000123)
	r := NewRelay(b, "client-1", RelayConfig{}, WithRelayMetrics(metrics.NewMetrics("test")), WithRelayClock(func() time.Time { return now }))

	err := r.Handler("u:ammo")(context.Background(), dispatcher.Args{json.RawMessage(`2`)})
	require.NoError(t, err)

	msgs := b.messages(bus.EventTopic(""))
	require.Len(t, msgs, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal(msgs[0], &env))
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "u:ammo", env.Event)
	assert.Equal(t, "client-1", env.ClientID)
	assert.Equal(t, int64(1700000000123), env.TS)
	require.Len(t, env.Args, 1)
	assert.JSONEq(t, `2`, string(env.Args[0]))
}

func TestRelay_NilArgsEncodeAsEmptyArray(t *testing.T) {
	b := newMockBus()
	r := NewRelay(b, "c", RelayConfig{Topic: "custom"}, WithRelayMetrics(metrics.NewMetrics("test")))

	require.NoError(t, r.Publish(context.Background(), "ping", nil))
	msgs := b.messages("custom")
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), `"args":[]`)
}

func TestRelay_BreakerOpensAfterFailures(t *testing.T) {
	b := newMockBus()
	b.err = bus.ErrPublishFailed
	r := NewRelay(b, "c", RelayConfig{BreakerMaxFailures: 2, BreakerTimeout: time.Minute}, WithRelayMetrics(metrics.NewMetrics("test")))

	for i := 0; i < 2; i++ {
		err := r.Publish(context.Background(), "chat", nil)
		assert.ErrorIs(t, err, bus.ErrPublishFailed)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	// 熔断后不再调用总线
	b.mu.Lock()
	b.err = nil
	b.mu.Unlock()
	err := r.Publish(context.Background(), "chat", nil)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Empty(t, b.messages(bus.EventTopic("")))
}

func TestRegisterHandlers(t *testing.T) {
	captureLogs(t)
	b := newMockBus()
	d := dispatcher.NewDispatcher(dispatcher.WithMetrics(metrics.NewMetrics("test")))
	cfg := Config{
		LogEvents: []string{"u:log"},
		Relay:     RelayConfig{Events: []string{"u:log", "u:ammo"}},
	}
	r := NewRelay(b, "c", cfg.Relay, WithRelayMetrics(metrics.NewMetrics("test")))

	RegisterHandlers(d, cfg, r)
	assert.True(t, d.Has("u:log"))
	assert.True(t, d.Has("u:ammo"))

	d.Dispatch(context.Background(), "u:log", nil)
	d.Dispatch(context.Background(), "u:ammo", nil)
	assert.Len(t, b.messages(bus.EventTopic("")), 2)

	// 不转发时只注册日志处理函数
	d2 := dispatcher.NewDispatcher(dispatcher.WithMetrics(metrics.NewMetrics("test")))
	RegisterHandlers(d2, cfg, nil)
	assert.True(t, d2.Has("u:log"))
	assert.False(t, d2.Has("u:ammo"))
}
