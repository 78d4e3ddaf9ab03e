package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"eiobot/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() (*Dispatcher, *metrics.Metrics) {
	m := metrics.NewMetrics("test")
	return NewDispatcher(WithMetrics(m)), m
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestDispatch_RunsHandlersInRegistrationOrder(t *testing.T) {
	d, _ := newTestDispatcher()

	var calls []string
	d.Register("u:ammo", func(ctx context.Context, args Args) error {
		calls = append(calls, "first")
		return nil
	})
	d.Register("u:ammo", func(ctx context.Context, args Args) error {
		calls = append(calls, "second")
		return nil
	})

	d.Dispatch(context.Background(), "u:ammo", nil)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestDispatch_ErrorAndPanicAreIsolated(t *testing.T) {
	d, m := newTestDispatcher()

	var reached bool
	d.Register("chat", func(ctx context.Context, args Args) error {
		return errors.New("boom")
	})
	d.Register("chat", func(ctx context.Context, args Args) error {
		panic("bad handler")
	})
	d.Register("chat", func(ctx context.Context, args Args) error {
		reached = true
		return nil
	})

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), "chat", nil)
	})
	assert.True(t, reached)
	assert.Equal(t, 2.0, counterValue(t, m.HandlerErrors))
	assert.Equal(t, 1.0, counterValue(t, m.EventsDispatched.WithLabelValues("chat")))
}

func TestDispatch_UnknownEventIsDiscarded(t *testing.T) {
	d, m := newTestDispatcher()

	called := false
	d.Register("known", func(ctx context.Context, args Args) error {
		called = true
		return nil
	})

	d.Dispatch(context.Background(), "unknown", nil)
	d.Dispatch(context.Background(), "Known", nil)
	assert.False(t, called)
	assert.Zero(t, counterValue(t, m.HandlerErrors))

	// 未注册的事件名不会产生新的标签
	for i := 0; i < 20; i++ {
		d.Dispatch(context.Background(), fmt.Sprintf("spam-%d", i), nil)
	}
	d.Dispatch(context.Background(), "known", nil)
	series := make(chan prometheus.Metric, 32)
	m.EventsDispatched.Collect(series)
	close(series)
	assert.Len(t, series, 1)
	assert.False(t, d.Has("unknown"))
	assert.True(t, d.Has("known"))
	assert.Equal(t, []string{"known"}, d.Events())
}

func TestDispatch_ArgsDecode(t *testing.T) {
	d, _ := newTestDispatcher()

	var (
		n    int
		info struct {
			Name string `json:"name"`
		}
		outOfRange error
	)
	d.Register("u:info", func(ctx context.Context, args Args) error {
		require.Equal(t, 2, args.Len())
		if err := args.Decode(0, &n); err != nil {
			return err
		}
		if err := args.Decode(1, &info); err != nil {
			return err
		}
		outOfRange = args.Decode(2, &n)
		return nil
	})

	d.Dispatch(context.Background(), "u:info", Args{json.RawMessage(`7`), json.RawMessage(`{"name":"bob"}`)})
	assert.Equal(t, 7, n)
	assert.Equal(t, "bob", info.Name)
	assert.Error(t, outOfRange)
}

func TestRegister_NilHandlerIgnored(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Register("x", nil)
	assert.False(t, d.Has("x"))
}
