package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"eiobot/internal/bus"
	"eiobot/internal/dispatcher"
	"eiobot/internal/metrics"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// RelayConfig 事件转发配置
type RelayConfig struct {
	Events             []string      `mapstructure:"events" json:"events"`
	Topic              string        `mapstructure:"topic" json:"topic"` // 为空时使用 bus.EventTopic("")
	PublishTimeout     time.Duration `mapstructure:"publish_timeout" json:"publish_timeout"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout" json:"breaker_timeout"`
}

// Envelope 转发到总线上的事件
type Envelope struct {
	ID       string            `json:"id"`
	Event    string            `json:"event"`
	Args     []json.RawMessage `json:"args"`
	ClientID string            `json:"client_id"`
	TS       int64             `json:"ts"` // unix毫秒
}

// Relay 把选定事件发布到消息总线，总线连续失败时熔断，避免拖慢分发
type Relay struct {
	bus      bus.MessageBus
	topic    string
	clientID string
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker[struct{}]
	metrics  *metrics.Metrics
	now      func() time.Time
}

type RelayOption func(*Relay)

func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(b bus.MessageBus, clientID string, cfg RelayConfig, opts ...RelayOption) *Relay {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	topic := cfg.Topic
	if topic == "" {
		topic = bus.EventTopic("")
	}

	r := &Relay{
		bus:      b,
		topic:    topic,
		clientID: clientID,
		timeout:  timeout,
		now:      time.Now,
	}
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "relay:" + topic,
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Default()
	}
	return r
}

// Handler 返回转发指定事件的处理函数
func (r *Relay) Handler(event string) dispatcher.Handler {
	return func(ctx context.Context, args dispatcher.Args) error {
		return r.Publish(ctx, event, args)
	}
}

// Publish 封装并发布一个事件
func (r *Relay) Publish(ctx context.Context, event string, args dispatcher.Args) error {
	if args == nil {
		args = dispatcher.Args{}
	}
	data, err := json.Marshal(Envelope{
		ID:       uuid.NewString(),
		Event:    event,
		Args:     args,
		ClientID: r.clientID,
		TS:       r.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	_, err = r.breaker.Execute(func() (struct{}, error) {
		pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return struct{}{}, r.bus.Publish(pubCtx, r.topic, data)
	})
	if err != nil {
		r.metrics.RelayErrors.Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("relay %q circuit open: %w", r.topic, err)
		}
		return fmt.Errorf("relay %q: %w", event, err)
	}
	r.metrics.RelayPublished.Inc()
	return nil
}

// State 熔断器当前状态
func (r *Relay) State() gobreaker.State {
	return r.breaker.State()
}
