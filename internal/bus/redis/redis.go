// Package redis 提供基于Redis的消息总线实现
package redis

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eiobot/internal/bus"

	"github.com/redis/go-redis/v9"
)

// Config Redis连接配置选项
type Config struct {
	// 连接地址，单机模式只使用第一个
	Addrs    []string `mapstructure:"addrs" json:"addrs"`
	Password string   `mapstructure:"password" json:"password"`
	DB       int      `mapstructure:"db" json:"db"`
	// 哨兵模式的主节点名称
	MasterName string `mapstructure:"master_name" json:"master_name"`
	// 模式: single(单机), sentinel(哨兵), cluster(集群)
	Mode string `mapstructure:"mode" json:"mode"`

	PoolSize     int           `mapstructure:"pool_size" json:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`

	// 订阅断开后的重连间隔
	RetryInterval time.Duration `mapstructure:"retry_interval" json:"retry_interval"`
	// 发布超时，也用于向订阅通道投递的超时
	OpTimeout time.Duration `mapstructure:"op_timeout" json:"op_timeout"`
	KeyPrefix string        `mapstructure:"key_prefix" json:"key_prefix"`
}

func DefaultConfig() Config {
	return Config{
		Addrs:         []string{"localhost:6379"},
		Mode:          "single",
		PoolSize:      10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxRetries:    3,
		RetryInterval: 200 * time.Millisecond,
		OpTimeout:     500 * time.Millisecond,
		KeyPrefix:     "eiobot:",
	}
}

type RedisBus struct {
	client redis.UniversalClient // 兼容单机、哨兵和集群模式
	cfg    Config
	mu     sync.RWMutex
	closed bool
	subs   map[string]context.CancelFunc // 活跃订阅的取消函数

	publishErrors atomic.Int64
	reconnects    atomic.Int64
}

func New(cfg Config) (*RedisBus, error) {
	def := DefaultConfig()
	if len(cfg.Addrs) == 0 {
		cfg.Addrs = def.Addrs
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	}
	// 多个地址且没有主节点名称时 go-redis 使用集群客户端
	switch cfg.Mode {
	case "sentinel":
		opts.MasterName = cfg.MasterName
	case "cluster":
	default:
		opts.Addrs = cfg.Addrs[:1]
	}
	client := redis.NewUniversalClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		slog.Error("failed to connect to redis", "error", err)
		return nil, err
	}

	slog.Info("connected to redis", "addrs", cfg.Addrs, "mode", cfg.Mode)
	return &RedisBus{
		client: client,
		cfg:    cfg,
		subs:   make(map[string]context.CancelFunc),
	}, nil
}

func (r *RedisBus) formatKey(topic string) string {
	return r.cfg.KeyPrefix + topic
}

func (r *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
	defer cancel()

	// 没有订阅者时 PUBLISH 返回0，不视为错误
	if err := r.client.Publish(publishCtx, r.formatKey(topic), data).Err(); err != nil {
		r.publishErrors.Add(1)
		slog.Warn("redis publish failed", "topic", topic, "error", err)
		return bus.ErrPublishFailed
	}
	return nil
}

// Subscribe 订阅Redis频道，连接断开时自动重新订阅
func (r *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}
	if cancel, ok := r.subs[topic]; ok {
		cancel()
	}

	subCtx, cancel := context.WithCancel(ctx)
	r.subs[topic] = cancel

	// 先确认订阅成功，避免订阅前发布的消息丢失
	pubsub := r.client.Subscribe(subCtx, r.formatKey(topic))
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		delete(r.subs, topic)
		_ = pubsub.Close()
		return nil, err
	}

	outCh := make(chan []byte, 100)
	go r.subscribeRoutine(subCtx, topic, pubsub, outCh)
	return outCh, nil
}

func (r *RedisBus) subscribeRoutine(ctx context.Context, topic string, pubsub *redis.PubSub, outCh chan<- []byte) {
	defer close(outCh)

	channel := r.formatKey(topic)
	for {
		r.forward(ctx, topic, pubsub, outCh)
		_ = pubsub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.RetryInterval):
		}

		r.reconnects.Add(1)
		slog.Info("redis subscription disconnected, reconnecting", "topic", topic, "reconnects", r.reconnects.Load())
		pubsub = r.client.Subscribe(ctx, channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			slog.Warn("redis resubscribe failed", "topic", topic, "error", err)
		}
	}
}

// forward 把 pubsub 中的消息投递到订阅通道，直到 ctx 取消或连接断开
func (r *RedisBus) forward(ctx context.Context, topic string, pubsub *redis.PubSub, outCh chan<- []byte) {
	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			select {
			case outCh <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.OpTimeout):
				slog.Warn("timeout sending message to subscriber channel", "topic", topic)
			}
		}
	}
}

// Unsubscribe 取消订阅，订阅通道随后关闭
func (r *RedisBus) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if topic == "" {
		return bus.ErrTopicEmpty
	}
	if cancel, ok := r.subs[topic]; ok {
		cancel()
		delete(r.subs, topic)
	}
	return nil
}

// Close 取消所有订阅并关闭连接
func (r *RedisBus) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for topic, cancel := range r.subs {
		cancel()
		delete(r.subs, topic)
	}
	return r.client.Close()
}

// PublishErrors 发布失败次数
func (r *RedisBus) PublishErrors() int64 {
	return r.publishErrors.Load()
}

var _ bus.MessageBus = (*RedisBus)(nil)
