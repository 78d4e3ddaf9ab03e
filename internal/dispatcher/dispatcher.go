// Package dispatcher 按事件名把消息路由到注册的处理函数
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"eiobot/internal/metrics"
)

// Args 事件参数，每个元素保持原始JSON，由处理函数自行解码
type Args []json.RawMessage

// Len 参数个数
func (a Args) Len() int {
	return len(a)
}

// Decode 将第i个参数解码到v
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("dispatcher: argument %d out of range (have %d)", i, len(a))
	}
	return json.Unmarshal(a[i], v)
}

// Handler 是消息处理函数类型
type Handler func(ctx context.Context, args Args) error

// Dispatcher 消息分发器，事件名到有序处理函数列表
type Dispatcher struct {
	table   map[string][]Handler
	mu      sync.RWMutex
	metrics *metrics.Metrics
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher 创建新的分发器
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.Default()
	}
	return d
}

// Register 注册处理函数，同一事件的多个处理函数按注册顺序执行
func (d *Dispatcher) Register(event string, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.table[event] = append(d.table[event], h)
}

// Has 事件是否有处理函数
func (d *Dispatcher) Has(event string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.table[event]) > 0
}

// Events 已注册的事件名
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	events := make([]string, 0, len(d.table))
	for e := range d.table {
		events = append(events, e)
	}
	return events
}

// Dispatch 依次执行事件的所有处理函数；没有处理函数时静默丢弃。
// 单个处理函数的错误或panic只记录日志，不影响后续处理函数。
func (d *Dispatcher) Dispatch(ctx context.Context, event string, args Args) {
	d.mu.RLock()
	handlers := d.table[event]
	d.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("no handler registered for event", "event", event)
		return
	}

	start := time.Now()
	for i, h := range handlers {
		if err := d.invoke(ctx, h, args); err != nil {
			d.metrics.HandlerErrors.Inc()
			slog.Error("event handler failed", "event", event, "handler", i, "error", err)
		}
	}
	d.metrics.HandlerLatency.Observe(time.Since(start).Seconds())
	// 事件名由服务端决定，只有已注册的事件能走到这里，标签集合以 Register 为界
	d.metrics.EventsDispatched.WithLabelValues(event).Inc()
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			slog.Debug("handler panic stack", "stack", string(debug.Stack()))
		}
	}()
	return h(ctx, args)
}
