// Package metrics 提供监控指标收集功能
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once           sync.Once
	defaultMetrics *Metrics
)

// Metrics 封装所有监控指标
type Metrics struct {
	registry *prometheus.Registry

	// 握手指标
	HandshakeAttempts prometheus.Counter
	HandshakeFailures *prometheus.CounterVec // label: step
	AuthFailures      prometheus.Counter
	Sessions          prometheus.Counter

	// 连接指标
	ConnectionState prometheus.Gauge
	ConnectionsLost prometheus.Counter
	HeartbeatsSent  prometheus.Counter

	// 帧指标
	FramesIn     *prometheus.CounterVec // label: kind
	FramesOut    prometheus.Counter
	FrameErrors  prometheus.Counter
	FrameSize    prometheus.Histogram
	SendDropped  prometheus.Counter
	EventsQueued prometheus.Gauge

	// 分发指标
	EventsDispatched *prometheus.CounterVec // label: event，仅限已注册的事件
	HandlerErrors    prometheus.Counter
	HandlerLatency   prometheus.Histogram

	// 转发指标
	RelayPublished prometheus.Counter
	RelayErrors    prometheus.Counter
}

// NewMetrics 创建新的Metrics实例，每个实例使用独立的注册表
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HandshakeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "discover/authenticate attempts",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "failed negotiation steps",
		}, []string{"step"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "fatal negotiation failures",
		}),
		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "successfully negotiated sessions",
		}),

		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "current connection state (0=disconnected 1=connecting 2=probe_sent 3=open 4=closing)",
		}),
		ConnectionsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_lost_total",
			Help:      "connections closed by transport error or server close",
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "keep-alive frames written",
		}),

		FramesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_in_total",
			Help:      "inbound frames by kind",
		}, []string{"kind"}),
		FramesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_out_total",
			Help:      "outbound frames written",
		}),
		FrameErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "malformed inbound frames dropped",
		}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_size_bytes",
			Help:      "inbound frame size",
			Buckets:   []float64{16, 64, 256, 1024, 4096, 16384, 65536, 262144},
		}),
		SendDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_dropped_total",
			Help:      "frames dropped because a queue was full",
		}),
		EventsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_queued",
			Help:      "events waiting for dispatch",
		}),

		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "events delivered to at least one handler",
		}, []string{"event"}),
		HandlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "handler errors and panics",
		}),
		HandlerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_latency_seconds",
			Help:      "time spent running the handlers of one event",
			Buckets:   prometheus.DefBuckets,
		}),

		RelayPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "events published to the relay bus",
		}),
		RelayErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_errors_total",
			Help:      "relay publish failures",
		}),
	}
}

// Registry 获取该实例的Prometheus注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Default 获取默认指标实例
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = NewMetrics("eiobot")
	})
	return defaultMetrics
}

// GetRegistry 获取默认实例的Prometheus注册表
func GetRegistry() *prometheus.Registry {
	return Default().registry
}
