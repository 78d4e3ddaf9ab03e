// Package conn 管理升级后的持久连接：探测升级、心跳、收发与分发
package conn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"eiobot/internal/dispatcher"
	"eiobot/internal/metrics"
	"eiobot/internal/protocol"
	"eiobot/internal/session"
	"eiobot/internal/websocket"

	"golang.org/x/time/rate"
)

// Dispatcher 接收 Open 状态下的事件消息
type Dispatcher interface {
	Dispatch(ctx context.Context, event string, args dispatcher.Args)
}

// Manager 单个会话的连接管理器。
// 读、写、分发、心跳各一个goroutine；Close 返回前等待它们全部退出。
type Manager struct {
	cfg     Config
	sess    *session.Session
	dialer  websocket.Dialer
	disp    Dispatcher
	metrics *metrics.Metrics
	limiter *rate.Limiter

	state atomic.Int32

	// startMu 保证 started 与进入 Connecting 同时可见，并与 Close 的等待互斥
	startMu sync.Mutex
	started bool

	tr     atomic.Pointer[websocket.Transport]
	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	events chan protocol.Frame
	wg     sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	endOnce   sync.Once

	errMu sync.Mutex
	err   error
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager 创建连接管理器，sess 必须来自一次成功的协商
func NewManager(sess *session.Session, dialer websocket.Dialer, d Dispatcher, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.SendBufferCap <= 0 {
		cfg.SendBufferCap = def.SendBufferCap
	}
	if cfg.DispatchQueueCap <= 0 {
		cfg.DispatchQueueCap = def.DispatchQueueCap
	}

	m := &Manager{
		cfg:    cfg,
		sess:   sess,
		dialer: dialer,
		disp:   d,
		out:    make(chan []byte, cfg.SendBufferCap),
		events: make(chan protocol.Frame, cfg.DispatchQueueCap),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.Default()
	}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Connect 拨号升级地址并启动读写循环。ctx 只约束拨号；返回nil只表示
// 连接已建立，升级完成以 Ready() 关闭为准。
func (m *Manager) Connect(ctx context.Context) error {
	m.startMu.Lock()
	if m.started {
		m.startMu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.setState(StateConnecting)
	m.startMu.Unlock()

	ws, err := m.dialer.Dial(ctx, m.sess.UpgradeURL, m.sess.Header)
	if err != nil {
		err = fmt.Errorf("conn: dial: %w", err)
		m.finish(err, false)
		return err
	}

	tr := websocket.NewTransport(ws, m.cfg.Transport)
	tr.SetReadLimit(int64(m.sess.MaxPayload))
	tr.SetReadTimeout(m.sess.PingInterval + m.sess.PingTimeout)
	m.tr.Store(tr)

	m.startMu.Lock()
	// 拨号期间被 Close
	if m.ctx.Err() != nil {
		m.startMu.Unlock()
		_ = tr.Close()
		return ErrClosed
	}
	m.wg.Add(3)
	m.startMu.Unlock()

	go func() {
		defer m.wg.Done()
		tr.Run(m)
	}()
	go m.writeLoop()
	go m.dispatchLoop()

	slog.Info("websocket connected", "sid", m.sess.ID)
	return nil
}

// Send 编码并排队一个事件，仅在 Open 状态下可用
func (m *Manager) Send(event string, args ...any) error {
	if m.State() != StateOpen {
		return ErrNotConnected
	}

	data, err := protocol.Encode(event, args...)
	if err != nil {
		return err
	}
	if limit := m.sess.MaxPayload; limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(data), limit)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(m.ctx); err != nil {
			return ErrNotConnected
		}
		if m.State() != StateOpen {
			return ErrNotConnected
		}
	}
	return m.enqueue(data)
}

// IsOpen 是否处于 Open 状态
func (m *Manager) IsOpen() bool {
	return m.State() == StateOpen
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready 升级完成（进入 Open）时关闭
func (m *Manager) Ready() <-chan struct{} {
	return m.ready
}

// Done 连接结束时关闭
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err 连接结束的原因：*ConnectionLostError、ErrClosed 或拨号错误；未结束时为nil
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.err
}

// Session 当前连接使用的会话
func (m *Manager) Session() *session.Session {
	return m.sess
}

// Close 发送关闭包并等待所有goroutine退出。不能在处理函数内调用。
func (m *Manager) Close() error {
	m.startMu.Lock()
	started := m.started
	m.startMu.Unlock()
	if !started {
		return nil
	}

	for {
		s := m.State()
		if s == StateDisconnected || s == StateClosing {
			break
		}
		if m.state.CompareAndSwap(int32(s), int32(StateClosing)) {
			m.metrics.ConnectionState.Set(float64(StateClosing))
			if s == StateOpen || s == StateProbeSent {
				if err := m.tr.Load().Write([]byte(protocol.CloseMarker)); err != nil {
					slog.Debug("write close packet failed", "sid", m.sess.ID, "error", err)
				}
			}
			break
		}
	}

	m.finish(ErrClosed, false)
	// Connect 在锁内检查 ctx 后才 Add，这里之后不会再有新的goroutine
	m.startMu.Lock()
	m.startMu.Unlock()
	m.wg.Wait()
	return nil
}

// OnOpen 传输层已连接，发送探测包
func (m *Manager) OnOpen() {
	if !m.transition(StateConnecting, StateProbeSent) {
		return
	}
	if err := m.enqueue([]byte(protocol.ProbeMarker)); err != nil {
		slog.Warn("failed to queue probe", "sid", m.sess.ID, "error", err)
	}
	slog.Debug("probe sent", "sid", m.sess.ID)
}

// OnMessage 处理一帧入站数据，只在读goroutine中调用
func (m *Manager) OnMessage(data []byte) {
	m.metrics.FrameSize.Observe(float64(len(data)))

	f, err := protocol.Decode(data)
	if err != nil {
		m.metrics.FrameErrors.Inc()
		slog.Warn("dropping malformed frame", "sid", m.sess.ID, "error", err)
		return
	}
	m.metrics.FramesIn.WithLabelValues(f.Kind.String()).Inc()

	switch f.Kind {
	case protocol.KindProbeAck:
		m.commitUpgrade()

	case protocol.KindPing:
		if s := m.State(); s == StateProbeSent || s == StateOpen {
			if err := m.enqueue([]byte(protocol.PongMarker)); err != nil {
				slog.Warn("failed to queue pong", "sid", m.sess.ID, "error", err)
			}
		}

	case protocol.KindClose:
		m.finish(&ConnectionLostError{Cause: ErrServerClosed}, true)

	case protocol.KindMessage:
		if m.State() != StateOpen {
			slog.Debug("message before upgrade ignored", "sid", m.sess.ID, "event", f.Event)
			return
		}
		// 队列满时阻塞读循环，不丢弃合法事件
		select {
		case m.events <- f:
			m.metrics.EventsQueued.Inc()
		case <-m.ctx.Done():
		}

	default:
		slog.Debug("ignoring frame", "sid", m.sess.ID, "kind", f.Kind.String())
	}
}

// OnError 传输层读失败
func (m *Manager) OnError(err error) {
	m.finish(&ConnectionLostError{Cause: err}, true)
}

// OnClose 读循环退出
func (m *Manager) OnClose() {
	m.finish(&ConnectionLostError{Cause: websocket.ErrTransportClosed}, true)
}

// commitUpgrade 收到 3probe 后提交升级：5、初始化事件、心跳、Open
func (m *Manager) commitUpgrade() {
	if m.State() != StateProbeSent {
		slog.Debug("unexpected probe ack", "sid", m.sess.ID, "state", m.State().String())
		return
	}

	if err := m.enqueue([]byte(protocol.UpgradeMarker)); err != nil {
		slog.Warn("failed to queue upgrade", "sid", m.sess.ID, "error", err)
	}
	for _, ev := range m.cfg.InitEvents {
		data, err := protocol.Encode(ev.Event, ev.Args...)
		if err != nil {
			slog.Warn("invalid init event", "event", ev.Event, "error", err)
			continue
		}
		if err := m.enqueue(data); err != nil {
			slog.Warn("failed to queue init event", "event", ev.Event, "error", err)
		}
	}

	if !m.transition(StateProbeSent, StateOpen) {
		return
	}
	m.startHeartbeat()
	m.readyOnce.Do(func() { close(m.ready) })
	slog.Info("connection upgraded", "sid", m.sess.ID)
}

func (m *Manager) startHeartbeat() {
	if m.cfg.HeartbeatEvent == "" {
		return
	}
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = m.sess.PingInterval
	}
	data, err := protocol.Encode(m.cfg.HeartbeatEvent)
	if err != nil {
		slog.Warn("invalid heartbeat event", "event", m.cfg.HeartbeatEvent, "error", err)
		return
	}

	m.wg.Add(1)
	go m.heartbeatLoop(interval, data)
}

// heartbeatLoop 每个间隔发送一次保活事件，状态离开 Open 时退出
func (m *Manager) heartbeatLoop(interval time.Duration, data []byte) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.State() != StateOpen {
				return
			}
			if err := m.enqueue(data); err != nil {
				slog.Warn("failed to queue heartbeat", "sid", m.sess.ID, "error", err)
				continue
			}
			m.metrics.HeartbeatsSent.Inc()
		}
	}
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case data := <-m.out:
			if err := m.tr.Load().Write(data); err != nil {
				m.finish(&ConnectionLostError{Cause: err}, true)
				return
			}
			m.metrics.FramesOut.Inc()
		}
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case f := <-m.events:
			m.metrics.EventsQueued.Dec()
			if m.ctx.Err() != nil {
				return
			}
			m.disp.Dispatch(m.ctx, f.Event, dispatcher.Args(f.Args))
		}
	}
}

// enqueue 放入发送队列，不阻塞
func (m *Manager) enqueue(data []byte) error {
	if m.ctx.Err() != nil {
		return ErrNotConnected
	}
	select {
	case m.out <- data:
		return nil
	default:
		m.metrics.SendDropped.Inc()
		return ErrSendBufferFull
	}
}

// finish 只执行一次：记录原因、停止所有goroutine、关闭连接。不等待goroutine退出。
func (m *Manager) finish(err error, lost bool) {
	m.endOnce.Do(func() {
		m.setState(StateDisconnected)

		m.errMu.Lock()
		m.err = err
		m.errMu.Unlock()

		m.cancel()
		if tr := m.tr.Load(); tr != nil {
			_ = tr.Close()
		}
		close(m.done)

		if lost {
			m.metrics.ConnectionsLost.Inc()
			slog.Warn("connection lost", "sid", m.sess.ID, "error", err)
		} else {
			slog.Info("connection closed", "sid", m.sess.ID, "reason", err)
		}
	})
}

func (m *Manager) transition(from, to State) bool {
	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	m.metrics.ConnectionState.Set(float64(to))
	return true
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.ConnectionState.Set(float64(s))
}
