package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"eiobot/internal/auth"
	"eiobot/internal/metrics"
	"eiobot/internal/protocol"
	"eiobot/internal/utils"
	"eiobot/internal/yeast"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 响应体读取上限，握手响应通常只有几百字节
const maxResponseBody = 64 << 10

// Config 协商配置
type Config struct {
	BaseURL         string        `mapstructure:"base_url" json:"base_url"`
	Path            string        `mapstructure:"path" json:"path"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts" json:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff" json:"retry_max_backoff"`
	UserAgent       string        `mapstructure:"user_agent" json:"user_agent"`
	IdentityField   string        `mapstructure:"identity_field" json:"identity_field"`
	CredentialField string        `mapstructure:"credential_field" json:"credential_field"`
}

func DefaultConfig() Config {
	return Config{
		Path:            "/socket.io/",
		RequestTimeout:  10 * time.Second,
		MaxAttempts:     10,
		RetryBackoff:    200 * time.Millisecond,
		RetryMaxBackoff: 3 * time.Second,
		UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
		IdentityField:   "userId",
		CredentialField: "token",
	}
}

// Negotiator 执行长轮询握手，每个实例持有自己的ID生成器和Cookie
type Negotiator struct {
	cfg     Config
	base    *url.URL
	client  *http.Client
	ids     *yeast.Encoder
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(*Negotiator)

// WithHTTPClient 使用自定义HTTP客户端；未设置Cookie Jar时会补上
func WithHTTPClient(c *http.Client) Option {
	return func(n *Negotiator) {
		n.client = c
	}
}

// WithIDEncoder 替换请求ID生成器
func WithIDEncoder(e *yeast.Encoder) Option {
	return func(n *Negotiator) {
		n.ids = e
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Negotiator) {
		n.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(n *Negotiator) {
		n.now = now
	}
}

// NewNegotiator 创建协商器
func NewNegotiator(cfg Config, opts ...Option) (*Negotiator, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}

	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.IdentityField == "" {
		cfg.IdentityField = def.IdentityField
	}
	if cfg.CredentialField == "" {
		cfg.CredentialField = def.CredentialField
	}

	n := &Negotiator{
		cfg:    cfg,
		base:   base,
		ids:    yeast.NewEncoder(),
		tracer: otel.Tracer("eiobot/internal/session"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.client == nil {
		n.client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if n.client.Jar == nil {
		jar, _ := cookiejar.New(nil)
		n.client.Jar = jar
	}
	if n.metrics == nil {
		n.metrics = metrics.Default()
	}
	return n, nil
}

// Negotiate 依次执行 discover、authenticate（整体重试）与 revalidate（不重试）
func (n *Negotiator) Negotiate(ctx context.Context, identity, credential string) (*Session, error) {
	ctx, span := n.tracer.Start(ctx, "session.Negotiate")
	defer span.End()

	fail := func(err error) (*Session, error) {
		n.metrics.AuthFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := auth.Validate(identity, credential, n.now()); err != nil {
		return fail(&AuthError{Step: "validate", Attempts: 0, Err: err})
	}

	var hs protocol.Handshake
	attempts, err := utils.Retry(ctx, "session.handshake", n.cfg.MaxAttempts, n.cfg.RetryBackoff, n.cfg.RetryMaxBackoff, func(attempt int) error {
		n.metrics.HandshakeAttempts.Inc()

		// sid 可能已过期，因此登录失败时必须重新获取
		h, err := n.discover(ctx)
		if err != nil {
			n.metrics.HandshakeFailures.WithLabelValues("discover").Inc()
			slog.Warn("discover failed", "attempt", attempt, "error", err)
			return err
		}
		if err := n.authenticate(ctx, h.SID, identity, credential); err != nil {
			n.metrics.HandshakeFailures.WithLabelValues("authenticate").Inc()
			slog.Warn("authenticate failed", "attempt", attempt, "sid", h.SID, "error", err)
			return err
		}
		hs = h
		return nil
	})
	span.SetAttributes(attribute.Int("session.attempts", attempts))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return fail(err)
		}
		return fail(&AuthError{Step: "handshake", Attempts: attempts, Err: err})
	}

	if err := n.revalidate(ctx, hs.SID); err != nil {
		n.metrics.HandshakeFailures.WithLabelValues("revalidate").Inc()
		return fail(&AuthError{Step: "revalidate", Attempts: 1, Err: err})
	}

	sess := newSession(hs, UpgradeURL(n.base, n.cfg.Path, hs.SID), n.upgradeHeader())
	if !sess.CanUpgrade() {
		slog.Warn("server does not advertise websocket upgrade", "sid", sess.ID, "upgrades", sess.Upgrades)
	}
	n.metrics.Sessions.Inc()
	span.SetAttributes(attribute.String("session.sid", sess.ID))
	slog.Info("session negotiated",
		"sid", sess.ID,
		"ping_interval", sess.PingInterval,
		"ping_timeout", sess.PingTimeout,
		"max_payload", sess.MaxPayload,
		"attempts", attempts)
	return sess, nil
}

// discover 获取 sid 与传输参数
func (n *Negotiator) discover(ctx context.Context) (protocol.Handshake, error) {
	ctx, span := n.tracer.Start(ctx, "session.discover")
	defer span.End()

	body, err := n.do(ctx, "discover", http.MethodGet, "", nil)
	if err != nil {
		span.RecordError(err)
		return protocol.Handshake{}, err
	}
	hs, err := protocol.DecodeHandshake(body)
	if err != nil {
		span.RecordError(err)
		return protocol.Handshake{}, &NetworkError{Op: "discover", Body: snippet(body), Err: err}
	}
	return hs, nil
}

// authenticate 提交命名空间连接包 40{identity, credential}
func (n *Negotiator) authenticate(ctx context.Context, sid, identity, credential string) error {
	ctx, span := n.tracer.Start(ctx, "session.authenticate")
	defer span.End()

	payload, err := protocol.EncodeConnect(map[string]any{
		n.cfg.IdentityField:   identityValue(identity),
		n.cfg.CredentialField: credential,
	})
	if err != nil {
		return err
	}
	if _, err := n.do(ctx, "authenticate", http.MethodPost, sid, payload); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// revalidate 升级前确认服务端仍认可该会话
func (n *Negotiator) revalidate(ctx context.Context, sid string) error {
	ctx, span := n.tracer.Start(ctx, "session.revalidate")
	defer span.End()

	body, err := n.do(ctx, "revalidate", http.MethodGet, sid, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if msg, ok := protocol.FindConnectError(body); ok {
		err := fmt.Errorf("%w: %s", ErrRejected, msg)
		span.RecordError(err)
		return err
	}
	return nil
}

// do 发送一次带独立超时的请求，非2xx响应视为 NetworkError
func (n *Negotiator) do(ctx context.Context, op, method, sid string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, PollingURL(n.base, n.cfg.Path, n.ids.Next(), sid), reader)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if n.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", n.cfg.UserAgent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &NetworkError{Op: op, StatusCode: 0, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: snippet(data)}
	}
	slog.Debug("polling request done", "op", op, "status", resp.StatusCode, "bytes", len(data))
	return data, nil
}

// upgradeHeader 让 websocket 升级请求与长轮询请求带上相同的Cookie和UA
func (n *Negotiator) upgradeHeader() http.Header {
	h := http.Header{}
	if n.cfg.UserAgent != "" {
		h.Set("User-Agent", n.cfg.UserAgent)
	}
	if n.client.Jar != nil {
		u := endpoint(n.base, n.cfg.Path)
		cookies := n.client.Jar.Cookies(&u)
		if len(cookies) > 0 {
			parts := make([]string, 0, len(cookies))
			for _, c := range cookies {
				parts = append(parts, c.Name+"="+c.Value)
			}
			h.Set("Cookie", strings.Join(parts, "; "))
		}
	}
	return h
}

// identityValue 规范的十进制整数按整数发送，与服务端 userId 字段的类型一致；
// 前导零、正号等写法原样作为字符串发送
func identityValue(identity string) any {
	if v, err := strconv.ParseInt(identity, 10, 64); err == nil && strconv.FormatInt(v, 10) == identity {
		return v
	}
	return identity
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
