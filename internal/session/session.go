// Package session 通过HTTP长轮询完成握手、登录与会话复核
package session

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"eiobot/internal/protocol"
)

// 握手响应缺少字段时使用的默认值
const (
	DefaultPingInterval = 25 * time.Second
	DefaultPingTimeout  = 20 * time.Second
	DefaultMaxPayload   = 1000000
)

// ProtocolVersion Engine.IO 协议版本
const ProtocolVersion = "4"

// Session 协商完成后的会话参数，创建后不再修改
type Session struct {
	ID           string
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int
	Upgrades     []string
	UpgradeURL   string      // 持久连接地址
	Header       http.Header // 升级请求需要携带的头（Cookie、User-Agent）
}

// newSession 按字段分别应用默认值
func newSession(hs protocol.Handshake, upgradeURL string, header http.Header) *Session {
	s := &Session{
		ID:           hs.SID,
		PingInterval: DefaultPingInterval,
		PingTimeout:  DefaultPingTimeout,
		MaxPayload:   DefaultMaxPayload,
		Upgrades:     hs.Upgrades,
		UpgradeURL:   upgradeURL,
		Header:       header,
	}
	if hs.PingInterval > 0 {
		s.PingInterval = time.Duration(hs.PingInterval) * time.Millisecond
	}
	if hs.PingTimeout > 0 {
		s.PingTimeout = time.Duration(hs.PingTimeout) * time.Millisecond
	}
	if hs.MaxPayload > 0 {
		s.MaxPayload = hs.MaxPayload
	}
	return s
}

// CanUpgrade 服务端是否声明支持 websocket 升级；未声明时视为支持
func (s *Session) CanUpgrade() bool {
	if len(s.Upgrades) == 0 {
		return true
	}
	for _, u := range s.Upgrades {
		if u == "websocket" {
			return true
		}
	}
	return false
}

// endpoint 拼接基础地址与路径，保留路径末尾的斜杠
func endpoint(base *url.URL, path string) url.URL {
	u := *base
	u.RawQuery = ""
	u.Fragment = ""
	if path != "" {
		u.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u.RawPath = ""
	return u
}

// PollingURL 长轮询请求地址，t 参数用于绕过缓存
func PollingURL(base *url.URL, path, t, sid string) string {
	u := endpoint(base, path)
	q := "EIO=" + ProtocolVersion + "&transport=polling&t=" + url.QueryEscape(t)
	if sid != "" {
		q += "&sid=" + url.QueryEscape(sid)
	}
	u.RawQuery = q
	return u.String()
}

// UpgradeURL 由基础地址和会话ID确定性地推导出 websocket 地址
func UpgradeURL(base *url.URL, path, sid string) string {
	u := endpoint(base, path)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.RawQuery = "EIO=" + ProtocolVersion + "&transport=websocket&sid=" + url.QueryEscape(sid)
	return u.String()
}
