// Package handlers 提供挂在分发器上的通用事件处理函数
package handlers

import (
	"log/slog"

	"eiobot/internal/dispatcher"
)

// Registrar 可注册处理函数的分发器
type Registrar interface {
	Register(event string, h dispatcher.Handler)
}

// Config 处理函数开关
type Config struct {
	// LogEvents 需要打印到日志的事件
	LogEvents []string    `mapstructure:"log_events" json:"log_events"`
	Relay     RelayConfig `mapstructure:"relay" json:"relay"`
}

// RegisterHandlers 按配置注册日志与转发处理函数，relay 为nil时不注册转发
func RegisterHandlers(d Registrar, cfg Config, relay *Relay) {
	for _, event := range cfg.LogEvents {
		d.Register(event, LogEvent(event))
	}
	if relay != nil {
		for _, event := range cfg.Relay.Events {
			d.Register(event, relay.Handler(event))
		}
	}

	slog.Info("registered event handlers",
		"log_events", len(cfg.LogEvents),
		"relay_events", len(cfg.Relay.Events),
		"relay", relay != nil)
}
