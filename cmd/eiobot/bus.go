package main

import (
	"fmt"
	"log/slog"

	"eiobot/configs"
	"eiobot/internal/bus"
	"eiobot/internal/bus/nats"
	"eiobot/internal/bus/noop"
	"eiobot/internal/bus/redis"
)

// newMessageBus 根据配置创建转发用的消息总线
func newMessageBus(cfg configs.Relay) (bus.MessageBus, error) {
	switch cfg.BusType {
	case bus.TypeNoop, "":
		return noop.New(), nil
	case bus.TypeNats:
		return nats.New(cfg.NATS)
	case bus.TypeRedis:
		return redis.New(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.BusType)
	}
}

func relayTopic(cfg configs.Relay) string {
	if cfg.Topic != "" {
		return cfg.Topic
	}
	return bus.EventTopic("")
}

func closeBus(b bus.MessageBus) {
	if err := b.Close(); err != nil {
		slog.Error("failed to close message bus", "error", err)
	}
}
