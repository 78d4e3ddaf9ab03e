package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"eiobot/configs"
	"eiobot/internal/handlers"
	"eiobot/internal/logger"
	"eiobot/internal/metrics"
	"eiobot/internal/sdk"
	"eiobot/internal/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func runCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect and keep the session alive until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// 热更新回调可能早于日志器创建
			var current atomic.Pointer[logger.Logger]
			cfg, err := configs.LoadConfig(*configFile, func(c configs.Config) {
				if l := current.Load(); l != nil {
					l.SetLevel(c.Log.Level)
					slog.Info("log level updated", "level", c.Log.Level)
				}
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Close()
			slog.SetDefault(log.Logger)
			current.Store(log)
			slog.Info("starting eiobot", "version", version, "base_url", cfg.Client.BaseURL, "bus", cfg.Relay.BusType)

			m := metrics.Default()
			if cfg.Metrics.Enabled {
				srv := startMetricsServer(cfg.Metrics.Addr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			return runClient(ctx, cfg, m)
		},
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
	return srv
}

// runClient 建立连接并在断线后按退避策略重连，直到 ctx 取消。
// 协商被拒绝时直接返回错误，重连无法恢复。
func runClient(ctx context.Context, cfg configs.Config, m *metrics.Metrics) error {
	client, err := sdk.New(sdk.Config{
		Session:    cfg.Client,
		Connection: cfg.Connection,
		Identity:   cfg.Auth.Identity,
		Credential: cfg.Auth.Credential,
	}, sdk.WithMetrics(m))
	if err != nil {
		return err
	}

	messageBus, err := newMessageBus(cfg.Relay)
	if err != nil {
		return err
	}
	defer closeBus(messageBus)

	var relay *handlers.Relay
	if len(cfg.Relay.Events) > 0 {
		relay = handlers.NewRelay(messageBus, client.ID(), cfg.Relay.RelayConfig, handlers.WithRelayMetrics(m))
	}
	handlers.RegisterHandlers(client.Dispatcher(), handlers.Config{
		LogEvents: cfg.Features.LogEvents,
		Relay:     cfg.Relay.RelayConfig,
	}, relay)

	client.OnLifecycle(sdk.EventConnected, func(ctx context.Context, e sdk.Event) error {
		slog.Info("connected", "client", e.ClientID, "sid", e.SessionID)
		return nil
	})
	client.OnLifecycle(sdk.EventDisconnected, func(ctx context.Context, e sdk.Event) error {
		slog.Warn("disconnected", "client", e.ClientID, "sid", e.SessionID, "error", e.Err)
		return nil
	})

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0
	for {
		err := client.Connect(ctx)
		switch {
		case err == nil:
			failures = 0
			select {
			case <-client.Done():
				err = client.Err()
			case <-ctx.Done():
				return client.Close()
			}
		case sdk.IsAuthError(err):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			slog.Warn("connect failed", "error", err)
		}

		failures++
		if cfg.Reconnect.MaxAttempts > 0 && failures > cfg.Reconnect.MaxAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", cfg.Reconnect.MaxAttempts, err)
		}
		delay := utils.NextBackoffDelay(cfg.Reconnect.Backoff, failures, rng)
		slog.Info("reconnecting", "attempt", failures, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}
