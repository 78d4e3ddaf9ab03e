package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"eiobot/configs"
	"eiobot/internal/bus"
	"eiobot/internal/handlers"

	"github.com/spf13/cobra"
)

func tailCmd(configFile *string) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events relayed to the message bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := configs.LoadConfig(*configFile, nil)
			if err != nil {
				return err
			}
			if cfg.Relay.BusType == "" || cfg.Relay.BusType == bus.TypeNoop {
				return fmt.Errorf("relay.bus_type must be %q or %q to tail events", bus.TypeRedis, bus.TypeNats)
			}

			messageBus, err := newMessageBus(cfg.Relay)
			if err != nil {
				return err
			}
			defer closeBus(messageBus)

			topic := relayTopic(cfg.Relay)
			ch, err := messageBus.Subscribe(ctx, topic)
			if err != nil {
				return err
			}
			slog.Info("tailing relay", "bus", cfg.Relay.BusType, "topic", topic)

			out := cmd.OutOrStdout()
			for data := range ch {
				if raw {
					fmt.Fprintln(out, string(data))
					continue
				}
				var env handlers.Envelope
				if err := json.Unmarshal(data, &env); err != nil {
					slog.Warn("skipping malformed envelope", "error", err)
					continue
				}
				fmt.Fprintln(out, formatEnvelope(env))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print envelopes as received")
	return cmd
}

func formatEnvelope(env handlers.Envelope) string {
	args, _ := json.Marshal(env.Args)
	ts := time.UnixMilli(env.TS).Format(time.RFC3339Nano)
	return fmt.Sprintf("%s %s %s %s", ts, env.ClientID, env.Event, args)
}
