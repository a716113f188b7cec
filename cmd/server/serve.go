package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/raihanakbr/realtime-interview-relay/internal/config"
	"github.com/raihanakbr/realtime-interview-relay/internal/events"
	"github.com/raihanakbr/realtime-interview-relay/internal/logging"
	"github.com/raihanakbr/realtime-interview-relay/internal/observability"
	"github.com/raihanakbr/realtime-interview-relay/internal/observability/metrics"
	"github.com/raihanakbr/realtime-interview-relay/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func serveCMD() *cobra.Command {
	var (
		addr      string
		relayPath string
		obsAddr   string
		logLevel  string
		logFormat string
	)

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Addr = addr
			}
			if flags.Changed("path") {
				cfg.RelayPath = relayPath
			}
			if flags.Changed("observability-addr") {
				cfg.ObservabilityAddr = obsAddr
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cfg)
		},
	}

	serve.Flags().StringVar(&addr, "addr", ":8080", "relay listen address")
	serve.Flags().StringVar(&relayPath, "path", "/ws", "websocket upgrade path")
	serve.Flags().StringVar(&obsAddr, "observability-addr", ":9090", "metrics and health listen address")
	serve.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	serve.Flags().StringVar(&logFormat, "log-format", "json", "json or console")

	return serve
}

func run(cfg *config.Config) error {
	m := metrics.DefaultMetrics

	publisher := events.New(&events.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	}, m)
	defer publisher.Close()

	obs := observability.NewServer(cfg.ObservabilityAddr, prometheus.DefaultGatherer)
	obs.Start()

	relay := websocket.NewServer(cfg,
		websocket.WithMetrics(m),
		websocket.WithPublisher(publisher),
	)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("path", cfg.RelayPath).
			Str("realtimeURL", cfg.RealtimeURL).
			Bool("kafka", publisher.Enabled()).
			Msg("Interview relay started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutting down")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("relay server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown")
	}
	if err := relay.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Int("sessions", relay.Sessions()).Msg("Sessions still open at shutdown")
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown")
	}
	return nil
}
