package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hivedesk/relay/internal/auth"
	"github.com/hivedesk/relay/internal/config"
	"github.com/hivedesk/relay/internal/hub"
	"github.com/hivedesk/relay/internal/notify"
	"github.com/hivedesk/relay/internal/observability"
	"github.com/hivedesk/relay/internal/reminder"
	"github.com/hivedesk/relay/internal/store"
)

// runServe implements the serve command logic. It handles configuration
// loading, component wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogging(cfg.Logging, debug)

	slog.Info("starting relay",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	gateway, cleanup, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer cleanup()

	metrics := observability.NewMetrics()
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	dispatcher, err := buildDispatcher(cfg, gateway, metrics)
	if err != nil {
		return err
	}

	realtimeHub := hub.New(gateway, verifier, dispatcher, metrics, slog.Default())
	dispatcher.SetLiveSender(realtimeHub.Broadcaster())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Reminders.Enabled {
		scheduler, err := buildScheduler(cfg.Reminders, gateway, dispatcher, metrics)
		if err != nil {
			return err
		}
		go scheduler.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.NewWSHandler(realtimeHub, metrics, slog.Default()))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) //nolint:errcheck
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	slog.Info("relay started", "addr", server.Addr, "reminders", cfg.Reminders.Enabled)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	slog.Info("relay stopped")
	return nil
}

// configureLogging replaces the default logger per config. The debug
// flag wins over the configured level.
func configureLogging(cfg config.LoggingConfig, debug bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openStore selects Postgres when a DSN is configured and the
// in-memory store otherwise. The cleanup function closes whatever was
// opened.
func openStore(cfg config.DatabaseConfig) (store.Gateway, func(), error) {
	if cfg.URL == "" {
		slog.Warn("no database url configured, using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	pgConfig := store.DefaultPostgresConfig()
	pgConfig.MaxOpenConns = cfg.MaxConnections
	pgConfig.ConnMaxLifetime = cfg.ConnMaxLifetime
	pgConfig.QueryTimeout = cfg.QueryTimeout

	pg, err := store.NewPostgresStore(cfg.URL, pgConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			slog.Warn("database close failed", "error", err)
		}
	}, nil
}

// buildDispatcher wires the push and email channels that the config
// enables. The live channel is attached by the caller once the hub
// exists.
func buildDispatcher(cfg *config.Config, gateway store.Gateway, metrics *observability.Metrics) (*notify.Dispatcher, error) {
	opts := []notify.Option{notify.WithMetrics(metrics)}

	if cfg.Push.Enabled {
		push, err := notify.NewHTTPPushSender(notify.PushConfig{
			URL:     cfg.Push.URL,
			APIKey:  cfg.Push.APIKey,
			Timeout: cfg.Push.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("push channel: %w", err)
		}
		opts = append(opts, notify.WithPushSender(push))
	}

	if cfg.Email.Enabled {
		email, err := notify.NewHTTPEmailSender(notify.EmailConfig{
			URL:         cfg.Email.URL,
			APIKey:      cfg.Email.APIKey,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			Timeout:     cfg.Email.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		opts = append(opts, notify.WithEmailSender(email))
	}

	return notify.NewDispatcher(gateway, slog.Default(), opts...), nil
}

func buildScheduler(cfg config.RemindersConfig, gateway store.Gateway, dispatcher *notify.Dispatcher, metrics *observability.Metrics) (*reminder.Scheduler, error) {
	opts := []reminder.Option{
		reminder.WithLookahead(time.Duration(cfg.LookaheadMinutes) * time.Minute),
		reminder.WithPollInterval(cfg.PollInterval),
		reminder.WithMetrics(metrics),
		reminder.WithLogger(slog.Default()),
	}
	if cfg.Schedule != "" {
		opt, err := reminder.WithSchedule(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("reminders schedule: %w", err)
		}
		opts = append(opts, opt)
	}
	return reminder.NewScheduler(gateway, dispatcher, opts...), nil
}
