package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vigilsec/vigilsec/internal/activity"
	"github.com/vigilsec/vigilsec/internal/alert"
	"github.com/vigilsec/vigilsec/internal/api"
	"github.com/vigilsec/vigilsec/internal/config"
	"github.com/vigilsec/vigilsec/internal/mitigate"
	"github.com/vigilsec/vigilsec/internal/monitor"
	"github.com/vigilsec/vigilsec/internal/notify"
	"github.com/vigilsec/vigilsec/internal/profile"
	"github.com/vigilsec/vigilsec/internal/ttlstore"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string
	var trace bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vigilsec monitoring engine and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to defaults if no config file
				cfg = config.Defaults()
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg.Server.LogLevel)

			if trace {
				exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
				if err != nil {
					return fmt.Errorf("creating trace exporter: %w", err)
				}
				tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
				otel.SetTracerProvider(tp)
				defer func() { _ = tp.Shutdown(context.Background()) }()
			}

			// TTL store: fall back to degraded, detection-only mode
			// when redis is disabled or unreachable.
			var store ttlstore.Store = ttlstore.Disabled{}
			degraded := true
			if cfg.Redis.Enabled {
				redisStore := ttlstore.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
				pingCtx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				err := redisStore.Ping(pingCtx)
				cancel()
				if err != nil {
					logger.Warn("ttl store unreachable, running degraded", "addr", cfg.Redis.Addr, "error", err)
				} else {
					store = redisStore
					degraded = false
					defer func() { _ = redisStore.Close() }()
				}
			} else {
				logger.Info("ttl store disabled, running degraded")
			}

			var history *alert.History
			if cfg.HistoryDB != "" {
				history, err = alert.NewHistory(cfg.HistoryDB, logger)
				if err != nil {
					logger.Warn("alert history unavailable", "path", cfg.HistoryDB, "error", err)
				} else {
					defer func() { _ = history.Close() }()
				}
			}

			notifier := notify.NewWebhook(cfg.Notifications, store, logger)
			recorder := activity.NewRecorder(cfg.Monitoring.BufferSize, logger)
			profiles := profile.NewStore(store, logger)
			manager := alert.NewManager(history, notifier, logger)
			mitigator := mitigate.NewController(store, nil, logger)
			engine := monitor.New(cfg.Monitoring, recorder, profiles, manager, mitigator, degraded, logger)

			srv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port),
				Handler:           api.NewServer(engine, logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			printBanner(cfg, degraded)

			// Graceful shutdown on SIGINT/SIGTERM: the loops finish
			// their in-flight cycle, then exit.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go engine.Run(ctx)
			go func() {
				if err := config.Watch(ctx, cfgFile, logger, func(c *config.Config) {
					engine.SetSensitivity(c.Monitoring.Sensitivity)
				}); err != nil {
					logger.Debug("config watch disabled", "error", err)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	cmd.Flags().BoolVar(&trace, "trace", false, "emit traces for API requests to stdout")
	return cmd
}

func newLogger(level string) *slog.Logger {
	l := slog.LevelInfo
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func printBanner(cfg *config.Config, degraded bool) {
	mode := "full"
	if degraded {
		mode = "degraded (detection only)"
	}

	fmt.Println()
	fmt.Println("  vigilsec engine")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  API:      http://%s:%d/api/v1/summary\n", cfg.Server.Bind, cfg.Server.Port)
	fmt.Printf("  Health:   http://%s:%d/health\n", cfg.Server.Bind, cfg.Server.Port)
	fmt.Printf("  Metrics:  http://%s:%d/metrics\n", cfg.Server.Bind, cfg.Server.Port)
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Mode: %s  |  Monitor every %dm\n", mode, cfg.Monitoring.IntervalMinutes)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
}
