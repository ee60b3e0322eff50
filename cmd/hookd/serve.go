package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hookd"
	"github.com/loykin/hookd/internal/logger"
	"github.com/loykin/hookd/internal/server"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the hookd daemon",
		Long: `Start the daemon: restore stored definitions, load the definitions
directory and serve inbound webhooks and the management API.
Without a config file the defaults and HOOKD_* environment apply.

Examples:
  hookd serve
  hookd serve hookd.toml
  HOOKD_SERVER_LISTEN=:9000 hookd serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}
}

// runServe blocks until ctx is cancelled or the HTTP server fails.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := hookd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logCfg := cfg.Log.Logger()
	log, logCloser := logger.New(logCfg)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	var access io.Writer
	if w := logCfg.Writer("access"); w != nil {
		defer func() { _ = w.Close() }()
		access = w
	}

	if cfg.Metrics.Enabled {
		if err := hookd.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := hookd.ServeMetrics(cfg.Metrics.Listen); err != nil {
					log.Error("metrics server stopped", "error", err)
				}
			}()
		}
	}

	svc, err := hookd.FromConfig(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn("shutdown finished with errors", "error", err)
		}
	}()

	if n, err := svc.Restore(ctx); err != nil {
		log.Warn("failed to restore some definitions", "error", err)
	} else if n > 0 {
		log.Info("restored definitions", "count", n)
	}
	if cfg.Importer.Dir != "" {
		if err := svc.LoadDir(ctx); err != nil {
			log.Warn("definitions directory loaded with errors", "error", err)
		}
		if cfg.Importer.Watch {
			if err := svc.Watch(ctx); err != nil {
				return err
			}
		}
		if cfg.Importer.Resync != "" {
			if err := svc.StartResync(cfg.Importer.Resync); err != nil {
				return err
			}
		}
	}

	h := svc.Handler(hookd.HandlerOptions{
		BasePath:      cfg.Server.BasePath,
		InboundPrefix: cfg.Server.InboundPrefix,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		RateLimit:     cfg.RateLimit.RPS,
		Burst:         cfg.RateLimit.Burst,
		AccessLog:     access,
	})
	srv, err := hookd.NewHTTPServer(cfg.Server, h)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	errCh := server.Start(srv)
	protocol := "http"
	if srv.TLSConfig != nil {
		protocol = "https"
	}
	log.Info("hookd started", "protocol", protocol, "listen", cfg.Server.Listen,
		"api", cfg.Server.BasePath, "inbound", cfg.Server.InboundPrefix)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return errors.New("http server stopped unexpectedly")
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
