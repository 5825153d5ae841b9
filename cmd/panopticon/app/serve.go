package app

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

	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"panopticon/internal/config"
	"panopticon/internal/engine"
	"panopticon/internal/gitsource"
	"panopticon/internal/mcptools"
	"panopticon/internal/opsserver"
	"panopticon/internal/telemetry"
	"panopticon/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the repository inspection server",
	Long: `Start the server that exposes the repository inspection tools.

Without a configuration file the server runs with defaults: stdio
transport, a 16-entry snapshot cache with a 15 minute TTL, and a 2 MiB
per-file read limit. The outbound git token is read from the
PANOPTICON_GIT_TOKEN environment variable unless auth.tokenFile is set.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	opsReadTimeout         = 10 * time.Second
	opsWriteTimeout        = 15 * time.Second
	opsIdleTimeout         = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	serveCmd.Flags().String("transport", "", "Tool-call transport (stdio or http), overrides the config file")

	err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}
	err = viper.BindPFlag("transport", serveCmd.Flags().Lookup("transport"))
	if err != nil {
		slog.Error("Failed to bind transport flag", "error", err)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", configPath)
	return cfg, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport := viper.GetString("transport"); transport != "" {
		cfg.Server.Transport = transport
	}

	// Metrics are wired only when the ops listener is enabled.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Ops.Address != "" {
		provider, handler, err := telemetry.NewMeterProvider("panopticon", versions.Version)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		defer func() {
			if err := provider.Shutdown(ctx); err != nil {
				slog.Error("Failed to shut down meter provider", "error", err)
			}
		}()
		metricsHandler = handler
		metrics, err = telemetry.NewMetrics(provider)
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	client := gitsource.NewClient(gitsource.Limits{
		MaxBlobSize:      cfg.Limits.MaxBlobSize,
		MaxFiles:         cfg.Limits.MaxFiles,
		MaxTotalFileSize: cfg.Limits.MaxTotalFileSize,
	})

	eng, err := engine.New(cfg, client, metrics)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	s := mcpserver.NewMCPServer("panopticon", versions.Version, mcpserver.WithToolCapabilities(false))
	mcptools.Register(s, eng, metrics)

	// Optional ops listener next to the tool transport.
	var opsSrv *http.Server
	if cfg.Ops.Address != "" {
		router := opsserver.NewServer(metricsHandler,
			opsserver.WithMiddlewares(
				middleware.RequestID,
				middleware.RealIP,
				middleware.Recoverer,
				opsserver.LoggingMiddleware,
			),
		)
		opsSrv = &http.Server{
			Addr:         cfg.Ops.Address,
			Handler:      router,
			ReadTimeout:  opsReadTimeout,
			WriteTimeout: opsWriteTimeout,
			IdleTimeout:  opsIdleTimeout,
		}
		go func() {
			slog.Info("Ops server listening", "address", cfg.Ops.Address)
			if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Ops server failed", "error", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)

	var httpSrv *mcpserver.StreamableHTTPServer
	switch cfg.Server.Transport {
	case config.TransportStdio:
		slog.Info("Serving tools over stdio")
		go func() {
			serveErr <- mcpserver.ServeStdio(s)
		}()
	case config.TransportHTTP:
		address := cfg.Server.Address()
		slog.Info("Serving tools over HTTP", "address", address)
		httpSrv = mcpserver.NewStreamableHTTPServer(s)
		go func() {
			serveErr <- httpSrv.Start(address)
		}()
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Server.Transport)
	}

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Tool server forced to shut down", "error", err)
		}
	}
	if opsSrv != nil {
		if err := opsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Ops server forced to shut down", "error", err)
		}
	}

	slog.Info("Server shutdown complete")
	return nil
}
