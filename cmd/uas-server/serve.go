package main

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

	"uas-server/internal/agents"
	"uas-server/internal/api"
	"uas-server/internal/broadcast"
	"uas-server/internal/cliagent"
	"uas-server/internal/config"
	"uas-server/internal/editor"
	"uas-server/internal/gateway"
	"uas-server/internal/memory"
	"uas-server/internal/monitor"
	"uas-server/internal/ollama"
	"uas-server/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, lvl, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLogs := config.SetupLogger(cfg.LogDir, lvl)
	defer func() {
		if err := closeLogs(); err != nil {
			fmt.Fprintln(os.Stderr, "close log files:", err)
		}
	}()

	started := time.Now()
	metrics := monitor.NewMetrics(monitor.NewRegistry())

	hub := broadcast.NewHub(broadcast.Options{
		Heartbeat:  cfg.HeartbeatInterval,
		SendBuffer: cfg.SendBuffer,
		Recorder:   metrics,
	}, logger)
	defer hub.Shutdown()

	// Warnings and errors also reach dashboard clients as log messages.
	logger = config.AttachHandlers(logger, broadcast.NewLogHandler(hub, slog.LevelWarn)).With("service", "uas-server")
	slog.SetDefault(logger)

	logConfig(logger, cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newOllamaClient(cfg, metrics, logger)
	if err != nil {
		return err
	}

	health := monitor.NewHealthChecker(client, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, metrics, logger, func(healthy bool) {
		state := agents.StateInactive
		if healthy {
			state = agents.StateActive
		}
		hub.BroadcastAgentStatus(agents.OllamaAgent, state)
	})
	defer health.Shutdown()

	go monitor.NewPublisher(metrics, hub, cfg.MetricsInterval, logger).Run(ctx)

	if configPath != "" {
		go func() {
			if err := config.WatchLogLevel(ctx, configPath, lvl, logger); err != nil {
				logger.Warn("config watcher stopped", "err", err)
			}
		}()
	}

	store, err := memory.Open(string(cfg.MemoryBackend), logger)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer store.Close()

	ws, err := editor.NewWorkspace(cfg.Workdir)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}

	dashboard, err := web.Assets(cfg.DashboardDir)
	if err != nil {
		logger.Warn("dashboard assets unavailable", "dir", cfg.DashboardDir, "err", err)
		dashboard = nil
	}

	srv := api.NewServer(api.Deps{
		Config:        cfg,
		Version:       Version,
		Started:       started,
		Ollama:        client,
		Shows:         ollama.NewShowCache(client, cfg.ShowCacheTTL),
		Hub:           hub,
		Metrics:       metrics,
		Health:        health,
		Memory:        store,
		Conversations: memory.NewConversations(),
		CLI:           cliagent.NewExecutor(nil, ws.Root(), cfg.CLITimeout, cfg.CLIRateLimit, logger),
		Workspace:     ws,
		Agents: agents.NewRegistry(agents.Settings{
			OllamaEndpoint: cfg.OllamaBaseURL,
			MemoryEnabled:  cfg.Features.MemoryAgent,
			CLIEnabled:     cfg.Features.CLIAgent,
			Workdir:        ws.Root(),
			CLITimeout:     cfg.CLITimeout,
		}, client, started),
		Gateway: gateway.New(gateway.Options{
			Endpoints:    gateway.Endpoints(cfg.UASAPIURL, cfg.EditorAPIURL, cfg.MobileEditorAPIURL, cfg.AudioBaseURL()),
			APIKey:       cfg.UASAPIKey,
			Timeout:      cfg.GatewayTimeout,
			MaxBodyBytes: cfg.RequestBodyMaxBytes,
			Recorder:     metrics,
		}, logger),
		Dashboard: dashboard,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting uas-server", "listen", cfg.ListenAddr, "ollama", cfg.OllamaBaseURL, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "err", err)
	}
	return nil
}

func newOllamaClient(cfg config.Config, metrics *monitor.Metrics, logger *slog.Logger) (*ollama.Client, error) {
	client, err := ollama.NewClient(cfg.OllamaBaseURL, cfg.OllamaDefaultModel, logger)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	client.Timeouts.Generate = cfg.GenerateTimeout
	client.Timeouts.Stream = cfg.StreamTimeout
	client.Timeouts.Pull = cfg.PullTimeout
	client.Timeouts.Probe = cfg.ProbeTimeout
	client.Observe = metrics.RecordOllama
	return client, nil
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"environment", cfg.Environment,
		"log_level", cfg.LogLevel,
		"log_dir", cfg.LogDir,
		"dashboard_dir", cfg.DashboardDir,
		"ollama_base_url", cfg.OllamaBaseURL,
		"ollama_default_model", cfg.OllamaDefaultModel,
		"generate_timeout", cfg.GenerateTimeout,
		"stream_timeout", cfg.StreamTimeout,
		"pull_timeout", cfg.PullTimeout,
		"show_cache_ttl", cfg.ShowCacheTTL,
		"uas_api_url", cfg.UASAPIURL,
		"editor_api_url", cfg.EditorAPIURL,
		"audio_api_url", cfg.AudioBaseURL(),
		"gateway_timeout", cfg.GatewayTimeout,
		"memory_backend", string(cfg.MemoryBackend),
		"workdir", cfg.Workdir,
		"cli_timeout", cfg.CLITimeout,
		"cli_rate_limit", cfg.CLIRateLimit,
		"features", cfg.Features,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"request_body_max_bytes", cfg.RequestBodyMaxBytes,
	)
}
