package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"uas-server/internal/config"
)

var (
	// Version is set at build time.
	Version = "1.0.0"

	// Global flags
	configPath string
)

// errUnhealthy is returned by check when the runtime does not answer.
var errUnhealthy = errors.New("model runtime unhealthy")

var rootCmd = &cobra.Command{
	Use:   "uas-server",
	Short: "UAS backend server",
	Long: `uas-server exposes a local Ollama runtime over HTTP: chat and generation
with optional SSE streaming, model management, a mock agent registry, a
sandboxed CLI agent, workspace file access, a key-value memory store and a
WebSocket broadcast channel. It also forwards /api/proxy requests to the
UAS, editor and audio backends.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "uas-server", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (env vars override it)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// configError marks failures to load configuration.
type configError struct{ err error }

func (e configError) Error() string { return "config error: " + e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func loadConfig() (config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, configError{err}
	}
	lvl := new(slog.LevelVar)
	level, _ := config.ParseLevel(cfg.LogLevel)
	lvl.Set(level)
	return cfg, lvl, nil
}

func exitCode(err error) int {
	var ce configError
	if errors.As(err, &ce) {
		return 2
	}
	return 1
}
