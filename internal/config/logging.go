package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

const (
	combinedLogName = "combined.log"
	errorLogName    = "error.log"
)

// SetupLogger creates the process logger: JSON to stdout, and when logDir
// is set, JSON to logDir/combined.log plus errors only to logDir/error.log.
// Returns the logger and a cleanup function closing the files.
func SetupLogger(logDir string, level slog.Leveler) (*slog.Logger, func() error) {
	stdoutHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if logDir == "" {
		return slog.New(stdoutHandler), func() error { return nil }
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		slog.Error("failed to create log directory, using stdout only", "error", err, "dir", logDir)
		return slog.New(stdoutHandler), func() error { return nil }
	}

	combined, err := openLogFile(filepath.Join(logDir, combinedLogName))
	if err != nil {
		slog.Error("failed to open log file, using stdout only", "error", err, "dir", logDir)
		return slog.New(stdoutHandler), func() error { return nil }
	}
	errorsOnly, err := openLogFile(filepath.Join(logDir, errorLogName))
	if err != nil {
		combined.Close()
		slog.Error("failed to open log file, using stdout only", "error", err, "dir", logDir)
		return slog.New(stdoutHandler), func() error { return nil }
	}

	logger := SetupLoggerWithWriters(os.Stdout, combined, errorsOnly, level)
	cleanup := func() error {
		return errors.Join(combined.Close(), errorsOnly.Close())
	}
	return logger, cleanup
}

// SetupLoggerWithWriters creates a logger with custom writers (for testing).
func SetupLoggerWithWriters(stdout, combined, errorsOnly io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(combined, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(errorsOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	))
}

// AttachHandlers returns a logger that writes to base and every extra handler.
func AttachHandlers(base *slog.Logger, extra ...slog.Handler) *slog.Logger {
	if len(extra) == 0 {
		return base
	}
	handlers := append([]slog.Handler{base.Handler()}, extra...)
	return slog.New(slogmulti.Fanout(handlers...))
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
