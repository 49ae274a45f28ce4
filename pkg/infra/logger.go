package infra

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Guizzs26/outbox-relay/internal/config"
)

var logFile *os.File

// SetupLogger builds the process logger from the LOG_* settings. When LOG_FILE
// is set, output is teed to stdout and the file.
func SetupLogger(cfg *config.Config) *slog.Logger {
	return slog.New(newHandler(cfg, logWriter(cfg.LogFile)))
}

func newHandler(cfg *config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	if strings.ToUpper(cfg.LogFormat) == "JSON" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logWriter(path string) io.Writer {
	if path == "" {
		return os.Stdout
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Warn("Could not open log file, logging to stdout only", "path", path, "error", err)
		return os.Stdout
	}
	logFile = f
	return io.MultiWriter(os.Stdout, f)
}

// CloseLogger flushes and closes the log file opened by SetupLogger, if any
func CloseLogger() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}
