package config

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLevel maps a LogLevel to its slog equivalent. Unset or invalid levels
// default to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the pipeline's root logger from cfg. Logs go to stderr,
// and additionally to a size-rotated file when cfg.File is set. The returned
// closer flushes the file sink; it is a no-op for stderr-only configs.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer) {
	sink := io.Writer(os.Stderr)
	var closer io.Closer = io.NopCloser(nil)

	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 5
		}
		rotated := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		sink = io.MultiWriter(os.Stderr, rotated)
		closer = rotated
	}

	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: cfg.Level.SlogLevel(),
	})
	return slog.New(handler), closer
}
