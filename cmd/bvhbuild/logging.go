package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gogpu/meshbvh"
)

// setupLogging routes meshbvh logs to stderr and, if configured, to a
// rotating file. The returned function closes the file.
func setupLogging(cfg LoggingConfig) func() error {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj.Close
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)}))
	meshbvh.SetLogger(logger)
	return closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
