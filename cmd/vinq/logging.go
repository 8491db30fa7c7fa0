package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kalambet/vinq/internal/config"
)

// newLogger builds the process logger. Output goes to stderr and, when
// log.file is set, also to a size-rotated file.
func newLogger(cfg config.Config, stderr io.Writer) (*slog.Logger, io.Closer) {
	var w io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if cfg.Log.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = io.MultiWriter(stderr, lj)
		closer = lj
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupLogging(cfg config.Config) (*slog.Logger, io.Closer) {
	logger, closer := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger, closer
}
