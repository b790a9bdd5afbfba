package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/skobkin/hostmon-panel/internal/app"
	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/version"
)

// exitRestart asks the supervisor to start the panel again when the binary
// could not be re-executed in place.
const exitRestart = 3

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load()
	if err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(os.Stderr, cfg.LogLevel))
	logger.Info("starting hostmon panel", "version", version.Current().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = app.Run(ctx, logger, cfg)
	stop()

	switch {
	case errors.Is(err, app.ErrRestart):
		restart(logger)
	case err != nil:
		logger.Error("application error", "err", err)
		os.Exit(1)
	}
}

// newLogHandler emits text for a terminal and JSON for log collectors.
func newLogHandler(out *os.File, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(out.Fd())) {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func restart(logger *slog.Logger) {
	exe, err := os.Executable()
	if err == nil {
		logger.Info("re-executing", "path", exe)
		err = syscall.Exec(exe, os.Args, os.Environ())
	}
	logger.Error("re-exec failed, exiting for supervisor restart", "err", err, "code", exitRestart)
	os.Exit(exitRestart)
}
