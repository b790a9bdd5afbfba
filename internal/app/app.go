// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/execx"
	"github.com/skobkin/hostmon-panel/internal/httpserver"
	"github.com/skobkin/hostmon-panel/internal/panel"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// ErrRestart is returned by Run when an applied change requires the process
// to start over.
var ErrRestart = errors.New("restart requested")

// Run bootstraps the application lifecycle. It returns nil after ctx is
// canceled and ErrRestart when a restart was scheduled.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	fs := storage.Open(cfg.DataDir, baseLogger.With("component", "storage"))
	defer func() {
		if err := fs.Close(); err != nil {
			appLogger.Warn("storage close", "err", err)
		}
	}()
	if fs.Ready() {
		appLogger.Info("storage ready", "dir", fs.Dir())
	} else {
		appLogger.Warn("running without persistent storage", "dir", fs.Dir())
	}

	backend, err := newRadio(cfg, baseLogger.With("component", "radio"))
	if err != nil {
		return err
	}

	rt, err := newRuntime(fs, backend, baseLogger)
	if err != nil {
		return fmt.Errorf("init runtime: %w", err)
	}
	defer rt.close()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), rt.deps())

	g, gctx := errgroup.WithContext(ctx)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return rt.run(gctx, cfg.LoopInterval)
	})

	if useTerminal(cfg.TerminalRender, os.Stdout) {
		terminal := panel.NewTerminal(os.Stdout, true, baseLogger)
		g.Go(func() error {
			return terminal.Run(gctx, rt.hub)
		})
	}

	err = g.Wait()
	switch {
	case errors.Is(err, ErrRestart):
		appLogger.Info("restarting")
		return ErrRestart
	case err != nil:
		return err
	}
	appLogger.Info("shutdown complete", "reason", context.Cause(ctx))
	return nil
}

func newRadio(cfg config.Config, logger *slog.Logger) (Radio, error) {
	switch cfg.WiFi.Backend {
	case config.BackendNMCLI:
		return radio.NewNMCLI(execx.NewOSRunner(), cfg.WiFi.Interface, cfg.WiFi.APSSID(), logger), nil
	case config.BackendStatic:
		return radio.NewStatic(cfg.WiFi.Interface, logger), nil
	default:
		return nil, fmt.Errorf("unknown wifi backend %q", cfg.WiFi.Backend)
	}
}

func useTerminal(mode config.TerminalMode, out *os.File) bool {
	switch mode {
	case config.TerminalOn:
		return true
	case config.TerminalOff:
		return false
	default:
		return term.IsTerminal(int(out.Fd()))
	}
}
