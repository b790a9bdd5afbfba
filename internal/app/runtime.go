package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/hostmon-panel/internal/devicestore"
	"github.com/skobkin/hostmon-panel/internal/display"
	"github.com/skobkin/hostmon-panel/internal/httpserver"
	"github.com/skobkin/hostmon-panel/internal/netacq"
	"github.com/skobkin/hostmon-panel/internal/panel"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/provision"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/settings"
	"github.com/skobkin/hostmon-panel/internal/storage"
	"github.com/skobkin/hostmon-panel/internal/transport"
)

// Radio is everything the appliance needs from the Wi-Fi backend.
type Radio interface {
	netacq.Radio
	StartAP() error
	StartScan()
	APMode() bool
	APSSID() string
	SSID() string
	Address() string
	ScanResults() ([]radio.Network, bool)
}

// Storage persists the settings record and the saved network.
type Storage interface {
	settings.Persister
	provision.CredentialStore
	Ready() bool
	LoadCredentials() (settings.WiFiCredentials, error)
}

// runtime owns every loop-driven component. tick is only called from one
// goroutine; the HTTP server reaches the components through their own
// locking.
type runtime struct {
	radio     Radio
	settings  *settings.Manager
	store     *devicestore.Store
	hub       *panel.Hub
	machine   *netacq.Machine
	applier   *provision.Applier
	transport *transport.Transport
	scheduler *display.Scheduler
	restart   *restartTimer
	logger    *slog.Logger

	saved   *settings.WiFiCredentials
	mode    atomic.Int32
	now     time.Time
	monitor bool
}

func newRuntime(fs Storage, r Radio, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		radio:   r,
		store:   devicestore.New(policy.MaxSources),
		hub:     panel.NewHub(logger),
		restart: &restartTimer{},
		logger:  logger.With("component", "loop"),
	}

	rt.settings = settings.NewManager(fs, logger.With("component", "settings"))
	if err := rt.settings.Load(); err != nil {
		rt.logger.Warn("using default monitor settings", "err", err)
	}

	creds, err := fs.LoadCredentials()
	switch {
	case err == nil:
		rt.saved = &creds
	case errors.Is(err, storage.ErrNoCredentials), errors.Is(err, storage.ErrNotReady):
		rt.logger.Info("no saved network")
	default:
		rt.logger.Warn("saved network unreadable", "err", err)
	}

	rt.transport, err = transport.New(transport.Options{
		Store:     rt.store,
		Settings:  rt.settings,
		OnMetrics: rt.metricsUpdated,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}

	rt.scheduler = display.NewScheduler(rt.store, rt.settings, rt.transport, rt.hub, logger)
	rt.applier = provision.NewApplier(r, fs, rt.restart.Schedule, logger)
	rt.machine = netacq.New(r, netacq.Options{
		Saved:        rt.saved,
		StorageReady: fs.Ready,
		Logger:       logger.With("component", "netacq"),
		Hooks: netacq.Hooks{
			Attempt:    rt.onAttempt,
			Connected:  rt.onConnected,
			RetryCycle: rt.onRetryCycle,
			Monitor:    rt.onMonitor,
			ConfigMode: rt.onConfigMode,
		},
	})

	rt.hub.Draw(display.Notice("hostmon", "Starting"))
	return rt, nil
}

func (rt *runtime) deps() httpserver.Deps {
	return httpserver.Deps{
		Settings:        rt.settings,
		Store:           rt.store,
		Hub:             rt.hub,
		Link:            rt.transport,
		WiFi:            rt.radio,
		Applier:         rt.applier,
		Mode:            rt.modeName,
		ScheduleRestart: rt.restart.Schedule,
		Now:             time.Now,
	}
}

func (rt *runtime) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := rt.tick(time.Now()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs one pass of the cooperative loop.
func (rt *runtime) tick(now time.Time) error {
	rt.now = now

	if !rt.machine.Done() {
		rt.machine.Tick(now)
		rt.mode.Store(int32(rt.machine.Mode()))
	}

	rt.applier.Tick(now)
	if rt.restart.Due(now) {
		return ErrRestart
	}

	if rt.monitor {
		rt.transport.Loop(now)
	}
	rt.settings.Tick(now)
	if rt.monitor {
		rt.scheduler.Tick(now)
	}
	return nil
}

func (rt *runtime) close() {
	rt.transport.Close()
}

func (rt *runtime) modeName() string {
	return netacq.Mode(rt.mode.Load()).String()
}

func (rt *runtime) metricsUpdated(host string) {
	rt.scheduler.NotifyMetricsUpdated(host)
}

func (rt *runtime) onAttempt(source netacq.Source, attempt, limit int) {
	network := "stored network"
	if source == netacq.SourceSaved && rt.saved != nil {
		network = rt.saved.SSID
	}
	rt.hub.Draw(display.Notice("Connecting", network, fmt.Sprintf("Attempt %d/%d", attempt, limit)))
}

func (rt *runtime) onConnected() {
	lines := []string{}
	if ssid := rt.radio.SSID(); ssid != "" {
		lines = append(lines, ssid)
	}
	if addr := rt.radio.Address(); addr != "" {
		lines = append(lines, addr)
	}
	rt.hub.Draw(display.Notice("Connected", lines...))
}

func (rt *runtime) onRetryCycle(cycles int) {
	rt.hub.Draw(display.Notice("No network", fmt.Sprintf("Retry %d/%d", cycles, policy.MaxRecoveryCycles)))
}

func (rt *runtime) onMonitor() {
	rt.logger.Info("entering monitor mode")
	rt.monitor = true
	rt.scheduler.Begin(rt.now)
}

func (rt *runtime) onConfigMode() {
	rt.logger.Warn("entering configuration mode")
	if err := rt.radio.StartAP(); err != nil {
		rt.logger.Error("failed to start access point", "err", err)
	}
	rt.radio.StartScan()

	lines := []string{}
	if ssid := rt.radio.APSSID(); ssid != "" {
		lines = append(lines, "Join "+ssid)
	}
	if addr := rt.radio.Address(); addr != "" {
		lines = append(lines, "http://"+addr)
	}
	rt.hub.Draw(display.Notice("Setup", lines...))
}

// restartTimer holds the earliest scheduled restart. It is set from the
// HTTP goroutine and read by the loop.
type restartTimer struct {
	mu sync.Mutex
	at time.Time
}

// Schedule requests a restart at the given instant. An earlier request wins.
func (r *restartTimer) Schedule(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.at.IsZero() || at.Before(r.at) {
		r.at = at
	}
}

// Due reports whether a scheduled restart has been reached.
func (r *restartTimer) Due(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.at.IsZero() && !now.Before(r.at)
}
