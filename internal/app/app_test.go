package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/settings"
	"github.com/skobkin/hostmon-panel/internal/storage"
)

type fakeRadio struct {
	mu       sync.Mutex
	succeed  bool
	pending  bool
	joined   string
	connects []string
	apStarts int
	scans    int
	ap       bool
}

func (f *fakeRadio) StartConnect(creds settings.WiFiCredentials, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, creds.SSID)
	f.pending = true
	return true
}

func (f *fakeRadio) StartConnectStored(time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, "")
	f.pending = true
	return true
}

func (f *fakeRadio) PollConnect(time.Time) radio.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending {
		return radio.ResultIdle
	}
	f.pending = false
	if !f.succeed {
		return radio.ResultFailed
	}
	f.joined = "home"
	return radio.ResultSuccess
}

func (f *fakeRadio) StartAP() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apStarts++
	f.ap = true
	return nil
}

func (f *fakeRadio) StartScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
}

func (f *fakeRadio) APMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ap
}

func (f *fakeRadio) APSSID() string { return "HOSTMON-TEST" }

func (f *fakeRadio) SSID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joined
}

func (f *fakeRadio) Address() string { return "192.0.2.10" }

func (f *fakeRadio) ScanResults() ([]radio.Network, bool) { return nil, true }

func TestRuntimeEntersMonitorMode(t *testing.T) {
	t.Parallel()

	r := &fakeRadio{succeed: true}
	rt := newTestRuntime(t, r)

	if got := rt.modeName(); got != "pending" {
		t.Fatalf("expected pending mode before the first tick, got %q", got)
	}

	now := time.Unix(1000, 0)
	tickUntil(t, rt, &now, 500*time.Millisecond, func() bool { return rt.modeName() == "monitor" })

	if len(r.connects) != 1 || r.connects[0] != "" {
		t.Fatalf("expected one stored-network attempt, got %v", r.connects)
	}
	view, ok := rt.hub.Latest()
	if !ok || view.Kind != "waiting" {
		t.Fatalf("expected waiting screen after entering monitor mode, got %+v", view)
	}
	if r.apStarts != 0 {
		t.Fatalf("access point must not start in monitor mode")
	}
}

func TestRuntimeUsesSavedCredentials(t *testing.T) {
	t.Parallel()

	r := &fakeRadio{succeed: true}
	fs := storage.Open(t.TempDir(), quietLogger())
	t.Cleanup(func() { _ = fs.Close() })
	if err := fs.SaveCredentials(settings.WiFiCredentials{SSID: "home", Password: "secret"}); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	rt, err := newRuntime(fs, r, quietLogger())
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(rt.close)

	now := time.Unix(1000, 0)
	if err := rt.tick(now); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(r.connects) != 1 || r.connects[0] != "home" {
		t.Fatalf("expected saved network attempt, got %v", r.connects)
	}
	view, _ := rt.hub.Latest()
	if view.Title != "Connecting" || len(view.Rows) != 2 || view.Rows[0].Value != "home" || view.Rows[1].Value != "Attempt 1/3" {
		t.Fatalf("unexpected connecting screen %+v", view)
	}

	if err := rt.tick(now.Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	view, _ = rt.hub.Latest()
	if view.Title != "Connected" || len(view.Rows) != 2 || view.Rows[0].Value != "home" || view.Rows[1].Value != "192.0.2.10" {
		t.Fatalf("unexpected connected screen %+v", view)
	}
}

func TestRuntimeEntersConfigMode(t *testing.T) {
	t.Parallel()

	r := &fakeRadio{}
	rt := newTestRuntime(t, r)

	now := time.Unix(1000, 0)
	tickUntil(t, rt, &now, 1100*time.Millisecond, func() bool { return rt.modeName() == "config" })

	if len(r.connects) != 2 {
		t.Fatalf("expected two stored-network attempts, got %v", r.connects)
	}
	if r.apStarts != 1 || r.scans != 1 {
		t.Fatalf("expected access point and scan to start once, got ap=%d scans=%d", r.apStarts, r.scans)
	}
	view, _ := rt.hub.Latest()
	if view.Title != "Setup" || len(view.Rows) != 2 || view.Rows[0].Value != "Join HOSTMON-TEST" || view.Rows[1].Value != "http://192.0.2.10" {
		t.Fatalf("unexpected setup screen %+v", view)
	}

	// The acquisition sequence is finished; later ticks must not retry.
	for range 5 {
		now = now.Add(time.Second)
		if err := rt.tick(now); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	if len(r.connects) != 2 {
		t.Fatalf("unexpected attempts after config mode: %v", r.connects)
	}
}

func TestRuntimeRestartsWhenDue(t *testing.T) {
	t.Parallel()

	rt := newTestRuntime(t, &fakeRadio{succeed: true})
	now := time.Unix(1000, 0)

	rt.deps().ScheduleRestart(now.Add(3 * time.Second))
	if err := rt.tick(now.Add(time.Second)); err != nil {
		t.Fatalf("tick before restart: %v", err)
	}
	if err := rt.tick(now.Add(3 * time.Second)); !errors.Is(err, ErrRestart) {
		t.Fatalf("expected ErrRestart, got %v", err)
	}
}

func TestRestartTimerKeepsEarliest(t *testing.T) {
	t.Parallel()

	var timer restartTimer
	base := time.Unix(1000, 0)

	if timer.Due(base) {
		t.Fatalf("unscheduled timer reported due")
	}
	timer.Schedule(base.Add(5 * time.Second))
	timer.Schedule(base.Add(3 * time.Second))
	timer.Schedule(base.Add(9 * time.Second))

	if timer.Due(base.Add(2 * time.Second)) {
		t.Fatalf("timer due too early")
	}
	if !timer.Due(base.Add(3 * time.Second)) {
		t.Fatalf("expected earliest request to win")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		ListenAddr:     "127.0.0.1:0",
		DataDir:        filepath.Join(t.TempDir(), "data"),
		LoopInterval:   10 * time.Millisecond,
		AllowedOrigins: []string{"*"},
		TerminalRender: config.TerminalOff,
		WiFi: config.WiFiConfig{
			Backend:   config.BackendStatic,
			Interface: "lo",
			DeviceID:  "TEST",
		},
		WS: config.WebsocketConfig{MaxClients: 1},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, quietLogger(), cfg)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestRunRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		ListenAddr:   "127.0.0.1:0",
		DataDir:      t.TempDir(),
		LoopInterval: 10 * time.Millisecond,
		WiFi:         config.WiFiConfig{Backend: "carrier-pigeon"},
	}
	if err := Run(context.Background(), quietLogger(), cfg); err == nil {
		t.Fatalf("expected error for unknown wifi backend")
	}
}

func newTestRuntime(t *testing.T, r Radio) *runtime {
	t.Helper()

	fs := storage.Open(t.TempDir(), quietLogger())
	t.Cleanup(func() { _ = fs.Close() })

	rt, err := newRuntime(fs, r, quietLogger())
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(rt.close)
	return rt
}

func tickUntil(t *testing.T, rt *runtime, now *time.Time, step time.Duration, cond func() bool) {
	t.Helper()

	for range 40 {
		if err := rt.tick(*now); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if cond() {
			return
		}
		*now = now.Add(step)
	}
	t.Fatalf("condition not reached, mode %q", rt.modeName())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
