package storage

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/skobkin/hostmon-panel/internal/settings"
)

func newTestFS(t *testing.T) (*FS, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	s := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !s.Ready() {
		t.Fatalf("expected storage to be ready")
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestMonitorRoundTrip(t *testing.T) {
	t.Parallel()

	s, dir := newTestFS(t)

	if _, err := s.LoadMonitor(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist on fresh directory, got %v", err)
	}

	cfg := settings.Defaults()
	cfg.Broker.Server = "broker.lan"
	cfg.Broker.SubscribedTopics = []string{"sys/agents/desk/metrics/v2"}
	cfg.Devices = []settings.Device{{Hostname: "desk", Alias: "Desk", DisplayTime: 9, Enabled: false}}
	if err := s.SaveMonitor(cfg); err != nil {
		t.Fatalf("SaveMonitor: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, monitorFile))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, monitorFile+".tmp")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	loaded, err := s.LoadMonitor()
	if err != nil {
		t.Fatalf("LoadMonitor: %v", err)
	}
	if loaded.Broker.Server != "broker.lan" || len(loaded.Devices) != 1 || loaded.Devices[0].Enabled {
		t.Fatalf("unexpected round trip %+v", loaded)
	}
}

func TestLoadMonitorPartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	s, dir := newTestFS(t)
	body := "mqtt:\n  server: 10.0.0.2\ndevices:\n  - hostname: nas\n"
	if err := os.WriteFile(filepath.Join(dir, monitorFile), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := s.LoadMonitor()
	if err != nil {
		t.Fatalf("LoadMonitor: %v", err)
	}
	if loaded.Broker.Port != settings.DefaultBrokerPort || !loaded.AutoCarousel {
		t.Fatalf("defaults not preserved: %+v", loaded)
	}
	if len(loaded.Devices) != 1 || !loaded.Devices[0].Enabled {
		t.Fatalf("device without enabled key should default to enabled: %+v", loaded.Devices)
	}
}

func TestLoadMonitorCorrupt(t *testing.T) {
	t.Parallel()

	s, dir := newTestFS(t)
	if err := os.WriteFile(filepath.Join(dir, monitorFile), []byte("mqtt: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.LoadMonitor(); err == nil || errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	s, dir := newTestFS(t)

	if _, err := s.LoadCredentials(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if s.HasCredentials() {
		t.Fatalf("fresh storage should have no credentials")
	}

	creds := settings.WiFiCredentials{SSID: "home", Password: "secret123"}
	if err := s.SaveCredentials(creds); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}
	got, err := s.LoadCredentials()
	if err != nil || got != creds {
		t.Fatalf("unexpected credentials %+v err=%v", got, err)
	}

	// Hand-edited files may carry comments and trailing commas.
	body := "{\n  // office network\n  \"ssid\": \"office\",\n  \"pass\": \"pw\",\n}\n"
	if err := os.WriteFile(filepath.Join(dir, credentialsFile), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = s.LoadCredentials()
	if err != nil || got.SSID != "office" || got.Password != "pw" {
		t.Fatalf("jsonc credentials not parsed: %+v err=%v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, credentialsFile), []byte(`{"ssid":""}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.LoadCredentials(); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("empty ssid should count as missing, got %v", err)
	}
}

func TestNotReady(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := Open(filepath.Join(blocker, "sub"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if s.Ready() {
		t.Fatalf("storage under a regular file should not be ready")
	}
	if _, err := s.LoadMonitor(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := s.SaveCredentials(settings.WiFiCredentials{SSID: "x"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close on unready storage: %v", err)
	}
}
