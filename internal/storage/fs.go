// Package storage persists the appliance settings and the saved network
// credentials under a single data directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/skobkin/hostmon-panel/internal/settings"
)

const (
	monitorFile     = "monitor.yaml"
	credentialsFile = "wifi.json"

	openRetryDelay = 50 * time.Millisecond
)

var (
	ErrNotReady      = errors.New("storage not ready")
	ErrNoCredentials = errors.New("no saved wifi credentials")
)

// FS is the data directory. When the directory could not be opened the FS
// stays usable but every operation reports ErrNotReady; callers treat that
// as a first-class condition rather than a crash.
type FS struct {
	dir    string
	root   *os.Root
	logger *slog.Logger
}

// Open prepares dir, retrying once after a short pause. It never fails;
// check Ready on the result.
func Open(dir string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &FS{dir: dir, logger: logger}

	root, err := openRoot(dir)
	if err != nil {
		logger.Warn("data directory unavailable, retrying", "dir", dir, "err", err)
		time.Sleep(openRetryDelay)
		root, err = openRoot(dir)
	}
	if err != nil {
		logger.Error("data directory unavailable", "dir", dir, "err", err)
		return s
	}
	s.root = root
	return s
}

func openRoot(dir string) (*os.Root, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}
	return root, nil
}

// Ready reports whether the data directory is usable.
func (s *FS) Ready() bool {
	return s != nil && s.root != nil
}

// Dir returns the data directory path.
func (s *FS) Dir() string {
	return s.dir
}

// Close releases the directory handle.
func (s *FS) Close() error {
	if !s.Ready() {
		return nil
	}
	return s.root.Close()
}

// LoadMonitor reads the settings record over factory defaults, so keys
// absent from the file keep their default values.
func (s *FS) LoadMonitor() (settings.Monitor, error) {
	if !s.Ready() {
		return settings.Monitor{}, ErrNotReady
	}
	data, err := s.root.ReadFile(monitorFile)
	if err != nil {
		return settings.Monitor{}, fmt.Errorf("read %s: %w", monitorFile, err)
	}
	cfg := settings.Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return settings.Monitor{}, fmt.Errorf("parse %s: %w", monitorFile, err)
	}
	return cfg, nil
}

// SaveMonitor writes the settings record atomically with owner-only access.
func (s *FS) SaveMonitor(cfg settings.Monitor) error {
	if !s.Ready() {
		return ErrNotReady
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", monitorFile, err)
	}
	return s.writeAtomic(monitorFile, data)
}

// HasCredentials reports whether a usable saved network exists.
func (s *FS) HasCredentials() bool {
	_, err := s.LoadCredentials()
	return err == nil
}

// LoadCredentials reads the saved network. Comments and trailing commas are
// tolerated so the file can be edited by hand.
func (s *FS) LoadCredentials() (settings.WiFiCredentials, error) {
	if !s.Ready() {
		return settings.WiFiCredentials{}, ErrNotReady
	}
	data, err := s.root.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings.WiFiCredentials{}, ErrNoCredentials
		}
		return settings.WiFiCredentials{}, fmt.Errorf("read %s: %w", credentialsFile, err)
	}
	var creds settings.WiFiCredentials
	if err := json.Unmarshal(jsonc.ToJSON(data), &creds); err != nil {
		return settings.WiFiCredentials{}, fmt.Errorf("parse %s: %w", credentialsFile, err)
	}
	if creds.SSID == "" {
		return settings.WiFiCredentials{}, ErrNoCredentials
	}
	return creds, nil
}

// SaveCredentials writes the network and reads it back to confirm the
// write reached storage.
func (s *FS) SaveCredentials(creds settings.WiFiCredentials) error {
	if !s.Ready() {
		return ErrNotReady
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", credentialsFile, err)
	}
	if err := s.writeAtomic(credentialsFile, append(data, '\n')); err != nil {
		return err
	}
	stored, err := s.LoadCredentials()
	if err != nil {
		return fmt.Errorf("verify %s: %w", credentialsFile, err)
	}
	if stored.SSID != creds.SSID {
		return fmt.Errorf("verify %s: ssid mismatch", credentialsFile)
	}
	return nil
}

func (s *FS) writeAtomic(name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.root.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
