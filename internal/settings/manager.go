package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/policy"
)

// Persister loads and stores the configuration record.
type Persister interface {
	LoadMonitor() (Monitor, error)
	SaveMonitor(Monitor) error
}

// Manager owns the in-memory record. Mutations from the loop are saved
// lazily: MarkDirty starts a debounce window and Tick writes once it has
// passed, so bursts of auto-enrolment coalesce into one write.
type Manager struct {
	persister Persister
	logger    *slog.Logger

	// saveMu serializes writes so a stale snapshot never lands after a
	// newer record.
	saveMu sync.Mutex

	mu         sync.RWMutex
	cfg        Monitor
	generation uint64
	dirtySince time.Time
	saves      uint64
}

// NewManager returns a Manager holding factory defaults.
func NewManager(persister Persister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		persister: persister,
		logger:    logger,
		cfg:       Defaults(),
	}
}

// Load replaces the record with the persisted one. Missing or unreadable
// records leave the defaults in place; the error is returned for logging
// only and is nil when nothing was saved yet.
func (m *Manager) Load() error {
	if m.persister == nil {
		return nil
	}
	loaded, err := m.persister.LoadMonitor()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load monitor settings: %w", err)
	}
	loaded.Normalize()

	m.mu.Lock()
	m.cfg = loaded
	m.generation++
	m.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the record.
func (m *Manager) Snapshot() Monitor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Broker returns the broker section.
func (m *Manager) Broker() Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b := m.cfg.Broker
	b.SubscribedTopics = append([]string(nil), b.SubscribedTopics...)
	return b
}

// OpenMode reports whether no explicit allow-list is configured.
func (m *Manager) OpenMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cfg.Broker.SubscribedTopics) == 0
}

// TopicAllowed reports whether topic is on the allow-list.
func (m *Manager) TopicAllowed(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Broker.TopicAllowed(topic)
}

// DeviceState reports whether host is configured and, if so, enabled.
func (m *Manager) DeviceState(host string) (known, enabled bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.indexLocked(host); idx >= 0 {
		return true, m.cfg.Devices[idx].Enabled
	}
	return false, false
}

// IsEnabled reports whether host may be displayed. Unknown hosts are enabled.
func (m *Manager) IsEnabled(host string) bool {
	known, enabled := m.DeviceState(host)
	return !known || enabled
}

// GetOrCreateDevice returns host's entry, appending a disabled one when the
// host is new. ok is false when the device list is full.
func (m *Manager) GetOrCreateDevice(host string, now time.Time) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx := m.indexLocked(host); idx >= 0 {
		return m.cfg.Devices[idx], true
	}
	if host == "" || len(m.cfg.Devices) >= policy.MaxSources {
		return Device{}, false
	}
	dev := Device{
		Hostname:    host,
		Alias:       host,
		DisplayTime: m.cfg.DisplayTime,
		Enabled:     false,
	}
	m.cfg.Devices = append(m.cfg.Devices, dev)
	m.markDirtyLocked(now)
	return dev, true
}

// EnableDevice enables a configured host. It reports whether anything changed.
func (m *Manager) EnableDevice(host string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(host)
	if idx < 0 || m.cfg.Devices[idx].Enabled {
		return false
	}
	m.cfg.Devices[idx].Enabled = true
	m.markDirtyLocked(now)
	return true
}

// Alias returns the display name for host.
func (m *Manager) Alias(host string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx := m.indexLocked(host); idx >= 0 && m.cfg.Devices[idx].Alias != "" {
		return m.cfg.Devices[idx].Alias
	}
	return host
}

// DisplayTime returns how long host stays on screen during rotation.
func (m *Manager) DisplayTime(host string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seconds := m.cfg.DisplayTime
	if idx := m.indexLocked(host); idx >= 0 && m.cfg.Devices[idx].DisplayTime > 0 {
		seconds = m.cfg.Devices[idx].DisplayTime
	}
	if seconds <= 0 {
		seconds = DefaultDisplayTime
	}
	return time.Duration(seconds) * time.Second
}

// AutoCarousel reports whether rotation between sources is enabled.
func (m *Manager) AutoCarousel() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.AutoCarousel
}

// OfflineTimeout returns the clamped silence period after which a source is
// considered offline.
func (m *Manager) OfflineTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(policy.ClampOfflineTimeout(m.cfg.OfflineTimeoutSec)) * time.Second
}

// Thresholds returns the alert levels.
func (m *Manager) Thresholds() Thresholds {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Thresholds
}

// Hostnames lists the configured device identifiers.
func (m *Manager) Hostnames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cfg.Devices))
	for _, dev := range m.cfg.Devices {
		out = append(out, dev.Hostname)
	}
	return out
}

// FirstEnabledExcept returns the first enabled configured host for which
// skip returns false.
func (m *Manager) FirstEnabledExcept(skip func(host string) bool) (string, bool) {
	for _, host := range m.Hostnames() {
		if !m.IsEnabled(host) {
			continue
		}
		if skip != nil && skip(host) {
			continue
		}
		return host, true
	}
	return "", false
}

// MarkDirty schedules a save.
func (m *Manager) MarkDirty(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirtyLocked(now)
}

// Pending reports whether unsaved changes exist.
func (m *Manager) Pending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.dirtySince.IsZero()
}

// Saves returns the number of successful writes.
func (m *Manager) Saves() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// Tick writes pending changes once the debounce window has passed. A failed
// write is retried after another window.
func (m *Manager) Tick(now time.Time) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.RLock()
	due := !m.dirtySince.IsZero() && now.Sub(m.dirtySince) >= policy.SaveDebounce
	snapshot := m.cfg.Clone()
	generation := m.generation
	m.mu.RUnlock()

	if !due || m.persister == nil {
		return
	}

	err := m.persister.SaveMonitor(snapshot)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Warn("failed to save monitor settings", "err", err)
		m.dirtySince = now
		return
	}
	m.saves++
	if m.generation == generation {
		m.dirtySince = time.Time{}
	} else {
		m.dirtySince = now
	}
	m.logger.Debug("monitor settings saved")
}

// Replace validates, normalizes and synchronously persists a record
// submitted by an operator. The in-memory record changes only when the
// write succeeded.
func (m *Manager) Replace(next Monitor) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next.Normalize()

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.persister != nil {
		if err := m.persister.SaveMonitor(next.Clone()); err != nil {
			return fmt.Errorf("save monitor settings: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = next
	m.generation++
	m.dirtySince = time.Time{}
	m.saves++
	return nil
}

func (m *Manager) markDirtyLocked(now time.Time) {
	m.generation++
	if m.dirtySince.IsZero() {
		m.dirtySince = now
	}
}

func (m *Manager) indexLocked(host string) int {
	for i := range m.cfg.Devices {
		if m.cfg.Devices[i].Hostname == host {
			return i
		}
	}
	return -1
}
