package radio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/settings"
)

// Static is used when the network is managed outside the appliance. Every
// connect attempt succeeds on its first poll and the access point is only
// logged.
type Static struct {
	iface  string
	logger *slog.Logger

	mu      sync.Mutex
	pending bool
	apMode  bool
}

// NewStatic returns the externally managed backend.
func NewStatic(iface string, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{iface: iface, logger: logger}
}

func (s *Static) StartConnect(settings.WiFiCredentials, time.Time) bool {
	return s.StartConnectStored(time.Time{})
}

func (s *Static) StartConnectStored(time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = true
	return true
}

func (s *Static) PollConnect(time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return ResultIdle
	}
	s.pending = false
	s.apMode = false
	return ResultSuccess
}

func (s *Static) StartAP() error {
	s.mu.Lock()
	s.apMode = true
	s.mu.Unlock()
	s.logger.Warn("access point requested but the network is managed externally")
	return nil
}

func (s *Static) StartScan() {}

func (s *Static) ScanResults() ([]Network, bool) {
	return []Network{}, false
}

func (s *Static) APMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apMode
}

func (s *Static) APSSID() string { return "" }

func (s *Static) SSID() string { return "" }

func (s *Static) Address() string {
	return interfaceAddress(s.iface)
}
