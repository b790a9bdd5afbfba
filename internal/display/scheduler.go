package display

import (
	"log/slog"
	"time"

	"github.com/skobkin/hostmon-panel/internal/devicestore"
	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

const footerInterval = time.Second

// Store is the device store view the scheduler needs.
type Store interface {
	OnlineCount(enabled devicestore.EnabledFunc) int
	OnlineAt(idx int, enabled devicestore.EnabledFunc) (devicestore.Device, bool)
	Lookup(host string) (devicestore.Device, bool)
	ConsumeDirty(host string) metrics.DirtyMask
}

// Settings is the configuration view the scheduler needs.
type Settings interface {
	IsEnabled(host string) bool
	AutoCarousel() bool
	DisplayTime(host string) time.Duration
	Alias(host string) string
	Thresholds() settings.Thresholds
	FirstEnabledExcept(skip func(host string) bool) (string, bool)
}

// Link reports the connectivity shown to the user.
type Link interface {
	ConnectedForDisplay(now time.Time) bool
}

// Scheduler paces redraws and rotates between online sources. It is not
// safe for concurrent use; the loop goroutine owns it.
type Scheduler struct {
	store    Store
	settings Settings
	link     Link
	renderer Renderer
	logger   *slog.Logger

	index       int
	lastSwitch  time.Time
	lastRefresh time.Time
	lastFooter  time.Time
	force       bool
	pending     bool

	shownKind Kind
	shownHost string
	shownLink bool
}

// NewScheduler wires a Scheduler. Call Begin before the first Tick.
func NewScheduler(store Store, cfg Settings, link Link, renderer Renderer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		settings: cfg,
		link:     link,
		renderer: renderer,
		logger:   logger.With("component", "display"),
	}
}

// Begin resets the rotation clock and forces a full redraw.
func (s *Scheduler) Begin(now time.Time) {
	s.force = true
	s.pending = true
	s.lastSwitch = now
	s.lastRefresh = time.Time{}
	s.shownKind = KindNone
	s.shownHost = ""
}

// ForceRedraw schedules a full redraw on the next refresh.
func (s *Scheduler) ForceRedraw() {
	s.force = true
}

// NotifyMetricsUpdated marks a visible update as pending when host is the
// one on screen, nothing is on screen yet, or host is unknown.
func (s *Scheduler) NotifyMetricsUpdated(host string) {
	if host == "" || s.shownHost == "" || host == s.shownHost {
		s.pending = true
	}
}

// Current returns what is on screen.
func (s *Scheduler) Current() (Kind, string) {
	return s.shownKind, s.shownHost
}

// Tick rotates the carousel when due and refreshes the screen at the pace
// chosen by policy.RefreshInterval.
func (s *Scheduler) Tick(now time.Time) {
	s.autoRotate(now)

	interval := policy.RefreshInterval(s.force, s.pending)
	if !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < interval {
		return
	}
	s.refresh(now)
	s.lastRefresh = now
	s.pending = false
}

func (s *Scheduler) autoRotate(now time.Time) {
	if !s.settings.AutoCarousel() {
		return
	}
	count := s.store.OnlineCount(s.settings.IsEnabled)
	if count <= 1 {
		return
	}
	if now.Sub(s.lastSwitch) <= s.settings.DisplayTime(s.shownHost) {
		return
	}
	s.index = (s.index + 1) % count
	s.lastSwitch = now
	s.force = true
	s.pending = true
}

func (s *Scheduler) refresh(now time.Time) {
	link := s.link.ConnectedForDisplay(now)

	if count := s.store.OnlineCount(s.settings.IsEnabled); count > 0 {
		if s.index >= count {
			s.index = 0
			s.force = true
		}
		if dev, ok := s.store.OnlineAt(s.index, s.settings.IsEnabled); ok {
			s.showDevice(now, dev, count, link)
			return
		}
	}

	host, ok := s.settings.FirstEnabledExcept(func(host string) bool {
		dev, known := s.store.Lookup(host)
		return known && dev.Online
	})
	if ok {
		s.showStatic(now, KindOffline, host, link)
		return
	}
	s.showStatic(now, KindWaiting, "", link)
}

func (s *Scheduler) showDevice(now time.Time, dev devicestore.Device, count int, link bool) {
	hostChanged := s.shownKind != KindDevice || s.shownHost != dev.Host
	dirty := s.store.ConsumeDirty(dev.Host)

	full := policy.ShouldRedrawHeader(s.force, hostChanged, dirty.Online())
	if full {
		dirty = metrics.DirtyAll
	}
	footer := full || !dirty.Empty() || link != s.shownLink ||
		s.lastFooter.IsZero() || now.Sub(s.lastFooter) >= footerInterval
	if !footer {
		return
	}

	if hostChanged {
		s.lastSwitch = now
		s.logger.Debug("showing device", "host", dev.Host, "index", s.index, "count", count)
	}

	s.renderer.Draw(Command{
		Kind:       KindDevice,
		Full:       full,
		Dirty:      dirty,
		Footer:     true,
		Host:       dev.Host,
		Alias:      s.settings.Alias(dev.Host),
		Index:      s.index,
		Count:      count,
		Online:     dev.Online,
		Frame:      dev.Frame,
		Age:        now.Sub(dev.LastUpdate),
		Thresholds: s.settings.Thresholds(),
		LinkUp:     link,
	})

	s.shownKind = KindDevice
	s.shownHost = dev.Host
	s.shownLink = link
	s.lastFooter = now
	s.force = false
}

func (s *Scheduler) showStatic(now time.Time, kind Kind, host string, link bool) {
	if !s.force && s.shownKind == kind && s.shownHost == host && s.shownLink == link {
		return
	}

	cmd := Command{
		Kind:       kind,
		Full:       true,
		Host:       host,
		Thresholds: s.settings.Thresholds(),
		LinkUp:     link,
	}
	if host != "" {
		cmd.Alias = s.settings.Alias(host)
		if dev, ok := s.store.Lookup(host); ok {
			cmd.Frame = dev.Frame
			cmd.Age = now.Sub(dev.LastUpdate)
		}
	}
	s.renderer.Draw(cmd)

	s.shownKind = kind
	s.shownHost = host
	s.shownLink = link
	s.force = false
}
