package settings

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/hostmon-panel/internal/policy"
)

type memPersister struct {
	mu      sync.Mutex
	stored  *Monitor
	loadErr error
	saveErr error
	saves   int
}

func (p *memPersister) LoadMonitor() (Monitor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return Monitor{}, p.loadErr
	}
	if p.stored == nil {
		return Monitor{}, fs.ErrNotExist
	}
	return p.stored.Clone(), nil
}

func (p *memPersister) SaveMonitor(m Monitor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	clone := m.Clone()
	p.stored = &clone
	p.saves++
	return nil
}

func (p *memPersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// blockingPersister holds the first save until release is closed.
type blockingPersister struct {
	memPersister
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPersister) SaveMonitor(m Monitor) error {
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.entered)
		<-p.release
	}
	return p.memPersister.SaveMonitor(m)
}

func (p *blockingPersister) storedServer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stored == nil {
		return ""
	}
	return p.stored.Broker.Server
}

func newTestManager(p Persister) *Manager {
	return NewManager(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadMissingKeepsDefaults(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(&memPersister{})
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	snap := mgr.Snapshot()
	if snap.Broker.Port != DefaultBrokerPort || snap.Broker.Topic != policy.DiscoveryTopic {
		t.Fatalf("unexpected broker defaults %+v", snap.Broker)
	}
	if !snap.AutoCarousel || snap.DisplayTime != DefaultDisplayTime || snap.OfflineTimeoutSec != policy.DefaultOfflineTimeoutSec {
		t.Fatalf("unexpected defaults %+v", snap)
	}
	if snap.Thresholds != DefaultThresholds() {
		t.Fatalf("unexpected thresholds %+v", snap.Thresholds)
	}
}

func TestLoadCorruptKeepsDefaults(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(&memPersister{loadErr: errors.New("yaml: bad indentation")})
	if err := mgr.Load(); err == nil {
		t.Fatalf("expected load error to be reported")
	}
	if mgr.Snapshot().Broker.Port != DefaultBrokerPort {
		t.Fatalf("defaults lost after failed load")
	}
}

func TestLoadNormalizes(t *testing.T) {
	t.Parallel()

	stored := Defaults()
	stored.OfflineTimeoutSec = 1000
	stored.Broker.Port = 0
	stored.Broker.SubscribedTopics = []string{
		"sys/agents/a/metrics/v2",
		"sys/agents/a/metrics/v2",
		"bogus",
	}
	for i := 0; i < policy.MaxSources+2; i++ {
		stored.Devices = append(stored.Devices, Device{Hostname: fmt.Sprintf("h%d", i), Enabled: true})
	}

	mgr := newTestManager(&memPersister{stored: &stored})
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	snap := mgr.Snapshot()
	if snap.OfflineTimeoutSec != policy.MaxOfflineTimeoutSec {
		t.Fatalf("offline timeout not clamped: %d", snap.OfflineTimeoutSec)
	}
	if snap.Broker.Port != DefaultBrokerPort {
		t.Fatalf("invalid port kept: %d", snap.Broker.Port)
	}
	if len(snap.Broker.SubscribedTopics) != 1 {
		t.Fatalf("expected deduplicated valid topics, got %v", snap.Broker.SubscribedTopics)
	}
	if len(snap.Devices) != policy.MaxSources {
		t.Fatalf("expected %d devices, got %d", policy.MaxSources, len(snap.Devices))
	}
	if snap.Devices[0].Alias != "h0" || snap.Devices[0].DisplayTime != DefaultDisplayTime {
		t.Fatalf("device defaults not applied: %+v", snap.Devices[0])
	}
}

func TestGetOrCreateDevice(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(&memPersister{})
	now := time.Unix(100, 0)

	dev, ok := mgr.GetOrCreateDevice("desk", now)
	if !ok || dev.Enabled || dev.Alias != "desk" {
		t.Fatalf("unexpected new device %+v ok=%v", dev, ok)
	}
	if !mgr.Pending() {
		t.Fatalf("creating a device should schedule a save")
	}
	if known, enabled := mgr.DeviceState("desk"); !known || enabled {
		t.Fatalf("unexpected state known=%v enabled=%v", known, enabled)
	}
	if mgr.IsEnabled("desk") {
		t.Fatalf("new device should start disabled")
	}
	if !mgr.IsEnabled("stranger") {
		t.Fatalf("unknown hosts count as enabled")
	}
	if !mgr.EnableDevice("desk", now) || mgr.EnableDevice("desk", now) {
		t.Fatalf("EnableDevice should change state exactly once")
	}

	for i := 1; i < policy.MaxSources; i++ {
		if _, ok := mgr.GetOrCreateDevice(fmt.Sprintf("h%d", i), now); !ok {
			t.Fatalf("device %d rejected", i)
		}
	}
	if _, ok := mgr.GetOrCreateDevice("overflow", now); ok {
		t.Fatalf("device list should be full")
	}
}

func TestDebouncedSave(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	mgr := newTestManager(p)
	start := time.Unix(1000, 0)

	mgr.MarkDirty(start)
	mgr.MarkDirty(start.Add(time.Second))

	mgr.Tick(start.Add(4 * time.Second))
	if p.saveCount() != 0 {
		t.Fatalf("saved before the debounce window")
	}
	mgr.Tick(start.Add(policy.SaveDebounce))
	if p.saveCount() != 1 {
		t.Fatalf("expected exactly one save, got %d", p.saveCount())
	}
	mgr.Tick(start.Add(time.Minute))
	if p.saveCount() != 1 || mgr.Pending() {
		t.Fatalf("unexpected extra save: count=%d pending=%v", p.saveCount(), mgr.Pending())
	}
}

func TestDebouncedSaveRetriesAfterFailure(t *testing.T) {
	t.Parallel()

	p := &memPersister{saveErr: errors.New("disk full")}
	mgr := newTestManager(p)
	start := time.Unix(1000, 0)

	mgr.MarkDirty(start)
	mgr.Tick(start.Add(policy.SaveDebounce))
	if !mgr.Pending() {
		t.Fatalf("failed save must stay pending")
	}

	p.mu.Lock()
	p.saveErr = nil
	p.mu.Unlock()

	mgr.Tick(start.Add(policy.SaveDebounce + time.Second))
	if p.saveCount() != 0 {
		t.Fatalf("retry happened before another window")
	}
	mgr.Tick(start.Add(2 * policy.SaveDebounce))
	if p.saveCount() != 1 || mgr.Pending() {
		t.Fatalf("retry did not save: count=%d", p.saveCount())
	}
}

func TestReplaceValidatesBeforeMutating(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	mgr := newTestManager(p)

	bad := Defaults()
	bad.Broker.SubscribedTopics = []string{"sys/agents/a/metrics/v2", "nope"}
	if err := mgr.Replace(bad); !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}

	tooMany := Defaults()
	for i := 0; i <= policy.MaxSubscribedTopics; i++ {
		tooMany.Broker.SubscribedTopics = append(tooMany.Broker.SubscribedTopics, policy.SenderTopic(fmt.Sprintf("h%d", i)))
	}
	if err := mgr.Replace(tooMany); !errors.Is(err, ErrTooManyTopics) {
		t.Fatalf("expected ErrTooManyTopics, got %v", err)
	}

	longServer := Defaults()
	longServer.Broker.Server = strings.Repeat("s", 64)
	if err := mgr.Replace(longServer); !errors.Is(err, ErrInvalidBroker) {
		t.Fatalf("expected ErrInvalidBroker, got %v", err)
	}

	if p.saveCount() != 0 || len(mgr.Broker().SubscribedTopics) != 0 {
		t.Fatalf("rejected records must not be applied")
	}

	good := Defaults()
	good.Broker.Server = "broker.lan"
	good.Broker.SubscribedTopics = []string{"sys/agents/a/metrics/v2", "sys/agents/a/metrics/v2"}
	if err := mgr.Replace(good); err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if p.saveCount() != 1 || mgr.Broker().Server != "broker.lan" || len(mgr.Broker().SubscribedTopics) != 1 {
		t.Fatalf("replace not applied: %+v", mgr.Broker())
	}
	if mgr.OpenMode() || !mgr.TopicAllowed("sys/agents/a/metrics/v2") {
		t.Fatalf("allow-list mode not active")
	}
}

func TestReplaceSaveFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(&memPersister{saveErr: errors.New("read-only")})
	next := Defaults()
	next.Broker.Server = "other"
	if err := mgr.Replace(next); err == nil {
		t.Fatalf("expected save error")
	}
	if mgr.Broker().Server != "" {
		t.Fatalf("record changed despite failed save")
	}
}

func TestDisplayTimeAndAlias(t *testing.T) {
	t.Parallel()

	stored := Defaults()
	stored.DisplayTime = 7
	stored.Devices = []Device{{Hostname: "desk", Alias: "Desk PC", DisplayTime: 12, Enabled: true}, {Hostname: "nas", Enabled: true}}
	mgr := newTestManager(&memPersister{stored: &stored})
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := mgr.DisplayTime("desk"); got != 12*time.Second {
		t.Fatalf("unexpected desk display time %s", got)
	}
	if got := mgr.DisplayTime("nas"); got != 7*time.Second {
		t.Fatalf("nas should inherit the default, got %s", got)
	}
	if got := mgr.DisplayTime("unknown"); got != 7*time.Second {
		t.Fatalf("unknown host should use the default, got %s", got)
	}
	if mgr.Alias("desk") != "Desk PC" || mgr.Alias("nas") != "nas" || mgr.Alias("x") != "x" {
		t.Fatalf("alias lookup wrong")
	}
	host, ok := mgr.FirstEnabledExcept(func(h string) bool { return h == "desk" })
	if !ok || host != "nas" {
		t.Fatalf("FirstEnabledExcept = %q %v", host, ok)
	}
}

func TestReplaceWaitsForDebouncedSave(t *testing.T) {
	t.Parallel()

	p := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	mgr := newTestManager(p)

	now := time.Unix(0, 0)
	mgr.MarkDirty(now)
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		mgr.Tick(now.Add(policy.SaveDebounce))
	}()
	<-p.entered

	next := Defaults()
	next.Broker.Server = "operator-broker"
	replaced := make(chan error, 1)
	go func() { replaced <- mgr.Replace(next) }()

	select {
	case err := <-replaced:
		t.Fatalf("replace finished while an older save was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	<-tickDone
	if err := <-replaced; err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}

	if got := p.storedServer(); got != "operator-broker" {
		t.Fatalf("stored server = %q, want operator-broker", got)
	}
	if mgr.Broker().Server != "operator-broker" {
		t.Fatalf("in-memory server = %q", mgr.Broker().Server)
	}
	if mgr.Pending() {
		t.Fatalf("no save should be pending after Replace")
	}

	mgr.Tick(now.Add(2 * policy.SaveDebounce))
	if got := p.storedServer(); got != "operator-broker" {
		t.Fatalf("later tick overwrote stored server with %q", got)
	}
}
