// Package netacq implements the boot-time network acquisition sequence:
// saved credential first, then the platform-stored profile, then either a
// bounded recovery cycle or configuration mode.
package netacq

import (
	"log/slog"
	"time"

	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

// State is a step of the acquisition sequence.
type State int

const (
	StateTrySavedStart State = iota
	StateTrySavedWait
	StateTrySavedDelay
	StateTryFallbackStart
	StateTryFallbackWait
	StateTryFallbackDelay
	StateConnectedDelay
	StateEnterConfigMode
	StateDone
)

func (s State) String() string {
	switch s {
	case StateTrySavedStart:
		return "try_saved_start"
	case StateTrySavedWait:
		return "try_saved_wait"
	case StateTrySavedDelay:
		return "try_saved_delay"
	case StateTryFallbackStart:
		return "try_fallback_start"
	case StateTryFallbackWait:
		return "try_fallback_wait"
	case StateTryFallbackDelay:
		return "try_fallback_delay"
	case StateConnectedDelay:
		return "connected_delay"
	case StateEnterConfigMode:
		return "enter_config_mode"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Mode is the operating mode selected once the sequence finishes.
type Mode int

const (
	ModePending Mode = iota
	ModeMonitor
	ModeConfig
)

func (m Mode) String() string {
	switch m {
	case ModeMonitor:
		return "monitor"
	case ModeConfig:
		return "config"
	default:
		return "pending"
	}
}

// Source names the credential an attempt uses.
type Source string

const (
	SourceSaved    Source = "saved"
	SourceFallback Source = "fallback"
)

// Radio is the subset of the radio backend the machine drives.
type Radio interface {
	StartConnect(creds settings.WiFiCredentials, now time.Time) bool
	StartConnectStored(now time.Time) bool
	PollConnect(now time.Time) radio.Result
}

// Hooks are notified on visible transitions. Any of them may be nil.
type Hooks struct {
	Attempt    func(source Source, attempt, limit int)
	Connected  func()
	RetryCycle func(cycles int)
	Monitor    func()
	ConfigMode func()
}

// Options configures a Machine.
type Options struct {
	Saved        *settings.WiFiCredentials
	StorageReady func() bool
	Hooks        Hooks
	Logger       *slog.Logger
}

// Machine is driven by Tick from the cooperative loop and never blocks.
type Machine struct {
	radio        Radio
	saved        *settings.WiFiCredentials
	storageReady func() bool
	hooks        Hooks
	logger       *slog.Logger

	state            State
	mode             Mode
	savedAttempts    int
	fallbackAttempts int
	cycles           int
	delayUntil       time.Time
}

// New builds a Machine. The initial state depends on whether a saved
// credential exists.
func New(r Radio, opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storageReady := opts.StorageReady
	if storageReady == nil {
		storageReady = func() bool { return true }
	}

	m := &Machine{
		radio:        r,
		saved:        opts.Saved,
		storageReady: storageReady,
		hooks:        opts.Hooks,
		logger:       logger,
		state:        StateTryFallbackStart,
	}
	if m.hasSaved() {
		m.state = StateTrySavedStart
	}
	return m
}

// State returns the current step.
func (m *Machine) State() State { return m.state }

// Mode returns the selected operating mode, or ModePending.
func (m *Machine) Mode() Mode { return m.mode }

// Done reports whether the sequence has finished.
func (m *Machine) Done() bool { return m.state == StateDone }

// Cycles returns the number of recovery cycles run so far.
func (m *Machine) Cycles() int { return m.cycles }

// Tick advances the machine by at most one transition.
func (m *Machine) Tick(now time.Time) {
	switch m.state {
	case StateTrySavedStart:
		if !m.hasSaved() || m.savedAttempts >= policy.SavedAttemptLimit {
			m.setState(StateTryFallbackStart)
			return
		}
		m.savedAttempts++
		m.notifyAttempt(SourceSaved, m.savedAttempts, policy.SavedAttemptLimit)
		if !m.radio.StartConnect(*m.saved, now) {
			m.logger.Warn("saved credential rejected by radio", "ssid", m.saved.SSID)
			m.setState(StateTryFallbackStart)
			return
		}
		m.setState(StateTrySavedWait)

	case StateTrySavedWait:
		m.await(now, SourceSaved, m.savedAttempts >= policy.SavedAttemptLimit, StateTrySavedDelay)

	case StateTrySavedDelay:
		if !now.Before(m.delayUntil) {
			m.setState(StateTrySavedStart)
		}

	case StateTryFallbackStart:
		if m.fallbackAttempts >= policy.FallbackAttemptLimit {
			m.exhausted(now)
			return
		}
		m.fallbackAttempts++
		m.notifyAttempt(SourceFallback, m.fallbackAttempts, policy.FallbackAttemptLimit)
		if !m.radio.StartConnectStored(now) {
			m.logger.Warn("fallback connect could not start")
			m.exhausted(now)
			return
		}
		m.setState(StateTryFallbackWait)

	case StateTryFallbackWait:
		m.await(now, SourceFallback, m.fallbackAttempts >= policy.FallbackAttemptLimit, StateTryFallbackDelay)

	case StateTryFallbackDelay:
		if !now.Before(m.delayUntil) {
			m.setState(StateTryFallbackStart)
		}

	case StateConnectedDelay:
		if !now.Before(m.delayUntil) {
			m.mode = ModeMonitor
			m.setState(StateDone)
			if m.hooks.Monitor != nil {
				m.hooks.Monitor()
			}
		}

	case StateEnterConfigMode:
		m.mode = ModeConfig
		m.setState(StateDone)
		if m.hooks.ConfigMode != nil {
			m.hooks.ConfigMode()
		}

	case StateDone:
	}
}

// await polls the running attempt. A failed last attempt moves straight on
// to the fallback source or the config-mode decision.
func (m *Machine) await(now time.Time, source Source, last bool, retry State) {
	switch res := m.radio.PollConnect(now); res {
	case radio.ResultSuccess:
		m.logger.Info("network connected", "source", source)
		m.cycles = 0
		m.delayUntil = now.Add(policy.ConnectedHoldDelay)
		m.setState(StateConnectedDelay)
		if m.hooks.Connected != nil {
			m.hooks.Connected()
		}
	case radio.ResultTimeout, radio.ResultFailed, radio.ResultIdle:
		m.logger.Info("network attempt failed", "source", source, "result", res)
		if last {
			m.setState(StateTryFallbackStart)
			return
		}
		m.delayUntil = now.Add(policy.AttemptRetryDelay)
		m.setState(retry)
	}
}

func (m *Machine) exhausted(now time.Time) {
	if policy.ShouldEnterConfigMode(m.hasSaved(), m.storageReady(), m.cycles) {
		m.logger.Warn("network acquisition exhausted, entering configuration mode", "cycles", m.cycles)
		m.setState(StateEnterConfigMode)
		return
	}
	m.cycles++
	m.savedAttempts = 0
	m.fallbackAttempts = 0
	m.delayUntil = now.Add(policy.ConnectedHoldDelay)
	m.logger.Info("starting recovery cycle", "cycle", m.cycles, "limit", policy.MaxRecoveryCycles)
	m.setState(StateTrySavedDelay)
	if m.hooks.RetryCycle != nil {
		m.hooks.RetryCycle(m.cycles)
	}
}

func (m *Machine) notifyAttempt(source Source, attempt, limit int) {
	m.logger.Info("network attempt", "source", source, "attempt", attempt, "limit", limit)
	if m.hooks.Attempt != nil {
		m.hooks.Attempt(source, attempt, limit)
	}
}

func (m *Machine) setState(next State) {
	if next != m.state {
		m.logger.Debug("network state", "from", m.state, "to", next)
	}
	m.state = next
}

func (m *Machine) hasSaved() bool {
	return m.saved != nil && m.saved.SSID != ""
}
