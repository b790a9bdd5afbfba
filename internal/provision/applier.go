// Package provision applies Wi-Fi credentials submitted from the setup page
// while the appliance is in configuration mode.
package provision

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

const maxAttempts = 2

var (
	ErrBusy               = errors.New("wifi apply in progress")
	ErrInvalidCredentials = errors.New("invalid WiFi credential length")
)

// State is the phase of the apply job.
type State string

const (
	StateIdle       State = "idle"
	StatePending    State = "pending"
	StateConnecting State = "connecting"
	StateRetryWait  State = "retry_wait"
	StateFailed     State = "failed"
	StateSuccess    State = "success"
)

// Busy reports whether a submitted credential is still being tried.
func (s State) Busy() bool {
	return s == StatePending || s == StateConnecting || s == StateRetryWait
}

// Radio is the part of the radio backend the job drives.
type Radio interface {
	StartConnect(creds settings.WiFiCredentials, now time.Time) bool
	PollConnect(now time.Time) radio.Result
	StartAP() error
	StartScan()
}

// CredentialStore persists the submitted credential.
type CredentialStore interface {
	SaveCredentials(creds settings.WiFiCredentials) error
}

// Applier is fed by the HTTP server through Submit and driven by the loop
// through Tick.
type Applier struct {
	radio   Radio
	store   CredentialStore
	restart func(at time.Time)
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	creds      settings.WiFiCredentials
	attempts   int
	retryAfter time.Time
}

// NewApplier wires an Applier. restart is called with the time a restart
// should happen once the credential works.
func NewApplier(r Radio, store CredentialStore, restart func(at time.Time), logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		radio:   r,
		store:   store,
		restart: restart,
		logger:  logger.With("component", "provision"),
		state:   StateIdle,
	}
}

// State returns the current phase.
func (a *Applier) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Submit validates and stores creds and queues a connection attempt.
func (a *Applier) Submit(creds settings.WiFiCredentials, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Busy() {
		return ErrBusy
	}
	if !policy.ValidWiFiCredentials(creds.SSID, creds.Password) {
		return ErrInvalidCredentials
	}
	if err := a.store.SaveCredentials(creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	a.creds = creds
	a.attempts = 0
	a.state = StatePending
	a.logger.Info("wifi credentials accepted", "ssid", creds.SSID)
	return nil
}

// Tick advances the job. It never blocks.
func (a *Applier) Tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case StatePending:
		a.attempts++
		a.logger.Info("trying wifi credentials", "ssid", a.creds.SSID, "attempt", a.attempts, "limit", maxAttempts)
		if !a.radio.StartConnect(a.creds, now) {
			a.attemptFailed(now, radio.ResultFailed)
			return
		}
		a.state = StateConnecting

	case StateConnecting:
		res := a.radio.PollConnect(now)
		switch res {
		case radio.ResultInProgress:
			return
		case radio.ResultSuccess:
			a.state = StateSuccess
			a.logger.Info("wifi credentials work, restarting", "ssid", a.creds.SSID, "delay", policy.RestartDelay)
			if a.restart != nil {
				a.restart(now.Add(policy.RestartDelay))
			}
		default:
			a.attemptFailed(now, res)
		}

	case StateRetryWait:
		if !now.Before(a.retryAfter) {
			a.state = StatePending
		}
	}
}

func (a *Applier) attemptFailed(now time.Time, res radio.Result) {
	if a.attempts < maxAttempts {
		a.logger.Warn("wifi attempt failed, retrying", "result", res, "attempt", a.attempts)
		a.retryAfter = now.Add(policy.AttemptRetryDelay)
		a.state = StateRetryWait
		return
	}

	a.state = StateFailed
	a.logger.Warn("wifi credentials failed, restoring access point", "ssid", a.creds.SSID, "result", res)
	if err := a.radio.StartAP(); err != nil {
		a.logger.Error("failed to restart access point", "err", err)
	}
	a.radio.StartScan()
}
