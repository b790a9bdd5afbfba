// Package policy holds the stateless decisions shared by the appliance
// components: backoff, validation, topic matching, refresh pacing and
// grace-period evaluation. Nothing in here performs I/O or keeps state.
package policy

import "time"

const (
	// MaxSources bounds every per-source collection: the device store,
	// the configured device list and known-host enumeration.
	MaxSources = 8
	// MaxSubscribedTopics bounds the explicit topic allow-list.
	MaxSubscribedTopics = 8

	MaxPayloadBytes = 1024

	MaxSSIDBytes     = 32
	MaxPasswordBytes = 63

	MaxRecoveryCycles = 12

	SavedAttemptLimit    = 3
	FallbackAttemptLimit = 2
	AttemptRetryDelay    = time.Second
	ConnectedHoldDelay   = 2 * time.Second
	ConnectTimeout       = 10 * time.Second

	ReconnectBase      = time.Second
	ReconnectMax       = 60 * time.Second
	ReconnectJitterMax = 500 * time.Millisecond
	MaxFailureCount    = 250

	ForceRefreshInterval  = 90 * time.Millisecond
	ActiveRefreshInterval = 200 * time.Millisecond
	IdleRefreshInterval   = time.Second

	DisconnectGrace = 5 * time.Second
	RxLogInterval   = 2 * time.Second

	MinOfflineTimeoutSec     = 5
	MaxOfflineTimeoutSec     = 300
	DefaultOfflineTimeoutSec = 20

	SaveDebounce = 5 * time.Second
	// RestartDelay separates an applied change from the restart it triggers.
	RestartDelay = 3 * time.Second
)

// Elapsed reports whether strictly more than interval has passed since the
// given instant. A zero since means "never" and always counts as elapsed.
func Elapsed(now, since time.Time, interval time.Duration) bool {
	if since.IsZero() {
		return true
	}
	return now.Sub(since) > interval
}

func atLeast(now, since time.Time, interval time.Duration) bool {
	if since.IsZero() {
		return true
	}
	return now.Sub(since) >= interval
}

// ValidPayloadLength reports whether an inbound payload of n bytes may be parsed.
func ValidPayloadLength(n int) bool {
	return n > 0 && n <= MaxPayloadBytes
}

// ValidWiFiCredentials checks the byte lengths accepted by the radio stack.
func ValidWiFiCredentials(ssid, password string) bool {
	return len(ssid) > 0 && len(ssid) <= MaxSSIDBytes && len(password) <= MaxPasswordBytes
}

// ValidBrokerPort reports whether port is usable as a TCP port.
func ValidBrokerPort(port int) bool {
	return port > 0 && port <= 65535
}

// ClampOfflineTimeout bounds the operator supplied offline timeout.
func ClampOfflineTimeout(seconds int) int {
	switch {
	case seconds < MinOfflineTimeoutSec:
		return MinOfflineTimeoutSec
	case seconds > MaxOfflineTimeoutSec:
		return MaxOfflineTimeoutSec
	default:
		return seconds
	}
}

// ShouldEnterConfigMode decides, once both credential sources are exhausted,
// whether to give up into configuration mode or run another recovery cycle.
//
// A device with no saved credential and usable storage has nothing more to
// try. Anything else keeps cycling until the recovery ceiling is reached.
func ShouldEnterConfigMode(hasSavedCredential, storageReady bool, recoveryCycles int) bool {
	if hasSavedCredential || !storageReady {
		return recoveryCycles >= MaxRecoveryCycles
	}
	return true
}

// ShouldAutoEnable reports whether a source should be enabled because of the
// topic it published on.
func ShouldAutoEnable(openMode, topicAllowListed bool) bool {
	return openMode || topicAllowListed
}
