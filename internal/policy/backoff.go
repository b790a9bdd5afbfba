package policy

import "time"

const maxBackoffShift = 31

// ReconnectDelay returns the backoff before the next broker connect attempt
// after the given number of consecutive failures, without jitter.
func ReconnectDelay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	shift := min(failures, maxBackoffShift)
	delay := ReconnectBase << uint(shift)
	if delay <= 0 || delay > ReconnectMax {
		return ReconnectMax
	}
	return delay
}

// NextFailureCount increments the consecutive failure counter, saturating at
// MaxFailureCount.
func NextFailureCount(failures int) int {
	if failures >= MaxFailureCount {
		return MaxFailureCount
	}
	return failures + 1
}
