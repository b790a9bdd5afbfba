package policy

import "time"

// RefreshInterval picks the redraw cadence: fastest while a forced redraw is
// outstanding, fast while a visible update waits, slow otherwise.
func RefreshInterval(forceRedraw, updatePending bool) time.Duration {
	switch {
	case forceRedraw:
		return ForceRefreshInterval
	case updatePending:
		return ActiveRefreshInterval
	default:
		return IdleRefreshInterval
	}
}

// ShouldRedrawHeader reports whether the source header (and therefore every
// row) must be repainted.
func ShouldRedrawHeader(forceRedraw, hostChanged, onlineDirty bool) bool {
	return forceRedraw || hostChanged || onlineDirty
}

// ShouldShowDisconnected reports whether the display should show the link as
// down. The socket must be down and both the last successful connect and the
// last received message must be at least DisconnectGrace old.
func ShouldShowDisconnected(connected bool, now, lastConnect, lastMessage time.Time) bool {
	if connected {
		return false
	}
	return atLeast(now, lastConnect, DisconnectGrace) && atLeast(now, lastMessage, DisconnectGrace)
}
