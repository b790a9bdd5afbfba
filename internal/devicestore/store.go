// Package devicestore keeps the latest frame of each telemetry source in a
// fixed-capacity slot table.
//
// Slots are allocated on first sight of an identifier and never evicted.
// Lookups are linear scans; the table is small by construction.
package devicestore

import (
	"errors"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/policy"
)

var (
	ErrFull        = errors.New("device store is full")
	ErrInvalidHost = errors.New("device identifier is empty")
)

// Device is a copy of one slot.
type Device struct {
	Host       string
	Online     bool
	LastUpdate time.Time
	Frame      metrics.Frame
	Dirty      metrics.DirtyMask
}

// EnabledFunc reports whether a host should be shown. Hosts it does not know
// about must be reported as enabled.
type EnabledFunc func(host string) bool

type slot struct {
	inUse bool
	Device
}

// Store is safe for concurrent use. The transport writes, the scheduler
// consumes dirty masks, and HTTP handlers read snapshots.
type Store struct {
	mu    sync.Mutex
	slots []slot
}

// New returns a Store with the given capacity; non-positive capacities fall
// back to policy.MaxSources.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = policy.MaxSources
	}
	return &Store{slots: make([]slot, capacity)}
}

// Capacity returns the number of slots.
func (s *Store) Capacity() int {
	return len(s.slots)
}

// Update stores frame for host. A new host gets a slot marked online and
// fully dirty; an existing host is diffed against its previous frame and
// flagged online dirty when it comes back from offline. created reports
// whether a slot was allocated.
func (s *Store) Update(host string, frame metrics.Frame, now time.Time) (created bool, err error) {
	if host == "" {
		return false, ErrInvalidHost
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexLocked(host); idx >= 0 {
		sl := &s.slots[idx]
		sl.Dirty |= frame.Diff(sl.Frame)
		if !sl.Online {
			sl.Online = true
			sl.Dirty |= metrics.DirtyOnline
		}
		sl.Frame = frame
		sl.LastUpdate = now
		return false, nil
	}

	for i := range s.slots {
		sl := &s.slots[i]
		if sl.inUse {
			continue
		}
		sl.inUse = true
		sl.Device = Device{
			Host:       host,
			Online:     true,
			LastUpdate: now,
			Frame:      frame,
			Dirty:      metrics.DirtyAll,
		}
		return true, nil
	}

	return false, ErrFull
}

// Lookup returns a copy of host's slot.
func (s *Store) Lookup(host string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(host)
	if idx < 0 {
		return Device{}, false
	}
	return s.slots[idx].Device, true
}

// Len returns the number of slots in use.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.slots {
		if s.slots[i].inUse {
			n++
		}
	}
	return n
}

// At returns the idx-th slot in use, in allocation order.
func (s *Store) At(idx int) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 {
		return Device{}, false
	}
	seen := 0
	for i := range s.slots {
		if !s.slots[i].inUse {
			continue
		}
		if seen == idx {
			return s.slots[i].Device, true
		}
		seen++
	}
	return Device{}, false
}

// MarkOfflineExpired flags every online host whose last update is older than
// timeout as offline, setting its online dirty bit. It returns the hosts that
// changed state.
func (s *Store) MarkOfflineExpired(now time.Time, timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.inUse || !sl.Online {
			continue
		}
		if now.Sub(sl.LastUpdate) > timeout {
			sl.Online = false
			sl.Dirty |= metrics.DirtyOnline
			expired = append(expired, sl.Host)
		}
	}
	return expired
}

// ConsumeDirty returns host's dirty mask and clears it.
func (s *Store) ConsumeDirty(host string) metrics.DirtyMask {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(host)
	if idx < 0 {
		return metrics.DirtyNone
	}
	mask := s.slots[idx].Dirty
	s.slots[idx].Dirty = metrics.DirtyNone
	return mask
}

// MarkDirty ORs mask into host's dirty bits.
func (s *Store) MarkDirty(host string, mask metrics.DirtyMask) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexLocked(host); idx >= 0 {
		s.slots[idx].Dirty |= mask
	}
}

// OnlineCount counts online hosts accepted by enabled.
func (s *Store) OnlineCount(enabled EnabledFunc) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.slots {
		if s.visibleLocked(i, enabled) {
			n++
		}
	}
	return n
}

// OnlineAt returns the idx-th online host accepted by enabled.
func (s *Store) OnlineAt(idx int, enabled EnabledFunc) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 {
		return Device{}, false
	}
	seen := 0
	for i := range s.slots {
		if !s.visibleLocked(i, enabled) {
			continue
		}
		if seen == idx {
			return s.slots[i].Device, true
		}
		seen++
	}
	return Device{}, false
}

// Snapshot copies every slot in use.
func (s *Store) Snapshot() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Device, 0, len(s.slots))
	for i := range s.slots {
		if s.slots[i].inUse {
			out = append(out, s.slots[i].Device)
		}
	}
	return out
}

// Hosts lists the identifiers in use.
func (s *Store) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.slots))
	for i := range s.slots {
		if s.slots[i].inUse {
			out = append(out, s.slots[i].Host)
		}
	}
	return out
}

func (s *Store) visibleLocked(i int, enabled EnabledFunc) bool {
	sl := &s.slots[i]
	if !sl.inUse || !sl.Online {
		return false
	}
	return enabled == nil || enabled(sl.Host)
}

func (s *Store) indexLocked(host string) int {
	for i := range s.slots {
		if s.slots[i].inUse && s.slots[i].Host == host {
			return i
		}
	}
	return -1
}
