package metrics

import "strings"

// DirtyMask marks the metric categories of a source that changed since the
// renderer last consumed them. Bit values are stable.
type DirtyMask uint16

const (
	DirtyNone   DirtyMask = 0
	DirtyCPU    DirtyMask = 1 << 0
	DirtyRAM    DirtyMask = 1 << 1
	DirtyGPU    DirtyMask = 1 << 2
	DirtyNet    DirtyMask = 1 << 3
	DirtyDisk   DirtyMask = 1 << 4
	DirtyOnline DirtyMask = 1 << 5
	DirtyAll    DirtyMask = 0xFFFF
)

// Rows lists the per-category bits in render order.
var Rows = []DirtyMask{DirtyCPU, DirtyRAM, DirtyGPU, DirtyNet, DirtyDisk}

func (m DirtyMask) Has(bit DirtyMask) bool { return m&bit != 0 }
func (m DirtyMask) CPU() bool              { return m.Has(DirtyCPU) }
func (m DirtyMask) RAM() bool              { return m.Has(DirtyRAM) }
func (m DirtyMask) GPU() bool              { return m.Has(DirtyGPU) }
func (m DirtyMask) Net() bool              { return m.Has(DirtyNet) }
func (m DirtyMask) Disk() bool             { return m.Has(DirtyDisk) }
func (m DirtyMask) Online() bool           { return m.Has(DirtyOnline) }
func (m DirtyMask) Empty() bool            { return m == DirtyNone }

func (m DirtyMask) String() string {
	if m == DirtyNone {
		return "none"
	}
	if m == DirtyAll {
		return "all"
	}
	names := []struct {
		bit  DirtyMask
		name string
	}{
		{DirtyCPU, "cpu"},
		{DirtyRAM, "ram"},
		{DirtyGPU, "gpu"},
		{DirtyNet, "net"},
		{DirtyDisk, "disk"},
		{DirtyOnline, "online"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if m.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
