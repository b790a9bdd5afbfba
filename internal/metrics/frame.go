// Package metrics defines the per-source telemetry frame, its change mask
// and the v2 wire payload exchanged between senders and the panel.
package metrics

import "math"

// SchemaVersion is the only payload version the panel accepts.
const SchemaVersion = 2

// Frame is one source's snapshot. Percentages and temperatures are stored
// in tenths; memory in MiB; throughput in KiB/s.
type Frame struct {
	Version    uint8
	SenderTsMs int64

	CPUPctX10   int16
	CPUTempCX10 int16

	RAMPctX10  int16
	RAMUsedMB  uint16
	RAMTotalMB uint16

	GPUPctX10      int16
	GPUTempCX10    int16
	GPUMemPctX10   int16
	GPUHotspotCX10 int16
	GPUMemTempCX10 int16

	NetRxKbps uint16
	NetTxKbps uint16

	DiskReadKBps  uint16
	DiskWriteKBps uint16
}

// Diff returns the categories whose values differ between prev and f.
// The sender timestamp and version never mark anything dirty.
func (f Frame) Diff(prev Frame) DirtyMask {
	var mask DirtyMask
	if f.CPUPctX10 != prev.CPUPctX10 || f.CPUTempCX10 != prev.CPUTempCX10 {
		mask |= DirtyCPU
	}
	if f.RAMPctX10 != prev.RAMPctX10 || f.RAMUsedMB != prev.RAMUsedMB || f.RAMTotalMB != prev.RAMTotalMB {
		mask |= DirtyRAM
	}
	if f.GPUPctX10 != prev.GPUPctX10 || f.GPUTempCX10 != prev.GPUTempCX10 ||
		f.GPUMemPctX10 != prev.GPUMemPctX10 || f.GPUHotspotCX10 != prev.GPUHotspotCX10 ||
		f.GPUMemTempCX10 != prev.GPUMemTempCX10 {
		mask |= DirtyGPU
	}
	if f.NetRxKbps != prev.NetRxKbps || f.NetTxKbps != prev.NetTxKbps {
		mask |= DirtyNet
	}
	if f.DiskReadKBps != prev.DiskReadKBps || f.DiskWriteKBps != prev.DiskWriteKBps {
		mask |= DirtyDisk
	}
	return mask
}

// ClampI16 saturates v into the int16 range.
func ClampI16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ClampU16 saturates v into the uint16 range.
func ClampU16(v int64) uint16 {
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}

// ScaleX10 converts a reading to rounded tenths.
func ScaleX10(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	scaled := math.Round(v * 10)
	if math.IsInf(scaled, 0) || scaled > math.MaxInt32 || scaled < math.MinInt32 {
		if scaled > 0 {
			return math.MaxInt32
		}
		return math.MinInt32
	}
	return int64(scaled)
}

// RoundedPercent converts tenths of a percent to a whole percent, rounding
// half away from zero.
func RoundedPercent(x10 int16) int {
	return roundTenths(int(x10))
}

// RoundedTempC converts tenths of a degree to whole degrees.
func RoundedTempC(x10 int16) int {
	return roundTenths(int(x10))
}

func roundTenths(v int) int {
	if v < 0 {
		return -((-v + 5) / 10)
	}
	return (v + 5) / 10
}

// KbpsToMbps converts KiB/s to MiB/s with one decimal.
func KbpsToMbps(kbps uint16) float64 {
	return math.Round(float64(kbps)/1024*10) / 10
}
