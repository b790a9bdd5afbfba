package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Memory is a virtual memory reading in bytes.
type Memory struct {
	UsedPct float64
	Used    uint64
	Total   uint64
}

// Counters is a pair of monotonically increasing byte counters.
type Counters struct {
	In  uint64
	Out uint64
}

// Sources are the host readings a Collector combines into a payload.
type Sources struct {
	CPUPercent func(ctx context.Context) (float64, error)
	CPUTemp    func(ctx context.Context) (float64, bool)
	Memory     func(ctx context.Context) (Memory, error)
	Net        func(ctx context.Context) (Counters, error)
	Disk       func(ctx context.Context) (Counters, error)
}

// HostSources reads the local host through gopsutil.
func HostSources() Sources {
	return Sources{
		CPUPercent: hostCPUPercent,
		CPUTemp:    hostCPUTemp,
		Memory:     hostMemory,
		Net:        hostNet,
		Disk:       hostDisk,
	}
}

var cpuSensorPrefixes = []string{"coretemp", "k10temp", "cpu", "package"}

func hostCPUPercent(ctx context.Context) (float64, error) {
	values, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(values) == 0 {
		return 0, errors.New("cpu percent: no values")
	}
	return values[0], nil
}

func hostCPUTemp(ctx context.Context) (float64, bool) {
	temps, err := sensors.TemperaturesWithContext(ctx)
	if err != nil && len(temps) == 0 {
		return 0, false
	}
	return pickCPUTemp(temps)
}

// pickCPUTemp returns the first sensor whose key names a CPU package.
func pickCPUTemp(temps []sensors.TemperatureStat) (float64, bool) {
	for _, prefix := range cpuSensorPrefixes {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), prefix) && t.Temperature > 0 {
				return t.Temperature, true
			}
		}
	}
	return 0, false
}

func hostMemory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("virtual memory: %w", err)
	}
	return Memory{UsedPct: vm.UsedPercent, Used: vm.Used, Total: vm.Total}, nil
}

func hostNet(ctx context.Context) (Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return Counters{}, fmt.Errorf("net counters: %w", err)
	}
	if len(stats) == 0 {
		return Counters{}, errors.New("net counters: no interfaces")
	}
	return Counters{In: stats[0].BytesRecv, Out: stats[0].BytesSent}, nil
}

func hostDisk(ctx context.Context) (Counters, error) {
	stats, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return Counters{}, fmt.Errorf("disk counters: %w", err)
	}
	var total Counters
	for _, s := range stats {
		total.In += s.ReadBytes
		total.Out += s.WriteBytes
	}
	return total, nil
}
