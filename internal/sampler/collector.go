// Package sampler collects host telemetry for the sender and shapes it into
// v2 payloads.
package sampler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/gpu"
	"github.com/skobkin/hostmon-panel/internal/metrics"
)

// GPUReader returns the current GPU telemetry, if any.
type GPUReader interface {
	Read(ctx context.Context) (gpu.Telemetry, bool)
}

// Collector builds payloads from host sources. Throughput values are deltas
// between consecutive Collect calls, so the first call reports zero.
type Collector struct {
	host    string
	sources Sources
	gpu     GPUReader
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.Mutex
	primed   bool
	lastAt   time.Time
	lastNet  Counters
	lastDisk Counters
}

// Option customizes a Collector.
type Option func(*Collector)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector returns a Collector publishing as host. Nil source functions
// are treated as unavailable readings.
func NewCollector(host string, sources Sources, gpuReader GPUReader, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		host:    host,
		sources: sources,
		gpu:     gpuReader,
		now:     time.Now,
		logger:  logger.With("component", "collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect takes one reading of every source. Source failures leave the
// matching fields at zero and are logged at debug level.
func (c *Collector) Collect(ctx context.Context) (metrics.Payload, error) {
	if err := ctx.Err(); err != nil {
		return metrics.Payload{}, err
	}

	payload := metrics.NewPayload(c.host, c.now())

	if c.sources.CPUPercent != nil {
		if pct, err := c.sources.CPUPercent(ctx); err == nil {
			payload.CPU[0] = round1(pct)
		} else {
			c.logger.Debug("cpu reading failed", "err", err)
		}
	}
	if c.sources.CPUTemp != nil {
		if temp, ok := c.sources.CPUTemp(ctx); ok {
			payload.CPU[1] = round1(temp)
		}
	}

	if c.sources.Memory != nil {
		if vm, err := c.sources.Memory(ctx); err == nil {
			payload.RAM = [3]float64{
				round1(vm.UsedPct),
				float64(vm.Used / 1024 / 1024),
				float64(vm.Total / 1024 / 1024),
			}
		} else {
			c.logger.Debug("memory reading failed", "err", err)
		}
	}

	if c.gpu != nil {
		if t, ok := c.gpu.Read(ctx); ok {
			payload.GPU = [5]float64{
				round1(t.Busy),
				round1(t.Temp),
				round1(t.MemPct),
				round1(t.Hotspot),
				round1(t.MemTemp),
			}
		}
	}

	netNow := c.read(ctx, "net", c.sources.Net)
	diskNow := c.read(ctx, "disk", c.sources.Disk)
	payload.Net, payload.Disk = c.rates(time.UnixMilli(payload.TS), netNow, diskNow)

	return payload, nil
}

func (c *Collector) read(ctx context.Context, name string, source func(context.Context) (Counters, error)) Counters {
	if source == nil {
		return Counters{}
	}
	counters, err := source(ctx)
	if err != nil {
		c.logger.Debug("counter reading failed", "source", name, "err", err)
		return Counters{}
	}
	return counters
}

func (c *Collector) rates(now time.Time, netNow, diskNow Counters) (net, disk [2]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.primed {
		elapsed := now.Sub(c.lastAt).Seconds()
		if elapsed <= 0 {
			elapsed = 1
		}
		net = [2]int64{kibPerSec(netNow.In, c.lastNet.In, elapsed), kibPerSec(netNow.Out, c.lastNet.Out, elapsed)}
		disk = [2]int64{kibPerSec(diskNow.In, c.lastDisk.In, elapsed), kibPerSec(diskNow.Out, c.lastDisk.Out, elapsed)}
	}

	c.primed = true
	c.lastAt = now
	c.lastNet = netNow
	c.lastDisk = diskNow
	return net, disk
}

func kibPerSec(current, previous uint64, elapsed float64) int64 {
	if current <= previous {
		return 0
	}
	return int64(float64(current-previous) / elapsed / 1024)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
