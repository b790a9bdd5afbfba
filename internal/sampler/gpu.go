package sampler

import (
	"context"
	"log/slog"
	"time"

	"github.com/skobkin/hostmon-panel/internal/execx"
	"github.com/skobkin/hostmon-panel/internal/gpu"
)

const probeTimeout = 2 * time.Second

// GPUProbe reads GPU telemetry from the vendor tools, falling back to sysfs.
type GPUProbe struct {
	runner    execx.Runner
	sysfsRoot string
	logger    *slog.Logger
}

// NewGPUProbe builds a probe. A nil runner skips the vendor tools.
func NewGPUProbe(runner execx.Runner, sysfsRoot string, logger *slog.Logger) *GPUProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPUProbe{
		runner:    runner,
		sysfsRoot: sysfsRoot,
		logger:    logger.With("component", "gpu_probe"),
	}
}

// Read tries nvidia-smi, then rocm-smi, then sysfs and returns the first
// source that yields a reading.
func (p *GPUProbe) Read(ctx context.Context) (gpu.Telemetry, bool) {
	if p.runner != nil {
		if t, ok := p.tool(ctx, "nvidia-smi", gpu.NvidiaSMIArgs, gpu.ParseNvidiaSMI); ok {
			return t, true
		}
		if t, ok := p.tool(ctx, "rocm-smi", gpu.RocmSMIArgs, gpu.ParseRocmSMI); ok {
			return t, true
		}
	}
	return gpu.ReadSysfs(p.sysfsRoot)
}

func (p *GPUProbe) tool(ctx context.Context, name string, args []string, parse func(string) (gpu.Telemetry, bool)) (gpu.Telemetry, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := p.runner.Output(ctx, name, args...)
	if err != nil {
		p.logger.Debug("gpu tool unavailable", "tool", name, "err", err)
		return gpu.Telemetry{}, false
	}
	return parse(out)
}
