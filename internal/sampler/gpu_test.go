package sampler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeRunner struct {
	outputs map[string]string
	calls   []string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	_, err := r.Output(ctx, name, args...)
	return err
}

func (r *fakeRunner) Output(_ context.Context, name string, _ ...string) (string, error) {
	r.calls = append(r.calls, name)
	out, ok := r.outputs[name]
	if !ok {
		return "", errors.New(name + ": executable file not found")
	}
	return out, nil
}

func TestGPUProbePrefersNvidia(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{
		"nvidia-smi": "45, 61, 2048, 8192",
		"rocm-smi":   `{"card0":{"GPU use (%)":"10"}}`,
	}}
	got, ok := NewGPUProbe(runner, t.TempDir(), quietLogger()).Read(context.Background())
	if !ok || got.Busy != 45 || got.MemPct != 25 {
		t.Fatalf("unexpected telemetry %+v ok=%v", got, ok)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected a single tool call, got %v", runner.calls)
	}
}

func TestGPUProbeFallsBackToRocm(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{
		"nvidia-smi": "",
		"rocm-smi":   `{"card0":{"Temp Edge (C)":"41.0","GPU Busy (%)":"19"}}`,
	}}
	got, ok := NewGPUProbe(runner, t.TempDir(), quietLogger()).Read(context.Background())
	if !ok || got.Busy != 19 || got.Temp != 41 {
		t.Fatalf("unexpected telemetry %+v ok=%v", got, ok)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected nvidia-smi then rocm-smi, got %v", runner.calls)
	}
}

func TestGPUProbeFallsBackToSysfs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	device := filepath.Join(root, "class", "drm", "card0", "device")
	if err := os.MkdirAll(device, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(device, "gpu_busy_percent"), []byte("37\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, ok := NewGPUProbe(&fakeRunner{}, root, quietLogger()).Read(context.Background())
	if !ok || got.Busy != 37 {
		t.Fatalf("unexpected telemetry %+v ok=%v", got, ok)
	}

	got, ok = NewGPUProbe(nil, root, nil).Read(context.Background())
	if !ok || got.Busy != 37 {
		t.Fatalf("nil runner must go straight to sysfs, got %+v ok=%v", got, ok)
	}
}

func TestGPUProbeNoSource(t *testing.T) {
	t.Parallel()

	if _, ok := NewGPUProbe(&fakeRunner{}, t.TempDir(), quietLogger()).Read(context.Background()); ok {
		t.Fatalf("expected no telemetry")
	}
}
