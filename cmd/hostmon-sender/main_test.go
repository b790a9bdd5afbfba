package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/hostmon-panel/internal/config"
)

func TestParseFlagsOverridesEnvironment(t *testing.T) {
	t.Parallel()

	cfg := config.SenderConfig{Hostname: "env-host", Interval: time.Second, MQTTHost: "127.0.0.1", MQTTPort: 1883, SysfsRoot: "/sys"}
	opts, err := parseFlags([]string{
		"--host", "desk",
		"--interval", "2500ms",
		"--mqtt-host", "broker.lan",
		"--mqtt-port", "8883",
		"--qos", "1",
		"--log-level", "debug",
		"--list-gpus", "--json",
	}, &cfg)
	if err != nil {
		t.Fatalf("parseFlags returned error: %v", err)
	}
	if !opts.listGPUs || !opts.jsonOutput || opts.once {
		t.Fatalf("unexpected options %+v", opts)
	}
	if cfg.Hostname != "desk" || cfg.Interval != 2500*time.Millisecond || cfg.MQTTHost != "broker.lan" ||
		cfg.MQTTPort != 8883 || cfg.QoS != 1 || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SysfsRoot != "/sys" {
		t.Fatalf("unset flags must keep the environment value, got %q", cfg.SysfsRoot)
	}
}

func TestParseFlagsRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"--interval", "0s"},
		{"--mqtt-port", "70000"},
		{"--qos", "3"},
		{"--log-level", "loud"},
		{"--unknown"},
	} {
		cfg := config.SenderConfig{Interval: time.Second, MQTTPort: 1883}
		if _, err := parseFlags(args, &cfg); err == nil {
			t.Errorf("expected %v to be rejected", args)
		}
	}
}

func TestListGPUs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	device := filepath.Join(root, "class", "drm", "card0", "device")
	if err := os.MkdirAll(device, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	uevent := "DRIVER=amdgpu\nPCI_SLOT_NAME=0000:0a:00.0\nPCI_ID=1002:73DF\n"
	if err := os.WriteFile(filepath.Join(device, "uevent"), []byte(uevent), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var text bytes.Buffer
	if err := listGPUs(&text, root, false, logger); err != nil {
		t.Fatalf("listGPUs returned error: %v", err)
	}
	if !strings.Contains(text.String(), "- card0 (PCI: 0000:0a:00.0, PCIID: 1002:73DF") {
		t.Fatalf("unexpected text output %q", text.String())
	}

	var out bytes.Buffer
	if err := listGPUs(&out, root, true, logger); err != nil {
		t.Fatalf("listGPUs returned error: %v", err)
	}
	var cards []map[string]any
	if err := json.Unmarshal(out.Bytes(), &cards); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(cards) != 1 || cards[0]["id"] != "card0" || cards[0]["driver"] != "amdgpu" {
		t.Fatalf("unexpected cards %v", cards)
	}

	var empty bytes.Buffer
	if err := listGPUs(&empty, t.TempDir(), true, logger); err != nil {
		t.Fatalf("listGPUs returned error: %v", err)
	}
	if strings.TrimSpace(empty.String()) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", empty.String())
	}
}
