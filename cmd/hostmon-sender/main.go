package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/execx"
	"github.com/skobkin/hostmon-panel/internal/gpu"
	"github.com/skobkin/hostmon-panel/internal/sampler"
	"github.com/skobkin/hostmon-panel/internal/sender"
	"github.com/skobkin/hostmon-panel/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

type options struct {
	once       bool
	listGPUs   bool
	jsonOutput bool
	logLevel   string
}

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.LoadSender()
	if err != nil {
		fatal("failed to load configuration", err)
	}

	opts, err := parseFlags(os.Args[1:], &cfg)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fatal("invalid arguments", err)
	}

	logger := slog.New(newLogHandler(os.Stderr, cfg.LogLevel))

	switch {
	case opts.listGPUs:
		if err := listGPUs(os.Stdout, cfg.SysfsRoot, opts.jsonOutput, logger); err != nil {
			fatal("gpu discovery failed", err)
		}
		return
	case opts.once:
		if err := printOnce(os.Stdout, cfg, logger); err != nil {
			fatal("collect failed", err)
		}
		return
	}

	logger.Info("starting hostmon sender", "version", version.Current().String(), "host", cfg.Hostname)

	publisher, err := sender.New(cfg, newCollector(cfg, logger), nil, logger)
	if err != nil {
		fatal("failed to build sender", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := publisher.Run(ctx); err != nil {
		logger.Error("sender error", "err", err)
		os.Exit(1)
	}
}

// parseFlags applies command-line overrides on top of the environment.
func parseFlags(args []string, cfg *config.SenderConfig) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("hostmon-sender", pflag.ContinueOnError)

	fs.BoolVar(&opts.once, "once", false, "Collect one payload, print it as JSON and exit")
	fs.BoolVar(&opts.listGPUs, "list-gpus", false, "List detected GPUs and exit")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print --list-gpus output as JSON")
	fs.StringVar(&cfg.Hostname, "host", cfg.Hostname, "Host identifier used in the topic")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Publish interval")
	fs.StringVar(&cfg.MQTTHost, "mqtt-host", cfg.MQTTHost, "Broker host")
	fs.IntVar(&cfg.MQTTPort, "mqtt-port", cfg.MQTTPort, "Broker port")
	fs.StringVar(&cfg.MQTTUser, "mqtt-user", cfg.MQTTUser, "Broker username")
	fs.StringVar(&cfg.MQTTPass, "mqtt-pass", cfg.MQTTPass, "Broker password")
	fs.Uint8Var(&cfg.QoS, "qos", cfg.QoS, "Publish QoS (0, 1 or 2)")
	fs.StringVar(&cfg.SysfsRoot, "sysfs", cfg.SysfsRoot, "Path to sysfs root")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.logLevel != "" {
		level, err := config.ParseLogLevel(opts.logLevel)
		if err != nil {
			return options{}, err
		}
		cfg.LogLevel = level
	}
	if cfg.Interval <= 0 {
		return options{}, fmt.Errorf("--interval must be > 0")
	}
	if cfg.MQTTPort <= 0 || cfg.MQTTPort > 65535 {
		return options{}, fmt.Errorf("--mqtt-port must be in 1..65535")
	}
	if cfg.QoS > 2 {
		return options{}, fmt.Errorf("--qos must be 0, 1 or 2")
	}
	return opts, nil
}

func newCollector(cfg config.SenderConfig, logger *slog.Logger) *sampler.Collector {
	probe := sampler.NewGPUProbe(execx.NewOSRunner(), cfg.SysfsRoot, logger)
	return sampler.NewCollector(cfg.Hostname, sampler.HostSources(), probe, logger)
}

func printOnce(out io.Writer, cfg config.SenderConfig, logger *slog.Logger) error {
	collector := newCollector(cfg, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload, err := collector.Collect(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func listGPUs(out io.Writer, sysfsRoot string, jsonOutput bool, logger *slog.Logger) error {
	cards, err := gpu.Discover(sysfsRoot, logger.With("component", "gpu_discovery"))
	if err != nil {
		return err
	}

	if jsonOutput {
		if cards == nil {
			cards = []gpu.Card{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cards)
	}

	if len(cards) == 0 {
		_, err := fmt.Fprintln(out, "No GPUs detected")
		return err
	}
	fmt.Fprintln(out, "Discovered GPUs:")
	for _, card := range cards {
		fmt.Fprintf(out, "- %s (PCI: %s, PCIID: %s, Render: %s, Name: %s)\n", card.ID, card.PCI, card.PCIID, card.RenderNode, card.Name)
	}
	return nil
}

func newLogHandler(out *os.File, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(out.Fd())) {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func fatal(msg string, err error) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
	slog.New(handler).Error(msg, "err", err)
	os.Exit(1)
}
