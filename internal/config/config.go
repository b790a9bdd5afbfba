package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration of the panel sourced from
// environment variables.
type Config struct {
	ListenAddr       string
	DataDir          string
	LoopInterval     time.Duration
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	TerminalRender   TerminalMode
	WiFi             WiFiConfig
	WS               WebsocketConfig
}

// WiFiConfig selects and parameterizes the radio backend.
type WiFiConfig struct {
	Backend   string
	Interface string
	DeviceID  string
}

// APSSID returns the setup access point name.
func (c WiFiConfig) APSSID() string {
	return "HOSTMON-" + c.DeviceID
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// TerminalMode controls the stdout renderer.
type TerminalMode string

const (
	TerminalAuto TerminalMode = "auto"
	TerminalOn   TerminalMode = "true"
	TerminalOff  TerminalMode = "false"
)

const (
	BackendNMCLI  = "nmcli"
	BackendStatic = "static"
)

// SenderConfig is the configuration of the telemetry publisher.
type SenderConfig struct {
	Hostname  string
	Interval  time.Duration
	MQTTHost  string
	MQTTPort  int
	MQTTUser  string
	MQTTPass  string
	QoS       byte
	SysfsRoot string
	LogLevel  slog.Level
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:     ":8080",
		DataDir:        "/var/lib/hostmon-panel",
		LoopInterval:   20 * time.Millisecond,
		AllowedOrigins: []string{"*"},
		LogLevel:       slog.LevelInfo,
		TerminalRender: TerminalAuto,
		WiFi: WiFiConfig{
			Backend:   BackendNMCLI,
			Interface: "wlan0",
			DeviceID:  defaultDeviceID(),
		},
		WS: WebsocketConfig{
			MaxClients:   16,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	var env envReader
	env.str("APP_LISTEN_ADDR", &cfg.ListenAddr)
	env.str("APP_DATA_DIR", &cfg.DataDir)
	env.duration("APP_LOOP_INTERVAL", &cfg.LoopInterval)
	env.list("APP_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	env.boolean("APP_ENABLE_PROMETHEUS", &cfg.EnablePrometheus)
	env.boolean("APP_ENABLE_PPROF", &cfg.EnablePprof)
	env.level("APP_LOG_LEVEL", &cfg.LogLevel)
	env.parse("APP_TERMINAL_RENDER", func(value string) error {
		mode, err := parseTerminalMode(value)
		if err != nil {
			return err
		}
		cfg.TerminalRender = mode
		return nil
	})
	env.parse("APP_WIFI_BACKEND", func(value string) error {
		backend := strings.ToLower(value)
		if backend != BackendNMCLI && backend != BackendStatic {
			return fmt.Errorf("must be %q or %q", BackendNMCLI, BackendStatic)
		}
		cfg.WiFi.Backend = backend
		return nil
	})
	env.str("APP_WIFI_INTERFACE", &cfg.WiFi.Interface)
	env.str("APP_DEVICE_ID", &cfg.WiFi.DeviceID)
	env.intRange("APP_WS_MAX_CLIENTS", 1, math.MaxInt32, &cfg.WS.MaxClients)
	env.duration("APP_WS_WRITE_TIMEOUT", &cfg.WS.WriteTimeout)
	env.duration("APP_WS_READ_TIMEOUT", &cfg.WS.ReadTimeout)

	if env.err != nil {
		return Config{}, env.err
	}
	return cfg, nil
}

// LoadSender parses the publisher configuration. The variable names match
// the ones deployed sender units already use.
func LoadSender() (SenderConfig, error) {
	cfg := SenderConfig{
		Interval:  time.Second,
		MQTTHost:  "127.0.0.1",
		MQTTPort:  1883,
		SysfsRoot: "/sys",
		LogLevel:  slog.LevelInfo,
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		cfg.Hostname = host
	} else {
		cfg.Hostname = "unknown"
	}

	var env envReader
	env.str("SENDER_HOSTNAME", &cfg.Hostname)
	env.parse("SEND_INTERVAL_SEC", func(value string) error {
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if seconds <= 0 {
			return fmt.Errorf("must be > 0")
		}
		cfg.Interval = time.Duration(seconds * float64(time.Second))
		return nil
	})
	env.str("MQTT_HOST", &cfg.MQTTHost)
	env.intRange("MQTT_PORT", 1, 65535, &cfg.MQTTPort)
	cfg.MQTTUser = os.Getenv("MQTT_USER")
	cfg.MQTTPass = os.Getenv("MQTT_PASS")
	env.parse("MQTT_QOS", func(value string) error {
		var qos int
		if err := parseIntRange(value, 0, 2, &qos); err != nil {
			return err
		}
		cfg.QoS = byte(qos)
		return nil
	})
	env.str("APP_SYSFS_ROOT", &cfg.SysfsRoot)
	env.level("APP_LOG_LEVEL", &cfg.LogLevel)

	if env.err != nil {
		return SenderConfig{}, env.err
	}
	return cfg, nil
}

// ParseLogLevel converts a textual level as accepted by APP_LOG_LEVEL.
func ParseLogLevel(input string) (slog.Level, error) {
	return parseLogLevel(input)
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "0000"
	}
	host = strings.ToUpper(host)
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	if len(host) > 8 {
		host = host[len(host)-8:]
	}
	return host
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
