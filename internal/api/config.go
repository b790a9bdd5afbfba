// Package api holds the JSON documents exchanged over HTTP and WebSocket.
package api

import (
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

// ConfigVersion is reported by GET /api/v2/config.
const ConfigVersion = 2

// MQTTConfig is the broker section of the configuration document. The
// password is never sent back.
type MQTTConfig struct {
	Server           string   `json:"server"`
	Port             int      `json:"port"`
	Topic            string   `json:"topic"`
	User             string   `json:"user"`
	SubscribedTopics []string `json:"subscribedTopics"`
	AvailableTopics  []string `json:"availableTopics"`
}

type DeviceConfig struct {
	Hostname string `json:"hostname"`
	Alias    string `json:"alias"`
	Time     int    `json:"time"`
	Enabled  bool   `json:"enabled"`
}

type Thresholds struct {
	CPUWarn  int `json:"cpuWarn"`
	CPUCrit  int `json:"cpuCrit"`
	RAMWarn  int `json:"ramWarn"`
	RAMCrit  int `json:"ramCrit"`
	GPUWarn  int `json:"gpuWarn"`
	GPUCrit  int `json:"gpuCrit"`
	TempWarn int `json:"tempWarn"`
	TempCrit int `json:"tempCrit"`
}

// ConfigResponse is the document served by GET /api/v2/config.
type ConfigResponse struct {
	Version           int            `json:"version"`
	MQTT              MQTTConfig     `json:"mqtt"`
	Devices           []DeviceConfig `json:"devices"`
	Thresholds        Thresholds     `json:"thresholds"`
	DisplayTime       int            `json:"displayTime"`
	AutoCarousel      bool           `json:"autoCarousel"`
	OfflineTimeoutSec int            `json:"offlineTimeoutSec"`
}

// NewConfigResponse renders cfg. knownHosts lists every identifier seen in
// configuration or traffic; each becomes an available topic.
func NewConfigResponse(cfg settings.Monitor, knownHosts []string) ConfigResponse {
	resp := ConfigResponse{
		Version: ConfigVersion,
		MQTT: MQTTConfig{
			Server:           cfg.Broker.Server,
			Port:             cfg.Broker.Port,
			Topic:            cfg.Broker.Topic,
			User:             cfg.Broker.User,
			SubscribedTopics: append([]string{}, cfg.Broker.SubscribedTopics...),
			AvailableTopics:  AvailableTopics(knownHosts),
		},
		Devices: make([]DeviceConfig, 0, len(cfg.Devices)),
		Thresholds: Thresholds{
			CPUWarn:  cfg.Thresholds.CPUWarn,
			CPUCrit:  cfg.Thresholds.CPUCrit,
			RAMWarn:  cfg.Thresholds.RAMWarn,
			RAMCrit:  cfg.Thresholds.RAMCrit,
			GPUWarn:  cfg.Thresholds.GPUWarn,
			GPUCrit:  cfg.Thresholds.GPUCrit,
			TempWarn: cfg.Thresholds.TempWarn,
			TempCrit: cfg.Thresholds.TempCrit,
		},
		DisplayTime:       cfg.DisplayTime,
		AutoCarousel:      cfg.AutoCarousel,
		OfflineTimeoutSec: cfg.OfflineTimeoutSec,
	}
	for _, dev := range cfg.Devices {
		resp.Devices = append(resp.Devices, DeviceConfig{
			Hostname: dev.Hostname,
			Alias:    dev.Alias,
			Time:     dev.DisplayTime,
			Enabled:  dev.Enabled,
		})
	}
	return resp
}

// AvailableTopics maps hosts to their sender topics, skipping duplicates,
// empty names and anything beyond policy.MaxSources.
func AvailableTopics(hosts []string) []string {
	topics := make([]string, 0, len(hosts))
	seen := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		if host == "" {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		topic := policy.SenderTopic(host)
		if !policy.ValidSenderTopic(topic) {
			continue
		}
		seen[host] = struct{}{}
		topics = append(topics, topic)
		if len(topics) == policy.MaxSources {
			break
		}
	}
	return topics
}

// ConfigRequest is the body of POST /api/v2/config. Absent sections keep
// their current value; absent fields inside a present section take their
// factory default.
type ConfigRequest struct {
	MQTT              *MQTTRequest       `json:"mqtt"`
	Devices           []DeviceRequest    `json:"devices"`
	Thresholds        *ThresholdsRequest `json:"thresholds"`
	DisplayTime       *int               `json:"displayTime"`
	AutoCarousel      *bool              `json:"autoCarousel"`
	OfflineTimeoutSec *int               `json:"offlineTimeoutSec"`
}

type MQTTRequest struct {
	Server           *string  `json:"server"`
	Port             *int     `json:"port"`
	Topic            *string  `json:"topic"`
	User             *string  `json:"user"`
	Pass             *string  `json:"pass"`
	SubscribedTopics []string `json:"subscribedTopics"`
}

type DeviceRequest struct {
	Hostname string `json:"hostname"`
	Alias    string `json:"alias"`
	Time     *int   `json:"time"`
	Enabled  *bool  `json:"enabled"`
}

type ThresholdsRequest struct {
	CPUWarn  *int `json:"cpuWarn"`
	CPUCrit  *int `json:"cpuCrit"`
	RAMWarn  *int `json:"ramWarn"`
	RAMCrit  *int `json:"ramCrit"`
	GPUWarn  *int `json:"gpuWarn"`
	GPUCrit  *int `json:"gpuCrit"`
	TempWarn *int `json:"tempWarn"`
	TempCrit *int `json:"tempCrit"`
}

// Apply merges the request onto current and returns the candidate record.
// The result is not validated.
func (r ConfigRequest) Apply(current settings.Monitor) settings.Monitor {
	next := current.Clone()

	if m := r.MQTT; m != nil {
		next.Broker.Server = stringOr(m.Server, "")
		next.Broker.Port = intOr(m.Port, settings.DefaultBrokerPort)
		next.Broker.Topic = stringOr(m.Topic, policy.DiscoveryTopic)
		next.Broker.User = stringOr(m.User, "")
		if pass := stringOr(m.Pass, ""); pass != "" {
			next.Broker.Pass = pass
		}
		next.Broker.SubscribedTopics = append([]string(nil), m.SubscribedTopics...)
	}

	if r.Devices != nil {
		devices := make([]settings.Device, 0, min(len(r.Devices), policy.MaxSources))
		for _, dev := range r.Devices {
			if len(devices) == policy.MaxSources {
				break
			}
			devices = append(devices, settings.Device{
				Hostname:    dev.Hostname,
				Alias:       dev.Alias,
				DisplayTime: intOr(dev.Time, current.DisplayTime),
				Enabled:     boolOr(dev.Enabled, true),
			})
		}
		next.Devices = devices
	}

	if th := r.Thresholds; th != nil {
		def := settings.DefaultThresholds()
		next.Thresholds = settings.Thresholds{
			CPUWarn:  intOr(th.CPUWarn, def.CPUWarn),
			CPUCrit:  intOr(th.CPUCrit, def.CPUCrit),
			RAMWarn:  intOr(th.RAMWarn, def.RAMWarn),
			RAMCrit:  intOr(th.RAMCrit, def.RAMCrit),
			GPUWarn:  intOr(th.GPUWarn, def.GPUWarn),
			GPUCrit:  intOr(th.GPUCrit, def.GPUCrit),
			TempWarn: intOr(th.TempWarn, def.TempWarn),
			TempCrit: intOr(th.TempCrit, def.TempCrit),
		}
	}

	next.DisplayTime = intOr(r.DisplayTime, settings.DefaultDisplayTime)
	next.AutoCarousel = boolOr(r.AutoCarousel, true)
	next.OfflineTimeoutSec = policy.ClampOfflineTimeout(intOr(r.OfflineTimeoutSec, policy.DefaultOfflineTimeoutSec))
	return next
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
