// Package settings holds the operator-editable appliance configuration and
// the manager that serves it to the loop and the HTTP server.
package settings

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skobkin/hostmon-panel/internal/policy"
)

const (
	DefaultBrokerPort  = 1883
	DefaultDisplayTime = 5

	maxServerLen = 64
	maxTopicLen  = 64
	maxUserLen   = 32
)

var (
	ErrInvalidBroker = errors.New("invalid MQTT settings")
	ErrTooManyTopics = errors.New("too many subscribed topics")
	ErrInvalidTopic  = errors.New("invalid sender topic")
)

// Broker describes the message broker connection and subscription set.
type Broker struct {
	Server           string   `yaml:"server"`
	Port             int      `yaml:"port"`
	User             string   `yaml:"user,omitempty"`
	Pass             string   `yaml:"pass,omitempty"`
	Topic            string   `yaml:"topic"`
	SubscribedTopics []string `yaml:"subscribed_topics,omitempty"`
}

// Device carries per-source presentation preferences.
type Device struct {
	Hostname    string `yaml:"hostname"`
	Alias       string `yaml:"alias"`
	DisplayTime int    `yaml:"display_time"`
	Enabled     bool   `yaml:"enabled"`
}

// UnmarshalYAML treats a missing enabled key as true.
func (d *Device) UnmarshalYAML(node *yaml.Node) error {
	type plain Device
	decoded := plain{Enabled: true}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*d = Device(decoded)
	return nil
}

// Thresholds are warning and critical levels, in whole percent or degrees.
type Thresholds struct {
	CPUWarn  int `yaml:"cpu_warn"`
	CPUCrit  int `yaml:"cpu_crit"`
	RAMWarn  int `yaml:"ram_warn"`
	RAMCrit  int `yaml:"ram_crit"`
	GPUWarn  int `yaml:"gpu_warn"`
	GPUCrit  int `yaml:"gpu_crit"`
	TempWarn int `yaml:"temp_warn"`
	TempCrit int `yaml:"temp_crit"`
}

// DefaultThresholds returns the factory threshold set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarn: 70, CPUCrit: 90,
		RAMWarn: 70, RAMCrit: 90,
		GPUWarn: 70, GPUCrit: 90,
		TempWarn: 60, TempCrit: 80,
	}
}

// Monitor is the persisted appliance configuration record.
type Monitor struct {
	Broker            Broker     `yaml:"mqtt"`
	Devices           []Device   `yaml:"devices"`
	Thresholds        Thresholds `yaml:"thresholds"`
	DisplayTime       int        `yaml:"display_time"`
	AutoCarousel      bool       `yaml:"auto_carousel"`
	OfflineTimeoutSec int        `yaml:"offline_timeout_sec"`
}

// Defaults returns a record with every field at its factory value.
func Defaults() Monitor {
	return Monitor{
		Broker: Broker{
			Port:  DefaultBrokerPort,
			Topic: policy.DiscoveryTopic,
		},
		Thresholds:        DefaultThresholds(),
		DisplayTime:       DefaultDisplayTime,
		AutoCarousel:      true,
		OfflineTimeoutSec: policy.DefaultOfflineTimeoutSec,
	}
}

// Clone returns a deep copy.
func (m Monitor) Clone() Monitor {
	out := m
	out.Broker.SubscribedTopics = append([]string(nil), m.Broker.SubscribedTopics...)
	out.Devices = append([]Device(nil), m.Devices...)
	return out
}

// Normalize repairs a record loaded from storage: out of range values are
// reset, invalid or duplicate topics dropped and lists truncated to their
// capacity. It never fails.
func (m *Monitor) Normalize() {
	if !policy.ValidBrokerPort(m.Broker.Port) {
		m.Broker.Port = DefaultBrokerPort
	}
	if strings.TrimSpace(m.Broker.Topic) == "" {
		m.Broker.Topic = policy.DiscoveryTopic
	}
	if m.DisplayTime <= 0 {
		m.DisplayTime = DefaultDisplayTime
	}
	m.OfflineTimeoutSec = policy.ClampOfflineTimeout(m.OfflineTimeoutSec)

	topics := make([]string, 0, len(m.Broker.SubscribedTopics))
	for _, topic := range m.Broker.SubscribedTopics {
		topic = strings.TrimSpace(topic)
		if !policy.ValidSenderTopic(topic) || containsString(topics, topic) {
			continue
		}
		if len(topics) == policy.MaxSubscribedTopics {
			break
		}
		topics = append(topics, topic)
	}
	m.Broker.SubscribedTopics = topics

	devices := make([]Device, 0, min(len(m.Devices), policy.MaxSources))
	for _, dev := range m.Devices {
		dev.Hostname = policy.TruncateHost(strings.TrimSpace(dev.Hostname))
		if dev.Hostname == "" || containsDevice(devices, dev.Hostname) {
			continue
		}
		if len(devices) == policy.MaxSources {
			break
		}
		if strings.TrimSpace(dev.Alias) == "" {
			dev.Alias = dev.Hostname
		}
		if dev.DisplayTime <= 0 {
			dev.DisplayTime = m.DisplayTime
		}
		devices = append(devices, dev)
	}
	m.Devices = devices
}

// Validate rejects a record submitted by an operator. Unlike Normalize it
// reports problems instead of repairing them.
func (m Monitor) Validate() error {
	b := m.Broker
	if len(b.Server) >= maxServerLen || len(b.Topic) >= maxTopicLen || len(b.User) >= maxUserLen || !policy.ValidBrokerPort(b.Port) {
		return ErrInvalidBroker
	}

	unique := make([]string, 0, len(b.SubscribedTopics))
	for _, topic := range b.SubscribedTopics {
		topic = strings.TrimSpace(topic)
		if !policy.ValidSenderTopic(topic) {
			return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
		}
		if containsString(unique, topic) {
			continue
		}
		unique = append(unique, topic)
	}
	if len(unique) > policy.MaxSubscribedTopics {
		return ErrTooManyTopics
	}
	return nil
}

// TopicAllowed reports whether topic is on the explicit allow-list.
func (b Broker) TopicAllowed(topic string) bool {
	return containsString(b.SubscribedTopics, topic)
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func containsDevice(list []Device, host string) bool {
	for _, dev := range list {
		if dev.Hostname == host {
			return true
		}
	}
	return false
}
