package api

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

func decodeRequest(t *testing.T, body string) ConfigRequest {
	t.Helper()
	var req ConfigRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func TestApplyKeepsPasswordWhenBlank(t *testing.T) {
	t.Parallel()

	current := settings.Defaults()
	current.Broker.Server = "old"
	current.Broker.Pass = "secret"

	next := decodeRequest(t, `{"mqtt":{"server":"broker.lan","pass":""}}`).Apply(current)
	if next.Broker.Server != "broker.lan" || next.Broker.Pass != "secret" {
		t.Fatalf("unexpected broker %+v", next.Broker)
	}
	if next.Broker.Port != settings.DefaultBrokerPort || next.Broker.Topic != policy.DiscoveryTopic {
		t.Fatalf("expected broker defaults, got %+v", next.Broker)
	}

	next = decodeRequest(t, `{"mqtt":{"server":"broker.lan","pass":"new"}}`).Apply(current)
	if next.Broker.Pass != "new" {
		t.Fatalf("expected password replaced, got %q", next.Broker.Pass)
	}
}

func TestApplySectionDefaults(t *testing.T) {
	t.Parallel()

	current := settings.Defaults()
	current.DisplayTime = 9
	current.AutoCarousel = false
	current.Devices = []settings.Device{{Hostname: "keep", Enabled: true}}

	next := decodeRequest(t, `{"offlineTimeoutSec":1000,"thresholds":{"cpuWarn":50}}`).Apply(current)

	if !reflect.DeepEqual(next.Devices, current.Devices) {
		t.Fatalf("absent devices section must keep the list, got %+v", next.Devices)
	}
	if next.DisplayTime != settings.DefaultDisplayTime || !next.AutoCarousel {
		t.Fatalf("expected top-level defaults, got displayTime=%d carousel=%v", next.DisplayTime, next.AutoCarousel)
	}
	if next.OfflineTimeoutSec != policy.MaxOfflineTimeoutSec {
		t.Fatalf("expected clamped offline timeout, got %d", next.OfflineTimeoutSec)
	}
	want := settings.DefaultThresholds()
	want.CPUWarn = 50
	if next.Thresholds != want {
		t.Fatalf("unexpected thresholds %+v", next.Thresholds)
	}
}

func TestApplyDevices(t *testing.T) {
	t.Parallel()

	current := settings.Defaults()
	current.DisplayTime = 7

	next := decodeRequest(t, `{"devices":[{"hostname":"desk","alias":"Desk"},{"hostname":"lab","time":3,"enabled":false}]}`).Apply(current)
	want := []settings.Device{
		{Hostname: "desk", Alias: "Desk", DisplayTime: 7, Enabled: true},
		{Hostname: "lab", DisplayTime: 3, Enabled: false},
	}
	if !reflect.DeepEqual(next.Devices, want) {
		t.Fatalf("got %+v, want %+v", next.Devices, want)
	}
}

func TestConfigResponse(t *testing.T) {
	t.Parallel()

	cfg := settings.Defaults()
	cfg.Broker.Pass = "secret"
	cfg.Devices = []settings.Device{{Hostname: "desk", Alias: "Desk", DisplayTime: 5, Enabled: true}}

	resp := NewConfigResponse(cfg, []string{"desk", "lab", "desk", ""})
	if resp.Version != ConfigVersion {
		t.Fatalf("unexpected version %d", resp.Version)
	}
	wantTopics := []string{policy.SenderTopic("desk"), policy.SenderTopic("lab")}
	if !reflect.DeepEqual(resp.MQTT.AvailableTopics, wantTopics) {
		t.Fatalf("unexpected available topics %v", resp.MQTT.AvailableTopics)
	}
	if resp.MQTT.SubscribedTopics == nil {
		t.Fatalf("subscribed topics should encode as an empty array")
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mqtt := raw["mqtt"].(map[string]any)
	if _, ok := mqtt["pass"]; ok {
		t.Fatalf("password must not be exposed")
	}
	devices := raw["devices"].([]any)
	if devices[0].(map[string]any)["time"].(float64) != 5 {
		t.Fatalf("unexpected device document %v", devices[0])
	}
}

func TestAvailableTopicsCap(t *testing.T) {
	t.Parallel()

	hosts := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "bad/host"}
	if got := AvailableTopics(hosts); len(got) != policy.MaxSources {
		t.Fatalf("expected %d topics, got %d", policy.MaxSources, len(got))
	}
	if got := AvailableTopics([]string{"bad/host"}); len(got) != 0 {
		t.Fatalf("invalid host produced a topic: %v", got)
	}
}
