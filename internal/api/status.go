package api

import "github.com/skobkin/hostmon-panel/internal/radio"

// Result is the generic outcome document of mutating endpoints.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}

// DeviceStatus summarizes one stored source.
type DeviceStatus struct {
	Hostname string `json:"hostname"`
	Online   bool   `json:"online"`
	CPU      int    `json:"cpu"`
	RAM      int    `json:"ram"`
}

// StatusResponse is served by GET /api/v2/status. MQTTConnected is the raw
// socket state; LinkUp is what the panel shows.
type StatusResponse struct {
	MQTTConnected  bool           `json:"mqttConnected"`
	LinkUp         bool           `json:"linkUp"`
	DeviceCount    int            `json:"deviceCount"`
	OnlineCount    int            `json:"onlineCount"`
	WiFiApplyState string         `json:"wifiApplyState"`
	Mode           string         `json:"mode"`
	Subscriptions  []string       `json:"subscriptions"`
	Devices        []DeviceStatus `json:"devices"`
}

// ScanPending is returned by /scan while no result is available.
type ScanPending struct {
	Scanning bool `json:"scanning"`
}

// NewScanResponse returns the /scan document: the network list, or a
// scanning marker.
func NewScanResponse(networks []radio.Network, scanning bool) any {
	if scanning {
		return ScanPending{Scanning: true}
	}
	if networks == nil {
		networks = []radio.Network{}
	}
	return networks
}
