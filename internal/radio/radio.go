// Package radio drives the Wi-Fi interface through non-blocking start/poll
// pairs so the cooperative loop never waits on association.
package radio

import (
	"net"
	"sort"
)

// Result is the outcome of polling a connection attempt.
type Result int

const (
	ResultIdle Result = iota
	ResultInProgress
	ResultSuccess
	ResultTimeout
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultIdle:
		return "idle"
	case ResultInProgress:
		return "in_progress"
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Done reports whether the attempt reached a terminal state.
func (r Result) Done() bool {
	return r == ResultSuccess || r == ResultTimeout || r == ResultFailed
}

// Network is one scan result.
type Network struct {
	SSID   string `json:"ssid"`
	RSSI   int    `json:"rssi"`
	Secure bool   `json:"secure"`
}

func sortNetworks(networks []Network) {
	sort.SliceStable(networks, func(i, j int) bool {
		return networks[i].RSSI > networks[j].RSSI
	})
}

func interfaceAddress(name string) string {
	if name != "" {
		if iface, err := net.InterfaceByName(name); err == nil {
			if addr := firstIPv4(iface); addr != "" {
				return addr
			}
		}
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagLoopback != 0 || ifaces[i].Flags&net.FlagUp == 0 {
			continue
		}
		if addr := firstIPv4(&ifaces[i]); addr != "" {
			return addr
		}
	}
	return ""
}

func firstIPv4(iface *net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok {
			if v4 := ipNet.IP.To4(); v4 != nil && !v4.IsLoopback() {
				return v4.String()
			}
		}
	}
	return ""
}
