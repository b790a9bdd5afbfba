package radio

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/hostmon-panel/internal/execx"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

const (
	apConnectionName = "hostmon-setup"
	scanTimeout      = 30 * time.Second
	apTimeout        = 30 * time.Second
)

// NMCLI talks to NetworkManager. Every command runs on its own goroutine;
// results are handed back through buffered channels read by Poll calls.
type NMCLI struct {
	runner  execx.Runner
	iface   string
	apSSID  string
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	attempt   chan error
	cancel    context.CancelFunc
	startedAt time.Time
	target    string
	ssid      string
	apMode    bool
	scanning  bool
	scanErr   error
	scanned   bool
	networks  []Network
}

// NewNMCLI builds the NetworkManager backend for iface. apSSID names the
// setup access point.
func NewNMCLI(runner execx.Runner, iface, apSSID string, logger *slog.Logger) *NMCLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMCLI{
		runner:  runner,
		iface:   iface,
		apSSID:  apSSID,
		timeout: policy.ConnectTimeout,
		logger:  logger,
	}
}

// StartConnect begins joining the given network and returns immediately.
func (n *NMCLI) StartConnect(creds settings.WiFiCredentials, now time.Time) bool {
	if !creds.Valid() {
		return false
	}
	args := []string{"--wait", strconv.Itoa(int(n.timeout / time.Second)), "device", "wifi", "connect", creds.SSID}
	if creds.Password != "" {
		args = append(args, "password", creds.Password)
	}
	args = append(args, "ifname", n.iface)
	n.start(creds.SSID, now, args)
	return true
}

// StartConnectStored asks NetworkManager to bring the interface up with
// whatever profile it already has.
func (n *NMCLI) StartConnectStored(now time.Time) bool {
	n.start("", now, []string{"--wait", strconv.Itoa(int(n.timeout / time.Second)), "device", "connect", n.iface})
	return true
}

func (n *NMCLI) start(ssid string, now time.Time, args []string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	ch := make(chan error, 1)
	n.attempt = ch
	n.cancel = cancel
	n.startedAt = now
	n.target = ssid

	go func() {
		ch <- n.runner.Run(ctx, "nmcli", args...)
	}()
}

// PollConnect reports the state of the current attempt without blocking.
func (n *NMCLI) PollConnect(now time.Time) Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.attempt == nil {
		return ResultIdle
	}

	select {
	case err := <-n.attempt:
		n.finishLocked()
		if err == nil {
			n.apMode = false
			n.ssid = n.target
			return ResultSuccess
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ResultTimeout
		}
		n.logger.Debug("wifi connect failed", "err", err)
		return ResultFailed
	default:
	}

	if now.Sub(n.startedAt) >= n.timeout {
		n.finishLocked()
		return ResultTimeout
	}
	return ResultInProgress
}

func (n *NMCLI) finishLocked() {
	if n.cancel != nil {
		n.cancel()
	}
	n.attempt = nil
	n.cancel = nil
}

// StartAP brings up an open access point for setup. The access point is
// reported active immediately; activation completes in the background.
func (n *NMCLI) StartAP() error {
	n.mu.Lock()
	n.apMode = true
	n.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), apTimeout)
		defer cancel()
		_ = n.runner.Run(ctx, "nmcli", "connection", "delete", apConnectionName)
		err := n.runner.Run(ctx, "nmcli", "connection", "add",
			"type", "wifi", "ifname", n.iface, "con-name", apConnectionName,
			"autoconnect", "no", "ssid", n.apSSID,
			"802-11-wireless.mode", "ap", "ipv4.method", "shared")
		if err == nil {
			err = n.runner.Run(ctx, "nmcli", "connection", "up", apConnectionName)
		}
		if err != nil {
			n.logger.Error("failed to start access point", "ssid", n.apSSID, "err", err)
			return
		}
		n.logger.Info("access point active", "ssid", n.apSSID)
	}()
	return nil
}

// StartScan refreshes the list of visible networks in the background.
func (n *NMCLI) StartScan() {
	n.mu.Lock()
	if n.scanning {
		n.mu.Unlock()
		return
	}
	n.scanning = true
	n.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()
		out, err := n.runner.Output(ctx, "nmcli", "-t", "-f", "SSID,SIGNAL,SECURITY", "device", "wifi", "list", "--rescan", "yes")

		n.mu.Lock()
		defer n.mu.Unlock()
		n.scanning = false
		n.scanErr = err
		if err != nil {
			n.logger.Warn("wifi scan failed", "err", err)
			return
		}
		n.networks = parseNetworks(out)
		n.scanned = true
	}()
}

// ScanResults returns the last scan. scanning is true while no result is
// available yet; a failed scan is restarted.
func (n *NMCLI) ScanResults() (networks []Network, scanning bool) {
	n.mu.Lock()
	failed := n.scanErr != nil
	if failed {
		n.scanErr = nil
	}
	networks = append([]Network{}, n.networks...)
	scanning = n.scanning || !n.scanned
	n.mu.Unlock()

	if failed {
		n.StartScan()
		return nil, true
	}
	return networks, scanning
}

// APMode reports whether the setup access point is active.
func (n *NMCLI) APMode() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.apMode
}

// APSSID returns the setup access point name.
func (n *NMCLI) APSSID() string {
	return n.apSSID
}

// SSID returns the network joined by the last successful attempt.
func (n *NMCLI) SSID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ssid
}

// Address returns the interface's IPv4 address, if any.
func (n *NMCLI) Address() string {
	return interfaceAddress(n.iface)
}

// parseNetworks reads terse nmcli output (SSID:SIGNAL:SECURITY per line,
// with colons inside fields escaped as \:). Hidden networks are skipped and
// duplicates collapse to the strongest entry.
func parseNetworks(out string) []Network {
	best := make(map[string]Network)
	order := make([]string, 0)
	for _, line := range strings.Split(out, "\n") {
		fields := splitTerse(strings.TrimRight(line, "\r"))
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		signal, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			continue
		}
		security := strings.TrimSpace(fields[2])
		network := Network{
			SSID:   fields[0],
			RSSI:   signal/2 - 100,
			Secure: security != "" && security != "--",
		}
		prev, seen := best[network.SSID]
		if !seen {
			order = append(order, network.SSID)
		}
		if !seen || network.RSSI > prev.RSSI {
			best[network.SSID] = network
		}
	}

	networks := make([]Network, 0, len(order))
	for _, ssid := range order {
		networks = append(networks, best[ssid])
	}
	sortNetworks(networks)
	return networks
}

func splitTerse(line string) []string {
	var (
		fields []string
		cur    strings.Builder
		escape bool
	)
	for _, r := range line {
		switch {
		case escape:
			cur.WriteRune(r)
			escape = false
		case r == '\\':
			escape = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}
