package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/hostmon-panel/internal/devicestore"
	"github.com/skobkin/hostmon-panel/internal/transport"
)

const metricsNamespace = "hostmon"

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket viewers.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to viewers.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if s.deps.Hub != nil {
		hub := s.deps.Hub
		collectors = append(collectors,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "panel",
				Name:      "draws_total",
				Help:      "Total render commands applied to the panel.",
			}, func() float64 {
				return float64(hub.Draws())
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "panel",
				Name:      "row_redraws_total",
				Help:      "Total metric rows repainted.",
			}, func() float64 {
				return float64(hub.RowRedraws())
			}),
		)
	}

	if s.deps.Settings != nil {
		cfg := s.deps.Settings
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settings",
			Name:      "saves_total",
			Help:      "Total successful writes of the monitor settings.",
		}, func() float64 {
			return float64(cfg.Saves())
		}))
	}

	if s.deps.Link != nil {
		collectors = append(collectors, newLinkCollector(s.deps.Link, s.deps.Now))
	}
	if s.deps.Store != nil {
		collectors = append(collectors, newDeviceCollector(s.deps.Store, s.deps.Now))
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// linkCollector exports the transport counters and link state.
type linkCollector struct {
	link Link
	now  func() time.Time

	connected   *prometheus.Desc
	displayUp   *prometheus.Desc
	failures    *prometheus.Desc
	messages    *prometheus.Desc
	connects    *prometheus.Desc
	connectErrs *prometheus.Desc
	overflow    *prometheus.Desc
}

func newLinkCollector(link Link, now func() time.Time) *linkCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "mqtt", name), help, labels, nil)
	}
	return &linkCollector{
		link:        link,
		now:         now,
		connected:   desc("connected", "1 while the broker socket is open."),
		displayUp:   desc("link_up", "Link state shown on the panel, after the disconnect grace window."),
		failures:    desc("consecutive_failures", "Consecutive failed connect attempts."),
		messages:    desc("messages_total", "Inbound messages by outcome.", "outcome"),
		connects:    desc("connects_total", "Successful broker connections."),
		connectErrs: desc("connect_errors_total", "Failed or timed out connect attempts."),
		overflow:    desc("inbox_overflow_total", "Messages dropped because the inbox was full."),
	}
}

func (c *linkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.displayUp
	ch <- c.failures
	ch <- c.messages
	ch <- c.connects
	ch <- c.connectErrs
	ch <- c.overflow
}

func (c *linkCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.link.Stats()
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, boolFloat(c.link.Connected()))
	ch <- prometheus.MustNewConstMetric(c.displayUp, prometheus.GaugeValue, boolFloat(c.link.ConnectedForDisplay(c.now())))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(c.link.Failures()))
	for _, outcome := range messageOutcomes(stats) {
		ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(outcome.count), outcome.name)
	}
	ch <- prometheus.MustNewConstMetric(c.connects, prometheus.CounterValue, float64(stats.Connects))
	ch <- prometheus.MustNewConstMetric(c.connectErrs, prometheus.CounterValue, float64(stats.ConnectErrors))
	ch <- prometheus.MustNewConstMetric(c.overflow, prometheus.CounterValue, float64(stats.InboxOverflow))
}

type outcomeCount struct {
	name  string
	count uint64
}

func messageOutcomes(stats transport.Stats) []outcomeCount {
	return []outcomeCount{
		{"accepted", stats.Accepted},
		{"rejected", stats.Rejected},
		{"muted", stats.Muted},
		{"store_full", stats.StoreFull},
	}
}

// deviceCollector exports the latest frame of every stored source.
type deviceCollector struct {
	store   *devicestore.Store
	now     func() time.Time
	age     *prometheus.Desc
	metrics []deviceMetric
}

type deviceMetric struct {
	desc    *prometheus.Desc
	extract func(dev devicestore.Device) float64
}

func newDeviceCollector(store *devicestore.Store, now func() time.Time) *deviceCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "device", name),
			help,
			[]string{"host"},
			nil,
		)
	}
	tenths := func(v int16) float64 { return float64(v) / 10 }

	return &deviceCollector{
		store: store,
		now:   now,
		age:   desc("update_age_seconds", "Seconds since the last accepted frame."),
		metrics: []deviceMetric{
			{desc("online", "1 while the source is online."), func(d devicestore.Device) float64 { return boolFloat(d.Online) }},
			{desc("cpu_percent", "CPU utilization."), func(d devicestore.Device) float64 { return tenths(d.Frame.CPUPctX10) }},
			{desc("cpu_temperature_celsius", "CPU temperature."), func(d devicestore.Device) float64 { return tenths(d.Frame.CPUTempCX10) }},
			{desc("ram_percent", "Memory utilization."), func(d devicestore.Device) float64 { return tenths(d.Frame.RAMPctX10) }},
			{desc("ram_used_bytes", "Memory in use."), func(d devicestore.Device) float64 { return float64(d.Frame.RAMUsedMB) * 1024 * 1024 }},
			{desc("gpu_percent", "GPU utilization."), func(d devicestore.Device) float64 { return tenths(d.Frame.GPUPctX10) }},
			{desc("gpu_temperature_celsius", "GPU edge temperature."), func(d devicestore.Device) float64 { return tenths(d.Frame.GPUTempCX10) }},
			{desc("gpu_memory_percent", "GPU memory utilization."), func(d devicestore.Device) float64 { return tenths(d.Frame.GPUMemPctX10) }},
			{desc("net_rx_kibps", "Network receive rate in KiB/s."), func(d devicestore.Device) float64 { return float64(d.Frame.NetRxKbps) }},
			{desc("net_tx_kibps", "Network transmit rate in KiB/s."), func(d devicestore.Device) float64 { return float64(d.Frame.NetTxKbps) }},
			{desc("disk_read_kibps", "Disk read rate in KiB/s."), func(d devicestore.Device) float64 { return float64(d.Frame.DiskReadKBps) }},
			{desc("disk_write_kibps", "Disk write rate in KiB/s."), func(d devicestore.Device) float64 { return float64(d.Frame.DiskWriteKBps) }},
		},
	}
}

func (c *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.age
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
}

func (c *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	now := c.now()
	for _, dev := range c.store.Snapshot() {
		if !dev.LastUpdate.IsZero() {
			age := now.Sub(dev.LastUpdate).Seconds()
			if age < 0 {
				age = 0
			}
			ch <- prometheus.MustNewConstMetric(c.age, prometheus.GaugeValue, age, dev.Host)
		}
		for _, metric := range c.metrics {
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, metric.extract(dev), dev.Host)
		}
	}
}

func boolFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
