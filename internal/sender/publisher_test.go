package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/metrics"
)

type fakeToken struct {
	done    chan struct{}
	err     error
	timeout bool
}

func newToken(err error) *fakeToken {
	tok := &fakeToken{done: make(chan struct{}), err: err}
	close(tok.done)
	return tok
}

func (f *fakeToken) Wait() bool                     { <-f.done; return true }
func (f *fakeToken) WaitTimeout(time.Duration) bool { return !f.timeout }
func (f *fakeToken) Done() <-chan struct{}          { return f.done }
func (f *fakeToken) Error() error                   { return f.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connects     int
	disconnected bool
	publishErr   error
	timeout      bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return newToken(nil)
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := payload.([]byte)
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: data})
	tok := newToken(c.publishErr)
	tok.timeout = c.timeout
	return tok
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) snapshot() ([]published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...), c.disconnected
}

type fakeCollector struct {
	err error
}

func (f fakeCollector) Collect(context.Context) (metrics.Payload, error) {
	if f.err != nil {
		return metrics.Payload{}, f.err
	}
	p := metrics.NewPayload("desk", time.UnixMilli(1_700_000_000_000))
	p.CPU = [2]float64{12.5, 48}
	return p, nil
}

func testConfig() config.SenderConfig {
	return config.SenderConfig{
		Hostname: "desk",
		Interval: 10 * time.Millisecond,
		MQTTHost: "broker.local",
		MQTTPort: 1884,
		QoS:      1,
	}
}

func newTestPublisher(t *testing.T, cfg config.SenderConfig, collector Collector) (*Publisher, *fakeClient) {
	t.Helper()
	client := &fakeClient{}
	p, err := New(cfg, collector, func(opts *mqtt.ClientOptions) Client {
		client.opts = opts
		return client
	}, quietLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return p, client
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MQTTUser = "panel"
	cfg.MQTTPass = "secret"

	_, client := newTestPublisher(t, cfg, fakeCollector{})
	opts := client.opts

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1884" {
		t.Fatalf("unexpected brokers %v", opts.Servers)
	}
	if opts.ClientID != "sender-v2-desk-go" {
		t.Fatalf("unexpected client id %q", opts.ClientID)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Fatalf("expected auto reconnect and connect retry")
	}
	if opts.Username != "panel" || opts.Password != "secret" {
		t.Fatalf("unexpected credentials %q/%q", opts.Username, opts.Password)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*config.SenderConfig)
	}{
		{"EmptyHost", func(c *config.SenderConfig) { c.Hostname = "" }},
		{"WildcardHost", func(c *config.SenderConfig) { c.Hostname = "desk/+" }},
		{"ZeroInterval", func(c *config.SenderConfig) { c.Interval = 0 }},
		{"BadQoS", func(c *config.SenderConfig) { c.QoS = 3 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := New(cfg, fakeCollector{}, nil, quietLogger()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := New(testConfig(), nil, nil, quietLogger()); err == nil {
		t.Fatalf("expected error for missing collector")
	}
}

func TestPublishOnce(t *testing.T) {
	t.Parallel()

	p, client := newTestPublisher(t, testConfig(), fakeCollector{})
	if err := p.PublishOnce(context.Background()); err != nil {
		t.Fatalf("PublishOnce returned error: %v", err)
	}

	messages, _ := client.snapshot()
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.topic != "sys/agents/desk/metrics/v2" || msg.qos != 1 {
		t.Fatalf("unexpected publish %s qos=%d", msg.topic, msg.qos)
	}

	var doc map[string]any
	if err := json.Unmarshal(msg.payload, &doc); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if doc["v"] != float64(2) || doc["h"] != "desk" {
		t.Fatalf("unexpected payload %s", msg.payload)
	}

	host, frame, err := metrics.Decode(msg.topic, msg.payload)
	if err != nil {
		t.Fatalf("panel decoder rejected payload: %v", err)
	}
	if host != "desk" || frame.CPUPctX10 != 125 || frame.CPUTempCX10 != 480 {
		t.Fatalf("unexpected decoded frame %s %+v", host, frame)
	}
}

func TestPublishOnceErrors(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t, testConfig(), fakeCollector{err: errors.New("boom")})
	if err := p.PublishOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "collect") {
		t.Fatalf("expected collect error, got %v", err)
	}

	p, client := newTestPublisher(t, testConfig(), fakeCollector{})
	client.publishErr = mqtt.ErrNotConnected
	if err := p.PublishOnce(context.Background()); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Fatalf("expected not connected error, got %v", err)
	}

	p, client = newTestPublisher(t, testConfig(), fakeCollector{})
	client.timeout = true
	if err := p.PublishOnce(context.Background()); !errors.Is(err, errPublishTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRunPublishesUntilCanceled(t *testing.T) {
	t.Parallel()

	p, client := newTestPublisher(t, testConfig(), fakeCollector{})
	client.publishErr = errors.New("broker unavailable")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, time.Second, func() bool {
		messages, _ := client.snapshot()
		return len(messages) >= 3
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}

	_, disconnected := client.snapshot()
	if !disconnected {
		t.Fatalf("expected client to disconnect on shutdown")
	}
	client.mu.Lock()
	connects := client.connects
	client.mu.Unlock()
	if connects != 1 {
		t.Fatalf("expected a single connect, got %d", connects)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
