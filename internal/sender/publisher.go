// Package sender publishes host telemetry to the broker the panels
// subscribe to.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/policy"
)

const (
	publishTimeout  = 5 * time.Second
	connectRetry    = 5 * time.Second
	keepAlive       = 30 * time.Second
	disconnectQuiet = 250
)

var errPublishTimeout = errors.New("publish timed out")

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// ClientFactory builds a client from options.
type ClientFactory func(opts *mqtt.ClientOptions) Client

// NewPahoClient is the production ClientFactory.
func NewPahoClient(opts *mqtt.ClientOptions) Client {
	return mqtt.NewClient(opts)
}

// Collector produces one payload per call.
type Collector interface {
	Collect(ctx context.Context) (metrics.Payload, error)
}

// Publisher sends a payload to the host's metrics topic every interval.
type Publisher struct {
	cfg       config.SenderConfig
	collector Collector
	client    Client
	topic     string
	logger    *slog.Logger
}

// New builds a Publisher. A nil factory uses the paho client.
func New(cfg config.SenderConfig, collector Collector, factory ClientFactory, logger *slog.Logger) (*Publisher, error) {
	if collector == nil {
		return nil, fmt.Errorf("sender requires a collector")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("qos must be 0, 1 or 2")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = NewPahoClient
	}

	topic := policy.SenderTopic(cfg.Hostname)
	if !policy.ValidSenderTopic(topic) {
		return nil, fmt.Errorf("hostname %q cannot be used in a topic", cfg.Hostname)
	}

	logger = logger.With("component", "sender", "topic", topic)
	opts := ClientOptions(cfg)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("broker connected", "broker", brokerURL(cfg))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("broker connection lost", "err", err)
	})

	return &Publisher{
		cfg:       cfg,
		collector: collector,
		client:    factory(opts),
		topic:     topic,
		logger:    logger,
	}, nil
}

// ClientOptions returns the paho options for cfg.
func ClientOptions(cfg config.SenderConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(ClientID(cfg.Hostname)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetry).
		SetKeepAlive(keepAlive).
		SetCleanSession(true)
	if cfg.MQTTUser != "" {
		opts.SetUsername(cfg.MQTTUser)
		opts.SetPassword(cfg.MQTTPass)
	}
	return opts
}

// ClientID identifies a sender towards the broker.
func ClientID(host string) string {
	return "sender-v2-" + host + "-go"
}

func brokerURL(cfg config.SenderConfig) string {
	return "tcp://" + net.JoinHostPort(cfg.MQTTHost, strconv.Itoa(cfg.MQTTPort))
}

// Run connects and publishes until ctx is canceled. Collection and publish
// failures are logged and the loop carries on.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("sender starting", "broker", brokerURL(p.cfg), "interval", p.cfg.Interval, "qos", p.cfg.QoS)

	// Connect retries in the background; its token completes on success.
	p.client.Connect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		p.client.Disconnect(disconnectQuiet)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			if err := p.PublishOnce(gctx); err != nil && gctx.Err() == nil {
				p.logger.Warn("publish failed", "err", err)
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	p.logger.Info("sender stopped")
	return err
}

// PublishOnce collects and publishes a single payload.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	payload, err := p.collector.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	data, err := payload.Encode()
	if err != nil {
		return err
	}
	if !policy.ValidPayloadLength(len(data)) {
		return fmt.Errorf("payload of %d bytes exceeds the broker limit", len(data))
	}

	token := p.client.Publish(p.topic, p.cfg.QoS, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.logger.Debug("published", "bytes", len(data))
	return nil
}
