// Package transport keeps the broker session alive and turns inbound sender
// messages into device store updates.
//
// The MQTT client runs its own goroutines; its callbacks only copy messages
// into a bounded inbox. Everything else, including connect decisions,
// parsing and store mutation, happens in Loop on the caller's goroutine.
package transport

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/skobkin/hostmon-panel/internal/devicestore"
	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

const (
	inboxSize       = 64
	maxDrainPerLoop = 32
	keepAlive       = 15 * time.Second
	disconnectQuiet = 250
	clientIDPrefix  = "hostmon-panel-"
)

var (
	errConnectTimeout = errors.New("connect timed out")
	errNotListed      = errors.New("topic is not on the allow-list")
)

// Session is the part of mqtt.Client the transport uses.
type Session interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// SessionFactory builds a session from client options.
type SessionFactory func(opts *mqtt.ClientOptions) Session

// NewPahoSession is the production SessionFactory.
func NewPahoSession(opts *mqtt.ClientOptions) Session {
	return mqtt.NewClient(opts)
}

// Stats are cumulative counters exported for monitoring.
type Stats struct {
	Received      uint64
	Accepted      uint64
	Rejected      uint64
	Muted         uint64
	StoreFull     uint64
	InboxOverflow uint64
	Connects      uint64
	ConnectErrors uint64
}

// Options configures a Transport.
type Options struct {
	Store    *devicestore.Store
	Settings *settings.Manager
	Factory  SessionFactory
	// OnMetrics is called after a frame for host was stored.
	OnMetrics func(host string)
	// Jitter returns the random delay added to every reconnect backoff.
	Jitter func() time.Duration
	Logger *slog.Logger
}

type inbound struct {
	topic   string
	payload []byte
}

// Transport is driven by Loop. Accessors are safe from other goroutines.
type Transport struct {
	store     *devicestore.Store
	settings  *settings.Manager
	factory   SessionFactory
	onMetrics func(string)
	jitter    func() time.Duration
	logger    *slog.Logger
	inbox     chan inbound

	session        Session
	connectToken   mqtt.Token
	connectStarted time.Time
	subTokens      map[string]mqtt.Token
	nextAttempt    time.Time
	unconfigured   bool

	rxCount  int
	rxHost   string
	rxLogged time.Time

	mu          sync.Mutex
	connected   bool
	failures    int
	lastConnect time.Time
	lastMessage time.Time
	topics      []string

	received      atomic.Uint64
	accepted      atomic.Uint64
	rejected      atomic.Uint64
	muted         atomic.Uint64
	storeFull     atomic.Uint64
	inboxOverflow atomic.Uint64
	connects      atomic.Uint64
	connectErrors atomic.Uint64
}

// New builds a Transport. Store and Settings are required.
func New(opts Options) (*Transport, error) {
	if opts.Store == nil || opts.Settings == nil {
		return nil, fmt.Errorf("transport requires a store and settings")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.Factory
	if factory == nil {
		factory = NewPahoSession
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = func() time.Duration {
			return time.Duration(mathrand.Int64N(int64(policy.ReconnectJitterMax)))
		}
	}
	return &Transport{
		store:     opts.Store,
		settings:  opts.Settings,
		factory:   factory,
		onMetrics: opts.OnMetrics,
		jitter:    jitter,
		logger:    logger.With("component", "transport"),
		inbox:     make(chan inbound, inboxSize),
		subTokens: make(map[string]mqtt.Token),
	}, nil
}

// Loop runs one transport step: connection upkeep, inbound processing and
// the offline sweep. It never blocks.
func (t *Transport) Loop(now time.Time) {
	t.checkLink(now)
	t.pollConnect(now)
	if t.session == nil && !now.Before(t.nextAttempt) {
		t.connect(now)
	}
	t.pollSubscriptions()

drain:
	for i := 0; i < maxDrainPerLoop; i++ {
		select {
		case msg := <-t.inbox:
			t.handleMessage(now, msg.topic, msg.payload)
		default:
			break drain
		}
	}

	for _, host := range t.store.MarkOfflineExpired(now, t.settings.OfflineTimeout()) {
		t.logger.Info("device went offline", "host", host)
	}
	t.logRx(now)
}

// Close drops the broker session.
func (t *Transport) Close() {
	if t.session != nil {
		t.session.Disconnect(disconnectQuiet)
		t.session = nil
	}
	t.connectToken = nil
	t.setConnected(false, time.Time{})
}

// Connected reports the raw socket state.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// ConnectedForDisplay reports the link state the display should show. A
// dropped socket is reported only after the grace window passed with no
// connection and no traffic.
func (t *Transport) ConnectedForDisplay(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !policy.ShouldShowDisconnected(t.connected, now, t.lastConnect, t.lastMessage)
}

// Failures returns the consecutive connect failure count.
func (t *Transport) Failures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}

// Topics returns the topics of the current session.
func (t *Transport) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.topics...)
}

// LastMessage returns the receipt time of the last accepted message.
func (t *Transport) LastMessage() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastMessage
}

// Stats returns a copy of the counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Received:      t.received.Load(),
		Accepted:      t.accepted.Load(),
		Rejected:      t.rejected.Load(),
		Muted:         t.muted.Load(),
		StoreFull:     t.storeFull.Load(),
		InboxOverflow: t.inboxOverflow.Load(),
		Connects:      t.connects.Load(),
		ConnectErrors: t.connectErrors.Load(),
	}
}

func (t *Transport) checkLink(now time.Time) {
	if t.session == nil || t.connectToken != nil {
		return
	}
	if t.session.IsConnectionOpen() {
		t.mu.Lock()
		t.lastConnect = now
		t.mu.Unlock()
		return
	}
	t.logger.Warn("broker connection lost")
	t.dropSession()
	t.setConnected(false, time.Time{})
	t.nextAttempt = now
}

func (t *Transport) connect(now time.Time) {
	broker := t.settings.Broker()
	if broker.Server == "" {
		if !t.unconfigured {
			t.logger.Warn("MQTT server not configured")
			t.unconfigured = true
		}
		return
	}
	t.unconfigured = false

	port := broker.Port
	if !policy.ValidBrokerPort(port) {
		port = settings.DefaultBrokerPort
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tcp://" + broker.Server + ":" + strconv.Itoa(port))
	opts.SetClientID(clientID())
	if broker.User != "" {
		opts.SetUsername(broker.User)
		opts.SetPassword(broker.Pass)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetConnectTimeout(policy.ConnectTimeout)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Debug("connection lost callback", "err", err)
	})

	t.logger.Info("connecting to broker", "server", broker.Server, "port", port, "attempt", t.Failures()+1)
	t.session = t.factory(opts)
	t.connectToken = t.session.Connect()
	t.connectStarted = now
}

func (t *Transport) pollConnect(now time.Time) {
	if t.connectToken == nil {
		return
	}
	select {
	case <-t.connectToken.Done():
		if err := t.connectToken.Error(); err != nil {
			t.connectFailed(now, err)
			return
		}
		t.connectToken = nil
		t.onConnected(now)
	default:
		if now.Sub(t.connectStarted) >= policy.ConnectTimeout {
			t.connectFailed(now, errConnectTimeout)
		}
	}
}

func (t *Transport) onConnected(now time.Time) {
	t.connects.Add(1)
	t.mu.Lock()
	t.failures = 0
	t.mu.Unlock()
	t.setConnected(true, now)
	t.logger.Info("broker connected")
	t.subscribe()
}

func (t *Transport) connectFailed(now time.Time, err error) {
	t.connectErrors.Add(1)
	t.dropSession()

	t.mu.Lock()
	t.failures = policy.NextFailureCount(t.failures)
	failures := t.failures
	t.mu.Unlock()

	delay := policy.ReconnectDelay(failures) + t.jitter()
	t.nextAttempt = now.Add(delay)
	t.logger.Warn("broker connect failed", "err", err, "failures", failures, "retry_in", delay)
}

func (t *Transport) dropSession() {
	if t.session != nil {
		t.session.Disconnect(0)
	}
	t.session = nil
	t.connectToken = nil
	clear(t.subTokens)
}

func (t *Transport) setConnected(connected bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
	if connected {
		t.lastConnect = now
	} else {
		t.topics = nil
	}
}

func (t *Transport) subscribe() {
	broker := t.settings.Broker()
	topics := SubscriptionTopics(broker, func(topic string) {
		t.logger.Warn("ignoring invalid subscription topic", "topic", topic)
	})

	for _, topic := range topics {
		t.subTokens[topic] = t.session.Subscribe(topic, 0, t.enqueue)
	}
	t.mu.Lock()
	t.topics = topics
	t.mu.Unlock()

	if len(broker.SubscribedTopics) == 0 {
		t.logger.Info("subscribed in open mode", "topic", topics[0])
	} else {
		t.logger.Info("subscribed in allow-list mode", "topics", topics)
	}
}

func (t *Transport) pollSubscriptions() {
	for topic, token := range t.subTokens {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				t.logger.Warn("subscribe failed", "topic", topic, "err", err)
			}
			delete(t.subTokens, topic)
		default:
		}
	}
}

// enqueue runs on the client's goroutine.
func (t *Transport) enqueue(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case t.inbox <- inbound{topic: msg.Topic(), payload: payload}:
	default:
		t.inboxOverflow.Add(1)
	}
}

// SubscriptionTopics returns the topics to subscribe to. Configured
// topics are validated and deduplicated; invalid ones are reported through
// reject. With no usable topic the broker's discovery topic is used, falling
// back to the default wildcard when it is malformed.
func SubscriptionTopics(broker settings.Broker, reject func(topic string)) []string {
	var topics []string
	seen := make(map[string]struct{})
	for _, topic := range broker.SubscribedTopics {
		if _, dup := seen[topic]; dup {
			continue
		}
		if !policy.ValidSenderTopic(topic) {
			if reject != nil {
				reject(topic)
			}
			continue
		}
		seen[topic] = struct{}{}
		topics = append(topics, topic)
		if len(topics) == policy.MaxSubscribedTopics {
			break
		}
	}
	if len(topics) > 0 {
		return topics
	}
	if policy.ValidDiscoveryTopic(broker.Topic) {
		return []string{broker.Topic}
	}
	return []string{policy.DiscoveryTopic}
}

func (t *Transport) handleMessage(now time.Time, topic string, payload []byte) {
	t.received.Add(1)

	if !policy.ValidPayloadLength(len(payload)) {
		t.reject(topic, metrics.ErrPayloadSize)
		return
	}

	openMode := t.settings.OpenMode()
	listed := false
	if openMode {
		if !policy.ValidSenderTopic(topic) {
			t.reject(topic, metrics.ErrTopic)
			return
		}
	} else {
		listed = t.settings.TopicAllowed(topic)
		if !listed {
			t.reject(topic, errNotListed)
			return
		}
	}

	host, frame, err := metrics.Decode(topic, payload)
	if err != nil {
		t.reject(topic, err)
		return
	}

	known, enabled := t.settings.DeviceState(host)
	if known && !enabled && !openMode && listed {
		if t.settings.EnableDevice(host, now) {
			t.logger.Info("device enabled by allow-listed topic", "host", host)
			enabled = true
		}
	}
	if known && !enabled {
		t.muted.Add(1)
		return
	}

	if !known {
		if _, ok := t.settings.GetOrCreateDevice(host, now); ok {
			if policy.ShouldAutoEnable(openMode, listed) {
				t.settings.EnableDevice(host, now)
			}
			t.logger.Info("new device discovered", "host", host)
		} else {
			t.logger.Debug("device list is full, not persisting", "host", host)
		}
	}

	if _, err := t.store.Update(host, frame, now); err != nil {
		t.storeFull.Add(1)
		t.logger.Warn("dropping message", "host", host, "err", err)
		return
	}

	t.accepted.Add(1)
	t.mu.Lock()
	t.lastMessage = now
	t.mu.Unlock()
	t.rxCount++
	t.rxHost = host

	if t.onMetrics != nil {
		t.onMetrics(host)
	}
}

func (t *Transport) reject(topic string, err error) {
	t.rejected.Add(1)
	t.logger.Debug("rejected message", "topic", topic, "err", err)
}

func (t *Transport) logRx(now time.Time) {
	if t.rxCount == 0 || !policy.Elapsed(now, t.rxLogged, policy.RxLogInterval) {
		return
	}
	t.logger.Info("rx", "messages", t.rxCount, "last_host", t.rxHost)
	t.rxCount = 0
	t.rxLogged = now
}

func clientID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return clientIDPrefix + strconv.FormatInt(time.Now().UnixNano()&0xffffffff, 16)
	}
	return clientIDPrefix + hex.EncodeToString(buf[:])
}
