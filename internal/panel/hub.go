// Package panel turns display commands into screen views and fans them out
// to live viewers.
package panel

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/display"
)

// Hub implements display.Renderer. It keeps the merged screen and pushes
// every new version to subscribers.
type Hub struct {
	logger *slog.Logger
	clock  func() time.Time

	mu          sync.RWMutex
	view        api.View
	hasView     bool
	seq         uint64
	subscribers map[*subscriber]struct{}

	rowRedraws atomic.Uint64
	draws      atomic.Uint64
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:      logger.With("component", "panel_hub"),
		clock:       time.Now,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// Draw applies cmd to the current view. Partial device commands only
// replace the rows named by the dirty mask.
func (h *Hub) Draw(cmd display.Command) {
	h.mu.Lock()

	switch cmd.Kind {
	case display.KindDevice:
		if cmd.Full || h.view.Kind != display.KindDevice.String() {
			h.view = deviceView(cmd)
			h.rowRedraws.Add(uint64(len(h.view.Rows)))
		} else {
			h.applyRows(cmd)
		}
		if cmd.Footer || cmd.Full {
			h.view.Footer = linkLabel(cmd.LinkUp) + " | " + ageLabel(cmd.Age)
		}
		h.view.Subtitle = positionLabel(cmd.Index, cmd.Count)
		h.view.Indicator = indicator(cmd.Online)
	case display.KindOffline:
		h.view = offlineView(cmd)
	case display.KindWaiting:
		h.view = waitingView(cmd)
	case display.KindNotice:
		h.view = noticeView(cmd)
	default:
		h.mu.Unlock()
		h.logger.Warn("ignoring unknown render command", "kind", cmd.Kind)
		return
	}

	h.seq++
	h.view.Seq = h.seq
	h.view.LinkUp = cmd.LinkUp
	h.view.UpdatedAt = h.clock().UTC()
	h.hasView = true
	h.draws.Add(1)

	snapshot := h.view.Clone()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.send(snapshot)
	}
}

func (h *Hub) applyRows(cmd display.Command) {
	for _, def := range deviceRows {
		if !cmd.Dirty.Has(def.bit) {
			continue
		}
		row := def.build(cmd.Frame, cmd.Thresholds)
		for i := range h.view.Rows {
			if h.view.Rows[i].Key == def.key {
				h.view.Rows[i] = row
				h.rowRedraws.Add(1)
				break
			}
		}
	}
}

// Latest returns the current view.
func (h *Hub) Latest() (api.View, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.view.Clone(), h.hasView
}

// Subscribe registers a listener. The current view, if any, is delivered
// first.
func (h *Hub) Subscribe() (<-chan api.View, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := newSubscriber()
	h.subscribers[sub] = struct{}{}
	if h.hasView {
		sub.send(h.view.Clone())
	}

	unsubscribe := func() {
		h.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

// Subscribers returns the number of live listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// RowRedraws counts rows repainted since start.
func (h *Hub) RowRedraws() uint64 {
	return h.rowRedraws.Load()
}

// Draws counts applied commands since start.
func (h *Hub) Draws() uint64 {
	return h.draws.Load()
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, sub)
	sub.close()
}

type subscriber struct {
	ch     chan api.View
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan api.View, 1),
	}
}

func (s *subscriber) channel() <-chan api.View {
	return s.ch
}

func (s *subscriber) send(view api.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- view:
		return
	default:
		// Drop oldest to make room for the new view.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- view:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
