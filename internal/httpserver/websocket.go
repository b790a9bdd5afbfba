package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"nhooyr.io/websocket"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/version"
)

var errViewerIdle = errors.New("viewer idle")

// viewer is one attached /ws client.
type viewer struct {
	s      *Server
	conn   *websocket.Conn
	queue  *viewerQueue
	logger *slog.Logger
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Hub == nil {
		http.Error(w, "panel view unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.acquireViewerSlot() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseViewerSlot()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	s.wsTotal.Add(1)

	v := &viewer{
		s:      s,
		conn:   conn,
		queue:  newViewerQueue(wsSendQueueSize, &s.wsDropped),
		logger: reqLogger.With("ws_id", s.wsConnIDs.Add(1)),
	}
	defer closeWebsocket(v.logger, conn, websocket.StatusNormalClosure, "")

	v.serve(r.Context())
}

func (v *viewer) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		v.writeLoop(ctx, cancel)
	}()

	views, unsubscribe := v.s.deps.Hub.Subscribe()
	defer func() {
		unsubscribe()
		v.queue.stop()
		cancel()
		<-writerDone
	}()

	hello := api.NewHelloMessage(version.Current().Version, v.s.deps.Mode(), map[string]bool{
		"config":     v.s.deps.Settings != nil,
		"setup":      v.s.apMode(),
		"prometheus": v.s.cfg.EnablePrometheus,
	})
	if !v.send(hello) {
		return
	}

	inbound := make(chan api.ClientMessage, 8)
	readErr := make(chan error, 1)
	go v.readLoop(ctx, inbound, readErr)

	v.logger.Info("ws viewer attached")
	for {
		select {
		case view, ok := <-views:
			if !ok || !v.send(api.NewViewMessage(view)) {
				return
			}
		case msg := <-inbound:
			if err := v.handle(msg); err != nil {
				v.logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErr:
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				v.logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop decodes text frames until the connection fails. Undecodable
// frames are skipped.
func (v *viewer) readLoop(ctx context.Context, out chan<- api.ClientMessage, errCh chan<- error) {
	for {
		msgType, data, err := v.read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg api.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			v.logger.Debug("invalid client message", "err", err)
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (v *viewer) read(ctx context.Context) (websocket.MessageType, []byte, error) {
	timeout := v.s.cfg.WS.ReadTimeout
	if timeout <= 0 {
		return v.conn.Read(ctx)
	}
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msgType, data, err := v.conn.Read(readCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return msgType, nil, fmt.Errorf("%w: %w", errViewerIdle, err)
	}
	return msgType, data, err
}

func (v *viewer) handle(msg api.ClientMessage) error {
	switch msg.Type {
	case "ping":
		if !v.send(api.PongMessage{Type: "pong"}) {
			return errors.New("failed to enqueue pong response")
		}
	case "refresh":
		if view, ok := v.s.deps.Hub.Latest(); ok && !v.send(api.NewViewMessage(view)) {
			return errors.New("failed to enqueue view")
		}
	default:
		v.logger.Debug("unknown message type", "type", msg.Type)
		if !v.send(api.ErrorMessage{Type: "error", Message: fmt.Sprintf("unknown message type %q", msg.Type)}) {
			return errors.New("failed to enqueue error")
		}
	}
	return nil
}

func (v *viewer) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-v.queue.out():
			if !ok {
				return
			}
			if err := v.write(ctx, data); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					v.logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			v.s.wsSent.Add(1)
		}
	}
}

func (v *viewer) write(ctx context.Context, data []byte) error {
	if timeout := v.s.cfg.WS.WriteTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return v.conn.Write(ctx, websocket.MessageText, data)
}

func (v *viewer) send(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		v.logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !v.queue.push(data) {
		v.logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

// acquireViewerSlot reserves a viewer slot; without a limit it always
// succeeds.
func (s *Server) acquireViewerSlot() bool {
	if s.wsSlots != nil && !s.wsSlots.TryAcquire(1) {
		s.wsRejected.Add(1)
		return false
	}
	s.wsActive.Add(1)
	return true
}

func (s *Server) releaseViewerSlot() {
	s.wsActive.Add(-1)
	if s.wsSlots != nil {
		s.wsSlots.Release(1)
	}
}

func originPatterns(origins []string) []string {
	if slices.Contains(origins, "*") {
		return []string{"*"}
	}
	return slices.Clone(origins)
}
