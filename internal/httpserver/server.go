package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/skobkin/hostmon-panel/internal/config"
	"github.com/skobkin/hostmon-panel/internal/devicestore"
	"github.com/skobkin/hostmon-panel/internal/panel"
	"github.com/skobkin/hostmon-panel/internal/provision"
	"github.com/skobkin/hostmon-panel/internal/radio"
	"github.com/skobkin/hostmon-panel/internal/settings"
	"github.com/skobkin/hostmon-panel/internal/transport"
	"github.com/skobkin/hostmon-panel/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
)

// Link is the broker connection as seen by the HTTP surface.
type Link interface {
	Connected() bool
	ConnectedForDisplay(now time.Time) bool
	Failures() int
	Topics() []string
	Stats() transport.Stats
}

// WiFi exposes the radio state needed by the setup pages.
type WiFi interface {
	APMode() bool
	ScanResults() ([]radio.Network, bool)
}

// Applier accepts Wi-Fi credentials from the setup page.
type Applier interface {
	Submit(creds settings.WiFiCredentials, now time.Time) error
	State() provision.State
}

// Deps are the components served by the HTTP surface.
type Deps struct {
	Settings *settings.Manager
	Store    *devicestore.Store
	Hub      *panel.Hub
	Link     Link
	WiFi     WiFi
	Applier  Applier
	// Mode returns the operating mode name: pending, monitor or config.
	Mode func() string
	// ScheduleRestart asks the loop to restart the process at the given
	// time.
	ScheduleRestart func(at time.Time)
	Now             func() time.Time
}

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	deps       Deps

	wsSlots    *semaphore.Weighted
	wsActive   atomic.Int64
	wsTotal    atomic.Uint64
	wsRejected atomic.Uint64
	wsSent     atomic.Uint64
	wsDropped  atomic.Uint64
	wsConnIDs  atomic.Uint64
	requestIDs atomic.Uint64
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Mode == nil {
		deps.Mode = func() string { return "pending" }
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
	}

	if cfg.WS.MaxClients > 0 {
		s.wsSlots = semaphore.NewWeighted(int64(cfg.WS.MaxClients))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api", s.handleAPIDocs)
	mux.HandleFunc("/api/", s.handleAPIDocs)
	mux.HandleFunc("/api/v2/config", s.handleConfig)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/v2/status", s.handleStatus)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/wifi", s.handleWiFiPage)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/save", s.handleSave)
	mux.HandleFunc("/monitor", s.handleMonitorPage)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/", s.staticHandler())

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(withDefaultHeaders(mux))

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleAPIDocs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/api" && r.URL.Path != "/api/" {
		http.NotFound(w, r)
		return
	}

	s.serveAsset(w, r, "api.html")
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{
		Mode: s.deps.Mode(),
	}
	if s.deps.Store != nil {
		resp.Devices = s.deps.Store.Len()
		resp.Online = s.deps.Store.OnlineCount(nil)
	}

	switch resp.Mode {
	case "config":
		resp.Status = "degraded"
		resp.Reason = "config_mode"
		return resp
	case "monitor":
	default:
		resp.Status = "initializing"
		resp.Reason = "acquiring_network"
		return resp
	}

	if s.deps.Link == nil || !s.deps.Link.Connected() {
		resp.Status = "initializing"
		resp.Reason = "waiting_for_broker"
		return resp
	}

	resp.Status = "ok"
	return resp
}

type readyResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	Devices int    `json:"devices"`
	Online  int    `json:"online"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	allow := methods[0]
	for _, m := range methods[1:] {
		allow += ", " + m
	}
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
