package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

func (s *Server) handleMonitorPage(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.serveAsset(w, r, "monitor.html")
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if s.deps.Settings == nil {
		s.writeJSON(w, r, http.StatusInternalServerError, api.Result{Message: "config not available"})
		return
	}

	if r.Method == http.MethodGet {
		s.writeJSON(w, r, http.StatusOK, api.NewConfigResponse(s.deps.Settings.Snapshot(), s.knownHosts()))
		return
	}
	s.saveConfig(w, r)
}

// knownHosts merges configured and stored identifiers, configured first.
func (s *Server) knownHosts() []string {
	hosts := s.deps.Settings.Hostnames()
	if s.deps.Store != nil {
		hosts = append(hosts, s.deps.Store.Hosts()...)
	}
	return hosts
}

func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	logger := s.loggerFromContext(r.Context())

	if r.ContentLength > policy.MaxPayloadBytes {
		s.writeJSON(w, r, http.StatusRequestEntityTooLarge, api.Result{Message: "payload too large"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, policy.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, r, http.StatusRequestEntityTooLarge, api.Result{Message: "payload too large"})
			return
		}
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "read failed"})
		return
	}

	var req api.ConfigRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "invalid JSON"})
		return
	}

	next := req.Apply(s.deps.Settings.Snapshot())
	if err := s.deps.Settings.Replace(next); err != nil {
		switch {
		case errors.Is(err, settings.ErrInvalidBroker):
			s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "invalid MQTT settings"})
		case errors.Is(err, settings.ErrTooManyTopics):
			s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "too many subscribed topics"})
		case errors.Is(err, settings.ErrInvalidTopic):
			s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "invalid sender topic"})
		default:
			logger.Error("failed to save monitor settings", "err", err)
			s.writeJSON(w, r, http.StatusInternalServerError, api.Result{Message: "save failed"})
		}
		return
	}

	logger.Info("monitor settings replaced, restart scheduled", "delay", policy.RestartDelay)
	s.writeJSON(w, r, http.StatusOK, api.Result{Success: true})
	if s.deps.ScheduleRestart != nil {
		s.deps.ScheduleRestart(s.deps.Now().Add(policy.RestartDelay))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	resp := api.StatusResponse{
		Mode:           s.deps.Mode(),
		WiFiApplyState: "idle",
		Subscriptions:  []string{},
		Devices:        []api.DeviceStatus{},
	}
	if s.deps.Link != nil {
		resp.MQTTConnected = s.deps.Link.Connected()
		resp.LinkUp = s.deps.Link.ConnectedForDisplay(s.deps.Now())
		if topics := s.deps.Link.Topics(); topics != nil {
			resp.Subscriptions = topics
		}
	}
	if s.deps.Applier != nil {
		resp.WiFiApplyState = string(s.deps.Applier.State())
	}
	if s.deps.Store != nil {
		for _, dev := range s.deps.Store.Snapshot() {
			resp.Devices = append(resp.Devices, api.DeviceStatus{
				Hostname: dev.Host,
				Online:   dev.Online,
				CPU:      metrics.RoundedPercent(dev.Frame.CPUPctX10),
				RAM:      metrics.RoundedPercent(dev.Frame.RAMPctX10),
			})
			if dev.Online {
				resp.OnlineCount++
			}
		}
		resp.DeviceCount = len(resp.Devices)
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}
