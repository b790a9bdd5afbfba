package httpserver

import (
	"errors"
	"net/http"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/policy"
	"github.com/skobkin/hostmon-panel/internal/provision"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

const maxFormBytes = 4096

func (s *Server) apMode() bool {
	return s.deps.WiFi != nil && s.deps.WiFi.APMode()
}

func (s *Server) rejectOutsideAP(w http.ResponseWriter, r *http.Request) bool {
	if s.apMode() {
		return false
	}
	s.writeJSON(w, r, http.StatusForbidden, api.Result{Message: "available in AP mode only"})
	return true
}

func (s *Server) handleWiFiPage(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.rejectOutsideAP(w, r) {
		return
	}
	s.serveAsset(w, r, "index.html")
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.rejectOutsideAP(w, r) {
		return
	}
	networks, scanning := s.deps.WiFi.ScanResults()
	s.writeJSON(w, r, http.StatusOK, api.NewScanResponse(networks, scanning))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.rejectOutsideAP(w, r) {
		return
	}
	if s.deps.Applier == nil {
		s.writeJSON(w, r, http.StatusServiceUnavailable, api.Result{Message: "wifi apply unavailable"})
		return
	}
	if s.deps.Applier.State().Busy() {
		s.writeJSON(w, r, http.StatusConflict, api.Result{Message: provision.ErrBusy.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "invalid form"})
		return
	}
	creds := settings.WiFiCredentials{
		SSID:     r.PostFormValue("ssid"),
		Password: r.PostFormValue("pass"),
	}
	if creds.SSID == "" {
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: "SSID required"})
		return
	}
	if !policy.ValidWiFiCredentials(creds.SSID, creds.Password) {
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: provision.ErrInvalidCredentials.Error()})
		return
	}

	logger := s.loggerFromContext(r.Context())
	err := s.deps.Applier.Submit(creds, s.deps.Now())
	switch {
	case err == nil:
		logger.Info("wifi credentials submitted", "ssid", creds.SSID)
		s.writeJSON(w, r, http.StatusAccepted, api.Result{Success: true, Message: "connecting", Pending: true})
	case errors.Is(err, provision.ErrBusy):
		s.writeJSON(w, r, http.StatusConflict, api.Result{Message: err.Error()})
	case errors.Is(err, provision.ErrInvalidCredentials):
		s.writeJSON(w, r, http.StatusBadRequest, api.Result{Message: err.Error()})
	default:
		logger.Error("failed to store wifi credentials", "err", err)
		s.writeJSON(w, r, http.StatusInternalServerError, api.Result{Message: "save failed"})
	}
}
