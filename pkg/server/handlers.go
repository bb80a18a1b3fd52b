package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/entrhq/waweb/pkg/logging"
	"github.com/entrhq/waweb/pkg/whatsapp"
)

type initializeResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	DeviceID   string `json:"device_id"`
	QRRequired bool   `json:"qr_required"`
	QRURL      string `json:"qr_url,omitempty"`
	Timestamp  string `json:"timestamp"`
}

type sendRequest struct {
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	MediaPath string `json:"media_path,omitempty"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	DeviceID  string `json:"device_id"`
	Phone     string `json:"phone"`
	Timestamp string `json:"timestamp"`
}

type statusResponse struct {
	Success       bool       `json:"success"`
	DeviceID      string     `json:"device_id"`
	Status        string     `json:"status"`
	Authenticated bool       `json:"authenticated"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

type sessionsResponse struct {
	Success  bool                   `json:"success"`
	Count    int                    `json:"count"`
	Sessions []whatsapp.SessionInfo `json:"sessions"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	ActiveSessions int    `json:"active_sessions"`
}

// StatusBusy is reported while another operation holds the session.
const StatusBusy = "busy"

func (s *Server) fail(w http.ResponseWriter, status int, deviceID, msg string) {
	writeJSON(w, status, failure{Error: msg, DeviceID: deviceID, Timestamp: s.timestamp()})
}

// detached keeps request values but not cancellation: browser work runs to its
// own bounded timeouts even when the client goes away.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	s.log.Infof("Initializing session for device: %s", deviceID)

	session, err := s.registry.GetOrCreate(deviceID, false)
	if err != nil {
		s.log.Errorf("Error initializing session: %v", err)
		s.fail(w, http.StatusInternalServerError, deviceID, fmt.Sprintf("Error initializing session: %v", err))
		return
	}

	if session.IsAuthenticated() {
		s.log.Infof("Device %s already authenticated, reusing session", deviceID)
		session.MarkActive()
		writeJSON(w, http.StatusOK, initializeResponse{
			Success:   true,
			Message:   "Session already authenticated",
			DeviceID:  deviceID,
			Timestamp: s.timestamp(),
		})
		return
	}

	result, err := session.Initialize(detached(r))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, deviceID, initializeError(err))
		return
	}

	resp := initializeResponse{
		Success:    true,
		Message:    "Session initialized successfully",
		DeviceID:   deviceID,
		QRRequired: result.QRRequired,
		Timestamp:  s.timestamp(),
	}
	if result.QRRequired {
		resp.QRURL = "/qr/" + deviceID
	}
	writeJSON(w, http.StatusOK, resp)
}

func initializeError(err error) string {
	switch {
	case errors.Is(err, whatsapp.ErrAuthTimeout):
		return "Authentication timeout"
	case errors.Is(err, whatsapp.ErrSessionClosed):
		return "Session was closed during initialization"
	default:
		return err.Error()
	}
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	session, ok := s.registry.Get(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "QR code not available")
		return
	}
	path := session.QRImagePath()
	if path == "" {
		writeError(w, http.StatusNotFound, "QR code not available")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "QR code not available")
			return
		}
		s.log.Errorf("Error getting QR code: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	var req sendRequest
	if err := decodeJSON(w, r, s.opts.MaxBodyBytes, &req); err != nil {
		s.fail(w, http.StatusBadRequest, deviceID, "'phone' and 'message' fields are required")
		return
	}
	if strings.TrimSpace(req.Phone) == "" || req.Message == "" {
		s.fail(w, http.StatusBadRequest, deviceID, "'phone' and 'message' fields are required")
		return
	}

	var media string
	if req.MediaPath != "" {
		resolved, err := s.media.Resolve(req.MediaPath)
		if err != nil {
			s.fail(w, http.StatusBadRequest, deviceID, err.Error())
			return
		}
		media = resolved
	}

	session, err := s.registry.GetOrCreate(deviceID, false)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, deviceID, err.Error())
		return
	}

	err = session.Send(detached(r), whatsapp.Message{Phone: req.Phone, Text: req.Message, MediaPath: media})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, whatsapp.ErrInvalidPhone) {
			status = http.StatusBadRequest
		}
		s.log.Errorf("Error sending message to %s: %v", logging.MaskPhone(req.Phone), err)
		s.fail(w, status, deviceID, fmt.Sprintf("Failed to send message: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Success:   true,
		DeviceID:  deviceID,
		Phone:     req.Phone,
		Timestamp: s.timestamp(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	session, ok := s.registry.Get(deviceID)
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{
			Success:  true,
			DeviceID: deviceID,
			Status:   whatsapp.StateUninitialized.String(),
		})
		return
	}

	report := session.Status(detached(r))
	status := report.State.String()
	if report.Busy {
		status = StatusBusy
	}
	last := session.LastActivity()
	writeJSON(w, http.StatusOK, statusResponse{
		Success:       true,
		DeviceID:      deviceID,
		Status:        status,
		Authenticated: session.IsAuthenticated(),
		LastActivity:  &last,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	if _, err := s.registry.Delete(deviceID); err != nil {
		s.log.Errorf("Error deleting session %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		Success: true,
		Message: fmt.Sprintf("Session %s deleted", deviceID),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	writeJSON(w, http.StatusOK, sessionsResponse{
		Success:  true,
		Count:    len(infos),
		Sessions: infos,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Timestamp:      s.timestamp(),
		ActiveSessions: s.registry.Len(),
	})
}
