package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/LaporKota/LaporBot/internal/mode"
	"github.com/LaporKota/LaporBot/internal/models"
)

// writeModeResult maps an arbiter mutation outcome onto the response
// envelope. Declined mutations answer 409 with the policy reason so callers
// can distinguish "rejected by rule" from transport errors.
func writeModeResult(w http.ResponseWriter, res mode.Result, result interface{}) {
	if res.OK {
		writeJSONResponse(w, http.StatusOK, models.Success(result))
		return
	}
	writeJSONResponse(w, http.StatusConflict, models.Declined(res.Reason))
}

// getEffectiveModeHandler handles GET /api/sessions/{identity}/mode.
func (s *Server) getEffectiveModeHandler(w http.ResponseWriter, r *http.Request, identity string) {
	effective, err := s.arbiter.GetEffectiveMode(r.Context(), identity, time.Now())
	if err != nil {
		slog.Error("Server.getEffectiveModeHandler: arbitration failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute effective mode"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"identity":       identity,
		"effective_mode": string(effective),
	}))
}

// getDetailedStatusHandler handles GET /api/sessions/{identity}/status.
func (s *Server) getDetailedStatusHandler(w http.ResponseWriter, r *http.Request, identity string) {
	status, err := s.arbiter.GetDetailedStatus(r.Context(), identity, time.Now())
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
			return
		}
		slog.Error("Server.getDetailedStatusHandler: lookup failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load session status"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// setModeHandler handles POST /api/sessions/{identity}/mode.
func (s *Server) setModeHandler(w http.ResponseWriter, r *http.Request, identity string) {
	var req struct {
		Mode models.SessionMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setModeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	res, err := s.arbiter.SetMode(r.Context(), identity, req.Mode)
	if err != nil {
		slog.Error("Server.setModeHandler: mutation failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set mode"))
		return
	}
	writeModeResult(w, res, map[string]string{"identity": identity, "mode": string(req.Mode)})
}

// setForceModeHandler handles POST /api/sessions/{identity}/force.
func (s *Server) setForceModeHandler(w http.ResponseWriter, r *http.Request, identity string) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setForceModeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	res, err := s.arbiter.SetForceMode(r.Context(), identity, req.Force, time.Now())
	if err != nil {
		slog.Error("Server.setForceModeHandler: mutation failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set force mode"))
		return
	}
	writeModeResult(w, res, map[string]interface{}{"identity": identity, "force": req.Force})
}

// setManualTimeoutHandler handles POST /api/sessions/{identity}/manual-timeout.
func (s *Server) setManualTimeoutHandler(w http.ResponseWriter, r *http.Request, identity string) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.setManualTimeoutHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	res, err := s.arbiter.SetManualWithTimeout(r.Context(), identity, req.Minutes, time.Now())
	if err != nil {
		slog.Error("Server.setManualTimeoutHandler: mutation failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set manual timeout"))
		return
	}
	writeModeResult(w, res, map[string]interface{}{"identity": identity, "minutes": req.Minutes})
}
