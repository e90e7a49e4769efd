package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
)

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sessions, err := s.store.ListSessions()
	if err != nil {
		slog.Error("Server.listSessionsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// getReportHandler handles GET /api/reports/{publicID}. The public ID is
// canonicalized the same way citizen lookups are: uppercased, LAP- prefix
// added when missing.
func (s *Server) getReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	publicID := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/api/reports/"))
	if publicID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing report ID in path"))
		return
	}
	if !strings.HasPrefix(publicID, "LAP-") {
		publicID = "LAP-" + publicID
	}

	report, err := s.store.GetReportByPublicID(publicID)
	if err != nil {
		slog.Error("Server.getReportHandler: lookup failed", "error", err, "publicID", publicID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load report"))
		return
	}
	if report == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Report not found"))
		return
	}

	tindakan, err := s.store.GetTindakanByID(report.TindakanID)
	if err != nil {
		slog.Error("Server.getReportHandler: tindakan lookup failed", "error", err, "tindakanID", report.TindakanID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load tindakan"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"report":   report,
		"tindakan": tindakan,
	}))
}

// canTransition encodes the staff-side triage status machine. Terminal
// statuses admit nothing; the awaiting-confirmation exits owned by the
// citizen handshake (closed, reopen to processing) are also reachable here so
// admins can correct records.
func canTransition(from, to models.TindakanStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case models.TindakanStatusNeedsVerification:
		return to == models.TindakanStatusProcessing || to == models.TindakanStatusRejected
	case models.TindakanStatusProcessing:
		return to == models.TindakanStatusAwaitingConfirmation || to == models.TindakanStatusRejected
	case models.TindakanStatusAwaitingConfirmation:
		return to == models.TindakanStatusProcessing || to == models.TindakanStatusClosed ||
			to == models.TindakanStatusRejected
	default:
		return false
	}
}

// tindakanResourceHandler dispatches POST /api/tindakan/{id}/status.
func (s *Server) tindakanResourceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/tindakan/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" || len(parts) != 2 || parts[1] != "status" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown tindakan resource"))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.updateTindakanStatus(w, r, parts[0])
}

// updateTindakanStatus applies a staff triage decision to a tindakan. Moving
// a record to resolved_awaiting_confirmation queues the citizen's puas/belum
// question and delivers it immediately when the session is in bot mode.
func (s *Server) updateTindakanStatus(w http.ResponseWriter, r *http.Request, tindakanID string) {
	var req struct {
		Status       models.TindakanStatus `json:"status"`
		Departments  []string              `json:"departments,omitempty"`
		Priority     string                `json:"priority,omitempty"`
		Notes        string                `json:"notes,omitempty"`
		RejectReason string                `json:"reject_reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.updateTindakanStatus: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidTindakanStatus(req.Status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid tindakan status"))
		return
	}

	tindakan, err := s.store.GetTindakanByID(tindakanID)
	if err != nil {
		slog.Error("Server.updateTindakanStatus: lookup failed", "error", err, "tindakanID", tindakanID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load tindakan"))
		return
	}
	if tindakan == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Tindakan not found"))
		return
	}
	if !canTransition(tindakan.Status, req.Status) {
		slog.Warn("Server.updateTindakanStatus: illegal transition",
			"tindakanID", tindakanID, "from", tindakan.Status, "to", req.Status)
		writeJSONResponse(w, http.StatusConflict, models.Declined(
			"illegal status transition from "+string(tindakan.Status)+" to "+string(req.Status)))
		return
	}

	tindakan.Status = req.Status
	if req.Departments != nil {
		tindakan.Departments = req.Departments
	}
	if req.Priority != "" {
		tindakan.Priority = req.Priority
	}
	if req.Notes != "" {
		tindakan.Notes = req.Notes
	}
	if req.RejectReason != "" {
		tindakan.RejectReason = req.RejectReason
	}
	if err := s.store.SaveTindakan(tindakan); err != nil {
		slog.Error("Server.updateTindakanStatus: save failed", "error", err, "tindakanID", tindakanID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save tindakan"))
		return
	}
	s.notifier.Notify(r.Context(), notify.EventTindakanUpdated, map[string]string{
		"tindakan_id": tindakanID, "status": string(req.Status),
	})

	if req.Status == models.TindakanStatusAwaitingConfirmation {
		s.askForConfirmation(w, r, tindakan)
		return
	}
	slog.Info("Server.updateTindakanStatus: applied", "tindakanID", tindakanID, "status", req.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(tindakan))
}

// askForConfirmation queues the puas/belum question for the reporting citizen
// and sends it right away unless a human admin currently owns the
// conversation. Queueing failures surface; delivery failures do not, since
// the pending queue re-asks on the citizen's next message.
func (s *Server) askForConfirmation(w http.ResponseWriter, r *http.Request, tindakan *models.Tindakan) {
	report, err := s.store.GetReportByID(tindakan.ReportID)
	if err != nil || report == nil {
		slog.Error("Server.askForConfirmation: report lookup failed", "error", err, "reportID", tindakan.ReportID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load report for tindakan"))
		return
	}

	question, err := s.engine.EnqueueFeedback(r.Context(), report.Identity, tindakan.ID)
	if err != nil {
		slog.Error("Server.askForConfirmation: enqueue failed", "error", err, "tindakanID", tindakan.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to queue citizen confirmation"))
		return
	}

	delivered := false
	if s.msgService != nil {
		effective, modeErr := s.arbiter.GetEffectiveMode(r.Context(), report.Identity, time.Now())
		if modeErr != nil {
			slog.Error("Server.askForConfirmation: mode check failed", "error", modeErr, "identity", report.Identity)
		} else if effective == models.ModeManual {
			slog.Info("Server.askForConfirmation: manual mode, question queued only", "identity", report.Identity)
		} else if sendErr := s.msgService.SendReply(r.Context(), report.Identity, question); sendErr != nil {
			slog.Warn("Server.askForConfirmation: delivery failed, queue will re-ask",
				"error", sendErr, "identity", report.Identity)
		} else {
			delivered = true
		}
	}

	slog.Info("Server.askForConfirmation: confirmation requested",
		"tindakanID", tindakan.ID, "identity", report.Identity, "delivered", delivered)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"tindakan":  tindakan,
		"delivered": delivered,
	}))
}

// eraseCitizenHandler handles DELETE /api/citizens/{identity}. This is the
// only hard delete in the system: session, profile, reports and tindakan all
// go at once.
func (s *Server) eraseCitizenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity := strings.TrimPrefix(r.URL.Path, "/api/citizens/")
	if identity == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing identity in path"))
		return
	}
	if s.msgService != nil {
		canonical, err := s.msgService.ValidateAndCanonicalizeRecipient(identity)
		if err != nil {
			slog.Warn("Server.eraseCitizenHandler: invalid identity", "error", err, "identity", identity)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		identity = canonical
	}

	if err := s.store.EraseCitizenData(identity); err != nil {
		slog.Error("Server.eraseCitizenHandler: erase failed", "error", err, "identity", identity)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to erase citizen data"))
		return
	}
	slog.Info("Server.eraseCitizenHandler: citizen data erased", "identity", identity)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Citizen data erased", nil))
}
