package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
)

// reportData returns the report scratch area, reinitializing it when lost.
func reportData(sess *models.Session) *models.ReportData {
	if sess.Data.Report == nil {
		sess.Data.Report = &models.ReportData{}
	}
	return sess.Data.Report
}

func hasLocation(r *models.ReportData) bool {
	return r.Latitude != 0 || r.Longitude != 0
}

func (e *Engine) handleAskMessage(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	if isCommand(ev, "batal") {
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil
	}
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != models.EventKindText || text == "" {
		return models.TextReply(askMessageText), nil
	}
	data := reportData(sess)
	data.Lines = append(data.Lines, text)
	sess.Step = models.StepAppendMessage
	return models.TextReply(appendMessageText), nil
}

func (e *Engine) handleAppendMessage(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	data := reportData(sess)
	switch {
	case isCommand(ev, "kirim"):
		if len(data.Lines) == 0 {
			sess.Step = models.StepAskMessage
			return models.TextReply(askMessageText), nil
		}
		sess.Step = models.StepConfirmMessage
		return models.TextReply(confirmMessageReply(data.Lines)), nil

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil
	}
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != models.EventKindText || text == "" {
		return models.TextReply(appendMessageText), nil
	}
	data.Lines = append(data.Lines, text)
	return models.TextReply(lineAddedText), nil
}

func (e *Engine) handleConfirmMessage(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	data := reportData(sess)
	switch {
	case isCommand(ev, "kirim"):
		// Location is already captured when signup fed into this flow.
		if hasLocation(data) {
			sess.Step = models.StepAskPhoto
			return models.TextReply(askPhotoText), nil
		}
		sess.Step = models.StepAskLocation
		return models.TextReply(askLocationText), nil

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil

	default:
		return models.TextReply(confirmMessageReply(data.Lines)), nil
	}
}

func (e *Engine) handleAskLocation(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	if isCommand(ev, "batal") {
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil
	}
	if ev.Kind != models.EventKindLocation || ev.Location == nil {
		return models.TextReply(needLocationText), nil
	}
	reply, accepted, err := e.captureLocation(sess, ev.Location)
	if err != nil {
		return nil, err
	}
	if accepted {
		sess.Step = models.StepConfirmLocation
	}
	return reply, nil
}

func (e *Engine) handleConfirmLocation(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	data := reportData(sess)
	switch {
	case isCommand(ev, "kirim"):
		// Sessions arriving from signup still owe the complaint text.
		if len(data.Lines) == 0 {
			sess.Step = models.StepAskMessage
			return models.TextReply(askMessageText), nil
		}
		sess.Step = models.StepAskPhoto
		return models.TextReply(askPhotoText), nil

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil
	}
	if ev.Kind == models.EventKindLocation && ev.Location != nil {
		// Replace the captured location.
		reply, _, err := e.captureLocation(sess, ev.Location)
		return reply, err
	}
	return models.TextReply(confirmLocationReply(data)), nil
}

// captureLocation resolves and stores a shared location. Locations outside
// the service area are rejected without touching the report data, so a
// previously confirmed location survives a rejected replacement.
func (e *Engine) captureLocation(sess *models.Session, loc *models.LocationPayload) (*models.Reply, bool, error) {
	var village, district, regency string
	if e.regions != nil {
		resolved, err := e.regions.Resolve(loc.Latitude, loc.Longitude)
		if err != nil {
			return nil, false, fmt.Errorf("failed to resolve region: %w", err)
		}
		if resolved == nil {
			slog.Info("Engine.captureLocation: outside service area",
				"identity", sess.Identity, "lat", loc.Latitude, "lon", loc.Longitude)
			return models.TextReply(outsideAreaText), false, nil
		}
		village = resolved.Village
		district = resolved.District
		regency = resolved.Regency
	}
	data := reportData(sess)
	data.Latitude = loc.Latitude
	data.Longitude = loc.Longitude
	data.LocationDesc = loc.Description
	data.Village = village
	data.District = district
	data.Regency = regency
	return models.TextReply(confirmLocationReply(data)), true, nil
}

func (e *Engine) handleAskPhoto(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	data := reportData(sess)
	if ev.Kind == models.EventKindImage && ev.Image != nil && ev.Image.URL != "" {
		data.Photos = append(data.Photos, models.PhotoRef{URL: ev.Image.URL, Caption: ev.Image.Caption})
		if len(data.Photos) >= models.MaxReportPhotos {
			// Cap reached: advance without waiting for kirim.
			sess.Step = models.StepReview
			return models.TextReply(photoLimitReply(data)), nil
		}
		return models.TextReply(photoReceivedReply(len(data.Photos))), nil
	}
	switch {
	case isCommand(ev, "kirim"):
		if len(data.Photos) == 0 {
			return models.TextReply(needPhotoText), nil
		}
		sess.Step = models.StepReview
		return models.TextReply(reviewReply(data)), nil

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil

	default:
		return models.TextReply(photoRejectedText), nil
	}
}

func (e *Engine) handleReview(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	switch {
	case isCommand(ev, "konfirmasi"):
		return e.submitReport(ctx, sess)

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil

	default:
		return models.TextReply(reviewReply(reportData(sess))), nil
	}
}

// submitReport commits the complaint. The session is moved out of REVIEW and
// persisted before the report write, so a redelivered konfirmasi finds the
// session at the main menu instead of creating a duplicate. A failed report
// write restores REVIEW so the citizen can retry.
func (e *Engine) submitReport(ctx context.Context, sess *models.Session) (*models.Reply, error) {
	data := reportData(sess)
	profile, err := e.store.GetProfileByIdentity(sess.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for %s: %w", sess.Identity, err)
	}
	if profile == nil {
		slog.Warn("Engine.submitReport: no profile at review, resetting", "identity", sess.Identity)
		sess.ResetFlow()
		return models.TextReply(fallbackText), nil
	}

	saved := *data
	sess.ResetFlow()
	if err := e.store.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to commit review exit for %s: %w", sess.Identity, err)
	}

	now := time.Now()
	report := &models.Report{
		ID:           uuid.NewString(),
		PublicID:     newPublicID(),
		Identity:     sess.Identity,
		ProfileID:    profile.ID,
		Message:      strings.Join(saved.Lines, "\n"),
		Latitude:     saved.Latitude,
		Longitude:    saved.Longitude,
		LocationDesc: saved.LocationDesc,
		Village:      saved.Village,
		District:     saved.District,
		Regency:      saved.Regency,
		Photos:       saved.Photos,
		CreatedAt:    now,
	}
	tindakan := &models.Tindakan{
		ID:            uuid.NewString(),
		ReportID:      report.ID,
		Status:        models.TindakanStatusNeedsVerification,
		Feedback:      models.FeedbackStatusNone,
		FeedbackCycle: models.FeedbackCycleFirst,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateReport(report, tindakan); err != nil {
		// Put the citizen back at review so the submission can be retried.
		sess.CurrentAction = models.ActionCreateReport
		sess.Step = models.StepReview
		sess.Data = models.SessionData{Report: &saved}
		sess.Status = models.SessionStatusInProgress
		if restoreErr := e.store.UpdateSession(sess); restoreErr != nil {
			slog.Error("Engine.submitReport: failed to restore review state",
				"error", restoreErr, "identity", sess.Identity)
		}
		return nil, fmt.Errorf("failed to create report for %s: %w", sess.Identity, err)
	}

	slog.Info("Engine.submitReport: report created",
		"identity", sess.Identity, "reportID", report.ID, "publicID", report.PublicID)
	e.notifier.Notify(ctx, notify.EventReportCreated, map[string]interface{}{
		"report_id": report.ID, "public_id": report.PublicID, "identity": sess.Identity,
	})
	return models.TextReply(reportSubmittedReply(report.PublicID)), nil
}

// newPublicID builds the short citizen-facing report number.
func newPublicID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "LAP-" + strings.ToUpper(raw[:8])
}
