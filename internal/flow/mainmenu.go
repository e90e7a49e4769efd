package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LaporKota/LaporBot/internal/classifier"
	"github.com/LaporKota/LaporBot/internal/models"
)

// handleMainMenu interprets input at the resting state. The numeric options
// are the deterministic path; the classifier is best-effort enrichment for
// free-form text.
func (e *Engine) handleMainMenu(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	if ev.Kind != models.EventKindText {
		return models.TextReply(unknownOptionText), nil
	}
	switch normalize(ev.Text) {
	case "1":
		return e.startSignupOrReport(sess)
	case "2":
		return e.startCheckReport(sess), nil
	}

	switch e.classifier.Classify(ctx, ev.Text) {
	case classifier.IntentCreateReport:
		return e.startSignupOrReport(sess)
	case classifier.IntentCheckReport:
		return e.startCheckReport(sess), nil
	case classifier.IntentGreeting:
		return models.TextReply(welcomeText), nil
	default:
		return models.TextReply(unknownOptionText), nil
	}
}

// startSignupOrReport begins complaint intake: registered citizens go
// straight to the report flow, unregistered ones through signup first.
func (e *Engine) startSignupOrReport(sess *models.Session) (*models.Reply, error) {
	profile, err := e.store.GetProfileByIdentity(sess.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for %s: %w", sess.Identity, err)
	}
	if profile == nil {
		sess.CurrentAction = models.ActionSignup
		sess.Step = models.StepAskName
		sess.Data = models.SessionData{Signup: &models.SignupData{}}
		sess.Status = models.SessionStatusInProgress
		slog.Info("Engine: signup started", "identity", sess.Identity)
		return models.TextReply(askNameText), nil
	}
	sess.CurrentAction = models.ActionCreateReport
	sess.Step = models.StepAskMessage
	sess.Data = models.SessionData{Report: &models.ReportData{}}
	sess.Status = models.SessionStatusInProgress
	slog.Info("Engine: report flow started", "identity", sess.Identity)
	return models.TextReply(askMessageText), nil
}

func (e *Engine) startCheckReport(sess *models.Session) *models.Reply {
	sess.CurrentAction = models.ActionCheckReport
	sess.Step = models.StepAskReportID
	sess.Data = models.SessionData{}
	sess.Status = models.SessionStatusInProgress
	return models.TextReply(askReportIDText)
}
