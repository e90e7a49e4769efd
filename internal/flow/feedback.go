package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
)

// handleFeedback intercepts input while the pending feedback queue is
// non-empty. The head tindakan is always re-fetched because admins mutate
// triage records concurrently. Returns (nil, nil) when every queued entry
// turned out stale, letting normal dispatch handle the event.
func (e *Engine) handleFeedback(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	for len(sess.PendingFeedback) > 0 {
		tindakanID := sess.PendingFeedback[0]
		tindakan, err := e.store.GetTindakanByID(tindakanID)
		if err != nil {
			return nil, fmt.Errorf("failed to load tindakan %s: %w", tindakanID, err)
		}

		switch {
		case tindakan == nil:
			slog.Warn("Engine.handleFeedback: queued tindakan vanished", "tindakanID", tindakanID)
			sess.PendingFeedback = sess.PendingFeedback[1:]

		case tindakan.Status == models.TindakanStatusRejected && tindakan.Feedback == models.FeedbackStatusAsked:
			// Closed without resolution while the question was outstanding:
			// deliver the closure notice and release the citizen.
			tindakan.Feedback = models.FeedbackStatusClosed
			if err := e.store.SaveTindakan(tindakan); err != nil {
				return nil, fmt.Errorf("failed to close feedback on tindakan %s: %w", tindakanID, err)
			}
			sess.PendingFeedback = sess.PendingFeedback[1:]
			sess.ResetFlow()
			e.notifier.Notify(ctx, notify.EventTindakanUpdated, map[string]interface{}{
				"tindakan_id": tindakanID, "feedback": string(tindakan.Feedback),
			})
			return models.TextReply(rejectionNoticeReply(tindakan)), nil

		case tindakan.Status == models.TindakanStatusAwaitingConfirmation:
			return e.answerFeedback(ctx, sess, ev, tindakan)

		default:
			// Admin moved the record out of an answerable state; drop it.
			slog.Info("Engine.handleFeedback: dropping stale queue entry",
				"tindakanID", tindakanID, "status", tindakan.Status)
			sess.PendingFeedback = sess.PendingFeedback[1:]
		}
	}
	return nil, nil
}

// answerFeedback handles the puas/belum handshake for a tindakan awaiting
// the citizen's confirmation.
func (e *Engine) answerFeedback(ctx context.Context, sess *models.Session, ev models.InboundEvent, tindakan *models.Tindakan) (*models.Reply, error) {
	switch {
	case isCommand(ev, "puas"):
		tindakan.Feedback = models.FeedbackStatusSatisfied
		tindakan.Status = models.TindakanStatusClosed
		if err := e.store.SaveTindakan(tindakan); err != nil {
			return nil, fmt.Errorf("failed to close tindakan %s: %w", tindakan.ID, err)
		}
		// The queue entry stays until the rating is captured.
		sess.Step = models.StepWaitingForRating
		sess.CurrentAction = models.ActionNone
		sess.Data = models.SessionData{}
		e.notifier.Notify(ctx, notify.EventTindakanUpdated, map[string]interface{}{
			"tindakan_id": tindakan.ID, "status": string(tindakan.Status),
		})
		slog.Info("Engine.answerFeedback: satisfied", "identity", sess.Identity, "tindakanID", tindakan.ID)
		return models.TextReply(askRatingText), nil

	case isCommand(ev, "belum") && tindakan.FeedbackCycle == models.FeedbackCycleFirst:
		// One free reprocessing cycle.
		tindakan.Feedback = models.FeedbackStatusUnsatisfied
		tindakan.Status = models.TindakanStatusProcessing
		tindakan.FeedbackCycle = models.FeedbackCycleExhausted
		if err := e.store.SaveTindakan(tindakan); err != nil {
			return nil, fmt.Errorf("failed to reopen tindakan %s: %w", tindakan.ID, err)
		}
		sess.PendingFeedback = sess.PendingFeedback[1:]
		sess.ResetFlow()
		e.notifier.Notify(ctx, notify.EventTindakanUpdated, map[string]interface{}{
			"tindakan_id": tindakan.ID, "status": string(tindakan.Status),
		})
		slog.Info("Engine.answerFeedback: reprocessing", "identity", sess.Identity, "tindakanID", tindakan.ID)
		return models.TextReply(reprocessReply(len(sess.PendingFeedback))), nil

	case isCommand(ev, "belum"):
		// Second belum on the same record: auto-resolve at maximum rating
		// instead of looping forever.
		tindakan.Feedback = models.FeedbackStatusSatisfied
		tindakan.Status = models.TindakanStatusClosed
		tindakan.Rating = models.MaxRating
		if err := e.store.SaveTindakan(tindakan); err != nil {
			return nil, fmt.Errorf("failed to finalize tindakan %s: %w", tindakan.ID, err)
		}
		sess.PendingFeedback = sess.PendingFeedback[1:]
		sess.ResetFlow()
		e.notifier.Notify(ctx, notify.EventTindakanUpdated, map[string]interface{}{
			"tindakan_id": tindakan.ID, "status": string(tindakan.Status),
		})
		slog.Info("Engine.answerFeedback: reopen cycle exhausted, auto-closed",
			"identity", sess.Identity, "tindakanID", tindakan.ID)
		return models.TextReply(exhaustedFeedbackReply()), nil

	default:
		// The queue strictly blocks flow progress until answered.
		return models.TextReply(answerFeedbackText), nil
	}
}

// EnqueueFeedback pushes a resolved tindakan onto the citizen's pending
// feedback queue, marks the question as asked, and returns the puas/belum
// question to deliver. Called from admin triage when a tindakan reaches a
// state needing citizen confirmation.
func (e *Engine) EnqueueFeedback(ctx context.Context, identity, tindakanID string) (*models.Reply, error) {
	tindakan, err := e.store.GetTindakanByID(tindakanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tindakan %s: %w", tindakanID, err)
	}
	if tindakan == nil {
		return nil, models.ErrTindakanNotFound
	}
	report, err := e.store.GetReportByID(tindakan.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", tindakan.ReportID, err)
	}
	if report == nil {
		return nil, models.ErrReportNotFound
	}

	sess, err := e.loadOrCreateSession(identity)
	if err != nil {
		return nil, err
	}
	for _, queued := range sess.PendingFeedback {
		if queued == tindakanID {
			// Already queued; re-sending the question is harmless.
			return models.TextReply(feedbackQuestionReply(report.PublicID)), nil
		}
	}
	sess.PendingFeedback = append(sess.PendingFeedback, tindakanID)
	if err := e.store.UpdateSession(sess); err != nil {
		return nil, fmt.Errorf("failed to queue feedback for %s: %w", identity, err)
	}

	tindakan.Feedback = models.FeedbackStatusAsked
	if err := e.store.SaveTindakan(tindakan); err != nil {
		return nil, fmt.Errorf("failed to mark feedback asked on %s: %w", tindakanID, err)
	}
	slog.Info("Engine.EnqueueFeedback: feedback queued", "identity", identity, "tindakanID", tindakanID)
	return models.TextReply(feedbackQuestionReply(report.PublicID)), nil
}
