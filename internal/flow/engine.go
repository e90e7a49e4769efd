// Package flow implements the dialogue engine: the state machine that walks a
// citizen through signup, complaint intake and report lookup over chat.
//
// Each inbound event runs through a fixed interceptor chain (reset keyword,
// rating capture, pending-feedback interception) before normal flow dispatch.
// The session store is the sole source of truth between events; handlers
// read-modify-write one session per event under an optimistic version check.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LaporKota/LaporBot/internal/classifier"
	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
	"github.com/LaporKota/LaporBot/internal/region"
	"github.com/LaporKota/LaporBot/internal/store"
)

// maxEventRetries bounds re-processing when a concurrent writer invalidates
// the session snapshot mid-event.
const maxEventRetries = 3

// handlerFunc processes one inbound event for a (action, step) pair. It
// mutates the session in memory; the engine persists it afterwards. A handler
// that persists the session itself must make no session mutations after the
// write.
type handlerFunc func(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error)

// Engine is the dialogue state machine. Collaborators are injected; nil
// classifier and notifier fall back to keyword matching and log output, and a
// nil region resolver accepts every location without region enrichment.
type Engine struct {
	store      store.Store
	regions    region.Resolver
	classifier classifier.Classifier
	notifier   notify.Notifier
	registry   map[models.Action]map[models.Step]handlerFunc
}

// NewEngine creates a dialogue engine over the given store.
func NewEngine(st store.Store, regions region.Resolver, cls classifier.Classifier, notifier notify.Notifier) *Engine {
	if cls == nil {
		cls = classifier.KeywordClassifier{}
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	e := &Engine{store: st, regions: regions, classifier: cls, notifier: notifier}
	e.registry = map[models.Action]map[models.Step]handlerFunc{
		models.ActionSignup: {
			models.StepAskName:     e.handleAskName,
			models.StepAskSex:      e.handleAskSex,
			models.StepAskNIK:      e.handleAskNIK,
			models.StepAskAddress:  e.handleAskAddress,
			models.StepConfirmData: e.handleConfirmData,
		},
		models.ActionCreateReport: {
			models.StepAskMessage:      e.handleAskMessage,
			models.StepAppendMessage:   e.handleAppendMessage,
			models.StepConfirmMessage:  e.handleConfirmMessage,
			models.StepAskLocation:     e.handleAskLocation,
			models.StepConfirmLocation: e.handleConfirmLocation,
			models.StepAskPhoto:        e.handleAskPhoto,
			models.StepReview:          e.handleReview,
		},
		models.ActionCheckReport: {
			models.StepAskReportID: e.handleAskReportID,
		},
	}
	return e
}

// normalize lowercases and trims input for command comparison. Free-form
// fields (name, address, complaint text) keep the raw text.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// isCommand reports whether a text event matches the given command word.
func isCommand(ev models.InboundEvent, command string) bool {
	return ev.Kind == models.EventKindText && normalize(ev.Text) == command
}

// HandleEvent processes one normalized inbound event and returns the single
// reply to deliver. It loads the session (creating a default one for an
// unseen identity), runs the interceptor chain, and persists the mutated
// session. A lost version race re-processes the event against fresh state.
func (e *Engine) HandleEvent(ctx context.Context, ev models.InboundEvent) (*models.Reply, error) {
	if ev.Identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	for attempt := 0; attempt < maxEventRetries; attempt++ {
		sess, err := e.loadOrCreateSession(ev.Identity)
		if err != nil {
			slog.Error("Engine.HandleEvent: session load failed", "error", err, "identity", ev.Identity)
			return models.TextReply(tryAgainText), nil
		}
		versionBefore := sess.Version

		reply, err := e.handle(ctx, sess, ev)
		if err != nil {
			// Persistence or lookup failure inside a handler. The session is
			// not persisted, so the stored step cannot outrun committed data.
			slog.Error("Engine.HandleEvent: handler failed", "error", err,
				"identity", ev.Identity, "action", sess.CurrentAction, "step", sess.Step)
			return models.TextReply(tryAgainText), nil
		}
		if sess.Version != versionBefore {
			// Handler already persisted the session.
			return reply, nil
		}
		err = e.store.UpdateSession(sess)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, models.ErrVersionConflict) {
			slog.Debug("Engine.HandleEvent: version conflict, reprocessing", "identity", ev.Identity, "attempt", attempt)
			continue
		}
		slog.Error("Engine.HandleEvent: session update failed", "error", err, "identity", ev.Identity)
		return models.TextReply(tryAgainText), nil
	}
	slog.Warn("Engine.HandleEvent: retries exhausted", "identity", ev.Identity)
	return models.TextReply(tryAgainText), nil
}

func (e *Engine) loadOrCreateSession(identity string) (*models.Session, error) {
	sess, err := e.store.GetSession(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", identity, err)
	}
	if sess == nil {
		sess, err = e.store.CreateDefaultSession(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to create session for %s: %w", identity, err)
		}
		slog.Info("Engine: session created", "identity", identity)
	}
	return sess, nil
}

// handle runs the interceptor chain. First match wins.
func (e *Engine) handle(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	// 1. Reset/menu keyword, honored from any step.
	if isCommand(ev, "menu") || isCommand(ev, "reset") {
		sess.ResetFlow()
		return models.TextReply(welcomeText), nil
	}

	// 2. Rating capture.
	if sess.Step == models.StepWaitingForRating {
		return e.handleRating(ctx, sess, ev)
	}

	// 3. Pending feedback interception.
	if len(sess.PendingFeedback) > 0 {
		reply, err := e.handleFeedback(ctx, sess, ev)
		if err != nil || reply != nil {
			return reply, err
		}
		// Queue drained of stale entries; fall through to normal dispatch.
	}

	// 4. Normal flow dispatch.
	if sess.CurrentAction == models.ActionNone && sess.Step == models.StepMainMenu {
		return e.handleMainMenu(ctx, sess, ev)
	}
	if handlers, found := e.registry[sess.CurrentAction]; found {
		if handler, found := handlers[sess.Step]; found {
			return handler(ctx, sess, ev)
		}
	}
	// Unrecognized (action, step): corrupt or stale session.
	slog.Warn("Engine.handle: unrecognized state, resetting",
		"identity", sess.Identity, "action", sess.CurrentAction, "step", sess.Step)
	sess.ResetFlow()
	return models.TextReply(fallbackText), nil
}

// handleRating captures the 1-5 satisfaction score for the head-of-queue
// tindakan after the citizen confirmed satisfaction.
func (e *Engine) handleRating(ctx context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	if len(sess.PendingFeedback) == 0 {
		slog.Warn("Engine.handleRating: waiting for rating with empty queue", "identity", sess.Identity)
		sess.ResetFlow()
		return models.TextReply(fallbackText), nil
	}
	rating, valid := parseRating(ev)
	if !valid {
		return models.TextReply(invalidRatingText), nil
	}

	tindakanID := sess.PendingFeedback[0]
	tindakan, err := e.store.GetTindakanByID(tindakanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tindakan %s: %w", tindakanID, err)
	}
	if tindakan != nil {
		tindakan.Rating = rating
		tindakan.Feedback = models.FeedbackStatusClosed
		if err := e.store.SaveTindakan(tindakan); err != nil {
			return nil, fmt.Errorf("failed to save rating on tindakan %s: %w", tindakanID, err)
		}
		e.notifier.Notify(ctx, notify.EventTindakanUpdated, map[string]interface{}{
			"tindakan_id": tindakanID, "rating": rating,
		})
	} else {
		slog.Warn("Engine.handleRating: tindakan vanished, dropping queue entry", "tindakanID", tindakanID)
	}

	sess.PendingFeedback = sess.PendingFeedback[1:]
	sess.ResetFlow()
	slog.Info("Engine.handleRating: rating captured", "identity", sess.Identity, "rating", rating)
	return models.TextReply(ratingReplies[rating]), nil
}

func parseRating(ev models.InboundEvent) (int, bool) {
	if ev.Kind != models.EventKindText {
		return 0, false
	}
	trimmed := strings.TrimSpace(ev.Text)
	if len(trimmed) != 1 || trimmed[0] < '1' || trimmed[0] > '5' {
		return 0, false
	}
	return int(trimmed[0] - '0'), true
}
