// Package mode implements the responder-mode arbiter for citizen sessions.
//
// The arbiter decides, per inbound message, whether the automated engine or a
// human admin should answer, and mediates every mutation of the mode fields so
// inconsistent combinations cannot be stored. The manual deadline is passive:
// it is checked lazily whenever effective mode is read, never via a callback.
package mode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
	"github.com/LaporKota/LaporBot/internal/notify"
	"github.com/LaporKota/LaporBot/internal/store"
)

// maxMutationRetries bounds the optimistic read-modify-write loop when a
// mutation races another session writer.
const maxMutationRetries = 3

// Result reports the outcome of a mutation. Declined operations are results
// with OK=false and a human-readable reason, never errors.
type Result struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func ok() Result {
	return Result{OK: true}
}

func declined(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// DetailedStatus is the admin-facing view of a session's mode fields.
type DetailedStatus struct {
	Identity             string             `json:"identity"`
	Mode                 models.SessionMode `json:"mode"`
	ManualModeUntil      *time.Time         `json:"manual_mode_until,omitempty"`
	ForceModeManual      bool               `json:"force_mode_manual"`
	SavedTimeoutSnapshot *time.Time         `json:"saved_timeout_snapshot,omitempty"`
	EffectiveMode        models.SessionMode `json:"effective_mode"`
	Conflicts            []string           `json:"conflicts,omitempty"`
}

// Arbiter mediates all mode reads and mutations against the session store.
type Arbiter struct {
	store    store.Store
	notifier notify.Notifier
}

// NewArbiter creates an arbiter backed by the given store.
func NewArbiter(st store.Store, notifier notify.Notifier) *Arbiter {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Arbiter{store: st, notifier: notifier}
}

// EffectiveMode computes the responder for a session snapshot at the given
// instant. Pure: never mutates, never caches.
func EffectiveMode(sess *models.Session, now time.Time) models.SessionMode {
	if sess.ForceModeManual {
		return models.ModeManual
	}
	if sess.ManualModeUntil != nil && now.Before(*sess.ManualModeUntil) {
		return models.ModeManual
	}
	return models.ModeBot
}

// ReconcileExpiry flips a session whose non-forced manual deadline has lapsed
// back to bot mode and persists the change. Returns whether a flip happened.
// Safe to call on every read; losing a version race is not an error because
// the winner either handled the expiry or changed the fields it depended on.
func (a *Arbiter) ReconcileExpiry(ctx context.Context, sess *models.Session, now time.Time) (bool, error) {
	if sess.ForceModeManual || sess.Mode != models.ModeManual {
		return false, nil
	}
	if sess.ManualModeUntil == nil || now.Before(*sess.ManualModeUntil) {
		return false, nil
	}
	sess.Mode = models.ModeBot
	sess.ManualModeUntil = nil
	if err := a.store.UpdateSession(sess); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			slog.Debug("Arbiter.ReconcileExpiry: lost update race, skipping", "identity", sess.Identity)
			return false, nil
		}
		return false, fmt.Errorf("failed to persist expiry for %s: %w", sess.Identity, err)
	}
	slog.Info("Arbiter.ReconcileExpiry: manual mode expired", "identity", sess.Identity)
	a.notifier.Notify(ctx, notify.EventModeChanged, map[string]string{
		"identity": sess.Identity, "mode": string(models.ModeBot), "cause": "timeout",
	})
	return true, nil
}

// GetEffectiveMode loads the session, reconciles a lapsed deadline, and
// returns the effective responder right now. A missing session defaults to
// bot without being created.
func (a *Arbiter) GetEffectiveMode(ctx context.Context, identity string, now time.Time) (models.SessionMode, error) {
	sess, err := a.store.GetSession(identity)
	if err != nil {
		return "", fmt.Errorf("failed to load session for %s: %w", identity, err)
	}
	if sess == nil {
		return models.ModeBot, nil
	}
	if _, err := a.ReconcileExpiry(ctx, sess, now); err != nil {
		return "", err
	}
	return EffectiveMode(sess, now), nil
}

// mutate runs fn against a fresh session snapshot under the store's
// optimistic version check, retrying on lost races. fn returns the mutation
// result and whether the session needs persisting.
func (a *Arbiter) mutate(identity string, fn func(sess *models.Session) (Result, bool)) (Result, error) {
	for attempt := 0; attempt < maxMutationRetries; attempt++ {
		sess, err := a.store.GetSession(identity)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load session for %s: %w", identity, err)
		}
		if sess == nil {
			// Admins may configure a mode before first contact.
			sess, err = a.store.CreateDefaultSession(identity)
			if err != nil {
				return Result{}, fmt.Errorf("failed to create session for %s: %w", identity, err)
			}
		}
		res, dirty := fn(sess)
		if !dirty {
			return res, nil
		}
		err = a.store.UpdateSession(sess)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, models.ErrVersionConflict) {
			slog.Debug("Arbiter.mutate: version conflict, retrying", "identity", identity, "attempt", attempt)
			continue
		}
		return Result{}, fmt.Errorf("failed to persist mode change for %s: %w", identity, err)
	}
	return Result{}, fmt.Errorf("mode change for %s kept losing update races: %w", identity, models.ErrVersionConflict)
}

// SetForceMode turns the hard manual override on or off.
//
// Turning on displaces any pending timed-manual deadline into the snapshot
// field instead of destroying it. Turning off restores that deadline when it
// is still in the future, so a bot does not jump back into a conversation an
// admin had claimed before the override.
func (a *Arbiter) SetForceMode(ctx context.Context, identity string, force bool, now time.Time) (Result, error) {
	res, err := a.mutate(identity, func(sess *models.Session) (Result, bool) {
		if force {
			if sess.ForceModeManual {
				// Idempotent: a repeat activation must not overwrite an
				// already-saved snapshot.
				return ok(), false
			}
			if sess.ManualModeUntil != nil {
				sess.SavedTimeoutSnapshot = sess.ManualModeUntil
				sess.ManualModeUntil = nil
			}
			sess.Mode = models.ModeManual
			sess.ForceModeManual = true
			return ok(), true
		}
		if !sess.ForceModeManual {
			return ok(), false
		}
		if sess.SavedTimeoutSnapshot != nil && sess.SavedTimeoutSnapshot.After(now) {
			sess.ManualModeUntil = sess.SavedTimeoutSnapshot
			sess.Mode = models.ModeManual
		} else {
			sess.Mode = models.ModeBot
			sess.ManualModeUntil = nil
		}
		sess.SavedTimeoutSnapshot = nil
		sess.ForceModeManual = false
		return ok(), true
	})
	if err == nil && res.OK {
		slog.Info("Arbiter.SetForceMode applied", "identity", identity, "force", force)
		a.notifier.Notify(ctx, notify.EventModeChanged, map[string]interface{}{
			"identity": identity, "force": force,
		})
	}
	return res, err
}

// SetManualWithTimeout puts the session in manual mode until now+minutes.
// Declined while force mode is active; minutes outside (0, 1440] is a
// validation failure, not a silent clamp.
func (a *Arbiter) SetManualWithTimeout(ctx context.Context, identity string, minutes int, now time.Time) (Result, error) {
	if minutes <= 0 || minutes > models.MaxManualMinutes {
		return declined(models.ErrInvalidMinutes.Error()), nil
	}
	res, err := a.mutate(identity, func(sess *models.Session) (Result, bool) {
		if sess.ForceModeManual {
			return declined(models.ErrForceModeActive.Error()), false
		}
		until := now.Add(time.Duration(minutes) * time.Minute)
		sess.Mode = models.ModeManual
		sess.ManualModeUntil = &until
		sess.SavedTimeoutSnapshot = nil // stale snapshot must not resurface later
		return ok(), true
	})
	if err == nil && res.OK {
		slog.Info("Arbiter.SetManualWithTimeout applied", "identity", identity, "minutes", minutes)
		a.notifier.Notify(ctx, notify.EventModeChanged, map[string]interface{}{
			"identity": identity, "mode": string(models.ModeManual), "minutes": minutes,
		})
	}
	return res, err
}

// SetMode sets the base mode without a timeout. Declined while force mode is
// active. Setting manual this way holds until explicitly changed.
func (a *Arbiter) SetMode(ctx context.Context, identity string, m models.SessionMode) (Result, error) {
	if !models.IsValidSessionMode(m) {
		return declined(models.ErrInvalidMode.Error()), nil
	}
	res, err := a.mutate(identity, func(sess *models.Session) (Result, bool) {
		if sess.ForceModeManual {
			return declined(models.ErrForceModeActive.Error()), false
		}
		sess.Mode = m
		sess.ManualModeUntil = nil
		return ok(), true
	})
	if err == nil && res.OK {
		slog.Info("Arbiter.SetMode applied", "identity", identity, "mode", m)
		a.notifier.Notify(ctx, notify.EventModeChanged, map[string]interface{}{
			"identity": identity, "mode": string(m),
		})
	}
	return res, err
}

// DetectConflicts flags combinations the mutation paths should have made
// structurally impossible. Diagnostic only, never mutates.
func DetectConflicts(sess *models.Session, now time.Time) []string {
	var conflicts []string
	if sess.ForceModeManual && sess.ManualModeUntil != nil {
		conflicts = append(conflicts, "force mode active with a non-null timeout")
	}
	if sess.Mode == models.ModeManual && !sess.ForceModeManual &&
		sess.ManualModeUntil != nil && !now.Before(*sess.ManualModeUntil) {
		conflicts = append(conflicts, "manual mode with expired timeout and no force")
	}
	if sess.Mode == models.ModeBot && sess.ManualModeUntil != nil && now.Before(*sess.ManualModeUntil) {
		conflicts = append(conflicts, "bot mode with a still-future timeout")
	}
	return conflicts
}

// GetDetailedStatus returns raw mode fields plus computed effective mode and
// conflict diagnostics for admin tooling.
func (a *Arbiter) GetDetailedStatus(ctx context.Context, identity string, now time.Time) (*DetailedStatus, error) {
	sess, err := a.store.GetSession(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", identity, err)
	}
	if sess == nil {
		return nil, models.ErrSessionNotFound
	}
	return &DetailedStatus{
		Identity:             sess.Identity,
		Mode:                 sess.Mode,
		ManualModeUntil:      sess.ManualModeUntil,
		ForceModeManual:      sess.ForceModeManual,
		SavedTimeoutSnapshot: sess.SavedTimeoutSnapshot,
		EffectiveMode:        EffectiveMode(sess, now),
		Conflicts:            DetectConflicts(sess, now),
	}, nil
}
