package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LaporKota/LaporBot/internal/models"
)

// signupData returns the signup scratch area, recovering from a session
// whose data was lost by reinitializing it.
func signupData(sess *models.Session) *models.SignupData {
	if sess.Data.Signup == nil {
		sess.Data.Signup = &models.SignupData{}
	}
	return sess.Data.Signup
}

func (e *Engine) handleAskName(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	name := strings.TrimSpace(ev.Text)
	if ev.Kind != models.EventKindText || name == "" {
		return models.TextReply(askNameText), nil
	}
	signupData(sess).Name = name
	sess.Step = models.StepAskSex
	return models.TextReply(askSexText), nil
}

func (e *Engine) handleAskSex(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	sex := normalize(ev.Text)
	if ev.Kind != models.EventKindText || (sex != "pria" && sex != "wanita") {
		return models.TextReply(invalidSexText), nil
	}
	signupData(sess).Sex = sex
	sess.Step = models.StepAskNIK
	return models.TextReply(askNIKText), nil
}

func (e *Engine) handleAskNIK(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	nik := strings.TrimSpace(ev.Text)
	if ev.Kind != models.EventKindText || !isValidNIK(nik) {
		return models.TextReply(invalidNIKText), nil
	}
	signupData(sess).NIK = nik
	sess.Step = models.StepAskAddress
	return models.TextReply(askAddressText), nil
}

// isValidNIK requires exactly 16 ASCII digits.
func isValidNIK(nik string) bool {
	if len(nik) != models.NIKLength {
		return false
	}
	for _, c := range nik {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (e *Engine) handleAskAddress(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	address := strings.TrimSpace(ev.Text)
	if ev.Kind != models.EventKindText || address == "" {
		return models.TextReply(askAddressText), nil
	}
	data := signupData(sess)
	data.Address = address
	sess.Step = models.StepConfirmData
	return models.TextReply(confirmDataReply(data)), nil
}

func (e *Engine) handleConfirmData(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	switch {
	case isCommand(ev, "kirim"):
		if err := e.createProfile(sess); err != nil {
			return nil, err
		}
		// Registration always happens on the way into a complaint; continue
		// straight into the report flow at location capture.
		sess.CurrentAction = models.ActionCreateReport
		sess.Step = models.StepAskLocation
		sess.Data = models.SessionData{Report: &models.ReportData{}}
		sess.Status = models.SessionStatusInProgress
		return models.TextReply(profileCreatedReply()), nil

	case isCommand(ev, "batal"):
		sess.ResetFlow()
		return models.TextReply(cancelledText), nil

	default:
		return models.TextReply(confirmDataReply(signupData(sess))), nil
	}
}

// createProfile persists the registration. A profile that already exists for
// the identity is kept as-is, so a redelivered confirmation cannot duplicate.
func (e *Engine) createProfile(sess *models.Session) error {
	existing, err := e.store.GetProfileByIdentity(sess.Identity)
	if err != nil {
		return fmt.Errorf("failed to check profile for %s: %w", sess.Identity, err)
	}
	if existing != nil {
		slog.Info("Engine.createProfile: profile already exists", "identity", sess.Identity)
		return nil
	}
	data := signupData(sess)
	now := time.Now()
	profile := &models.UserProfile{
		ID:        uuid.NewString(),
		Identity:  sess.Identity,
		Name:      data.Name,
		Sex:       data.Sex,
		NIK:       data.NIK,
		Address:   data.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateProfile(profile); err != nil {
		return fmt.Errorf("failed to create profile for %s: %w", sess.Identity, err)
	}
	slog.Info("Engine.createProfile: profile created", "identity", sess.Identity, "profileID", profile.ID)
	return nil
}
