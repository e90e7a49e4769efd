package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/LaporKota/LaporBot/internal/models"
)

// handleAskReportID looks up a report by its public number. A miss keeps the
// session in place so the citizen can retry or back out with kembali.
func (e *Engine) handleAskReportID(_ context.Context, sess *models.Session, ev models.InboundEvent) (*models.Reply, error) {
	if isCommand(ev, "kembali") {
		sess.ResetFlow()
		return models.TextReply(welcomeText), nil
	}
	if ev.Kind != models.EventKindText || strings.TrimSpace(ev.Text) == "" {
		return models.TextReply(askReportIDText), nil
	}

	publicID := canonicalPublicID(ev.Text)
	report, err := e.store.GetReportByPublicID(publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up report %s: %w", publicID, err)
	}
	if report == nil {
		return models.TextReply(reportNotFoundText), nil
	}
	tindakan, err := e.store.GetTindakanByID(report.TindakanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tindakan for report %s: %w", publicID, err)
	}
	sess.ResetFlow()
	return models.TextReply(reportDetailReply(report, tindakan)), nil
}

// canonicalPublicID uppercases the input and supplies the LAP- prefix, so a
// citizen may type just the hex suffix.
func canonicalPublicID(input string) string {
	id := strings.ToUpper(strings.TrimSpace(input))
	if !strings.HasPrefix(id, "LAP-") {
		id = "LAP-" + id
	}
	return id
}
