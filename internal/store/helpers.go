package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/LaporKota/LaporBot/internal/models"
)

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// marshalJSON serializes v to a JSON string, or "" for nil/empty input.
func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("store marshalJSON failed", "error", err)
		return ""
	}
	return string(b)
}

// unmarshalStringSlice decodes a JSON array column into dst.
func unmarshalStringSlice(raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("failed to decode string list column: %w", err)
	}
	return nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanSession scans one sessions row.
func scanSession(sc rowScanner) (*models.Session, error) {
	var s models.Session
	var dataJSON, pendingJSON sql.NullString
	var manualUntil, savedSnapshot sql.NullTime
	err := sc.Scan(
		&s.Identity, &s.CurrentAction, &s.Step, &dataJSON, &s.Status, &s.Mode,
		&manualUntil, &s.ForceModeManual, &savedSnapshot, &pendingJSON,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if manualUntil.Valid {
		t := manualUntil.Time
		s.ManualModeUntil = &t
	}
	if savedSnapshot.Valid {
		t := savedSnapshot.Time
		s.SavedTimeoutSnapshot = &t
	}
	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &s.Data); err != nil {
			return nil, fmt.Errorf("failed to decode session data for %s: %w", s.Identity, err)
		}
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		if err := json.Unmarshal([]byte(pendingJSON.String), &s.PendingFeedback); err != nil {
			return nil, fmt.Errorf("failed to decode pending feedback for %s: %w", s.Identity, err)
		}
	}
	return &s, nil
}

// scanProfile scans one profiles row.
func scanProfile(sc rowScanner) (*models.UserProfile, error) {
	var p models.UserProfile
	var reportIDsJSON sql.NullString
	err := sc.Scan(
		&p.ID, &p.Identity, &p.Name, &p.Sex, &p.NIK, &p.Address,
		&reportIDsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reportIDsJSON.Valid && reportIDsJSON.String != "" {
		if err := json.Unmarshal([]byte(reportIDsJSON.String), &p.ReportIDs); err != nil {
			return nil, fmt.Errorf("failed to decode report ids for %s: %w", p.Identity, err)
		}
	}
	return &p, nil
}

// scanReport scans one reports row.
func scanReport(sc rowScanner) (*models.Report, error) {
	var r models.Report
	var locationDesc, village, district, regency, photosJSON sql.NullString
	err := sc.Scan(
		&r.ID, &r.PublicID, &r.Identity, &r.ProfileID, &r.Message,
		&r.Latitude, &r.Longitude, &locationDesc, &village, &district, &regency,
		&photosJSON, &r.TindakanID, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.LocationDesc = locationDesc.String
	r.Village = village.String
	r.District = district.String
	r.Regency = regency.String
	if photosJSON.Valid && photosJSON.String != "" {
		if err := json.Unmarshal([]byte(photosJSON.String), &r.Photos); err != nil {
			return nil, fmt.Errorf("failed to decode photos for report %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

// scanTindakan scans one tindakan row.
func scanTindakan(sc rowScanner) (*models.Tindakan, error) {
	var t models.Tindakan
	var departmentsJSON, priority, notes, rejectReason sql.NullString
	err := sc.Scan(
		&t.ID, &t.ReportID, &t.Status, &departmentsJSON, &priority, &notes,
		&rejectReason, &t.Feedback, &t.FeedbackCycle, &t.Rating,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = priority.String
	t.Notes = notes.String
	t.RejectReason = rejectReason.String
	if departmentsJSON.Valid && departmentsJSON.String != "" {
		if err := json.Unmarshal([]byte(departmentsJSON.String), &t.Departments); err != nil {
			return nil, fmt.Errorf("failed to decode departments for tindakan %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
