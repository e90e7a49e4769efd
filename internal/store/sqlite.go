// Package store provides storage backends for LaporBot.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/LaporKota/LaporBot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteSessionColumns = `identity, current_action, step, data_json, status, mode,
	manual_mode_until, force_mode_manual, saved_timeout_snapshot, pending_feedback_json,
	version, created_at, updated_at`

// GetSession retrieves the session for an identity, or nil if none exists.
func (s *SQLiteStore) GetSession(identity string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+sqliteSessionColumns+` FROM sessions WHERE identity = ?`, identity)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "identity", identity)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get session for %s: %w", identity, err)
	}
	return sess, nil
}

// CreateDefaultSession inserts the default session for a fresh identity.
func (s *SQLiteStore) CreateDefaultSession(identity string) (*models.Session, error) {
	if identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	sess := models.NewDefaultSession(identity)
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sessions (`+sqliteSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.Identity, sess.CurrentAction, sess.Step, nilIfEmpty(marshalJSON(sess.Data)),
		sess.Status, sess.Mode, sess.ManualModeUntil, sess.ForceModeManual,
		sess.SavedTimeoutSnapshot, nilIfEmpty(marshalJSON(sess.PendingFeedback)),
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateDefaultSession failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to create session for %s: %w", identity, err)
	}
	return s.GetSession(identity)
}

// UpdateSession applies the session under an optimistic version check.
func (s *SQLiteStore) UpdateSession(sess *models.Session) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE sessions SET current_action = ?, step = ?, data_json = ?, status = ?,
			mode = ?, manual_mode_until = ?, force_mode_manual = ?,
			saved_timeout_snapshot = ?, pending_feedback_json = ?,
			version = version + 1, updated_at = ?
		WHERE identity = ? AND version = ?`,
		sess.CurrentAction, sess.Step, nilIfEmpty(marshalJSON(sess.Data)), sess.Status,
		sess.Mode, sess.ManualModeUntil, sess.ForceModeManual,
		sess.SavedTimeoutSnapshot, nilIfEmpty(marshalJSON(sess.PendingFeedback)),
		now, sess.Identity, sess.Version)
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "identity", sess.Identity)
		return fmt.Errorf("failed to update session for %s: %w", sess.Identity, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", sess.Identity, err)
	}
	if affected == 0 {
		existing, getErr := s.GetSession(sess.Identity)
		if getErr == nil && existing == nil {
			return models.ErrSessionNotFound
		}
		slog.Warn("SQLiteStore UpdateSession version conflict", "identity", sess.Identity, "version", sess.Version)
		return models.ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = now
	return nil
}

// DeleteSession removes the session row for an identity.
func (s *SQLiteStore) DeleteSession(identity string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE identity = ?`, identity)
	if err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete session for %s: %w", identity, err)
	}
	return nil
}

// ListSessions returns all stored sessions.
func (s *SQLiteStore) ListSessions() ([]*models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + sqliteSessionColumns + ` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("SQLiteStore ListSessions scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// ListExpiredManualSessions returns sessions with a lapsed non-forced manual deadline.
func (s *SQLiteStore) ListExpiredManualSessions(now time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(`
		SELECT `+sqliteSessionColumns+` FROM sessions
		WHERE mode = ? AND force_mode_manual = 0
		  AND manual_mode_until IS NOT NULL AND manual_mode_until <= ?`,
		models.ModeManual, now)
	if err != nil {
		slog.Error("SQLiteStore ListExpiredManualSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()
	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}

// GetProfileByIdentity retrieves a citizen profile, or nil if none exists.
func (s *SQLiteStore) GetProfileByIdentity(identity string) (*models.UserProfile, error) {
	row := s.db.QueryRow(`
		SELECT id, identity, name, sex, nik, address, report_ids_json, created_at, updated_at
		FROM profiles WHERE identity = ?`, identity)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfileByIdentity failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get profile for %s: %w", identity, err)
	}
	return p, nil
}

// CreateProfile inserts a new citizen profile.
func (s *SQLiteStore) CreateProfile(p *models.UserProfile) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (id, identity, name, sex, nik, address, report_ids_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Identity, p.Name, p.Sex, p.NIK, p.Address,
		nilIfEmpty(marshalJSON(p.ReportIDs)), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateProfile failed", "error", err, "identity", p.Identity)
		return fmt.Errorf("failed to create profile for %s: %w", p.Identity, err)
	}
	return nil
}

// SaveProfile updates an existing citizen profile.
func (s *SQLiteStore) SaveProfile(p *models.UserProfile) error {
	res, err := s.db.Exec(`
		UPDATE profiles SET name = ?, sex = ?, nik = ?, address = ?,
			report_ids_json = ?, updated_at = ?
		WHERE identity = ?`,
		p.Name, p.Sex, p.NIK, p.Address, nilIfEmpty(marshalJSON(p.ReportIDs)),
		time.Now(), p.Identity)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "identity", p.Identity)
		return fmt.Errorf("failed to save profile for %s: %w", p.Identity, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrProfileNotFound
	}
	return nil
}

// CreateReport atomically persists the report, its tindakan and the profile link.
func (s *SQLiteStore) CreateReport(r *models.Report, t *models.Tindakan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin report transaction: %w", err)
	}
	defer tx.Rollback()

	r.TindakanID = t.ID
	t.ReportID = r.ID

	_, err = tx.Exec(`
		INSERT INTO reports (id, public_id, identity, profile_id, message, latitude, longitude,
			location_desc, village, district, regency, photos_json, tindakan_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PublicID, r.Identity, r.ProfileID, r.Message, r.Latitude, r.Longitude,
		nilIfEmpty(r.LocationDesc), nilIfEmpty(r.Village), nilIfEmpty(r.District),
		nilIfEmpty(r.Regency), nilIfEmpty(marshalJSON(r.Photos)), r.TindakanID, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateReport insert report failed", "error", err, "reportID", r.ID)
		return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO tindakan (id, report_id, status, departments_json, priority, notes,
			reject_reason, feedback, feedback_cycle, rating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ReportID, t.Status, nilIfEmpty(marshalJSON(t.Departments)),
		nilIfEmpty(t.Priority), nilIfEmpty(t.Notes), nilIfEmpty(t.RejectReason),
		t.Feedback, t.FeedbackCycle, t.Rating, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateReport insert tindakan failed", "error", err, "tindakanID", t.ID)
		return fmt.Errorf("failed to insert tindakan %s: %w", t.ID, err)
	}

	var reportIDsJSON sql.NullString
	err = tx.QueryRow(`SELECT report_ids_json FROM profiles WHERE identity = ?`, r.Identity).
		Scan(&reportIDsJSON)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read profile for %s: %w", r.Identity, err)
	}
	if err == nil {
		var ids []string
		if reportIDsJSON.Valid && reportIDsJSON.String != "" {
			if uerr := unmarshalStringSlice(reportIDsJSON.String, &ids); uerr != nil {
				return uerr
			}
		}
		ids = append(ids, r.ID)
		if _, err := tx.Exec(`UPDATE profiles SET report_ids_json = ?, updated_at = ? WHERE identity = ?`,
			marshalJSON(ids), time.Now(), r.Identity); err != nil {
			return fmt.Errorf("failed to link report to profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report transaction: %w", err)
	}
	slog.Info("SQLiteStore CreateReport succeeded", "reportID", r.ID, "publicID", r.PublicID, "tindakanID", t.ID)
	return nil
}

// GetReportByPublicID retrieves a report by its citizen-facing ID, or nil.
func (s *SQLiteStore) GetReportByPublicID(publicID string) (*models.Report, error) {
	row := s.db.QueryRow(`
		SELECT id, public_id, identity, profile_id, message, latitude, longitude,
			location_desc, village, district, regency, photos_json, tindakan_id, created_at
		FROM reports WHERE public_id = ?`, publicID)
	return s.reportFromRow(row, publicID)
}

// GetReportByID retrieves a report by its internal ID, or nil.
func (s *SQLiteStore) GetReportByID(id string) (*models.Report, error) {
	row := s.db.QueryRow(`
		SELECT id, public_id, identity, profile_id, message, latitude, longitude,
			location_desc, village, district, regency, photos_json, tindakan_id, created_at
		FROM reports WHERE id = ?`, id)
	return s.reportFromRow(row, id)
}

func (s *SQLiteStore) reportFromRow(row *sql.Row, key string) (*models.Report, error) {
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore report lookup failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get report %s: %w", key, err)
	}
	return r, nil
}

// GetTindakanByID retrieves a tindakan, or nil if none exists.
func (s *SQLiteStore) GetTindakanByID(id string) (*models.Tindakan, error) {
	row := s.db.QueryRow(`
		SELECT id, report_id, status, departments_json, priority, notes, reject_reason,
			feedback, feedback_cycle, rating, created_at, updated_at
		FROM tindakan WHERE id = ?`, id)
	t, err := scanTindakan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetTindakanByID failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tindakan %s: %w", id, err)
	}
	return t, nil
}

// SaveTindakan updates an existing tindakan.
func (s *SQLiteStore) SaveTindakan(t *models.Tindakan) error {
	res, err := s.db.Exec(`
		UPDATE tindakan SET status = ?, departments_json = ?, priority = ?, notes = ?,
			reject_reason = ?, feedback = ?, feedback_cycle = ?, rating = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, nilIfEmpty(marshalJSON(t.Departments)), nilIfEmpty(t.Priority),
		nilIfEmpty(t.Notes), nilIfEmpty(t.RejectReason), t.Feedback, t.FeedbackCycle,
		t.Rating, time.Now(), t.ID)
	if err != nil {
		slog.Error("SQLiteStore SaveTindakan failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to save tindakan %s: %w", t.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrTindakanNotFound
	}
	return nil
}

// SaveReport updates an existing report.
func (s *SQLiteStore) SaveReport(r *models.Report) error {
	res, err := s.db.Exec(`
		UPDATE reports SET message = ?, latitude = ?, longitude = ?, location_desc = ?,
			village = ?, district = ?, regency = ?, photos_json = ?
		WHERE id = ?`,
		r.Message, r.Latitude, r.Longitude, nilIfEmpty(r.LocationDesc),
		nilIfEmpty(r.Village), nilIfEmpty(r.District), nilIfEmpty(r.Regency),
		nilIfEmpty(marshalJSON(r.Photos)), r.ID)
	if err != nil {
		slog.Error("SQLiteStore SaveReport failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrReportNotFound
	}
	return nil
}

// EraseCitizenData removes every record tied to the identity in one transaction.
func (s *SQLiteStore) EraseCitizenData(identity string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin erasure transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM tindakan WHERE report_id IN (SELECT id FROM reports WHERE identity = ?)`, identity); err != nil {
		return fmt.Errorf("failed to erase tindakan for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM reports WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to erase reports for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM profiles WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to erase profile for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE identity = ?`, identity); err != nil {
		return fmt.Errorf("failed to erase session for %s: %w", identity, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit erasure transaction: %w", err)
	}
	slog.Info("SQLiteStore EraseCitizenData succeeded", "identity", identity)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
