// Package store provides storage backends for LaporBot.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/LaporKota/LaporBot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

const postgresSessionColumns = `identity, current_action, step, data_json, status, mode,
	manual_mode_until, force_mode_manual, saved_timeout_snapshot, pending_feedback_json,
	version, created_at, updated_at`

// GetSession retrieves the session for an identity, or nil if none exists.
func (s *PostgresStore) GetSession(identity string) (*models.Session, error) {
	row := s.db.QueryRow(`SELECT `+postgresSessionColumns+` FROM sessions WHERE identity = $1`, identity)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "identity", identity)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get session for %s: %w", identity, err)
	}
	return sess, nil
}

// CreateDefaultSession inserts the default session for a fresh identity.
// If a concurrent insert wins the race, the stored session is returned.
func (s *PostgresStore) CreateDefaultSession(identity string) (*models.Session, error) {
	if identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	sess := models.NewDefaultSession(identity)
	_, err := s.db.Exec(`
		INSERT INTO sessions (`+postgresSessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (identity) DO NOTHING`,
		sess.Identity, sess.CurrentAction, sess.Step, nilIfEmpty(marshalJSON(sess.Data)),
		sess.Status, sess.Mode, sess.ManualModeUntil, sess.ForceModeManual,
		sess.SavedTimeoutSnapshot, nilIfEmpty(marshalJSON(sess.PendingFeedback)),
		sess.Version, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateDefaultSession failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to create session for %s: %w", identity, err)
	}
	slog.Debug("PostgresStore CreateDefaultSession succeeded", "identity", identity)
	return s.GetSession(identity)
}

// UpdateSession applies the session under an optimistic version check.
func (s *PostgresStore) UpdateSession(sess *models.Session) error {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE sessions SET current_action = $1, step = $2, data_json = $3, status = $4,
			mode = $5, manual_mode_until = $6, force_mode_manual = $7,
			saved_timeout_snapshot = $8, pending_feedback_json = $9,
			version = version + 1, updated_at = $10
		WHERE identity = $11 AND version = $12`,
		sess.CurrentAction, sess.Step, nilIfEmpty(marshalJSON(sess.Data)), sess.Status,
		sess.Mode, sess.ManualModeUntil, sess.ForceModeManual,
		sess.SavedTimeoutSnapshot, nilIfEmpty(marshalJSON(sess.PendingFeedback)),
		now, sess.Identity, sess.Version)
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "identity", sess.Identity)
		return fmt.Errorf("failed to update session for %s: %w", sess.Identity, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", sess.Identity, err)
	}
	if affected == 0 {
		// Either the row is gone or another writer bumped the version first.
		existing, getErr := s.GetSession(sess.Identity)
		if getErr == nil && existing == nil {
			return models.ErrSessionNotFound
		}
		slog.Warn("PostgresStore UpdateSession version conflict", "identity", sess.Identity, "version", sess.Version)
		return models.ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = now
	return nil
}

// DeleteSession removes the session row for an identity.
func (s *PostgresStore) DeleteSession(identity string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE identity = $1`, identity)
	if err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to delete session for %s: %w", identity, err)
	}
	return nil
}

// ListSessions returns all stored sessions.
func (s *PostgresStore) ListSessions() ([]*models.Session, error) {
	rows, err := s.db.Query(`SELECT ` + postgresSessionColumns + ` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		slog.Error("PostgresStore ListSessions query failed", "error", err)
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()
	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			slog.Error("PostgresStore ListSessions scan failed", "error", err)
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
func (s *PostgresStore) ListExpiredManualSessions(now time.Time) ([]*models.Session, error) {
	rows, err := s.db.Query(`
		SELECT `+postgresSessionColumns+` FROM sessions
		WHERE mode = $1 AND force_mode_manual = FALSE
		  AND manual_mode_until IS NOT NULL AND manual_mode_until <= $2`,
		models.ModeManual, now)
	if err != nil {
		slog.Error("PostgresStore ListExpiredManualSessions query failed", "error", err)
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
func (s *PostgresStore) GetProfileByIdentity(identity string) (*models.UserProfile, error) {
	row := s.db.QueryRow(`
		SELECT id, identity, name, sex, nik, address, report_ids_json, created_at, updated_at
		FROM profiles WHERE identity = $1`, identity)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfileByIdentity failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to get profile for %s: %w", identity, err)
	}
	return p, nil
}

// CreateProfile inserts a new citizen profile.
func (s *PostgresStore) CreateProfile(p *models.UserProfile) error {
	_, err := s.db.Exec(`
		INSERT INTO profiles (id, identity, name, sex, nik, address, report_ids_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Identity, p.Name, p.Sex, p.NIK, p.Address,
		nilIfEmpty(marshalJSON(p.ReportIDs)), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateProfile failed", "error", err, "identity", p.Identity)
		return fmt.Errorf("failed to create profile for %s: %w", p.Identity, err)
	}
	slog.Debug("PostgresStore CreateProfile succeeded", "identity", p.Identity)
	return nil
}

// SaveProfile updates an existing citizen profile.
func (s *PostgresStore) SaveProfile(p *models.UserProfile) error {
	res, err := s.db.Exec(`
		UPDATE profiles SET name = $1, sex = $2, nik = $3, address = $4,
			report_ids_json = $5, updated_at = $6
		WHERE identity = $7`,
		p.Name, p.Sex, p.NIK, p.Address, nilIfEmpty(marshalJSON(p.ReportIDs)),
		time.Now(), p.Identity)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "identity", p.Identity)
		return fmt.Errorf("failed to save profile for %s: %w", p.Identity, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrProfileNotFound
	}
	return nil
}

// CreateReport atomically persists the report, its tindakan and the profile link.
func (s *PostgresStore) CreateReport(r *models.Report, t *models.Tindakan) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.PublicID, r.Identity, r.ProfileID, r.Message, r.Latitude, r.Longitude,
		nilIfEmpty(r.LocationDesc), nilIfEmpty(r.Village), nilIfEmpty(r.District),
		nilIfEmpty(r.Regency), nilIfEmpty(marshalJSON(r.Photos)), r.TindakanID, r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateReport insert report failed", "error", err, "reportID", r.ID)
		return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
	}

	_, err = tx.Exec(`
		INSERT INTO tindakan (id, report_id, status, departments_json, priority, notes,
			reject_reason, feedback, feedback_cycle, rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.ReportID, t.Status, nilIfEmpty(marshalJSON(t.Departments)),
		nilIfEmpty(t.Priority), nilIfEmpty(t.Notes), nilIfEmpty(t.RejectReason),
		t.Feedback, t.FeedbackCycle, t.Rating, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateReport insert tindakan failed", "error", err, "tindakanID", t.ID)
		return fmt.Errorf("failed to insert tindakan %s: %w", t.ID, err)
	}

	// Append the report to the owning profile's history inside the same
	// transaction so the report-history list cannot drift.
	var reportIDsJSON sql.NullString
	err = tx.QueryRow(`SELECT report_ids_json FROM profiles WHERE identity = $1 FOR UPDATE`, r.Identity).
		Scan(&reportIDsJSON)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to lock profile for %s: %w", r.Identity, err)
	}
	if err == nil {
		var ids []string
		if reportIDsJSON.Valid && reportIDsJSON.String != "" {
			if uerr := unmarshalStringSlice(reportIDsJSON.String, &ids); uerr != nil {
				return uerr
			}
		}
		ids = append(ids, r.ID)
		if _, err := tx.Exec(`UPDATE profiles SET report_ids_json = $1, updated_at = $2 WHERE identity = $3`,
			marshalJSON(ids), time.Now(), r.Identity); err != nil {
			return fmt.Errorf("failed to link report to profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit report transaction: %w", err)
	}
	slog.Info("PostgresStore CreateReport succeeded", "reportID", r.ID, "publicID", r.PublicID, "tindakanID", t.ID)
	return nil
}

// GetReportByPublicID retrieves a report by its citizen-facing ID, or nil.
func (s *PostgresStore) GetReportByPublicID(publicID string) (*models.Report, error) {
	row := s.db.QueryRow(`
		SELECT id, public_id, identity, profile_id, message, latitude, longitude,
			location_desc, village, district, regency, photos_json, tindakan_id, created_at
		FROM reports WHERE public_id = $1`, publicID)
	return s.reportFromRow(row, publicID)
}

// GetReportByID retrieves a report by its internal ID, or nil.
func (s *PostgresStore) GetReportByID(id string) (*models.Report, error) {
	row := s.db.QueryRow(`
		SELECT id, public_id, identity, profile_id, message, latitude, longitude,
			location_desc, village, district, regency, photos_json, tindakan_id, created_at
		FROM reports WHERE id = $1`, id)
	return s.reportFromRow(row, id)
}

func (s *PostgresStore) reportFromRow(row *sql.Row, key string) (*models.Report, error) {
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore report lookup failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get report %s: %w", key, err)
	}
	return r, nil
}

// GetTindakanByID retrieves a tindakan, or nil if none exists.
func (s *PostgresStore) GetTindakanByID(id string) (*models.Tindakan, error) {
	row := s.db.QueryRow(`
		SELECT id, report_id, status, departments_json, priority, notes, reject_reason,
			feedback, feedback_cycle, rating, created_at, updated_at
		FROM tindakan WHERE id = $1`, id)
	t, err := scanTindakan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetTindakanByID failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tindakan %s: %w", id, err)
	}
	return t, nil
}

// SaveTindakan updates an existing tindakan.
func (s *PostgresStore) SaveTindakan(t *models.Tindakan) error {
	res, err := s.db.Exec(`
		UPDATE tindakan SET status = $1, departments_json = $2, priority = $3, notes = $4,
			reject_reason = $5, feedback = $6, feedback_cycle = $7, rating = $8, updated_at = $9
		WHERE id = $10`,
		t.Status, nilIfEmpty(marshalJSON(t.Departments)), nilIfEmpty(t.Priority),
		nilIfEmpty(t.Notes), nilIfEmpty(t.RejectReason), t.Feedback, t.FeedbackCycle,
		t.Rating, time.Now(), t.ID)
	if err != nil {
		slog.Error("PostgresStore SaveTindakan failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to save tindakan %s: %w", t.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrTindakanNotFound
	}
	return nil
}

// SaveReport updates an existing report.
func (s *PostgresStore) SaveReport(r *models.Report) error {
	res, err := s.db.Exec(`
		UPDATE reports SET message = $1, latitude = $2, longitude = $3, location_desc = $4,
			village = $5, district = $6, regency = $7, photos_json = $8
		WHERE id = $9`,
		r.Message, r.Latitude, r.Longitude, nilIfEmpty(r.LocationDesc),
		nilIfEmpty(r.Village), nilIfEmpty(r.District), nilIfEmpty(r.Regency),
		nilIfEmpty(marshalJSON(r.Photos)), r.ID)
	if err != nil {
		slog.Error("PostgresStore SaveReport failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to save report %s: %w", r.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ErrReportNotFound
	}
	return nil
}

// EraseCitizenData removes every record tied to the identity in one transaction.
func (s *PostgresStore) EraseCitizenData(identity string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin erasure transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM tindakan WHERE report_id IN (SELECT id FROM reports WHERE identity = $1)`, identity); err != nil {
		return fmt.Errorf("failed to erase tindakan for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM reports WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to erase reports for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM profiles WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to erase profile for %s: %w", identity, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE identity = $1`, identity); err != nil {
		return fmt.Errorf("failed to erase session for %s: %w", identity, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit erasure transaction: %w", err)
	}
	slog.Info("PostgresStore EraseCitizenData succeeded", "identity", identity)
	return nil
}

// Close closes the Postgres connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
