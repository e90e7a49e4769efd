// Package store provides storage backends for LaporBot.
//
// It persists citizen sessions, profiles, reports and their tindakan triage
// records, with Postgres and SQLite implementations plus an in-memory store
// for tests.
package store

import (
	"strings"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
)

// Store is the persistence contract consumed by the dialogue engine, the mode
// arbiter and the admin API.
//
// Session mutations use optimistic concurrency: UpdateSession only applies
// when the caller's Version matches the stored row, so two concurrent
// read-modify-write cycles for the same identity cannot both win. Callers
// that lose receive models.ErrVersionConflict and are expected to re-read.
type Store interface {
	// GetSession returns the session for an identity, or nil if none exists.
	GetSession(identity string) (*models.Session, error)
	// CreateDefaultSession creates and returns the default session for a
	// fresh identity.
	CreateDefaultSession(identity string) (*models.Session, error)
	// UpdateSession persists the session if its Version still matches the
	// stored row, then bumps Version. Returns models.ErrVersionConflict on a
	// lost race and models.ErrSessionNotFound if the row is gone.
	UpdateSession(s *models.Session) error
	// DeleteSession removes the session row.
	DeleteSession(identity string) error
	// ListSessions returns all sessions (admin surface).
	ListSessions() ([]*models.Session, error)
	// ListExpiredManualSessions returns sessions whose non-forced manual
	// deadline has passed, for the periodic sweep.
	ListExpiredManualSessions(now time.Time) ([]*models.Session, error)

	// GetProfileByIdentity returns the profile for an identity, or nil.
	GetProfileByIdentity(identity string) (*models.UserProfile, error)
	// CreateProfile persists a new citizen profile.
	CreateProfile(p *models.UserProfile) error
	// SaveProfile updates an existing citizen profile.
	SaveProfile(p *models.UserProfile) error

	// CreateReport atomically persists a report together with its default
	// tindakan, links both ways, and appends the report to the owning
	// profile's history.
	CreateReport(r *models.Report, t *models.Tindakan) error
	// GetReportByPublicID returns the report for a public ID, or nil.
	GetReportByPublicID(publicID string) (*models.Report, error)
	// GetReportByID returns the report for an internal ID, or nil.
	GetReportByID(id string) (*models.Report, error)
	// GetTindakanByID returns the tindakan for an ID, or nil.
	GetTindakanByID(id string) (*models.Tindakan, error)
	// SaveTindakan updates an existing tindakan.
	SaveTindakan(t *models.Tindakan) error
	// SaveReport updates an existing report.
	SaveReport(r *models.Report) error

	// EraseCitizenData removes the session, profile, reports and tindakan for
	// an identity. Explicit citizen-data erasure is the only hard delete.
	EraseCitizenData(identity string) error

	// Close releases the backend.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for URL-style Postgres DSNs and "sqlite"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
