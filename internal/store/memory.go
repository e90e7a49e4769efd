package store

import (
	"sync"
	"time"

	"github.com/LaporKota/LaporBot/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store, used in tests and small
// single-process deployments.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	profiles map[string]*models.UserProfile // keyed by identity
	reports  map[string]*models.Report      // keyed by internal ID
	tindakan map[string]*models.Tindakan    // keyed by ID
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.Session),
		profiles: make(map[string]*models.UserProfile),
		reports:  make(map[string]*models.Report),
		tindakan: make(map[string]*models.Tindakan),
	}
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	if s.ManualModeUntil != nil {
		t := *s.ManualModeUntil
		c.ManualModeUntil = &t
	}
	if s.SavedTimeoutSnapshot != nil {
		t := *s.SavedTimeoutSnapshot
		c.SavedTimeoutSnapshot = &t
	}
	c.PendingFeedback = append([]string(nil), s.PendingFeedback...)
	if s.Data.Signup != nil {
		d := *s.Data.Signup
		c.Data.Signup = &d
	}
	if s.Data.Report != nil {
		d := *s.Data.Report
		d.Lines = append([]string(nil), s.Data.Report.Lines...)
		d.Photos = append([]models.PhotoRef(nil), s.Data.Report.Photos...)
		c.Data.Report = &d
	}
	return &c
}

// GetSession returns a copy of the stored session, or nil if none exists.
func (s *InMemoryStore) GetSession(identity string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[identity]
	if !ok {
		return nil, nil
	}
	return cloneSession(sess), nil
}

// CreateDefaultSession creates and returns the default session for identity.
func (s *InMemoryStore) CreateDefaultSession(identity string) (*models.Session, error) {
	if identity == "" {
		return nil, models.ErrEmptyIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[identity]; ok {
		return cloneSession(existing), nil
	}
	sess := models.NewDefaultSession(identity)
	s.sessions[identity] = sess
	return cloneSession(sess), nil
}

// UpdateSession applies the session if the caller's version still matches.
func (s *InMemoryStore) UpdateSession(sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.Identity]
	if !ok {
		return models.ErrSessionNotFound
	}
	if stored.Version != sess.Version {
		return models.ErrVersionConflict
	}
	c := cloneSession(sess)
	c.Version++
	c.UpdatedAt = time.Now()
	s.sessions[sess.Identity] = c
	sess.Version = c.Version
	sess.UpdatedAt = c.UpdatedAt
	return nil
}

// DeleteSession removes the session for identity.
func (s *InMemoryStore) DeleteSession(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity)
	return nil
}

// ListSessions returns copies of all sessions.
func (s *InMemoryStore) ListSessions() ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out, nil
}

// ListExpiredManualSessions returns sessions with a lapsed non-forced manual deadline.
func (s *InMemoryStore) ListExpiredManualSessions(now time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Mode == models.ModeManual && !sess.ForceModeManual &&
			sess.ManualModeUntil != nil && !now.Before(*sess.ManualModeUntil) {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

// GetProfileByIdentity returns the profile for identity, or nil.
func (s *InMemoryStore) GetProfileByIdentity(identity string) (*models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[identity]
	if !ok {
		return nil, nil
	}
	c := *p
	c.ReportIDs = append([]string(nil), p.ReportIDs...)
	return &c, nil
}

// CreateProfile persists a new citizen profile.
func (s *InMemoryStore) CreateProfile(p *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles[p.Identity] = &c
	return nil
}

// SaveProfile updates an existing citizen profile.
func (s *InMemoryStore) SaveProfile(p *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.Identity]; !ok {
		return models.ErrProfileNotFound
	}
	c := *p
	c.ReportIDs = append([]string(nil), p.ReportIDs...)
	s.profiles[p.Identity] = &c
	return nil
}

// CreateReport atomically stores the report, its tindakan, and the profile link.
func (s *InMemoryStore) CreateReport(r *models.Report, t *models.Tindakan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.TindakanID = t.ID
	t.ReportID = r.ID
	rc := *r
	rc.Photos = append([]models.PhotoRef(nil), r.Photos...)
	tc := *t
	s.reports[r.ID] = &rc
	s.tindakan[t.ID] = &tc
	if p, ok := s.profiles[r.Identity]; ok {
		p.ReportIDs = append(p.ReportIDs, r.ID)
		p.UpdatedAt = time.Now()
	}
	return nil
}

// GetReportByPublicID returns the report with the given public ID, or nil.
func (s *InMemoryStore) GetReportByPublicID(publicID string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.PublicID == publicID {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

// GetReportByID returns the report with the given internal ID, or nil.
func (s *InMemoryStore) GetReportByID(id string) (*models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

// GetTindakanByID returns the tindakan with the given ID, or nil.
func (s *InMemoryStore) GetTindakanByID(id string) (*models.Tindakan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tindakan[id]
	if !ok {
		return nil, nil
	}
	c := *t
	c.Departments = append([]string(nil), t.Departments...)
	return &c, nil
}

// SaveTindakan updates an existing tindakan.
func (s *InMemoryStore) SaveTindakan(t *models.Tindakan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tindakan[t.ID]; !ok {
		return models.ErrTindakanNotFound
	}
	c := *t
	c.Departments = append([]string(nil), t.Departments...)
	c.UpdatedAt = time.Now()
	s.tindakan[t.ID] = &c
	return nil
}

// SaveReport updates an existing report.
func (s *InMemoryStore) SaveReport(r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ID]; !ok {
		return models.ErrReportNotFound
	}
	c := *r
	c.Photos = append([]models.PhotoRef(nil), r.Photos...)
	s.reports[r.ID] = &c
	return nil
}

// EraseCitizenData removes every record tied to the identity.
func (s *InMemoryStore) EraseCitizenData(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity)
	delete(s.profiles, identity)
	for id, r := range s.reports {
		if r.Identity == identity {
			delete(s.tindakan, r.TindakanID)
			delete(s.reports, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
