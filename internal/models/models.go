// Package models defines the core data structures for LaporBot.
//
// It includes the citizen session, inbound event and reply payloads, which are
// shared across modules.
package models

import (
	"errors"
	"time"
)

// Action identifies which top-level dialogue flow is active for a session.
type Action string

const (
	// ActionNone means no flow is active; the session sits at the main menu.
	ActionNone Action = "none"
	// ActionSignup is the citizen registration flow.
	ActionSignup Action = "signup"
	// ActionCreateReport is the complaint submission flow.
	ActionCreateReport Action = "create_report"
	// ActionCheckReport is the report status lookup flow.
	ActionCheckReport Action = "check_report"
)

// IsValidAction checks if the given action is supported.
func IsValidAction(a Action) bool {
	switch a {
	case ActionNone, ActionSignup, ActionCreateReport, ActionCheckReport:
		return true
	default:
		return false
	}
}

// Step identifies the position within the active flow's state machine.
type Step string

const (
	// StepMainMenu is the resting step when no flow is active.
	StepMainMenu Step = "MAIN_MENU"

	// Signup flow steps.
	StepAskName     Step = "ASK_NAME"
	StepAskSex      Step = "ASK_SEX"
	StepAskNIK      Step = "ASK_NIK"
	StepAskAddress  Step = "ASK_ADDRESS"
	StepConfirmData Step = "CONFIRM_DATA"

	// Create-report flow steps.
	StepAskMessage      Step = "ASK_MESSAGE"
	StepAppendMessage   Step = "APPEND_MESSAGE"
	StepConfirmMessage  Step = "CONFIRM_MESSAGE"
	StepAskLocation     Step = "ASK_LOCATION"
	StepConfirmLocation Step = "CONFIRM_LOCATION"
	StepAskPhoto        Step = "ASK_PHOTO"
	StepReview          Step = "REVIEW"

	// Check-report flow step.
	StepAskReportID Step = "ASK_REPORT_ID"

	// StepWaitingForRating is entered after a citizen confirms satisfaction
	// and before the 1-5 star rating is captured.
	StepWaitingForRating Step = "WAITING_FOR_RATING"
)

// SessionMode is the admin-set/system-set base responder mode, before
// timeout and force-override adjustment.
type SessionMode string

const (
	// ModeBot means the automated engine answers inbound messages.
	ModeBot SessionMode = "bot"
	// ModeManual means a human admin answers; automated replies are suppressed.
	ModeManual SessionMode = "manual"
)

// IsValidSessionMode checks if the given mode is supported.
func IsValidSessionMode(m SessionMode) bool {
	return m == ModeBot || m == ModeManual
}

// SessionStatus tracks whether a session has an in-flight dialogue.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusDone       SessionStatus = "done"
)

// Validation constants for flow input.
const (
	// NIKLength is the exact digit count of an Indonesian national ID.
	NIKLength = 16
	// MaxReportPhotos is the photo evidence cap per report.
	MaxReportPhotos = 3
	// MinRating and MaxRating bound the satisfaction rating scale.
	MinRating = 1
	MaxRating = 5
	// MaxManualMinutes bounds timed manual mode to one day.
	MaxManualMinutes = 1440
)

// Error variables for validation failures shared across modules.
var (
	ErrEmptyIdentity      = errors.New("identity cannot be empty")
	ErrInvalidNIK         = errors.New("NIK must be exactly 16 digits")
	ErrInvalidSex         = errors.New("sex must be pria or wanita")
	ErrInvalidRating      = errors.New("rating must be an integer between 1 and 5")
	ErrInvalidMinutes     = errors.New("minutes must be in range (0, 1440]")
	ErrInvalidMode        = errors.New("mode must be bot or manual")
	ErrForceModeActive    = errors.New("force mode active, cannot change mode")
	ErrSessionNotFound    = errors.New("session not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrReportNotFound     = errors.New("report not found")
	ErrTindakanNotFound   = errors.New("tindakan not found")
	ErrVersionConflict    = errors.New("session modified concurrently, retry")
	ErrOutsideServiceArea = errors.New("location outside service area")
)

// SignupData holds in-progress registration fields.
type SignupData struct {
	Name    string `json:"name,omitempty"`
	Sex     string `json:"sex,omitempty"`
	NIK     string `json:"nik,omitempty"`
	Address string `json:"address,omitempty"`
}

// PhotoRef references one piece of uploaded photo evidence.
type PhotoRef struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// ReportData holds in-progress complaint fields.
type ReportData struct {
	Lines        []string   `json:"lines,omitempty"` // accumulated complaint text
	Latitude     float64    `json:"latitude,omitempty"`
	Longitude    float64    `json:"longitude,omitempty"`
	LocationDesc string     `json:"location_desc,omitempty"`
	Village      string     `json:"village,omitempty"`
	District     string     `json:"district,omitempty"`
	Regency      string     `json:"regency,omitempty"`
	Photos       []PhotoRef `json:"photos,omitempty"`
}

// SessionData is the flow-scoped scratch area. Exactly one of the fields is
// populated while the matching flow is active; both are nil at the main menu.
type SessionData struct {
	Signup *SignupData `json:"signup,omitempty"`
	Report *ReportData `json:"report,omitempty"`
}

// Session is the per-citizen dialogue record, keyed by sender identity.
type Session struct {
	Identity      string        `json:"identity"`
	CurrentAction Action        `json:"current_action"`
	Step          Step          `json:"step"`
	Data          SessionData   `json:"data"`
	Status        SessionStatus `json:"status"`
	Mode          SessionMode   `json:"mode"`
	// ManualModeUntil is the deadline after which non-forced manual mode
	// reverts to bot. Checked lazily on read.
	ManualModeUntil *time.Time `json:"manual_mode_until,omitempty"`
	// ForceModeManual is a hard override; while true the effective mode is
	// always manual regardless of any deadline.
	ForceModeManual bool `json:"force_mode_manual"`
	// SavedTimeoutSnapshot holds a ManualModeUntil value displaced by force
	// mode activation, for restoration on deactivation.
	SavedTimeoutSnapshot *time.Time `json:"saved_timeout_snapshot,omitempty"`
	// PendingFeedback lists tindakan IDs awaiting the citizen's puas/belum
	// confirmation, oldest first.
	PendingFeedback []string `json:"pending_feedback,omitempty"`
	// Version supports optimistic concurrency on the stored document.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDefaultSession returns the session a fresh identity starts with.
func NewDefaultSession(identity string) *Session {
	now := time.Now()
	return &Session{
		Identity:      identity,
		CurrentAction: ActionNone,
		Step:          StepMainMenu,
		Status:        SessionStatusDone,
		Mode:          ModeBot,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ResetFlow restores the session to the default step/action/data while
// preserving the mode fields and pending feedback queue.
func (s *Session) ResetFlow() {
	s.CurrentAction = ActionNone
	s.Step = StepMainMenu
	s.Data = SessionData{}
	s.Status = SessionStatusDone
}

// EventKind distinguishes normalized inbound message payloads.
type EventKind string

const (
	EventKindText     EventKind = "text"
	EventKindLocation EventKind = "location"
	EventKindImage    EventKind = "image"
)

// LocationPayload is a structured location share.
type LocationPayload struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
}

// ImagePayload is a structured image attachment with a resolved URL.
type ImagePayload struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// InboundEvent is one normalized inbound message, produced upstream from raw
// webhook/channel payloads.
type InboundEvent struct {
	Identity string           `json:"identity"`
	Kind     EventKind        `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Location *LocationPayload `json:"location,omitempty"`
	Image    *ImagePayload    `json:"image,omitempty"`
	Time     int64            `json:"time"`
}

// MediaPayload is a structured media-send instruction for the reply channel.
type MediaPayload struct {
	Type    string `json:"type"`
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

// Reply is the single outbound payload a handler may produce per inbound
// event. Delivery and retries belong to the messaging service.
type Reply struct {
	Text  string        `json:"text,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
}

// TextReply builds a plain text reply.
func TextReply(text string) *Reply {
	return &Reply{Text: text}
}
