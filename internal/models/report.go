package models

import (
	"time"
)

// UserProfile is the long-lived registered-citizen record, referenced by
// identity. Sessions may exist before a profile does.
type UserProfile struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Name      string    `json:"name"`
	Sex       string    `json:"sex"`
	NIK       string    `json:"nik"`
	Address   string    `json:"address"`
	ReportIDs []string  `json:"report_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TindakanStatus is the closed staff-side triage status enum.
//
// Transitions:
//
//	needs_verification -> processing | rejected
//	processing         -> resolved_awaiting_confirmation | rejected
//	resolved_awaiting_confirmation -> closed (puas, or second belum)
//	resolved_awaiting_confirmation -> processing (first belum)
//	rejected, closed   -> terminal
type TindakanStatus string

const (
	// TindakanStatusNeedsVerification is the default for newly created reports.
	TindakanStatusNeedsVerification TindakanStatus = "needs_verification"
	// TindakanStatusProcessing means staff are working the complaint.
	TindakanStatusProcessing TindakanStatus = "processing"
	// TindakanStatusAwaitingConfirmation means staff consider the complaint
	// resolved and the citizen's puas/belum confirmation is pending.
	TindakanStatusAwaitingConfirmation TindakanStatus = "resolved_awaiting_confirmation"
	// TindakanStatusClosed is the terminal resolved state.
	TindakanStatusClosed TindakanStatus = "closed"
	// TindakanStatusRejected is the terminal closed-without-resolution state.
	TindakanStatusRejected TindakanStatus = "rejected"
)

// IsValidTindakanStatus checks if the given status is part of the closed enum.
func IsValidTindakanStatus(s TindakanStatus) bool {
	switch s {
	case TindakanStatusNeedsVerification, TindakanStatusProcessing,
		TindakanStatusAwaitingConfirmation, TindakanStatusClosed, TindakanStatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s TindakanStatus) IsTerminal() bool {
	return s == TindakanStatusClosed || s == TindakanStatusRejected
}

// FeedbackStatus tracks the citizen-confirmation handshake on a tindakan.
type FeedbackStatus string

const (
	// FeedbackStatusNone means no confirmation has been requested yet.
	FeedbackStatusNone FeedbackStatus = "none"
	// FeedbackStatusAsked means the puas/belum question was sent.
	FeedbackStatusAsked FeedbackStatus = "asked"
	// FeedbackStatusSatisfied means the citizen answered puas.
	FeedbackStatusSatisfied FeedbackStatus = "answered_satisfied"
	// FeedbackStatusUnsatisfied means the citizen answered belum.
	FeedbackStatusUnsatisfied FeedbackStatus = "answered_unsatisfied"
	// FeedbackStatusClosed means the handshake is finished.
	FeedbackStatusClosed FeedbackStatus = "closed"
)

// FeedbackCycle tags how many reopen cycles a tindakan has left. One free
// reprocessing cycle is granted; after that, further dissatisfaction
// auto-resolves rather than looping forever.
type FeedbackCycle string

const (
	// FeedbackCycleFirst means the free reprocessing cycle is still available.
	FeedbackCycleFirst FeedbackCycle = "first"
	// FeedbackCycleExhausted means the free cycle was already used.
	FeedbackCycleExhausted FeedbackCycle = "exhausted"
)

// Tindakan is the staff action/triage record attached 1:1 to a Report.
type Tindakan struct {
	ID            string         `json:"id"`
	ReportID      string         `json:"report_id"`
	Status        TindakanStatus `json:"status"`
	Departments   []string       `json:"departments,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	RejectReason  string         `json:"reject_reason,omitempty"`
	Feedback      FeedbackStatus `json:"feedback"`
	FeedbackCycle FeedbackCycle  `json:"feedback_cycle"`
	// Rating is the 1-5 satisfaction score; 0 until captured.
	Rating    int       `json:"rating,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report is a citizen-submitted complaint record plus a cross-reference to
// its tindakan.
type Report struct {
	ID       string `json:"id"`
	PublicID string `json:"public_id"` // short identifier citizens use for lookups
	Identity string `json:"identity"`
	// ProfileID references the reporting citizen's profile.
	ProfileID    string     `json:"profile_id"`
	Message      string     `json:"message"`
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	LocationDesc string     `json:"location_desc,omitempty"`
	Village      string     `json:"village,omitempty"`
	District     string     `json:"district,omitempty"`
	Regency      string     `json:"regency,omitempty"`
	Photos       []PhotoRef `json:"photos,omitempty"`
	TindakanID   string     `json:"tindakan_id"`
	CreatedAt    time.Time  `json:"created_at"`
}

// APIStatus represents the status of an admin API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusDeclined indicates a mode mutation was declined by policy.
	APIStatusDeclined APIStatus = "declined"
)

// APIResponse represents a standard admin API response envelope.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Declined creates a declined API response with the policy reason.
func Declined(reason string) APIResponse {
	return APIResponse{Status: string(APIStatusDeclined), Message: reason}
}
