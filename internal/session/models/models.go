package models

import (
	"time"

	id "verigate/pkg/domain"
)

// Status is the lifecycle status of an interactive verification session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
)

// LiveStatuses are the statuses a session can leave.
var LiveStatuses = []Status{StatusPending, StatusActive}

// TerminalStatuses are final. A session never leaves them.
var TerminalStatuses = []Status{StatusExpired, StatusTerminated}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusTerminated
}

// Session is one hosted verification flow, addressed externally by Token.
type Session struct {
	ID             id.SessionID
	Token          string
	OrganizationID id.OrganizationID
	// VerificationID is nil until the session is bound to a request.
	VerificationID id.VerificationID
	Status         Status
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TerminatedAt   *time.Time
}

// NewSession builds a pending session that expires ttl after now.
func NewSession(token string, orgID id.OrganizationID, verificationID id.VerificationID, ttl time.Duration, now time.Time) *Session {
	return &Session{
		ID:             id.NewSessionID(),
		Token:          token,
		OrganizationID: orgID,
		VerificationID: verificationID,
		Status:         StatusPending,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsExpiredAt reports whether the deadline has passed, whatever the status.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a copy that does not share TerminatedAt.
func (s *Session) Clone() *Session {
	c := *s
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}

// ExpirationStats is a point-in-time view for dashboards. Active counts
// every live status; ExpiringSoon counts live sessions whose deadline falls
// inside the look-ahead window.
type ExpirationStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Expired      int `json:"expired"`
	Terminated   int `json:"terminated"`
	ExpiringSoon int `json:"expiring_soon"`
}
