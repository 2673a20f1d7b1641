package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "verigate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that settle disputes about an outcome.
	// Every verification state change is compliance-relevant.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to abuse monitoring.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine events useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category       EventCategory
	Timestamp      time.Time
	VerificationID id.VerificationID
	// Subject identifies the affected entity when it is not a verification
	// (for example a session id).
	Subject string
	Action  string
	// FromState, ToState and Trigger describe a state transition.
	FromState string
	ToState   string
	Trigger   string
	Reason    string
	// RequestID is the correlation ID from the request context.
	RequestID string
	// ActorID tracks who performed the action ("system" for background jobs).
	ActorID string
}

type AuditEvent string

const (
	// Verification events
	EventVerificationCreated      AuditEvent = "verification_created"
	EventVerificationTransitioned AuditEvent = "verification_transitioned"
	EventVerificationStepFailed   AuditEvent = "verification_step_failed"

	// Session events
	EventSessionStarted    AuditEvent = "session_started"
	EventSessionActivated  AuditEvent = "session_activated"
	EventSessionTerminated AuditEvent = "session_terminated"
	EventSessionsExpired   AuditEvent = "sessions_expired"
	EventSessionsPurged    AuditEvent = "sessions_purged"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationCreated:      CategoryCompliance,
	EventVerificationTransitioned: CategoryCompliance,
	EventSessionTerminated:        CategorySecurity,
	EventVerificationStepFailed:   CategoryOperations,
	EventSessionStarted:           CategoryOperations,
	EventSessionActivated:         CategoryOperations,
	EventSessionsExpired:          CategoryOperations,
	EventSessionsPurged:           CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByVerification(ctx context.Context, verificationID id.VerificationID) ([]Event, error)
}

// OutboxEntry is a queued audit event awaiting relay to the message bus.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}
