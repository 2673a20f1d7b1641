package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "verigate/pkg/domain"
	audit "verigate/pkg/platform/audit"
	txcontext "verigate/pkg/platform/tx"
)

// Store implements audit.Store with a queryable audit_events table plus the
// transactional outbox. Both rows join the caller's transaction when one is
// present in ctx, so an audit row commits with the state change it describes.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// outboxPayload is the JSON structure relayed to Kafka.
type outboxPayload struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Timestamp      string `json:"timestamp"`
	VerificationID string `json:"verification_id,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Action         string `json:"action"`
	FromState      string `json:"from_state,omitempty"`
	ToState        string `json:"to_state,omitempty"`
	Trigger        string `json:"trigger,omitempty"`
	Reason         string `json:"reason,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
}

// Append writes the event to audit_events and queues it in the outbox.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	// The action is the source of truth for the category.
	category := audit.AuditEvent(event.Action).Category()

	var verificationID *uuid.UUID
	aggregateType := "audit"
	aggregateID := eventID.String()
	if !event.VerificationID.IsNil() {
		vid := uuid.UUID(event.VerificationID)
		verificationID = &vid
		aggregateType = "verification"
		aggregateID = vid.String()
	}

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		FromState: event.FromState,
		ToState:   event.ToState,
		Trigger:   event.Trigger,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	}
	if verificationID != nil {
		payload.VerificationID = aggregateID
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	exec := txcontext.ExecutorFrom(ctx, s.db)

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, verification_id, subject, action,
			from_state, to_state, trigger, reason, request_id, actor_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		eventID,
		string(category),
		event.Timestamp,
		verificationID,
		event.Subject,
		event.Action,
		event.FromState,
		event.ToState,
		event.Trigger,
		event.Reason,
		event.RequestID,
		event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByVerification returns a verification's events, oldest first.
func (s *Store) ListByVerification(ctx context.Context, verificationID id.VerificationID) ([]audit.Event, error) {
	query := `
		SELECT category, timestamp, verification_id, subject, action,
			   from_state, to_state, trigger, reason, request_id, actor_id
		FROM audit_events
		WHERE verification_id = $1
		ORDER BY timestamp ASC, seq ASC
	`
	rows, err := txcontext.ExecutorFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(verificationID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// scanEvents scans multiple rows into audit.Event slice.
func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category       string
			event          audit.Event
			verificationID *uuid.UUID
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&verificationID,
			&event.Subject,
			&event.Action,
			&event.FromState,
			&event.ToState,
			&event.Trigger,
			&event.Reason,
			&event.RequestID,
			&event.ActorID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if verificationID != nil {
			event.VerificationID = id.VerificationID(*verificationID)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
