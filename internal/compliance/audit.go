// Package compliance keeps an immutable audit trail of patient booking actions.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an audited action.
type EventType string

const (
	EventBookingSubmitted EventType = "booking.submitted"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingConflict  EventType = "booking.conflict"
	EventBookingFailed    EventType = "booking.failed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventReviewSubmitted  EventType = "review.submitted"
)

// Event is one audit record. Payment nonces and card data never appear here.
type Event struct {
	ID         string          `json:"id"`
	EventType  EventType       `json:"event_type"`
	PatientID  string          `json:"patient_id"`
	BookingID  string          `json:"booking_id,omitempty"`
	ScheduleID string          `json:"schedule_id,omitempty"`
	Outcome    string          `json:"outcome,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	IdempotencyKey      string `json:"idempotency_key,omitempty"`
	AppointmentDate     string `json:"appointment_date,omitempty"`
	SlotStart           string `json:"slot_start,omitempty"`
	TransactionID       string `json:"transaction_id,omitempty"`
	RefundTransactionID string `json:"refund_transaction_id,omitempty"`
	ReviewTarget        string `json:"review_target,omitempty"`
	ErrorKind           string `json:"error_kind,omitempty"`
}

// Recorder accepts audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// AuditService writes events to booking_audit_events.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// Record inserts event, filling ID and CreatedAt when unset.
func (s *AuditService) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_audit_events (
			id, event_type, patient_id, booking_id, schedule_id, outcome, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		string(event.EventType),
		event.PatientID,
		nullString(event.BookingID),
		nullString(event.ScheduleID),
		nullString(event.Outcome),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to record audit event: %w", err)
	}
	return nil
}

// NewEvent builds an event with marshalled details.
func NewEvent(eventType EventType, patientID, bookingID, scheduleID, outcome string, details Details) Event {
	raw, _ := json.Marshal(details)
	if string(raw) == "{}" {
		raw = nil
	}
	return Event{
		EventType:  eventType,
		PatientID:  patientID,
		BookingID:  bookingID,
		ScheduleID: scheduleID,
		Outcome:    outcome,
		Details:    raw,
	}
}

// Filter narrows Query.
type Filter struct {
	PatientID  string
	BookingID  string
	EventTypes []EventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Query lists a patient's events, newest first.
func (s *AuditService) Query(ctx context.Context, filter Filter) ([]Event, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, event_type, patient_id, booking_id, schedule_id, outcome, details, created_at
		FROM booking_audit_events
		WHERE patient_id = $1`)
	args := []any{filter.PatientID}

	if filter.BookingID != "" {
		args = append(args, filter.BookingID)
		fmt.Fprintf(&b, " AND booking_id = $%d", len(args))
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		args = append(args, pq.Array(types))
		fmt.Fprintf(&b, " AND event_type = ANY($%d)", len(args))
	}
	if !filter.StartTime.IsZero() {
		args = append(args, filter.StartTime)
		fmt.Fprintf(&b, " AND created_at >= $%d", len(args))
	}
	if !filter.EndTime.IsZero() {
		args = append(args, filter.EndTime)
		fmt.Fprintf(&b, " AND created_at <= $%d", len(args))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                            Event
			eventType                    string
			bookingID, scheduleID, outcm sql.NullString
			details                      []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.PatientID, &bookingID, &scheduleID, &outcm, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.BookingID = bookingID.String
		e.ScheduleID = scheduleID.String
		e.Outcome = outcm.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Recorder = (*AuditService)(nil)
