package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "confirmed booking",
			event: NewEvent(EventBookingConfirmed, "p-1", "bk-1", "sch-1", "confirmed", Details{TransactionID: "tx-1"}),
		},
		{
			name:  "conflict without booking id",
			event: NewEvent(EventBookingConflict, "p-1", "", "sch-1", "conflict", Details{SlotStart: "09:30"}),
		},
		{
			name:  "cancellation",
			event: NewEvent(EventBookingCancelled, "p-1", "bk-1", "", "refunded", Details{RefundTransactionID: "rf-1"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO booking_audit_events").
				WithArgs(sqlmock.AnyArg(), string(tt.event.EventType), "p-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.Record(context.Background(), tt.event))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditService_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO booking_audit_events").WillReturnError(errors.New("connection reset"))

	err = NewAuditService(db).Record(context.Background(), Event{EventType: EventBookingFailed, PatientID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNewEventDetails(t *testing.T) {
	e := NewEvent(EventBookingSubmitted, "p-1", "", "sch-1", "", Details{IdempotencyKey: "idem-1"})
	var d Details
	require.NoError(t, json.Unmarshal(e.Details, &d))
	assert.Equal(t, "idem-1", d.IdempotencyKey)

	empty := NewEvent(EventBookingFailed, "p-1", "", "", "", Details{})
	assert.Nil(t, empty.Details)
}

func TestAuditService_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event_type", "patient_id", "booking_id", "schedule_id", "outcome", "details", "created_at"}).
		AddRow("ev-2", "booking.cancelled", "p-1", "bk-1", nil, "refunded", []byte(`{"refund_transaction_id":"rf-1"}`), created).
		AddRow("ev-1", "booking.confirmed", "p-1", "bk-1", "sch-1", "confirmed", nil, created.Add(-time.Hour))

	mock.ExpectQuery("FROM booking_audit_events").
		WithArgs("p-1", "bk-1", pq.Array([]string{"booking.confirmed", "booking.cancelled"})).
		WillReturnRows(rows)

	events, err := NewAuditService(db).Query(context.Background(), Filter{
		PatientID:  "p-1",
		BookingID:  "bk-1",
		EventTypes: []EventType{EventBookingConfirmed, EventBookingCancelled},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventBookingCancelled, events[0].EventType)
	assert.Empty(t, events[0].ScheduleID)
	assert.JSONEq(t, `{"refund_transaction_id":"rf-1"}`, string(events[0].Details))
	assert.Equal(t, "sch-1", events[1].ScheduleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
