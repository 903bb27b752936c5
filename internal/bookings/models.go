package bookings

import (
	"time"

	"github.com/wolfman30/carebook/internal/schedule"
)

// Status is the reservation lifecycle. Cancelled and Completed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks the advance payment attached to a booking.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

// Booking is the last known state of a reservation. The marketplace owns the
// authoritative record.
type Booking struct {
	ID                  string         `json:"id"`
	ScheduleID          string         `json:"schedule_id"`
	PatientID           string         `json:"patient_id"`
	ProviderID          string         `json:"provider_id,omitempty"`
	DispensaryID        string         `json:"dispensary_id,omitempty"`
	AppointmentDate     time.Time      `json:"appointment_date"`
	SlotStart           schedule.Clock `json:"slot_start"`
	Status              Status         `json:"status"`
	PaymentStatus       PaymentStatus  `json:"payment_status"`
	TransactionID       string         `json:"transaction_id,omitempty"`
	RefundTransactionID string         `json:"refund_transaction_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at,omitempty"`
}

// Terminal reports whether no further transitions are possible.
func (b Booking) Terminal() bool {
	return b.Status == StatusCancelled || b.Status == StatusCompleted
}

// CreateRequest is the atomic booking-plus-payment submission.
type CreateRequest struct {
	ScheduleID      string
	AppointmentDate time.Time
	SlotStart       schedule.Clock
	PaymentNonce    string
	IdempotencyKey  string
}
