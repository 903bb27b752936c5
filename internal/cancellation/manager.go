// Package cancellation enforces the cancellation window and drives the
// marketplace's cancel-and-refund call.
package cancellation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/compliance"
	"github.com/wolfman30/carebook/internal/inflight"
	"github.com/wolfman30/carebook/internal/notify"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

var cancellationTracer = otel.Tracer("carebook.internal.cancellation")

// Backend cancels a booking and returns the refund transaction id.
type Backend interface {
	CancelBooking(ctx context.Context, accessToken, bookingID string) (string, error)
}

// Lookup resolves a booking the patient owns.
type Lookup interface {
	Lookup(ctx context.Context, sess session.Session, bookingID string) (bookings.Booking, error)
}

// Observer counts cancellation outcomes.
type Observer interface {
	ObserveCancellation(outcome string)
}

// Cancellable reports whether b may be cancelled on the civil date of now in
// loc. The appointment date must be strictly after today.
func Cancellable(b bookings.Booking, now time.Time, loc *time.Location) error {
	if b.Status == bookings.StatusCancelled {
		return apperr.New(apperr.KindNotCancellable, "cancellation.check", "This appointment is already cancelled.", nil)
	}
	if b.Terminal() {
		return apperr.New(apperr.KindNotCancellable, "cancellation.check", "Completed appointments cannot be cancelled.", nil)
	}
	if loc == nil {
		loc = time.UTC
	}
	ty, tm, td := now.In(loc).Date()
	today := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	ay, am, ad := b.AppointmentDate.Date()
	appt := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	if !appt.After(today) {
		return apperr.New(apperr.KindNotCancellable, "cancellation.check", "Appointments can only be cancelled before the day of the visit.", nil)
	}
	return nil
}

type Config struct {
	Backend  Backend
	Bookings Lookup
	Store    *bookings.Store
	Guard    inflight.Guard
	Audit    compliance.Recorder
	Notifier notify.Notifier
	Metrics  Observer
	Location *time.Location
	Logger   *logging.Logger
	Now      func() time.Time
}

// Manager cancels bookings one at a time per booking.
type Manager struct {
	backend  Backend
	bookings Lookup
	store    *bookings.Store
	guard    inflight.Guard
	audit    compliance.Recorder
	notifier notify.Notifier
	metrics  Observer
	loc      *time.Location
	logger   *logging.Logger
	now      func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.Backend == nil || cfg.Bookings == nil || cfg.Store == nil || cfg.Guard == nil {
		panic("cancellation: backend, bookings, store and guard are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		backend:  cfg.Backend,
		bookings: cfg.Bookings,
		store:    cfg.Store,
		guard:    cfg.Guard,
		audit:    cfg.Audit,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		loc:      cfg.Location,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Cancel checks the window locally, then asks the marketplace to cancel and
// refund. The local record changes only on success.
//
// A booking already in the session store is rejected outside the window with
// no network call. A booking missing from the store costs one GET
// /bookings/{id} before the window check.
func (m *Manager) Cancel(ctx context.Context, sess session.Session, bookingID string) (bookings.Booking, error) {
	const op = "cancellation.cancel"
	ctx, span := cancellationTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("carebook.booking_id", bookingID))

	now := m.now()
	if err := sess.Check(op, now); err != nil {
		return bookings.Booking{}, err
	}
	b, err := m.bookings.Lookup(ctx, sess, bookingID)
	if err != nil {
		return bookings.Booking{}, err
	}
	if err := Cancellable(b, now, m.loc); err != nil {
		m.observe("not_cancellable")
		return b, err
	}

	release, err := m.guard.Acquire(ctx, inflight.Key(sess.PatientID, bookingID, "cancel"))
	if err != nil {
		if errors.Is(err, inflight.ErrBusy) {
			return b, apperr.New(apperr.KindBusy, op, "This cancellation is already in progress.", err)
		}
		return b, apperr.New(apperr.KindServer, op, "", err).WithRetry(apperr.RetryLater)
	}
	defer release()

	refundID, err := m.backend.CancelBooking(ctx, sess.AccessToken, bookingID)
	if err != nil {
		span.RecordError(err)
		m.observe("failed")
		m.logger.Warn("booking cancellation failed", "booking_id", bookingID, "kind", apperr.KindOf(err), "error", err)
		return b, classify(op, err)
	}

	b.Status = bookings.StatusCancelled
	b.PaymentStatus = bookings.PaymentRefunded
	b.RefundTransactionID = refundID
	m.store.Put(b)
	m.observe("refunded")

	if m.audit != nil {
		event := compliance.NewEvent(compliance.EventBookingCancelled, sess.PatientID, b.ID, b.ScheduleID, string(bookings.PaymentRefunded), compliance.Details{
			AppointmentDate:     b.AppointmentDate.Format("2006-01-02"),
			SlotStart:           b.SlotStart.String(),
			RefundTransactionID: refundID,
		})
		if err := m.audit.Record(context.WithoutCancel(ctx), event); err != nil {
			m.logger.Error("cancellation audit failed", "error", err, "booking_id", b.ID)
		}
	}
	if m.notifier != nil {
		err := m.notifier.Notify(context.WithoutCancel(ctx), notify.Notice{
			Kind:                notify.KindBookingCancelled,
			To:                  sess.Email,
			ToName:              sess.Name,
			BookingID:           b.ID,
			AppointmentDate:     b.AppointmentDate,
			SlotStart:           b.SlotStart.String(),
			RefundTransactionID: refundID,
		})
		if err != nil {
			m.logger.Warn("cancellation notice failed", "error", err, "booking_id", b.ID)
		}
	}
	m.logger.Info("booking cancelled", "booking_id", b.ID, "patient_id", sess.PatientID)
	return b, nil
}

func classify(op string, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindNetwork:
		return apperr.New(apperr.KindNetwork, op, "", err)
	case apperr.KindAuthExpired:
		return apperr.New(apperr.KindAuthExpired, op, "", err)
	case apperr.KindValidation, apperr.KindNotCancellable:
		return apperr.New(apperr.KindNotCancellable, op, apperr.UserMessage(err), err)
	case apperr.KindConflict:
		return apperr.New(apperr.KindNotCancellable, op, "", err)
	case apperr.KindNotFound:
		return apperr.New(apperr.KindNotFound, op, "", err)
	default:
		return apperr.New(apperr.KindServer, op, "We could not cancel this appointment. Please try again.", err).WithRetry(apperr.RetryLater)
	}
}

func (m *Manager) observe(outcome string) {
	if m.metrics != nil {
		m.metrics.ObserveCancellation(outcome)
	}
}
