package bookings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/compliance"
	"github.com/wolfman30/carebook/internal/inflight"
	"github.com/wolfman30/carebook/internal/notify"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

var bookingsTracer = otel.Tracer("carebook.internal.bookings")

// Backend is the marketplace's booking surface.
type Backend interface {
	CreateBooking(ctx context.Context, accessToken string, req CreateRequest) (Booking, error)
	ListBookings(ctx context.Context, accessToken string) ([]Booking, error)
	GetBooking(ctx context.Context, accessToken, bookingID string) (Booking, error)
}

// Invalidator drops a cached slot view so the next read refetches occupancy.
type Invalidator interface {
	Invalidate()
}

// SubmissionObserver counts submission outcomes.
type SubmissionObserver interface {
	ObserveSubmission(outcome string)
}

// SubmitRequest books one slot with one payment authorization.
type SubmitRequest struct {
	ScheduleID string
	Date       time.Time
	SlotStart  schedule.Clock
	Nonce      string
	// AmountCents is informational, used in the confirmation email.
	AmountCents int64
}

// CoordinatorConfig wires a Coordinator. Ledger, Guard and Backend are
// required; the rest are optional.
type CoordinatorConfig struct {
	Backend  Backend
	Store    *Store
	Ledger   Ledger
	Guard    inflight.Guard
	Audit    compliance.Recorder
	Notifier notify.Notifier
	Metrics  SubmissionObserver
	Logger   *logging.Logger
	Now      func() time.Time
}

// Coordinator submits booking-plus-payment requests. It never retries: every
// resubmission is a new call with a new nonce.
type Coordinator struct {
	backend  Backend
	store    *Store
	ledger   Ledger
	guard    inflight.Guard
	audit    compliance.Recorder
	notifier notify.Notifier
	metrics  SubmissionObserver
	logger   *logging.Logger
	now      func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Backend == nil || cfg.Ledger == nil || cfg.Guard == nil {
		panic("bookings: coordinator requires backend, ledger and guard")
	}
	if cfg.Store == nil {
		cfg.Store = NewStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		backend:  cfg.Backend,
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		guard:    cfg.Guard,
		audit:    cfg.Audit,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// SelectionKey identifies a slot selection for in-flight exclusion.
func SelectionKey(patientID, scheduleID string, date time.Time, slot schedule.Clock) string {
	return inflight.Key(patientID, scheduleID, date.Format("2006-01-02"), slot.String(), "submit")
}

// Submit sends the request exactly once. view, when non-nil, is invalidated
// whenever the outcome may have changed occupancy.
func (c *Coordinator) Submit(ctx context.Context, sess session.Session, req SubmitRequest, view Invalidator) (Booking, error) {
	const op = "bookings.submit"
	ctx, span := bookingsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("carebook.schedule_id", req.ScheduleID),
		attribute.String("carebook.slot_start", req.SlotStart.String()),
	)

	if err := sess.Check(op, c.now()); err != nil {
		return Booking{}, err
	}
	if strings.TrimSpace(req.ScheduleID) == "" || req.Date.IsZero() || !req.SlotStart.Valid() {
		return Booking{}, apperr.New(apperr.KindValidation, op, "Select a date and time before paying.", nil)
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return Booking{}, apperr.New(apperr.KindPaymentNonce, op, "", nil)
	}

	release, err := c.guard.Acquire(ctx, SelectionKey(sess.PatientID, req.ScheduleID, req.Date, req.SlotStart))
	if err != nil {
		if errors.Is(err, inflight.ErrBusy) {
			return Booking{}, apperr.New(apperr.KindBusy, op, "This booking is already being submitted.", err)
		}
		return Booking{}, apperr.New(apperr.KindServer, op, "", err).WithRetry(apperr.RetryLater)
	}
	defer release()

	attempt := &Attempt{
		IdempotencyKey:  uuid.NewString(),
		PatientID:       sess.PatientID,
		ScheduleID:      req.ScheduleID,
		AppointmentDate: req.Date,
		SlotStart:       req.SlotStart,
		NonceHash:       HashNonce(req.Nonce),
	}
	if err := c.ledger.Claim(ctx, attempt); err != nil {
		if errors.Is(err, ErrNonceReused) {
			return Booking{}, apperr.New(apperr.KindPaymentNonce, op, "This payment authorization was already used. Please authorize your payment again.", err)
		}
		c.logger.Error("booking attempt claim failed", "error", err, "schedule_id", req.ScheduleID)
		return Booking{}, apperr.New(apperr.KindServer, op, "We could not start your booking. You have not been charged.", err).WithRetry(apperr.RetryLater)
	}
	span.SetAttributes(attribute.String("carebook.idempotency_key", attempt.IdempotencyKey))
	c.record(ctx, compliance.EventBookingSubmitted, sess, "", req, "", compliance.Details{IdempotencyKey: attempt.IdempotencyKey})

	booking, err := c.backend.CreateBooking(ctx, sess.AccessToken, CreateRequest{
		ScheduleID:      req.ScheduleID,
		AppointmentDate: req.Date,
		SlotStart:       req.SlotStart,
		PaymentNonce:    req.Nonce,
		IdempotencyKey:  attempt.IdempotencyKey,
	})
	if err != nil {
		span.RecordError(err)
		return Booking{}, c.fail(ctx, sess, req, attempt, view, err)
	}

	if booking.Status == "" {
		booking.Status = StatusConfirmed
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = PaymentPaid
	}
	if booking.PatientID == "" {
		booking.PatientID = sess.PatientID
	}
	c.store.Put(booking)
	invalidate(view)
	c.resolve(ctx, attempt.IdempotencyKey, OutcomeConfirmed, booking.ID)
	c.observe(OutcomeConfirmed)
	c.record(ctx, compliance.EventBookingConfirmed, sess, booking.ID, req, string(OutcomeConfirmed), compliance.Details{
		IdempotencyKey: attempt.IdempotencyKey,
		TransactionID:  booking.TransactionID,
	})
	c.send(ctx, notify.Notice{
		Kind:            notify.KindBookingConfirmed,
		To:              sess.Email,
		ToName:          sess.Name,
		BookingID:       booking.ID,
		AppointmentDate: booking.AppointmentDate,
		SlotStart:       booking.SlotStart.String(),
		AmountCents:     req.AmountCents,
		TransactionID:   booking.TransactionID,
	})
	c.logger.Info("booking confirmed", "booking_id", booking.ID, "schedule_id", req.ScheduleID, "patient_id", sess.PatientID)
	return booking, nil
}

func (c *Coordinator) fail(ctx context.Context, sess session.Session, req SubmitRequest, attempt *Attempt, view Invalidator, cause error) error {
	const op = "bookings.submit"
	kind := apperr.KindOf(cause)

	var (
		outcome Outcome
		out     error
		event   = compliance.EventBookingFailed
	)
	switch kind {
	case apperr.KindConflict:
		outcome, event = OutcomeConflict, compliance.EventBookingConflict
		invalidate(view)
		c.send(ctx, notify.Notice{
			Kind:            notify.KindChargeReversed,
			To:              sess.Email,
			ToName:          sess.Name,
			AppointmentDate: req.Date,
			SlotStart:       req.SlotStart.String(),
		})
		out = apperr.New(apperr.KindConflict, op, "", cause)
	case apperr.KindValidation:
		outcome = OutcomeRejected
		out = apperr.New(apperr.KindValidation, op, apperr.UserMessage(cause), cause)
	case apperr.KindAuthExpired:
		outcome = OutcomeRejected
		out = apperr.New(apperr.KindAuthExpired, op, "", cause)
	case apperr.KindNetwork:
		outcome = OutcomeUnknown
		invalidate(view)
		out = apperr.New(apperr.KindNetwork, op, "", cause)
	default:
		outcome = OutcomeFailed
		invalidate(view)
		out = apperr.New(apperr.KindServer, op, "", cause)
	}

	c.resolve(ctx, attempt.IdempotencyKey, outcome, "")
	c.observe(outcome)
	c.record(ctx, event, sess, "", req, string(outcome), compliance.Details{
		IdempotencyKey: attempt.IdempotencyKey,
		ErrorKind:      string(kind),
	})
	c.logger.Warn("booking submission failed", "outcome", outcome, "kind", kind, "schedule_id", req.ScheduleID, "error", cause)
	return out
}

func (c *Coordinator) resolve(ctx context.Context, key string, outcome Outcome, bookingID string) {
	if err := c.ledger.Resolve(context.WithoutCancel(ctx), key, outcome, bookingID); err != nil {
		c.logger.Error("booking attempt resolve failed", "error", err, "idempotency_key", key, "outcome", outcome)
	}
}

func (c *Coordinator) observe(outcome Outcome) {
	if c.metrics != nil {
		c.metrics.ObserveSubmission(string(outcome))
	}
}

func (c *Coordinator) record(ctx context.Context, eventType compliance.EventType, sess session.Session, bookingID string, req SubmitRequest, outcome string, details compliance.Details) {
	if c.audit == nil {
		return
	}
	details.AppointmentDate = req.Date.Format("2006-01-02")
	details.SlotStart = req.SlotStart.String()
	event := compliance.NewEvent(eventType, sess.PatientID, bookingID, req.ScheduleID, outcome, details)
	if err := c.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Error("booking audit failed", "error", err, "event_type", eventType)
	}
}

func (c *Coordinator) send(ctx context.Context, n notify.Notice) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		c.logger.Warn("booking notice failed", "error", err, "kind", n.Kind)
	}
}

func invalidate(view Invalidator) {
	if view != nil {
		view.Invalidate()
	}
}
