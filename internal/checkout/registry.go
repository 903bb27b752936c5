// Package checkout holds the open booking attempts of the patient API: a
// revalidated slot selection plus the payment session that will pay for it.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/availability"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/payments"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/internal/slots"
	"github.com/wolfman30/carebook/pkg/logging"
)

var checkoutTracer = otel.Tracer("carebook.internal.checkout")

// Views builds slot views bound to one schedule and date.
type Views interface {
	NewView(sess session.Session, scheduleID string, date time.Time) *availability.View
}

// Submitter commits a booking with a consumed nonce.
type Submitter interface {
	Submit(ctx context.Context, sess session.Session, req bookings.SubmitRequest, view bookings.Invalidator) (bookings.Booking, error)
}

// Schedules resolves a schedule template, used for the price shown at checkout.
type Schedules interface {
	Get(ctx context.Context, accessToken, scheduleID string) (*schedule.Schedule, error)
}

// StartRequest selects a slot to pay for.
type StartRequest struct {
	ScheduleID string
	Date       time.Time
	SlotStart  schedule.Clock
}

// Snapshot is the client-visible state of an attempt. The nonce never leaves
// the server.
type Snapshot struct {
	ID           string         `json:"id"`
	ScheduleID   string         `json:"schedule_id"`
	Date         string         `json:"date"`
	SlotStart    schedule.Clock `json:"slot_start"`
	AmountCents  int64          `json:"amount_cents,omitempty"`
	PaymentState payments.State `json:"payment_state"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

type attempt struct {
	id        string
	patientID string
	req       StartRequest
	amount    int64
	payment   *payments.Session
	view      *availability.View

	mu      sync.Mutex
	touched time.Time
	// failed is set once a submission was rejected without closing the attempt.
	failed  bool
}

func (a *attempt) markFailed() {
	a.mu.Lock()
	a.failed = true
	a.mu.Unlock()
}

func (a *attempt) hasFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

func (a *attempt) touch(now time.Time) {
	a.mu.Lock()
	a.touched = now
	a.mu.Unlock()
}

func (a *attempt) lastTouched() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touched
}

type Config struct {
	Views     Views
	Submitter Submitter
	Schedules Schedules
	// Payment is the template for each attempt's payment session.
	Payment payments.SessionConfig
	IdleTTL time.Duration
	Logger  *logging.Logger
	Now     func() time.Time
}

// Registry tracks open attempts. A patient has at most one open attempt;
// starting another releases the previous one.
type Registry struct {
	views     Views
	submitter Submitter
	schedules Schedules
	payment   payments.SessionConfig
	idleTTL   time.Duration
	logger    *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	attempts  map[string]*attempt
	byPatient map[string]string
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Views == nil || cfg.Submitter == nil {
		panic("checkout: views and submitter are required")
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Payment.Logger == nil {
		cfg.Payment.Logger = cfg.Logger
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		views:     cfg.Views,
		submitter: cfg.Submitter,
		schedules: cfg.Schedules,
		payment:   cfg.Payment,
		idleTTL:   cfg.IdleTTL,
		logger:    cfg.Logger,
		now:       cfg.Now,
		attempts:  make(map[string]*attempt),
		byPatient: make(map[string]string),
	}
}

func (r *Registry) snapshot(a *attempt) Snapshot {
	return Snapshot{
		ID:           a.id,
		ScheduleID:   a.req.ScheduleID,
		Date:         a.req.Date.Format("2006-01-02"),
		SlotStart:    a.req.SlotStart,
		AmountCents:  a.amount,
		PaymentState: a.payment.State(),
		ExpiresAt:    a.lastTouched().Add(r.idleTTL),
	}
}

// Start revalidates the slot against fresh occupancy and readies a payment
// session for it.
func (r *Registry) Start(ctx context.Context, sess session.Session, req StartRequest) (Snapshot, error) {
	const op = "checkout.start"
	ctx, span := checkoutTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("carebook.schedule_id", req.ScheduleID),
		attribute.String("carebook.slot_start", req.SlotStart.String()),
	)

	now := r.now()
	if err := sess.Check(op, now); err != nil {
		return Snapshot{}, err
	}
	if req.ScheduleID == "" || req.Date.IsZero() || !req.SlotStart.Valid() {
		return Snapshot{}, apperr.New(apperr.KindValidation, op, "Select a date and time to continue.", nil)
	}

	view := r.views.NewView(sess, req.ScheduleID, req.Date)
	day, err := view.Refresh(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := checkSlot(op, day, req.SlotStart); err != nil {
		return Snapshot{}, err
	}

	var amount int64
	if r.schedules != nil {
		if s, err := r.schedules.Get(ctx, sess.AccessToken, req.ScheduleID); err == nil && s != nil {
			amount = s.RateCents
		}
	}

	payment := payments.NewSession(r.payment)
	if err := payment.Initialize(ctx, sess); err != nil {
		_ = payment.Teardown(context.WithoutCancel(ctx))
		span.RecordError(err)
		return Snapshot{}, err
	}

	a := &attempt{
		id:        uuid.NewString(),
		patientID: sess.PatientID,
		req:       req,
		amount:    amount,
		payment:   payment,
		view:      view,
		touched:   now,
	}

	r.mu.Lock()
	previous := r.attempts[r.byPatient[sess.PatientID]]
	if previous != nil {
		delete(r.attempts, previous.id)
	}
	r.attempts[a.id] = a
	r.byPatient[sess.PatientID] = a.id
	r.mu.Unlock()

	if previous != nil {
		r.release(ctx, previous, "replaced")
	}
	r.logger.Info("checkout started", "attempt_id", a.id, "schedule_id", req.ScheduleID, "slot_start", req.SlotStart.String())
	return r.snapshot(a), nil
}

func checkSlot(op string, day slots.DayView, start schedule.Clock) error {
	slot, ok := day.Find(start)
	if !ok {
		return apperr.New(apperr.KindValidation, op, "That time is not offered on this schedule.", nil)
	}
	if slot.Available {
		return nil
	}
	if slot.Reason == slots.ReasonOccupied {
		return apperr.New(apperr.KindConflict, op, "This slot is no longer available. Please pick another time. You have not been charged.", nil)
	}
	return apperr.New(apperr.KindValidation, op, "This time has already passed. Please pick a later slot.", nil).WithRetry(apperr.RetryNewSlot)
}

func (r *Registry) lookup(op string, sess session.Session, id string) (*attempt, error) {
	if err := sess.Check(op, r.now()); err != nil {
		return nil, err
	}
	r.mu.Lock()
	a, ok := r.attempts[id]
	r.mu.Unlock()
	if !ok || a.patientID != sess.PatientID {
		return nil, apperr.New(apperr.KindNotFound, op, "This checkout has expired. Please pick a slot again.", nil).WithRetry(apperr.RetryNewSlot)
	}
	a.touch(r.now())
	return a, nil
}

// Get returns the attempt's current state.
func (r *Registry) Get(sess session.Session, id string) (Snapshot, error) {
	a, err := r.lookup("checkout.get", sess, id)
	if err != nil {
		return Snapshot{}, err
	}
	return r.snapshot(a), nil
}

// Authorize asks the payment widget for a fresh nonce. It replaces any nonce
// not yet submitted.
func (r *Registry) Authorize(ctx context.Context, sess session.Session, id string) (Snapshot, error) {
	const op = "checkout.authorize"
	ctx, span := checkoutTracer.Start(ctx, op)
	defer span.End()

	a, err := r.lookup(op, sess, id)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := a.payment.RequestAuthorization(ctx); err != nil {
		span.RecordError(err)
		return r.snapshot(a), err
	}
	return r.snapshot(a), nil
}

// Submit consumes the nonce and commits the booking. The attempt is released
// when the outcome is final or unknown; otherwise it stays open for a new
// authorization, and the next Submit re-checks the slot before charging.
func (r *Registry) Submit(ctx context.Context, sess session.Session, id string) (bookings.Booking, error) {
	const op = "checkout.submit"
	ctx, span := checkoutTracer.Start(ctx, op)
	defer span.End()

	a, err := r.lookup(op, sess, id)
	if err != nil {
		return bookings.Booking{}, err
	}
	if a.hasFailed() {
		if err := r.revalidate(ctx, op, a); err != nil {
			span.RecordError(err)
			return bookings.Booking{}, err
		}
	}
	nonce, err := a.payment.Consume()
	if err != nil {
		return bookings.Booking{}, err
	}

	booking, err := r.submitter.Submit(ctx, sess, bookings.SubmitRequest{
		ScheduleID:  a.req.ScheduleID,
		Date:        a.req.Date,
		SlotStart:   a.req.SlotStart,
		Nonce:       nonce,
		AmountCents: a.amount,
	}, a.view)
	if err != nil {
		span.RecordError(err)
		switch apperr.KindOf(err) {
		case apperr.KindConflict, apperr.KindNetwork, apperr.KindAuthExpired:
			r.close(ctx, a, string(apperr.KindOf(err)))
		default:
			a.markFailed()
		}
		return bookings.Booking{}, err
	}
	r.close(ctx, a, "booked")
	return booking, nil
}

// revalidate re-reads the slot after an earlier rejected submission. An
// occupied or past slot closes the attempt; a failed read leaves it open.
func (r *Registry) revalidate(ctx context.Context, op string, a *attempt) error {
	day, err := a.view.Refresh(ctx)
	if err != nil {
		return err
	}
	if err := checkSlot(op, day, a.req.SlotStart); err != nil {
		r.close(ctx, a, "revalidation")
		return err
	}
	return nil
}

// Close releases the attempt and its widget. Closing an unknown attempt is a no-op.
func (r *Registry) Close(ctx context.Context, sess session.Session, id string) error {
	if err := sess.Check("checkout.close", r.now()); err != nil {
		return err
	}
	r.mu.Lock()
	a, ok := r.attempts[id]
	r.mu.Unlock()
	if !ok || a.patientID != sess.PatientID {
		return nil
	}
	r.close(ctx, a, "closed")
	return nil
}

func (r *Registry) close(ctx context.Context, a *attempt, reason string) {
	r.mu.Lock()
	if _, ok := r.attempts[a.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.attempts, a.id)
	if r.byPatient[a.patientID] == a.id {
		delete(r.byPatient, a.patientID)
	}
	r.mu.Unlock()
	r.release(ctx, a, reason)
}

func (r *Registry) release(ctx context.Context, a *attempt, reason string) {
	if err := a.payment.Teardown(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("checkout teardown failed", "attempt_id", a.id, "error", err)
	}
	r.logger.Debug("checkout released", "attempt_id", a.id, "reason", reason)
}

// Len reports the number of open attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// Sweep releases attempts idle for longer than the TTL and returns how many.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	var stale []*attempt
	for _, a := range r.attempts {
		if a.lastTouched().Before(cutoff) {
			stale = append(stale, a)
		}
	}
	r.mu.Unlock()

	for _, a := range stale {
		r.close(ctx, a, "expired")
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done, then releases every open attempt.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.shutdown(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logger.Info("expired checkout attempts released", "count", n)
			}
		}
	}
}

func (r *Registry) shutdown(ctx context.Context) {
	r.mu.Lock()
	open := make([]*attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		open = append(open, a)
	}
	r.mu.Unlock()
	for _, a := range open {
		r.close(ctx, a, "shutdown")
	}
}
