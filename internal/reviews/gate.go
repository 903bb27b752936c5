package reviews

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/compliance"
	"github.com/wolfman30/carebook/internal/inflight"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

var reviewsTracer = otel.Tracer("carebook.internal.reviews")

// Reviewable is the local eligibility rule: the visit is completed and paid
// and no review of t exists yet.
func Reviewable(b bookings.Booking, t Target, existing Existing) bool {
	return b.Status == bookings.StatusCompleted &&
		b.PaymentStatus == bookings.PaymentPaid &&
		!existing[t]
}

// Backend is the marketplace's review surface.
type Backend interface {
	ReviewableStatus(ctx context.Context, accessToken, bookingID string) (Status, error)
	SubmitDoctorReview(ctx context.Context, accessToken string, r DoctorReview) error
	SubmitDispensaryReview(ctx context.Context, accessToken string, r DispensaryReview) error
}

// Lookup resolves a booking the patient owns.
type Lookup interface {
	Lookup(ctx context.Context, sess session.Session, bookingID string) (bookings.Booking, error)
}

// Observer counts review outcomes.
type Observer interface {
	ObserveReview(target, outcome string)
}

// Eligibility is the combined advisory and local answer for one booking.
type Eligibility struct {
	BookingID  string `json:"booking_id"`
	Doctor     bool   `json:"doctor_reviewable"`
	Dispensary bool   `json:"dispensary_reviewable"`
}

type GateConfig struct {
	Backend  Backend
	Bookings Lookup
	Guard    inflight.Guard
	Audit    compliance.Recorder
	Metrics  Observer
	Logger   *logging.Logger
	Now      func() time.Time

	// Retention bounds how long per-booking state is kept after its last
	// write. Defaults to defaultRetention.
	Retention time.Duration
}

const defaultRetention = 24 * time.Hour

// gateEntry is the local state kept for one booking.
type gateEntry struct {
	submitted   Existing
	advisory    Status
	hasAdvisory bool
	touched     time.Time
}

// Gate decides whether a review may be submitted and records submissions so
// the window closes immediately, without waiting for a refresh.
type Gate struct {
	backend  Backend
	bookings Lookup
	guard    inflight.Guard
	audit    compliance.Recorder
	metrics  Observer
	logger   *logging.Logger
	now      func() time.Time

	retention time.Duration

	mu      sync.Mutex
	entries map[string]*gateEntry
	pruned  time.Time
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.Backend == nil || cfg.Bookings == nil || cfg.Guard == nil {
		panic("reviews: backend, bookings and guard are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &Gate{
		backend:   cfg.Backend,
		bookings:  cfg.Bookings,
		guard:     cfg.Guard,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		retention: cfg.Retention,
		entries:   make(map[string]*gateEntry),
	}
}

// entry returns the state for bookingID, creating it when missing. Callers
// hold g.mu.
func (g *Gate) entry(bookingID string) *gateEntry {
	now := g.now()
	g.prune(now)
	e, ok := g.entries[bookingID]
	if !ok {
		e = &gateEntry{submitted: Existing{}}
		g.entries[bookingID] = e
	}
	e.touched = now
	return e
}

// prune drops entries untouched for longer than the retention. It runs at
// most once per minute. Callers hold g.mu.
func (g *Gate) prune(now time.Time) {
	if now.Sub(g.pruned) < time.Minute {
		return
	}
	g.pruned = now
	for id, e := range g.entries {
		if now.Sub(e.touched) > g.retention {
			delete(g.entries, id)
		}
	}
}

// Len reports the number of bookings with local review state.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Gate) existing(bookingID string) Existing {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := Existing{}
	if e, ok := g.entries[bookingID]; ok {
		for t, v := range e.submitted {
			out[t] = v
		}
	}
	return out
}

func (g *Gate) markSubmitted(bookingID string, t Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry(bookingID).submitted[t] = true
}

func (g *Gate) storeAdvisory(bookingID string, s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.entry(bookingID)
	e.advisory, e.hasAdvisory = s, true
}

func (g *Gate) cachedAdvisory(bookingID string) (Status, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[bookingID]
	if !ok || !e.hasAdvisory {
		return Status{}, false
	}
	return e.advisory, true
}

// Refresh fetches the advisory status and combines it with the local rule.
func (g *Gate) Refresh(ctx context.Context, sess session.Session, bookingID string) (Eligibility, error) {
	const op = "reviews.refresh"
	ctx, span := reviewsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("carebook.booking_id", bookingID))

	if err := sess.Check(op, g.now()); err != nil {
		return Eligibility{}, err
	}
	b, err := g.bookings.Lookup(ctx, sess, bookingID)
	if err != nil {
		return Eligibility{}, err
	}
	status, err := g.backend.ReviewableStatus(ctx, sess.AccessToken, bookingID)
	if err != nil {
		span.RecordError(err)
		return Eligibility{}, err
	}
	g.storeAdvisory(bookingID, status)

	return g.eligibility(b, status), nil
}

// Eligible answers from the last advisory status and local state, without a
// network call. With no advisory status yet only the local rule applies.
func (g *Gate) Eligible(b bookings.Booking) Eligibility {
	status, ok := g.cachedAdvisory(b.ID)
	if !ok {
		status = Status{DoctorReviewable: true, DispensaryReviewable: true}
	}
	return g.eligibility(b, status)
}

func (g *Gate) eligibility(b bookings.Booking, status Status) Eligibility {
	existing := g.existing(b.ID)
	return Eligibility{
		BookingID:  b.ID,
		Doctor:     status.DoctorReviewable && Reviewable(b, TargetDoctor, existing),
		Dispensary: status.DispensaryReviewable && Reviewable(b, TargetDispensary, existing),
	}
}

// SubmitDoctor posts a doctor review for a completed, paid booking.
func (g *Gate) SubmitDoctor(ctx context.Context, sess session.Session, r DoctorReview) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return g.submit(ctx, sess, r.BookingID, TargetDoctor, func(ctx context.Context) error {
		return g.backend.SubmitDoctorReview(ctx, sess.AccessToken, r)
	})
}

// SubmitDispensary posts a dispensary review for a completed, paid booking.
func (g *Gate) SubmitDispensary(ctx context.Context, sess session.Session, r DispensaryReview) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return g.submit(ctx, sess, r.BookingID, TargetDispensary, func(ctx context.Context) error {
		return g.backend.SubmitDispensaryReview(ctx, sess.AccessToken, r)
	})
}

func (g *Gate) submit(ctx context.Context, sess session.Session, bookingID string, target Target, send func(context.Context) error) error {
	const op = "reviews.submit"
	ctx, span := reviewsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(
		attribute.String("carebook.booking_id", bookingID),
		attribute.String("carebook.review_target", string(target)),
	)

	if err := sess.Check(op, g.now()); err != nil {
		return err
	}
	if bookingID == "" {
		return apperr.New(apperr.KindValidation, op, "A booking is required.", nil)
	}
	b, err := g.bookings.Lookup(ctx, sess, bookingID)
	if err != nil {
		return err
	}
	if !g.eligibleFor(b, target) {
		g.observe(target, "not_reviewable")
		return apperr.New(apperr.KindNotReviewable, op, "", nil)
	}

	release, err := g.guard.Acquire(ctx, inflight.Key(sess.PatientID, bookingID, "review", string(target)))
	if err != nil {
		if errors.Is(err, inflight.ErrBusy) {
			return apperr.New(apperr.KindBusy, op, "This review is already being submitted.", err)
		}
		return apperr.New(apperr.KindServer, op, "", err).WithRetry(apperr.RetryLater)
	}
	defer release()

	// Re-check under the guard; a concurrent submit may have just finished.
	if !g.eligibleFor(b, target) {
		g.observe(target, "not_reviewable")
		return apperr.New(apperr.KindNotReviewable, op, "", nil)
	}

	if err := send(ctx); err != nil {
		span.RecordError(err)
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			g.markSubmitted(bookingID, target)
			g.observe(target, "duplicate")
			return apperr.New(apperr.KindNotReviewable, op, "You have already reviewed this appointment.", err)
		case apperr.KindValidation, apperr.KindAuthExpired, apperr.KindNetwork, apperr.KindNotFound:
			g.observe(target, "failed")
			return err
		default:
			g.observe(target, "failed")
			return apperr.New(apperr.KindServer, op, "We could not save your review. Please try again.", err).WithRetry(apperr.RetryLater)
		}
	}

	g.markSubmitted(bookingID, target)
	g.observe(target, "ok")
	if g.audit != nil {
		event := compliance.NewEvent(compliance.EventReviewSubmitted, sess.PatientID, bookingID, b.ScheduleID, "ok", compliance.Details{ReviewTarget: string(target)})
		if err := g.audit.Record(context.WithoutCancel(ctx), event); err != nil {
			g.logger.Error("review audit failed", "error", err, "booking_id", bookingID)
		}
	}
	g.logger.Info("review submitted", "booking_id", bookingID, "target", target)
	return nil
}

func (g *Gate) eligibleFor(b bookings.Booking, t Target) bool {
	e := g.Eligible(b)
	if t == TargetDoctor {
		return e.Doctor
	}
	return e.Dispensary
}

func (g *Gate) observe(t Target, outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveReview(string(t), outcome)
	}
}
