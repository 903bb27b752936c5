package bookings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Service reads the patient's bookings and keeps the local store in step with
// the marketplace.
type Service struct {
	backend Backend
	store   *Store
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(backend Backend, store *Store, logger *logging.Logger) *Service {
	if backend == nil {
		panic("bookings: backend required")
	}
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{backend: backend, store: store, logger: logger, now: time.Now}
}

// Store exposes the shared booking cache.
func (s *Service) Store() *Store { return s.store }

// List refetches the patient's bookings and replaces the cached set.
func (s *Service) List(ctx context.Context, sess session.Session) ([]Booking, error) {
	const op = "bookings.list"
	ctx, span := bookingsTracer.Start(ctx, op)
	defer span.End()

	if err := sess.Check(op, s.now()); err != nil {
		return nil, err
	}
	list, err := s.backend.ListBookings(ctx, sess.AccessToken)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.store.ReplaceForPatient(sess.PatientID, list)
	span.SetAttributes(attribute.Int("carebook.bookings", len(list)))
	return s.store.ForPatient(sess.PatientID), nil
}

// Get refetches one booking. A booking owned by another patient is NotFound.
func (s *Service) Get(ctx context.Context, sess session.Session, bookingID string) (Booking, error) {
	const op = "bookings.get"
	ctx, span := bookingsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("carebook.booking_id", bookingID))

	if err := sess.Check(op, s.now()); err != nil {
		return Booking{}, err
	}
	b, err := s.backend.GetBooking(ctx, sess.AccessToken, bookingID)
	if err != nil {
		span.RecordError(err)
		return Booking{}, err
	}
	if b.PatientID == "" {
		b.PatientID = sess.PatientID
	}
	if b.PatientID != sess.PatientID {
		s.logger.Warn("booking belongs to another patient", "booking_id", bookingID)
		return Booking{}, apperr.New(apperr.KindNotFound, op, "", nil)
	}
	s.store.Put(b)
	return b, nil
}

// Lookup returns the cached booking, falling back to the marketplace.
func (s *Service) Lookup(ctx context.Context, sess session.Session, bookingID string) (Booking, error) {
	if b, ok := s.store.Get(sess.PatientID, bookingID); ok {
		return b, nil
	}
	return s.Get(ctx, sess, bookingID)
}
