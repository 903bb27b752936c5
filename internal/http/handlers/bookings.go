package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/reviews"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Bookings reads the patient's bookings from the marketplace.
type Bookings interface {
	List(ctx context.Context, sess session.Session) ([]bookings.Booking, error)
	Get(ctx context.Context, sess session.Session, bookingID string) (bookings.Booking, error)
}

// Canceller cancels a booking and refunds its payment.
type Canceller interface {
	Cancel(ctx context.Context, sess session.Session, bookingID string) (bookings.Booking, error)
}

// Reviews gates and submits reviews.
type Reviews interface {
	Refresh(ctx context.Context, sess session.Session, bookingID string) (reviews.Eligibility, error)
	Eligible(b bookings.Booking) reviews.Eligibility
	SubmitDoctor(ctx context.Context, sess session.Session, r reviews.DoctorReview) error
	SubmitDispensary(ctx context.Context, sess session.Session, r reviews.DispensaryReview) error
}

// BookingsHandler serves the patient's bookings, cancellations and reviews.
type BookingsHandler struct {
	bookings Bookings
	cancel   Canceller
	reviews  Reviews
	logger   *logging.Logger
}

func NewBookingsHandler(b Bookings, c Canceller, rv Reviews, logger *logging.Logger) *BookingsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingsHandler{bookings: b, cancel: c, reviews: rv, logger: logger}
}

// BookingView is a booking with its review eligibility.
type BookingView struct {
	bookings.Booking
	DoctorReviewable     bool `json:"doctor_reviewable"`
	DispensaryReviewable bool `json:"dispensary_reviewable"`
}

// BookingsResponse lists the patient's bookings.
type BookingsResponse struct {
	Bookings []BookingView `json:"bookings"`
}

// ReviewResponse acknowledges a stored review.
type ReviewResponse struct {
	BookingID string         `json:"booking_id"`
	Target    reviews.Target `json:"target"`
	Status    string         `json:"status"`
}

func (h *BookingsHandler) view(b bookings.Booking) BookingView {
	v := BookingView{Booking: b}
	if h.reviews != nil {
		e := h.reviews.Eligible(b)
		v.DoctorReviewable = e.Doctor
		v.DispensaryReviewable = e.Dispensary
	}
	return v
}

// List handles GET /v1/bookings.
func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	list, err := h.bookings.List(r.Context(), sess)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	resp := BookingsResponse{Bookings: make([]BookingView, 0, len(list))}
	for _, b := range list {
		resp.Bookings = append(resp.Bookings, h.view(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/bookings/{bookingID}.
func (h *BookingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	b, err := h.bookings.Get(r.Context(), sess, chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(b))
}

// Cancel handles POST /v1/bookings/{bookingID}/cancel.
func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	b, err := h.cancel.Cancel(r.Context(), sess, chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(b))
}

// Reviewable handles GET /v1/bookings/{bookingID}/reviewable.
func (h *BookingsHandler) Reviewable(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	e, err := h.reviews.Refresh(r.Context(), sess, chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// SubmitDoctorReview handles POST /v1/bookings/{bookingID}/reviews/doctor.
func (h *BookingsHandler) SubmitDoctorReview(w http.ResponseWriter, r *http.Request) {
	const op = "http.review_doctor"
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var body reviews.DoctorReview
	if err := decodeJSON(r, op, &body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	body.BookingID = chi.URLParam(r, "bookingID")
	if err := h.reviews.SubmitDoctor(r.Context(), sess, body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReviewResponse{BookingID: body.BookingID, Target: reviews.TargetDoctor, Status: "submitted"})
}

// SubmitDispensaryReview handles POST /v1/bookings/{bookingID}/reviews/dispensary.
func (h *BookingsHandler) SubmitDispensaryReview(w http.ResponseWriter, r *http.Request) {
	const op = "http.review_dispensary"
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var body reviews.DispensaryReview
	if err := decodeJSON(r, op, &body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	body.BookingID = chi.URLParam(r, "bookingID")
	if err := h.reviews.SubmitDispensary(r.Context(), sess, body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReviewResponse{BookingID: body.BookingID, Target: reviews.TargetDispensary, Status: "submitted"})
}
