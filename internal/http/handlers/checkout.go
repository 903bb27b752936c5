package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/checkout"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Checkout manages open booking attempts.
type Checkout interface {
	Start(ctx context.Context, sess session.Session, req checkout.StartRequest) (checkout.Snapshot, error)
	Get(sess session.Session, id string) (checkout.Snapshot, error)
	Authorize(ctx context.Context, sess session.Session, id string) (checkout.Snapshot, error)
	Submit(ctx context.Context, sess session.Session, id string) (bookings.Booking, error)
	Close(ctx context.Context, sess session.Session, id string) error
}

// CheckoutHandler drives a slot selection through payment authorization to a
// committed booking.
type CheckoutHandler struct {
	checkout Checkout
	logger   *logging.Logger
}

func NewCheckoutHandler(co Checkout, logger *logging.Logger) *CheckoutHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CheckoutHandler{checkout: co, logger: logger}
}

// StartCheckoutRequest selects a slot.
type StartCheckoutRequest struct {
	ScheduleID string         `json:"schedule_id"`
	Date       string         `json:"date"`
	SlotStart  schedule.Clock `json:"slot_start"`
}

// Start handles POST /v1/checkout.
func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	const op = "http.checkout_start"
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	var body StartCheckoutRequest
	if err := decodeJSON(r, op, &body); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	date, err := parseDate(op, "date", body.Date)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	snap, err := h.checkout.Start(r.Context(), sess, checkout.StartRequest{
		ScheduleID: body.ScheduleID,
		Date:       date,
		SlotStart:  body.SlotStart,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// Get handles GET /v1/checkout/{attemptID}.
func (h *CheckoutHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	snap, err := h.checkout.Get(sess, chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Authorize handles POST /v1/checkout/{attemptID}/authorize.
func (h *CheckoutHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	snap, err := h.checkout.Authorize(r.Context(), sess, chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Submit handles POST /v1/checkout/{attemptID}/submit.
func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	booking, err := h.checkout.Submit(r.Context(), sess, chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// Close handles DELETE /v1/checkout/{attemptID}.
func (h *CheckoutHandler) Close(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.checkout.Close(r.Context(), sess, chi.URLParam(r, "attemptID")); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
