package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/internal/slots"
	"github.com/wolfman30/carebook/pkg/logging"
)

// Catalog lists a provider's schedules.
type Catalog interface {
	ForProvider(ctx context.Context, accessToken, providerID string) ([]schedule.Schedule, error)
}

// Availability computes slot views.
type Availability interface {
	Day(ctx context.Context, sess session.Session, scheduleID string, date time.Time) (slots.DayView, error)
	NextOpen(ctx context.Context, sess session.Session, scheduleID string, from time.Time, horizonDays int) (slots.DayView, error)
	Today() time.Time
}

// SchedulesHandler serves schedule templates and slot availability.
type SchedulesHandler struct {
	catalog      Catalog
	availability Availability
	logger       *logging.Logger
}

func NewSchedulesHandler(catalog Catalog, availability Availability, logger *logging.Logger) *SchedulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulesHandler{catalog: catalog, availability: availability, logger: logger}
}

// SchedulesResponse lists a provider's active schedules.
type SchedulesResponse struct {
	ProviderID string              `json:"provider_id"`
	Schedules  []schedule.Schedule `json:"schedules"`
}

// ListForProvider handles GET /v1/providers/{providerID}/schedules.
func (h *SchedulesHandler) ListForProvider(w http.ResponseWriter, r *http.Request) {
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	providerID := chi.URLParam(r, "providerID")
	list, err := h.catalog.ForProvider(r.Context(), sess.AccessToken, providerID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SchedulesResponse{ProviderID: providerID, Schedules: list})
}

// Slots handles GET /v1/schedules/{scheduleID}/slots?date=YYYY-MM-DD. The
// response is computed from fresh occupancy on every call.
func (h *SchedulesHandler) Slots(w http.ResponseWriter, r *http.Request) {
	const op = "http.slots"
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	date, err := parseDate(op, "date", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	view, err := h.availability.Day(r.Context(), sess, chi.URLParam(r, "scheduleID"), date)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}

// NextOpen handles GET /v1/schedules/{scheduleID}/next-open?from=YYYY-MM-DD&horizon=N.
func (h *SchedulesHandler) NextOpen(w http.ResponseWriter, r *http.Request) {
	const op = "http.next_open"
	sess, err := requireSession(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	from := h.availability.Today()
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = parseDate(op, "from", raw); err != nil {
			writeError(w, h.logger, r, err)
			return
		}
	}
	horizon := 0
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		horizon, err = strconv.Atoi(raw)
		if err != nil || horizon < 1 || horizon > 365 {
			writeError(w, h.logger, r, apperr.New(apperr.KindValidation, op, "horizon must be between 1 and 365 days.", err))
			return
		}
	}
	view, err := h.availability.NextOpen(r.Context(), sess, chi.URLParam(r, "scheduleID"), from, horizon)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}
