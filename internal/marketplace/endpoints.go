package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/reviews"
	"github.com/wolfman30/carebook/internal/schedule"
)

const dateLayout = "2006-01-02"

type scheduleWire struct {
	ID                string `json:"id"`
	ProviderID        string `json:"provider_id"`
	DispensaryID      string `json:"dispensary_id"`
	DayOfWeek         string `json:"day_of_week"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	PerPatientMinutes int    `json:"per_patient_minutes"`
	Rate              int64  `json:"rate"`
	Status            string `json:"status"`
}

func (w scheduleWire) toSchedule() (schedule.Schedule, error) {
	day, err := schedule.ParseWeekday(w.DayOfWeek)
	if err != nil {
		return schedule.Schedule{}, err
	}
	start, err := schedule.ParseClock(w.StartTime)
	if err != nil {
		return schedule.Schedule{}, err
	}
	end, err := schedule.ParseClock(w.EndTime)
	if err != nil {
		return schedule.Schedule{}, err
	}
	status := schedule.Status(strings.ToLower(w.Status))
	if status == "" {
		status = schedule.StatusActive
	}
	return schedule.Schedule{
		ID:                w.ID,
		ProviderID:        w.ProviderID,
		DispensaryID:      w.DispensaryID,
		DayOfWeek:         day,
		StartTime:         start,
		EndTime:           end,
		PerPatientMinutes: w.PerPatientMinutes,
		RateCents:         w.Rate,
		Status:            status,
	}, nil
}

type bookingWire struct {
	ID                  string `json:"id"`
	BookingID           string `json:"booking_id"`
	ScheduleID          string `json:"schedule_id"`
	PatientID           string `json:"patient_id"`
	ProviderID          string `json:"provider_id"`
	DispensaryID        string `json:"dispensary_id"`
	AppointmentDate     string `json:"appointment_date"`
	SlotStart           string `json:"slot_start"`
	Status              string `json:"status"`
	PaymentStatus       string `json:"payment_status"`
	TransactionID       string `json:"transaction_id"`
	RefundTransactionID string `json:"refund_transaction_id"`
	CreatedAt           string `json:"created_at"`
}

func (w bookingWire) toBooking() (bookings.Booking, error) {
	id := w.BookingID
	if id == "" {
		id = w.ID
	}
	b := bookings.Booking{
		ID:                  id,
		ScheduleID:          w.ScheduleID,
		PatientID:           w.PatientID,
		ProviderID:          w.ProviderID,
		DispensaryID:        w.DispensaryID,
		Status:              bookings.Status(strings.ToLower(w.Status)),
		PaymentStatus:       bookings.PaymentStatus(strings.ToLower(w.PaymentStatus)),
		TransactionID:       w.TransactionID,
		RefundTransactionID: w.RefundTransactionID,
	}
	if w.AppointmentDate != "" {
		// Accept both a bare date and a full timestamp; only the calendar date matters.
		raw := w.AppointmentDate
		if len(raw) > len(dateLayout) {
			raw = raw[:len(dateLayout)]
		}
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return bookings.Booking{}, fmt.Errorf("marketplace: appointment date %q: %w", w.AppointmentDate, err)
		}
		b.AppointmentDate = d
	}
	if w.SlotStart != "" {
		c, err := schedule.ParseClock(w.SlotStart)
		if err != nil {
			return bookings.Booking{}, err
		}
		b.SlotStart = c
	}
	if w.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, w.CreatedAt); err == nil {
			b.CreatedAt = ts
		}
	}
	return b, nil
}

func malformed(op string, err error) error {
	return apperr.New(apperr.KindServer, "marketplace."+op, "", err)
}

// unconfirmed wraps a 2xx create response that cannot be read back. The booking
// may exist, so the outcome is unknown.
func unconfirmed(err error) error {
	return apperr.New(apperr.KindNetwork, "marketplace.create_booking", "", err)
}

// ListSchedules returns every schedule a provider publishes.
func (c *Client) ListSchedules(ctx context.Context, accessToken, providerID string) ([]schedule.Schedule, error) {
	var out struct {
		Schedules []scheduleWire `json:"schedules"`
	}
	q := url.Values{"provider_id": {providerID}}
	if err := c.do(ctx, request{op: "list_schedules", method: http.MethodGet, path: "/schedules?" + q.Encode(), accessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	list := make([]schedule.Schedule, 0, len(out.Schedules))
	for _, w := range out.Schedules {
		s, err := w.toSchedule()
		if err != nil {
			return nil, malformed("list_schedules", err)
		}
		list = append(list, s)
	}
	return list, nil
}

// GetSchedule returns one schedule.
func (c *Client) GetSchedule(ctx context.Context, accessToken, scheduleID string) (*schedule.Schedule, error) {
	var out scheduleWire
	if err := c.do(ctx, request{op: "get_schedule", method: http.MethodGet, path: "/schedules/" + url.PathEscape(scheduleID), accessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	s, err := out.toSchedule()
	if err != nil {
		return nil, malformed("get_schedule", err)
	}
	return &s, nil
}

// OccupiedStarts returns the slot starts already reserved on date.
func (c *Client) OccupiedStarts(ctx context.Context, accessToken, scheduleID string, date time.Time) (schedule.ClockSet, error) {
	var out struct {
		OccupiedStarts []string `json:"occupied_starts"`
	}
	q := url.Values{"date": {date.Format(dateLayout)}}
	path := "/schedules/" + url.PathEscape(scheduleID) + "/slots?" + q.Encode()
	if err := c.do(ctx, request{op: "occupied_starts", method: http.MethodGet, path: path, accessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	set := make(schedule.ClockSet, len(out.OccupiedStarts))
	for _, raw := range out.OccupiedStarts {
		clock, err := schedule.ParseClock(raw)
		if err != nil {
			return nil, malformed("occupied_starts", err)
		}
		set.Add(clock)
	}
	return set, nil
}

// PaymentToken fetches a client token for the hosted payment widget.
func (c *Client) PaymentToken(ctx context.Context, accessToken string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, request{op: "payment_token", method: http.MethodPost, path: "/payments/token", accessToken: accessToken}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", malformed("payment_token", fmt.Errorf("empty token"))
	}
	return out.Token, nil
}

// CreateBooking submits the slot and payment nonce as one atomic request.
func (c *Client) CreateBooking(ctx context.Context, accessToken string, req bookings.CreateRequest) (bookings.Booking, error) {
	body := map[string]any{
		"schedule_id":      req.ScheduleID,
		"appointment_date": req.AppointmentDate.Format(dateLayout),
		"slot_start":       req.SlotStart.String(),
		"payment_nonce":    req.PaymentNonce,
	}
	var out bookingWire
	err := c.do(ctx, request{
		op:             "create_booking",
		method:         http.MethodPost,
		path:           "/bookings",
		accessToken:    accessToken,
		idempotencyKey: req.IdempotencyKey,
		body:           body,
	}, &out)
	if errors.Is(err, errUndecodable) {
		return bookings.Booking{}, unconfirmed(err)
	}
	if err != nil {
		return bookings.Booking{}, err
	}
	b, err := out.toBooking()
	if err != nil {
		return bookings.Booking{}, unconfirmed(err)
	}
	if b.ID == "" {
		return bookings.Booking{}, unconfirmed(fmt.Errorf("missing booking id"))
	}
	if b.ScheduleID == "" {
		b.ScheduleID = req.ScheduleID
	}
	if b.AppointmentDate.IsZero() {
		b.AppointmentDate = req.AppointmentDate
	}
	if b.SlotStart == (schedule.Clock{}) {
		b.SlotStart = req.SlotStart
	}
	return b, nil
}

// ListBookings returns the patient's bookings.
func (c *Client) ListBookings(ctx context.Context, accessToken string) ([]bookings.Booking, error) {
	var out struct {
		Bookings []bookingWire `json:"bookings"`
	}
	if err := c.do(ctx, request{op: "list_bookings", method: http.MethodGet, path: "/bookings", accessToken: accessToken}, &out); err != nil {
		return nil, err
	}
	list := make([]bookings.Booking, 0, len(out.Bookings))
	for _, w := range out.Bookings {
		b, err := w.toBooking()
		if err != nil {
			return nil, malformed("list_bookings", err)
		}
		list = append(list, b)
	}
	return list, nil
}

// GetBooking returns one booking.
func (c *Client) GetBooking(ctx context.Context, accessToken, bookingID string) (bookings.Booking, error) {
	var out bookingWire
	if err := c.do(ctx, request{op: "get_booking", method: http.MethodGet, path: "/bookings/" + url.PathEscape(bookingID), accessToken: accessToken}, &out); err != nil {
		return bookings.Booking{}, err
	}
	b, err := out.toBooking()
	if err != nil {
		return bookings.Booking{}, malformed("get_booking", err)
	}
	return b, nil
}

// CancelBooking asks the backend to cancel and refund. It returns the refund transaction id.
func (c *Client) CancelBooking(ctx context.Context, accessToken, bookingID string) (string, error) {
	var out struct {
		OK                  bool   `json:"ok"`
		RefundTransactionID string `json:"refund_transaction_id"`
		Message             string `json:"message"`
	}
	path := "/bookings/" + url.PathEscape(bookingID) + "/cancel"
	if err := c.do(ctx, request{op: "cancel_booking", method: http.MethodPost, path: path, accessToken: accessToken}, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", apperr.New(apperr.KindNotCancellable, "marketplace.cancel_booking", out.Message, nil)
	}
	return out.RefundTransactionID, nil
}

// ReviewableStatus returns the backend's advisory review eligibility.
func (c *Client) ReviewableStatus(ctx context.Context, accessToken, bookingID string) (reviews.Status, error) {
	var out reviews.Status
	path := "/bookings/" + url.PathEscape(bookingID) + "/reviewable"
	if err := c.do(ctx, request{op: "reviewable_status", method: http.MethodGet, path: path, accessToken: accessToken}, &out); err != nil {
		return reviews.Status{}, err
	}
	return out, nil
}

// SubmitDoctorReview posts a provider review.
func (c *Client) SubmitDoctorReview(ctx context.Context, accessToken string, r reviews.DoctorReview) error {
	return c.do(ctx, request{op: "doctor_review", method: http.MethodPost, path: "/reviews/doctor", accessToken: accessToken, body: r}, nil)
}

// SubmitDispensaryReview posts a location review.
func (c *Client) SubmitDispensaryReview(ctx context.Context, accessToken string, r reviews.DispensaryReview) error {
	return c.do(ctx, request{op: "dispensary_review", method: http.MethodPost, path: "/reviews/dispensary", accessToken: accessToken, body: r}, nil)
}
