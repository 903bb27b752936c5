package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/bookings"
	"github.com/wolfman30/carebook/internal/checkout"
	httpmiddleware "github.com/wolfman30/carebook/internal/http/middleware"
	"github.com/wolfman30/carebook/internal/payments"
	"github.com/wolfman30/carebook/internal/reviews"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/internal/slots"
	"github.com/wolfman30/carebook/internal/testutil"
)

type stubCatalog struct{ err error }

func (s stubCatalog) ForProvider(_ context.Context, _, providerID string) ([]schedule.Schedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	sch := testutil.MondaySchedule()
	sch.ProviderID = providerID
	return []schedule.Schedule{sch}, nil
}

type stubAvailability struct {
	gotDate time.Time
	gotFrom time.Time
	horizon int
	err     error
}

func (s *stubAvailability) Day(_ context.Context, _ session.Session, scheduleID string, date time.Time) (slots.DayView, error) {
	s.gotDate = date
	if s.err != nil {
		return slots.DayView{}, s.err
	}
	return slots.Compute(testutil.MondaySchedule(), date, schedule.NewClockSet(schedule.MustClock("09:15")), date.Add(-time.Hour))
}

func (s *stubAvailability) NextOpen(_ context.Context, _ session.Session, _ string, from time.Time, horizon int) (slots.DayView, error) {
	s.gotFrom, s.horizon = from, horizon
	return slots.DayView{ScheduleID: "sch-1", Date: testutil.Monday, Capacity: slots.CapacityOpen}, s.err
}

func (s *stubAvailability) Today() time.Time { return testutil.Monday.AddDate(0, 0, -3) }

type stubCheckout struct {
	started checkout.StartRequest
	err     error
	closed  string
}

func (s *stubCheckout) snapshot(id string) checkout.Snapshot {
	return checkout.Snapshot{ID: id, ScheduleID: "sch-1", Date: "2026-03-02", SlotStart: schedule.MustClock("09:30"), PaymentState: payments.StateWidgetReady}
}

func (s *stubCheckout) Start(_ context.Context, _ session.Session, req checkout.StartRequest) (checkout.Snapshot, error) {
	s.started = req
	if s.err != nil {
		return checkout.Snapshot{}, s.err
	}
	return s.snapshot("att-1"), nil
}

func (s *stubCheckout) Get(_ session.Session, id string) (checkout.Snapshot, error) {
	return s.snapshot(id), s.err
}

func (s *stubCheckout) Authorize(_ context.Context, _ session.Session, id string) (checkout.Snapshot, error) {
	snap := s.snapshot(id)
	snap.PaymentState = payments.StateNonceReady
	return snap, s.err
}

func (s *stubCheckout) Submit(_ context.Context, sess session.Session, _ string) (bookings.Booking, error) {
	if s.err != nil {
		return bookings.Booking{}, s.err
	}
	return bookings.Booking{ID: "bk-1", PatientID: sess.PatientID, Status: bookings.StatusConfirmed, PaymentStatus: bookings.PaymentPaid}, nil
}

func (s *stubCheckout) Close(_ context.Context, _ session.Session, id string) error {
	s.closed = id
	return nil
}

type stubBookings struct {
	list []bookings.Booking
	err  error
}

func (s stubBookings) List(context.Context, session.Session) ([]bookings.Booking, error) {
	return s.list, s.err
}

func (s stubBookings) Get(_ context.Context, _ session.Session, id string) (bookings.Booking, error) {
	for _, b := range s.list {
		if b.ID == id {
			return b, nil
		}
	}
	return bookings.Booking{}, apperr.New(apperr.KindNotFound, "get", "", nil)
}

type stubCanceller struct{ err error }

func (s stubCanceller) Cancel(_ context.Context, _ session.Session, id string) (bookings.Booking, error) {
	if s.err != nil {
		return bookings.Booking{}, s.err
	}
	return bookings.Booking{ID: id, Status: bookings.StatusCancelled, PaymentStatus: bookings.PaymentRefunded, RefundTransactionID: "rf-1"}, nil
}

type stubReviews struct {
	doctor     []reviews.DoctorReview
	dispensary []reviews.DispensaryReview
	err        error
}

func (s *stubReviews) Refresh(_ context.Context, _ session.Session, id string) (reviews.Eligibility, error) {
	return reviews.Eligibility{BookingID: id, Doctor: true}, s.err
}

func (s *stubReviews) Eligible(b bookings.Booking) reviews.Eligibility {
	return reviews.Eligibility{BookingID: b.ID, Doctor: b.Status == bookings.StatusCompleted}
}

func (s *stubReviews) SubmitDoctor(_ context.Context, _ session.Session, r reviews.DoctorReview) error {
	s.doctor = append(s.doctor, r)
	return s.err
}

func (s *stubReviews) SubmitDispensary(_ context.Context, _ session.Session, r reviews.DispensaryReview) error {
	s.dispensary = append(s.dispensary, r)
	return s.err
}

type fixture struct {
	avail    *stubAvailability
	checkout *stubCheckout
	reviews  *stubReviews
	bookings stubBookings
	cancel   stubCanceller
}

func (f *fixture) mux(withSession bool) http.Handler {
	sh := NewSchedulesHandler(stubCatalog{}, f.avail, nil)
	ch := NewCheckoutHandler(f.checkout, nil)
	bh := NewBookingsHandler(f.bookings, f.cancel, f.reviews, nil)

	r := chi.NewRouter()
	if withSession {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(httpmiddleware.WithSession(req.Context(), testutil.Patient())))
			})
		})
	}
	r.Get("/v1/providers/{providerID}/schedules", sh.ListForProvider)
	r.Get("/v1/schedules/{scheduleID}/slots", sh.Slots)
	r.Get("/v1/schedules/{scheduleID}/next-open", sh.NextOpen)
	r.Post("/v1/checkout", ch.Start)
	r.Get("/v1/checkout/{attemptID}", ch.Get)
	r.Post("/v1/checkout/{attemptID}/authorize", ch.Authorize)
	r.Post("/v1/checkout/{attemptID}/submit", ch.Submit)
	r.Delete("/v1/checkout/{attemptID}", ch.Close)
	r.Get("/v1/bookings", bh.List)
	r.Get("/v1/bookings/{bookingID}", bh.Get)
	r.Post("/v1/bookings/{bookingID}/cancel", bh.Cancel)
	r.Get("/v1/bookings/{bookingID}/reviewable", bh.Reviewable)
	r.Post("/v1/bookings/{bookingID}/reviews/doctor", bh.SubmitDoctorReview)
	r.Post("/v1/bookings/{bookingID}/reviews/dispensary", bh.SubmitDispensaryReview)
	return r
}

func newFixture() *fixture {
	return &fixture{
		avail:    &stubAvailability{},
		checkout: &stubCheckout{},
		reviews:  &stubReviews{},
		bookings: stubBookings{list: []bookings.Booking{
			{ID: "bk-1", PatientID: "p-1", Status: bookings.StatusCompleted, PaymentStatus: bookings.PaymentPaid},
			{ID: "bk-2", PatientID: "p-1", Status: bookings.StatusConfirmed, PaymentStatus: bookings.PaymentPaid},
		}},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRoutesRequireSession(t *testing.T) {
	h := newFixture().mux(false)
	rec := do(t, h, http.MethodGet, "/v1/bookings", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.KindAuthExpired, decodeErr(t, rec).Error)
}

func TestListSchedules(t *testing.T) {
	rec := do(t, newFixture().mux(true), http.MethodGet, "/v1/providers/dr-9/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body SchedulesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dr-9", body.ProviderID)
	require.Len(t, body.Schedules, 1)
	assert.Equal(t, "09:00", body.Schedules[0].StartTime.String())
}

func TestSlots(t *testing.T) {
	f := newFixture()
	h := f.mux(true)

	rec := do(t, h, http.MethodGet, "/v1/schedules/sch-1/slots?date=2026-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var view slots.DayView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Slots, 4)
	assert.False(t, view.Slots[1].Available)
	assert.Equal(t, slots.ReasonOccupied, view.Slots[1].Reason)
	assert.Equal(t, testutil.Monday, f.avail.gotDate)

	rec = do(t, h, http.MethodGet, "/v1/schedules/sch-1/slots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/schedules/sch-1/slots?date=03/02/2026", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.RetryFixInput, decodeErr(t, rec).Retry)

	f.avail.err = apperr.New(apperr.KindValidation, "day", "This provider is not available on the selected day.", slots.ErrProviderUnavailableOnDay)
	rec = do(t, h, http.MethodGet, "/v1/schedules/sch-1/slots?date=2026-03-03", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This provider is not available on the selected day.", decodeErr(t, rec).Message)
}

func TestNextOpen(t *testing.T) {
	f := newFixture()
	h := f.mux(true)

	rec := do(t, h, http.MethodGet, "/v1/schedules/sch-1/next-open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.avail.Today(), f.avail.gotFrom)
	assert.Zero(t, f.avail.horizon)

	rec = do(t, h, http.MethodGet, "/v1/schedules/sch-1/next-open?from=2026-03-09&horizon=14", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testutil.Monday.AddDate(0, 0, 7), f.avail.gotFrom)
	assert.Equal(t, 14, f.avail.horizon)

	rec = do(t, h, http.MethodGet, "/v1/schedules/sch-1/next-open?horizon=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutFlow(t *testing.T) {
	f := newFixture()
	h := f.mux(true)

	rec := do(t, h, http.MethodPost, "/v1/checkout", `{"schedule_id":"sch-1","date":"2026-03-02","slot_start":"09:30"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "sch-1", f.checkout.started.ScheduleID)
	assert.Equal(t, testutil.Monday, f.checkout.started.Date)
	assert.Equal(t, schedule.MustClock("09:30"), f.checkout.started.SlotStart)
	assert.NotContains(t, rec.Body.String(), "nonce")

	rec = do(t, h, http.MethodPost, "/v1/checkout/att-1/authorize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(payments.StateNonceReady))

	rec = do(t, h, http.MethodGet, "/v1/checkout/att-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/checkout/att-1/submit", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var b bookings.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "bk-1", b.ID)
	assert.Equal(t, "p-1", b.PatientID)

	rec = do(t, h, http.MethodDelete, "/v1/checkout/att-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "att-1", f.checkout.closed)
}

func TestCheckoutStartRejectsBadInput(t *testing.T) {
	h := newFixture().mux(true)
	for _, body := range []string{
		``,
		`{"schedule_id":"sch-1","date":"2026-03-02","slot_start":"9am"}`,
		`{"schedule_id":"sch-1","date":"tomorrow","slot_start":"09:30"}`,
		`{"schedule_id":"sch-1","date":"2026-03-02","slot_start":"09:30","extra":1}`,
	} {
		rec := do(t, h, http.MethodPost, "/v1/checkout", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCheckoutErrorsCarryRetryGuidance(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		retry  apperr.Retry
	}{
		{"conflict", apperr.New(apperr.KindConflict, "submit", "", nil), http.StatusConflict, apperr.RetryNewSlot},
		{"network", apperr.New(apperr.KindNetwork, "submit", "", nil), http.StatusGatewayTimeout, apperr.RetryAfterRefetch},
		{"nonce", apperr.New(apperr.KindPaymentNonce, "submit", "", nil), http.StatusPaymentRequired, apperr.RetryWithNewAuthorization},
		{"busy", apperr.New(apperr.KindBusy, "submit", "", nil), http.StatusConflict, apperr.RetryLater},
		{"unclassified", errors.New("boom"), http.StatusBadGateway, apperr.RetryWithNewAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.checkout.err = tt.err
			rec := do(t, f.mux(true), http.MethodPost, "/v1/checkout/att-1/submit", "")
			assert.Equal(t, tt.status, rec.Code)
			body := decodeErr(t, rec)
			assert.Equal(t, tt.retry, body.Retry)
			assert.NotEmpty(t, body.Message)
			assert.NotContains(t, body.Message, "boom")
		})
	}
}

func TestBookingsListAndGet(t *testing.T) {
	h := newFixture().mux(true)

	rec := do(t, h, http.MethodGet, "/v1/bookings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list BookingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Bookings, 2)
	assert.True(t, list.Bookings[0].DoctorReviewable)
	assert.False(t, list.Bookings[1].DoctorReviewable)

	rec = do(t, h, http.MethodGet, "/v1/bookings/bk-2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/bookings/bk-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	rec := do(t, f.mux(true), http.MethodPost, "/v1/bookings/bk-2/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v BookingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, bookings.StatusCancelled, v.Status)
	assert.Equal(t, "rf-1", v.RefundTransactionID)

	f.cancel.err = apperr.New(apperr.KindNotCancellable, "cancel", "Cancellation window has closed.", nil)
	rec = do(t, f.mux(true), http.MethodPost, "/v1/bookings/bk-2/cancel", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Cancellation window has closed.", decodeErr(t, rec).Message)
}

func TestReviews(t *testing.T) {
	f := newFixture()
	h := f.mux(true)

	rec := do(t, h, http.MethodGet, "/v1/bookings/bk-1/reviewable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"booking_id":"bk-1","doctor_reviewable":true,"dispensary_reviewable":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/bookings/bk-1/reviews/doctor", `{"rating":5,"comment":"Great","anonymous":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.reviews.doctor, 1)
	assert.Equal(t, "bk-1", f.reviews.doctor[0].BookingID)
	assert.True(t, f.reviews.doctor[0].Anonymous)

	rec = do(t, h, http.MethodPost, "/v1/bookings/bk-1/reviews/dispensary", `{"booking_id":"other","cleanliness":5,"staff_support":4,"accessibility":3}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.reviews.dispensary, 1)
	assert.Equal(t, "bk-1", f.reviews.dispensary[0].BookingID, "path wins over body")

	f.reviews.err = apperr.New(apperr.KindNotReviewable, "review", "", nil)
	rec = do(t, h, http.MethodPost, "/v1/bookings/bk-1/reviews/doctor", `{"rating":4}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperr.KindNotReviewable, decodeErr(t, rec).Error)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["postgres"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
