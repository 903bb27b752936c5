// Package availability joins freshly fetched occupancy with the pure slot calculator.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/carebook/internal/apperr"
	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
	"github.com/wolfman30/carebook/internal/slots"
	"github.com/wolfman30/carebook/pkg/logging"
)

// ScheduleSource resolves a schedule template.
type ScheduleSource interface {
	Get(ctx context.Context, accessToken, scheduleID string) (*schedule.Schedule, error)
}

// OccupancySource returns the slot starts already taken on a date.
type OccupancySource interface {
	OccupiedStarts(ctx context.Context, accessToken, scheduleID string, date time.Time) (schedule.ClockSet, error)
}

// Service computes day views. Occupancy is fetched on every call and never cached.
type Service struct {
	schedules ScheduleSource
	occupancy OccupancySource
	loc       *time.Location
	now       func() time.Time
	logger    *logging.Logger
}

func NewService(schedules ScheduleSource, occupancy OccupancySource, loc *time.Location, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		schedules: schedules,
		occupancy: occupancy,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Location is the clinic location used to interpret calendar dates.
func (s *Service) Location() *time.Location { return s.loc }

// Today returns the current calendar date in the clinic location.
func (s *Service) Today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

// Day computes the slot view for scheduleID on date.
func (s *Service) Day(ctx context.Context, sess session.Session, scheduleID string, date time.Time) (slots.DayView, error) {
	const op = "availability.day"
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, s.loc)

	sched, err := s.schedules.Get(ctx, sess.AccessToken, scheduleID)
	if err != nil {
		return slots.DayView{}, err
	}
	if !sched.Active() {
		return slots.DayView{}, apperr.New(apperr.KindValidation, op, "This schedule is not currently accepting bookings.", nil)
	}
	if !sched.OnDay(day) {
		return slots.DayView{}, apperr.New(apperr.KindValidation, op, "This provider is not available on the selected day.", slots.ErrProviderUnavailableOnDay)
	}

	occupied, err := s.occupancy.OccupiedStarts(ctx, sess.AccessToken, scheduleID, day)
	if err != nil {
		return slots.DayView{}, err
	}

	view, err := slots.Compute(*sched, day, occupied, s.now())
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidRange) || errors.Is(err, schedule.ErrInvalidDuration) {
			s.logger.Error("invalid schedule template", "schedule_id", scheduleID, "error", err)
			return slots.DayView{}, apperr.New(apperr.KindServer, op, "This provider's schedule cannot be displayed right now.", err)
		}
		return slots.DayView{}, fmt.Errorf("availability: compute: %w", err)
	}
	return view, nil
}

// NextOpen walks forward from from (inclusive) over the schedule's weekdays and
// returns the first day with an available window within horizonDays.
func (s *Service) NextOpen(ctx context.Context, sess session.Session, scheduleID string, from time.Time, horizonDays int) (slots.DayView, error) {
	const op = "availability.next_open"
	if horizonDays <= 0 {
		horizonDays = 28
	}
	sched, err := s.schedules.Get(ctx, sess.AccessToken, scheduleID)
	if err != nil {
		return slots.DayView{}, err
	}
	y, m, d := from.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	if today := s.Today(); start.Before(today) {
		start = today
	}
	day := start
	if !sched.OnDay(day) {
		day = slots.NextDate(*sched, day)
	}
	limit := start.AddDate(0, 0, horizonDays)
	for !day.After(limit) {
		view, err := s.Day(ctx, sess, scheduleID, day)
		if err != nil {
			return slots.DayView{}, err
		}
		if view.Capacity == slots.CapacityOpen {
			return view, nil
		}
		day = slots.NextDate(*sched, day)
	}
	return slots.DayView{}, apperr.New(apperr.KindNotFound, op, "No open appointments in the coming weeks.", nil)
}

// View holds the last computed day view for one screen. It is recomputed from
// fresh occupancy whenever it has been invalidated.
type View struct {
	svc        *Service
	sess       session.Session
	scheduleID string

	mu      sync.Mutex
	date    time.Time
	current *slots.DayView
	stale   bool
}

// NewView binds a view to a schedule and date.
func (s *Service) NewView(sess session.Session, scheduleID string, date time.Time) *View {
	y, m, d := date.Date()
	return &View{
		svc:        s,
		sess:       sess,
		scheduleID: scheduleID,
		date:       time.Date(y, m, d, 0, 0, 0, 0, s.loc),
		stale:      true,
	}
}

// Current returns the cached view, recomputing it when stale.
func (v *View) Current(ctx context.Context) (slots.DayView, error) {
	v.mu.Lock()
	if !v.stale && v.current != nil {
		out := *v.current
		v.mu.Unlock()
		return out, nil
	}
	date := v.date
	v.mu.Unlock()

	view, err := v.svc.Day(ctx, v.sess, v.scheduleID, date)
	if err != nil {
		return slots.DayView{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.date.Equal(date) {
		v.current = &view
		v.stale = false
	}
	return view, nil
}

// Refresh forces a recomputation.
func (v *View) Refresh(ctx context.Context) (slots.DayView, error) {
	v.Invalidate()
	return v.Current(ctx)
}

// Invalidate marks the view stale.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.stale = true
	v.mu.Unlock()
}

// SetDate switches the view to another date. A date change always discards the cached slots.
func (v *View) SetDate(date time.Time) {
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, v.svc.loc)
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.date.Equal(day) {
		v.date = day
		v.current = nil
		v.stale = true
	}
}

// Date is the calendar date the view is bound to.
func (v *View) Date() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.date
}
