// Package slots derives bookable windows from a schedule template. It is pure:
// the caller supplies occupancy and the current time.
package slots

import (
	"errors"
	"time"

	"github.com/wolfman30/carebook/internal/schedule"
)

// ErrProviderUnavailableOnDay is returned when the date is not on the schedule's weekday.
var ErrProviderUnavailableOnDay = errors.New("slots: provider not available on this day")

// Reason explains why a window is not bookable.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonPast     Reason = "past"
	ReasonOccupied Reason = "occupied"
)

// Capacity summarizes a day so the UI can tell "nothing offered" from "today is over".
type Capacity string

const (
	CapacityOpen    Capacity = "open"
	CapacityNone    Capacity = "none"
	CapacityElapsed Capacity = "elapsed"
	CapacityFull    Capacity = "full"
)

// Slot is one fixed-width window. It is derived on every computation and never persisted.
type Slot struct {
	Start     schedule.Clock `json:"start"`
	End       schedule.Clock `json:"end"`
	StartsAt  time.Time      `json:"starts_at"`
	EndsAt    time.Time      `json:"ends_at"`
	Available bool           `json:"available"`
	Reason    Reason         `json:"reason,omitempty"`
}

// DayView is the computed slot sequence for one schedule on one date.
type DayView struct {
	ScheduleID string     `json:"schedule_id"`
	Date       time.Time  `json:"date"`
	Slots      []Slot     `json:"slots"`
	Capacity   Capacity   `json:"capacity"`
	ComputedAt time.Time  `json:"computed_at"`
	NextDate   *time.Time `json:"next_date,omitempty"`
}

// Find returns the window starting at start.
func (v DayView) Find(start schedule.Clock) (Slot, bool) {
	for _, s := range v.Slots {
		if s.Start == start {
			return s, true
		}
	}
	return Slot{}, false
}

// Available returns only the bookable windows.
func (v DayView) Available() []Slot {
	out := make([]Slot, 0, len(v.Slots))
	for _, s := range v.Slots {
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}

// Compute partitions [StartTime, EndTime) into PerPatientMinutes windows on date
// and marks each one against occupied and now. date's location is the clinic's;
// a trailing window shorter than the per-patient duration is dropped.
func Compute(s schedule.Schedule, date time.Time, occupied schedule.ClockSet, now time.Time) (DayView, error) {
	if err := s.Validate(); err != nil {
		return DayView{}, err
	}
	if !s.OnDay(date) {
		return DayView{}, ErrProviderUnavailableOnDay
	}

	loc := date.Location()
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	view := DayView{ScheduleID: s.ID, Date: day, ComputedAt: now}

	step := s.PerPatientMinutes
	end := s.EndTime.Minutes()
	var open, future int
	for start := s.StartTime.Minutes(); start+step <= end; start += step {
		startClock := schedule.ClockFromMinutes(start)
		slot := Slot{
			Start:    startClock,
			End:      schedule.ClockFromMinutes(start + step),
			StartsAt: startClock.On(day),
		}
		slot.EndsAt = slot.StartsAt.Add(time.Duration(step) * time.Minute)

		past := !slot.StartsAt.After(now)
		switch {
		case occupied.Has(startClock):
			slot.Reason = ReasonOccupied
		case past:
			slot.Reason = ReasonPast
		default:
			slot.Available = true
			open++
		}
		if !past {
			future++
		}
		view.Slots = append(view.Slots, slot)
	}

	switch {
	case len(view.Slots) == 0:
		view.Capacity = CapacityNone
	case open > 0:
		view.Capacity = CapacityOpen
	case future == 0:
		view.Capacity = CapacityElapsed
	default:
		view.Capacity = CapacityFull
	}
	if view.Capacity != CapacityOpen {
		next := NextDate(s, day)
		view.NextDate = &next
	}
	return view, nil
}

// NextDate returns the first calendar date strictly after after that falls on
// the schedule's weekday.
func NextDate(s schedule.Schedule, after time.Time) time.Time {
	y, m, d := after.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, after.Location())
	delta := (int(s.DayOfWeek) - int(day.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return day.AddDate(0, 0, delta)
}
