package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status of a schedule as published by the marketplace.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock accepts "15:04" or "15:04:05" (seconds are ignored).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Clock{}, fmt.Errorf("schedule: invalid clock %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("schedule: invalid clock %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("schedule: invalid clock %q", s)
	}
	c := Clock{Hour: h, Minute: m}
	if !c.Valid() {
		return Clock{}, fmt.Errorf("schedule: clock out of range %q", s)
	}
	return c, nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Valid reports whether c is within a single day. 24:00 is accepted as an end of day.
func (c Clock) Valid() bool {
	if c.Hour == 24 {
		return c.Minute == 0
	}
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60
}

// Minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ClockFromMinutes is the inverse of Minutes.
func ClockFromMinutes(m int) Clock { return Clock{Hour: m / 60, Minute: m % 60} }

func (c Clock) Before(o Clock) bool { return c.Minutes() < o.Minutes() }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On anchors c on the calendar date of day, in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClockSet is a set of times of day, used for occupied slot starts.
type ClockSet map[Clock]struct{}

func NewClockSet(clocks ...Clock) ClockSet {
	set := make(ClockSet, len(clocks))
	for _, c := range clocks {
		set[c] = struct{}{}
	}
	return set
}

func (s ClockSet) Has(c Clock) bool {
	_, ok := s[c]
	return ok
}

func (s ClockSet) Add(c Clock) { s[c] = struct{}{} }

// Sorted returns the members in chronological order.
func (s ClockSet) Sorted() []Clock {
	out := make([]Clock, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Schedule is a provider's recurring weekly availability template.
type Schedule struct {
	ID                string       `json:"id"`
	ProviderID        string       `json:"provider_id"`
	DispensaryID      string       `json:"dispensary_id"`
	DayOfWeek         time.Weekday `json:"day_of_week"`
	StartTime         Clock        `json:"start_time"`
	EndTime           Clock        `json:"end_time"`
	PerPatientMinutes int          `json:"per_patient_minutes"`
	RateCents         int64        `json:"rate_cents"`
	Status            Status       `json:"status"`
}

var (
	ErrInvalidRange    = errors.New("schedule: start time must be before end time")
	ErrInvalidDuration = errors.New("schedule: per-patient duration must be positive")
)

// Validate checks the template can be partitioned into windows.
func (s Schedule) Validate() error {
	if !s.StartTime.Valid() || !s.EndTime.Valid() || !s.StartTime.Before(s.EndTime) {
		return ErrInvalidRange
	}
	if s.PerPatientMinutes <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

func (s Schedule) Active() bool { return s.Status == StatusActive }

// OnDay reports whether date falls on the schedule's weekday.
func (s Schedule) OnDay(date time.Time) bool { return date.Weekday() == s.DayOfWeek }

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("schedule: invalid weekday %q", s)
}
