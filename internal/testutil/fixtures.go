// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/wolfman30/carebook/internal/schedule"
	"github.com/wolfman30/carebook/internal/session"
)

// Monday is 2026-03-02, a Monday, at midnight UTC.
var Monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// MondaySchedule is MONDAY 09:00-10:00 in 15 minute windows.
func MondaySchedule() schedule.Schedule {
	return schedule.Schedule{
		ID:                "sch-1",
		ProviderID:        "dr-1",
		DispensaryID:      "disp-1",
		DayOfWeek:         time.Monday,
		StartTime:         schedule.MustClock("09:00"),
		EndTime:           schedule.MustClock("10:00"),
		PerPatientMinutes: 15,
		RateCents:         4500,
		Status:            schedule.StatusActive,
	}
}

// Patient returns a valid session for patient p-1.
func Patient() session.Session {
	return session.Session{
		PatientID:   "p-1",
		Email:       "pat@example.com",
		Name:        "Pat Doe",
		AccessToken: "access-token",
	}
}

// FixedClock returns a time source pinned at t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
