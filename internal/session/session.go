// Package session carries the authenticated patient through the booking components.
// It is passed explicitly; nothing reads it from ambient state.
package session

import (
	"strings"
	"time"

	"github.com/wolfman30/carebook/internal/apperr"
)

// Session is a verified patient session.
type Session struct {
	PatientID   string
	Email       string
	Name        string
	AccessToken string
	ExpiresAt   time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Check fails with AuthExpired when the session cannot authorize backend calls.
func (s Session) Check(op string, now time.Time) error {
	if strings.TrimSpace(s.PatientID) == "" || strings.TrimSpace(s.AccessToken) == "" {
		return apperr.New(apperr.KindAuthExpired, op, "", nil)
	}
	if s.Expired(now) {
		return apperr.New(apperr.KindAuthExpired, op, "", nil)
	}
	return nil
}
