package reviews

import (
	"fmt"
	"strings"

	"github.com/wolfman30/carebook/internal/apperr"
)

// Target is what a review is about.
type Target string

const (
	TargetDoctor     Target = "doctor"
	TargetDispensary Target = "dispensary"
)

// ParseTarget accepts the route segment form of a target.
func ParseTarget(s string) (Target, error) {
	switch Target(strings.ToLower(strings.TrimSpace(s))) {
	case TargetDoctor:
		return TargetDoctor, nil
	case TargetDispensary:
		return TargetDispensary, nil
	}
	return "", fmt.Errorf("reviews: unknown target %q", s)
}

const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 2000
)

// DoctorReview rates the provider.
type DoctorReview struct {
	BookingID string `json:"booking_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

// DispensaryReview rates the location.
type DispensaryReview struct {
	BookingID     string `json:"booking_id"`
	Cleanliness   int    `json:"cleanliness"`
	StaffSupport  int    `json:"staff_support"`
	Accessibility int    `json:"accessibility"`
	Comment       string `json:"comment,omitempty"`
	Anonymous     bool   `json:"anonymous"`
}

// Status is the backend's advisory eligibility for a booking.
type Status struct {
	DoctorReviewable     bool `json:"doctor_reviewable"`
	DispensaryReviewable bool `json:"dispensary_reviewable"`
}

func (s Status) For(t Target) bool {
	if t == TargetDoctor {
		return s.DoctorReviewable
	}
	return s.DispensaryReviewable
}

// Existing records which targets already have a review for a booking.
type Existing map[Target]bool

func (r DoctorReview) Validate() error {
	if err := checkRating("rating", r.Rating); err != nil {
		return err
	}
	return checkComment(r.Comment)
}

func (r DispensaryReview) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"cleanliness", r.Cleanliness},
		{"staff support", r.StaffSupport},
		{"accessibility", r.Accessibility},
	} {
		if err := checkRating(f.name, f.value); err != nil {
			return err
		}
	}
	return checkComment(r.Comment)
}

func checkRating(field string, v int) error {
	if v < minRating || v > maxRating {
		return apperr.New(apperr.KindValidation, "reviews.validate",
			fmt.Sprintf("Please give a %s rating between %d and %d.", field, minRating, maxRating), nil)
	}
	return nil
}

func checkComment(c string) error {
	if len(c) > maxCommentLength {
		return apperr.New(apperr.KindValidation, "reviews.validate",
			fmt.Sprintf("Comments are limited to %d characters.", maxCommentLength), nil)
	}
	return nil
}
