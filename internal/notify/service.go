package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/carebook/pkg/logging"
)

// Kind selects the patient email template.
type Kind string

const (
	KindBookingConfirmed Kind = "booking_confirmed"
	KindBookingCancelled Kind = "booking_cancelled"
	// KindChargeReversed follows a slot conflict after the card was charged.
	KindChargeReversed Kind = "charge_reversed"
)

// Notice describes a booking event the patient should hear about.
type Notice struct {
	Kind                Kind
	To                  string
	ToName              string
	BookingID           string
	AppointmentDate     time.Time
	SlotStart           string
	AmountCents         int64
	TransactionID       string
	RefundTransactionID string
}

// Notifier delivers a Notice.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Service renders notices into patient emails.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// Notify is a no-op when no sender is configured or the patient has no email.
func (s *Service) Notify(ctx context.Context, n Notice) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping", "kind", n.Kind)
		return nil
	}
	if strings.TrimSpace(n.To) == "" {
		s.logger.Debug("notify: patient has no email, skipping", "kind", n.Kind, "booking_id", n.BookingID)
		return nil
	}

	msg, err := render(n)
	if err != nil {
		return err
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s: %w", n.Kind, err)
	}
	return nil
}

func render(n Notice) (EmailMessage, error) {
	when := formatWhen(n.AppointmentDate, n.SlotStart)
	greeting := "Hello"
	if name := strings.TrimSpace(n.ToName); name != "" {
		greeting = "Hello " + name
	}

	var subject string
	var lines []string
	switch n.Kind {
	case KindBookingConfirmed:
		subject = "Your appointment is confirmed"
		lines = []string{
			fmt.Sprintf("Your appointment on %s is confirmed.", when),
			"Booking reference: " + n.BookingID,
		}
		if n.AmountCents > 0 {
			lines = append(lines, "Amount paid: "+formatAmount(n.AmountCents))
		}
		if n.TransactionID != "" {
			lines = append(lines, "Transaction: "+n.TransactionID)
		}
	case KindBookingCancelled:
		subject = "Your appointment was cancelled"
		lines = []string{
			fmt.Sprintf("Your appointment on %s has been cancelled.", when),
			"Booking reference: " + n.BookingID,
		}
		if n.RefundTransactionID != "" {
			lines = append(lines, "Refund reference: "+n.RefundTransactionID)
		}
	case KindChargeReversed:
		subject = "Your appointment could not be booked"
		lines = []string{
			fmt.Sprintf("The time you selected on %s was taken before your booking completed.", when),
			"Any charge made for this attempt will be refunded to your card.",
		}
	default:
		return EmailMessage{}, fmt.Errorf("notify: unknown notice kind %q", n.Kind)
	}

	text := greeting + ",\n\n" + strings.Join(lines, "\n") + "\n"
	var b strings.Builder
	b.WriteString("<p>" + html.EscapeString(greeting) + ",</p>")
	for _, l := range lines {
		b.WriteString("<p>" + html.EscapeString(l) + "</p>")
	}
	return EmailMessage{To: n.To, ToName: n.ToName, Subject: subject, Body: text, HTML: b.String()}, nil
}

func formatWhen(date time.Time, slot string) string {
	if date.IsZero() {
		return "your selected date"
	}
	day := date.Format("Monday, January 2, 2006")
	if slot == "" {
		return day
	}
	return day + " at " + slot
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

var _ Notifier = (*Service)(nil)
