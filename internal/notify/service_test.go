package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSender struct{}

func (failingSender) Send(context.Context, EmailMessage) error { return errors.New("smtp down") }

func TestServiceNotifyTemplates(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		notice   Notice
		subject  string
		contains []string
	}{
		{
			name:     "confirmed",
			notice:   Notice{Kind: KindBookingConfirmed, To: "pat@example.com", ToName: "Pat", BookingID: "bk-1", AppointmentDate: date, SlotStart: "09:30", AmountCents: 4500, TransactionID: "tx-1"},
			subject:  "Your appointment is confirmed",
			contains: []string{"Hello Pat", "Monday, March 2, 2026 at 09:30", "bk-1", "$45.00", "tx-1"},
		},
		{
			name:     "cancelled",
			notice:   Notice{Kind: KindBookingCancelled, To: "pat@example.com", BookingID: "bk-1", AppointmentDate: date, RefundTransactionID: "rf-1"},
			subject:  "Your appointment was cancelled",
			contains: []string{"Hello,", "rf-1"},
		},
		{
			name:     "charge reversed",
			notice:   Notice{Kind: KindChargeReversed, To: "pat@example.com", AppointmentDate: date, SlotStart: "09:00"},
			subject:  "Your appointment could not be booked",
			contains: []string{"refunded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubEmailSender(nil)
			require.NoError(t, NewService(stub, nil).Notify(context.Background(), tt.notice))
			sent := stub.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.subject, sent[0].Subject)
			assert.Equal(t, "pat@example.com", sent[0].To)
			for _, c := range tt.contains {
				assert.Contains(t, sent[0].Body, c)
			}
			assert.NotEmpty(t, sent[0].HTML)
		})
	}
}

func TestServiceNotifySkips(t *testing.T) {
	require.NoError(t, NewService(nil, nil).Notify(context.Background(), Notice{Kind: KindBookingConfirmed, To: "pat@example.com"}))

	stub := NewStubEmailSender(nil)
	require.NoError(t, NewService(stub, nil).Notify(context.Background(), Notice{Kind: KindBookingConfirmed}))
	assert.Empty(t, stub.Sent())
}

func TestServiceNotifyErrors(t *testing.T) {
	err := NewService(NewStubEmailSender(nil), nil).Notify(context.Background(), Notice{Kind: "bogus", To: "pat@example.com"})
	assert.Error(t, err)

	err = NewService(failingSender{}, nil).Notify(context.Background(), Notice{Kind: KindBookingCancelled, To: "pat@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestHTMLEscaped(t *testing.T) {
	stub := NewStubEmailSender(nil)
	require.NoError(t, NewService(stub, nil).Notify(context.Background(), Notice{Kind: KindBookingConfirmed, To: "a@b.c", ToName: "<script>"}))
	assert.NotContains(t, stub.Sent()[0].HTML, "<script>")
}
