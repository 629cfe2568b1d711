package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptoalerter/internal/models"

	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func sampleAlert() models.AlertRecord {
	return models.AlertRecord{
		Email:            "user@example.com",
		Crypto:           "Bitcoin",
		Symbol:           "btc",
		PreviousPrice:    30000,
		CurrentPrice:     31000,
		PercentageChange: 3.3333333333,
		Timestamp:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotify_SendsFormattedMessage(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := NewWithSender("alerts@example.com", sender)

	require.NoError(t, n.Notify(context.Background(), sampleAlert()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	require.Equal(t, []string{"alerts@example.com"}, msg.GetHeader("From"))
	require.Equal(t, []string{"user@example.com"}, msg.GetHeader("To"))
	require.Equal(t, []string{"🚨 Price Alert: Bitcoin has increased by 3.33%!"}, msg.GetHeader("Subject"))
}

func TestNotify_SendFailureReturnedNotPanicked(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("smtp refused")}
	n := NewWithSender("alerts@example.com", sender)

	err := n.Notify(context.Background(), sampleAlert())
	require.Error(t, err)
	require.Contains(t, err.Error(), "user@example.com")
}

func TestBody_RendersPricesAndChange(t *testing.T) {
	t.Parallel()

	body := Body(sampleAlert())
	require.Contains(t, body, "Bitcoin (BTC)")
	require.Contains(t, body, "$30,000.00")
	require.Contains(t, body, "$31,000.00")
	require.Contains(t, body, "+3.33%")
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.00"},
		{999.5, "999.50"},
		{30000, "30,000.00"},
		{1234567.891, "1,234,567.89"},
		{0.42, "0.42"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatPrice(tt.in), "input %v", tt.in)
	}
}
