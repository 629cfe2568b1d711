// Package notifier delivers price-rise alerts to subscribers by email.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptoalerter/internal/models"

	"gopkg.in/gomail.v2"
)

// Sender sends a single prepared message. gomail.Dialer satisfies it; tests
// substitute a fake.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier formats and sends alert emails over SMTP.
type EmailNotifier struct {
	from   string
	sender Sender
}

// New creates a notifier dialing the given SMTP server.
func New(host string, port int, from, password string) *EmailNotifier {
	return &EmailNotifier{
		from:   from,
		sender: gomail.NewDialer(host, port, from, password),
	}
}

// NewWithSender creates a notifier with a custom sender, for tests.
func NewWithSender(from string, sender Sender) *EmailNotifier {
	return &EmailNotifier{from: from, sender: sender}
}

// Notify sends one alert email. A delivery failure is returned as an error
// and nothing more; the caller decides whether it matters.
func (n *EmailNotifier) Notify(ctx context.Context, alert models.AlertRecord) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", alert.Email)
	m.SetHeader("Subject", Subject(alert))
	m.SetBody("text/html", Body(alert))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send alert email to %s: %w", alert.Email, err)
	}
	return nil
}

// NotifyTest sends a canned alert so users can verify their mail setup.
func (n *EmailNotifier) NotifyTest(ctx context.Context, to string) error {
	return n.Notify(ctx, models.AlertRecord{
		Email:            to,
		Crypto:           "Bitcoin",
		Symbol:           "btc",
		PreviousPrice:    30000,
		CurrentPrice:     33000,
		PercentageChange: 10,
		Timestamp:        time.Now(),
	})
}

// Subject renders the alert email subject line.
func Subject(alert models.AlertRecord) string {
	return fmt.Sprintf("🚨 Price Alert: %s has increased by %.2f%%!", alert.Crypto, alert.PercentageChange)
}

// Body renders the alert email HTML body.
func Body(alert models.AlertRecord) string {
	return fmt.Sprintf(`
      <h2>Cryptocurrency Price Alert</h2>
      <p>Good news! %s (%s) has increased by %.2f%%.</p>
      <p>
        <strong>Previous price:</strong> $%s<br>
        <strong>Current price:</strong> $%s<br>
        <strong>Change:</strong> +%.2f%%
      </p>
      <p>This alert was sent to you by Crypto Price Alerter.</p>
    `,
		alert.Crypto,
		strings.ToUpper(alert.Symbol),
		alert.PercentageChange,
		formatPrice(alert.PreviousPrice),
		formatPrice(alert.CurrentPrice),
		alert.PercentageChange,
	)
}

// formatPrice groups the integer part with commas, matching the
// toLocaleString rendering users saw in the emails before.
func formatPrice(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	intPart := s[:len(s)-3]
	frac := s[len(s)-3:]

	neg := false
	if len(intPart) > 0 && intPart[0] == '-' {
		neg = true
		intPart = intPart[1:]
	}

	var out []byte
	for i, d := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}
