package mailer

import (
	"fmt"

	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"
)

// Mailer delivers a redemption code to a buyer's email address.
type Mailer interface {
	Send(to, code string) error
}

// SMTPMailer sends codes through a plain SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer creates a mailer that dials the relay on every send. Volume
// is one mail per purchase, so a persistent connection is not worth keeping.
func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

// Send delivers the code in a short plain-text mail.
func (m *SMTPMailer) Send(to, code string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your pass download code")
	msg.SetBody("text/plain", fmt.Sprintf(
		"Thanks for your purchase!\n\n"+
			"Your download code is: %s\n\n"+
			"Enter it on the download page to receive your pass.\n", code))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send code email to %s: %w", to, err)
	}
	return nil
}

// NoopMailer is used when SMTP is not configured. It logs the delivery it
// skipped so local development works without a relay.
type NoopMailer struct{}

// Send logs and drops the mail.
func (NoopMailer) Send(to, code string) error {
	log.Info().Str("to", to).Msg("smtp not configured, skipping code email")
	return nil
}
