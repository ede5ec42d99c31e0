package channel

import (
	"context"
	"fmt"
	"net/mail"

	gomail "gopkg.in/mail.v2"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// mailDialer is satisfied by *gomail.Dialer; tests substitute a fake.
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSender delivers email schedules over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *EmailSender) Send(ctx context.Context, sc *model.Schedule) error {
	if _, err := mail.ParseAddress(sc.Recipient); err != nil {
		return Permanent(fmt.Errorf("invalid email address %q: %w", sc.Recipient, err))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", sc.Recipient)
	m.SetHeader("Subject", sc.Subject)
	m.SetBody("text/plain", sc.Text)

	// gomail has no context support; run the dial in a goroutine so the
	// caller's deadline still bounds the attempt.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return Transient(ctx.Err())
	case err := <-done:
		if err != nil {
			return Transient(fmt.Errorf("smtp send failed: %w", err))
		}
		return nil
	}
}
