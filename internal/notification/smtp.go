package notification

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPProvider sends multipart emails directly over SMTP.
type SMTPProvider struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPProvider returns a provider for host:port. Empty username skips
// authentication.
func NewSMTPProvider(host string, port int, username, password, from string) *SMTPProvider {
	return &SMTPProvider{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPProvider) GetName() string { return ProviderSMTP }
func (s *SMTPProvider) IsEnabled() bool { return s.dialer.Host != "" }

func (s *SMTPProvider) ValidateConfig() error {
	if s.dialer.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if s.dialer.Port <= 0 {
		return fmt.Errorf("smtp port must be positive, got %d", s.dialer.Port)
	}
	if s.from == "" {
		return fmt.Errorf("smtp from address is required")
	}
	return nil
}

// Send dials, delivers and hangs up. gomail has no context support, so a
// cancelled ctx returns early while the dial finishes on its own.
func (s *SMTPProvider) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, DefaultBrevoSenderName)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
