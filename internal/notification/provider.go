package notification

import (
	"context"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/httpclient"
)

// Provider names accepted by notification.provider.
const (
	ProviderAuto     = "auto"
	ProviderBrevo    = "brevo"
	ProviderSMTP     = "smtp"
	ProviderShoutrrr = "shoutrrr"
	ProviderLog      = "log"
)

// Provider delivers rendered messages.
type Provider interface {
	// GetName returns the provider name used in logs and metrics.
	GetName() string
	// ValidateConfig checks the configuration and prepares any clients.
	ValidateConfig() error
	// Send delivers msg. It should honour ctx where the transport allows.
	Send(ctx context.Context, msg *Message) error
	IsEnabled() bool
}

// NewProvider builds and validates the provider selected by cfg. In auto
// mode the first configured transport wins in the order Brevo, SMTP,
// shoutrrr; with none configured codes are written to the log.
func NewProvider(cfg *conf.NotificationSettings, client *httpclient.Client) (Provider, error) {
	name := cfg.Provider
	if name == "" || name == ProviderAuto {
		name = autoSelect(cfg)
	}

	var p Provider
	switch name {
	case ProviderBrevo:
		p = NewBrevoProvider(client, cfg.Brevo.APIKey, cfg.Brevo.SenderEmail,
			WithSenderName(cfg.Brevo.SenderName), WithEndpoint(cfg.Brevo.Endpoint))
	case ProviderSMTP:
		p = NewSMTPProvider(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From)
	case ProviderShoutrrr:
		p = NewShoutrrrProvider(cfg.Shoutrrr.URLs, cfg.Timeout)
	case ProviderLog:
		p = NewLogProvider()
	default:
		return nil, errors.Newf("unknown notification provider %q", name).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := p.ValidateConfig(); err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("provider", p.GetName()).
			Build()
	}
	return p, nil
}

func autoSelect(cfg *conf.NotificationSettings) string {
	switch {
	case cfg.Brevo.APIKey != "":
		return ProviderBrevo
	case cfg.SMTP.Host != "":
		return ProviderSMTP
	case len(cfg.Shoutrrr.URLs) > 0:
		return ProviderShoutrrr
	default:
		return ProviderLog
	}
}
