package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrProvider sends the plain text message to every configured
// shoutrrr URL, for example smtp://, telegram:// or a generic webhook.
type ShoutrrrProvider struct {
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
}

func NewShoutrrrProvider(urls []string, timeout time.Duration) *ShoutrrrProvider {
	return &ShoutrrrProvider{
		urls:    slices.Clone(urls),
		timeout: timeout,
	}
}

func (s *ShoutrrrProvider) GetName() string { return ProviderShoutrrr }
func (s *ShoutrrrProvider) IsEnabled() bool { return len(s.urls) > 0 }

// ValidateConfig parses the URLs and builds the router.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if len(s.urls) == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return fmt.Errorf("invalid shoutrrr URL: %s", redactURLs(err.Error(), s.urls))
	}
	if s.timeout > 0 {
		sender.Timeout = s.timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	s.sender = sender
	return nil
}

func (s *ShoutrrrProvider) Send(ctx context.Context, msg *Message) error {
	if s.sender == nil {
		return fmt.Errorf("shoutrrr sender not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle(msg.Subject)

	// The router applies its own timeout per service.
	for _, err := range s.sender.Send(msg.Text, &params) {
		if err != nil {
			return fmt.Errorf("shoutrrr send failed: %s", redactURLs(err.Error(), s.urls))
		}
	}
	return nil
}

// redactURLs removes credentials of the configured URLs from text.
func redactURLs(text string, urls []string) string {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.User == nil {
			continue
		}
		text = strings.ReplaceAll(text, u.User.String(), "[redacted]")
		if pw, ok := u.User.Password(); ok && pw != "" {
			text = strings.ReplaceAll(text, pw, "[redacted]")
		}
	}
	return text
}
