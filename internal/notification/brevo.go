package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/antonholmquist/jason"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/httpclient"
)

const (
	DefaultBrevoEndpoint   = "https://api.brevo.com/v3/smtp/email"
	DefaultBrevoSenderName = "Kinga App"

	// maxErrorBody caps how much of a failed response is read.
	maxErrorBody = 64 << 10
)

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoPayload struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// BrevoProvider sends through the Brevo transactional email API.
type BrevoProvider struct {
	client      *httpclient.Client
	apiKey      string
	senderEmail string
	senderName  string
	endpoint    string
}

// BrevoOption configures a BrevoProvider.
type BrevoOption func(*BrevoProvider)

// WithSenderName overrides the display name of the sender. Empty is ignored.
func WithSenderName(name string) BrevoOption {
	return func(b *BrevoProvider) {
		if name != "" {
			b.senderName = name
		}
	}
}

// WithEndpoint overrides the API URL. Empty is ignored.
func WithEndpoint(url string) BrevoOption {
	return func(b *BrevoProvider) {
		if url != "" {
			b.endpoint = url
		}
	}
}

// NewBrevoProvider returns a provider posting with client. A nil client
// gets a default one.
func NewBrevoProvider(client *httpclient.Client, apiKey, senderEmail string, opts ...BrevoOption) *BrevoProvider {
	if client == nil {
		client = httpclient.New(nil)
	}
	b := &BrevoProvider{
		client:      client,
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  DefaultBrevoSenderName,
		endpoint:    DefaultBrevoEndpoint,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BrevoProvider) GetName() string { return ProviderBrevo }
func (b *BrevoProvider) IsEnabled() bool { return b.apiKey != "" }

func (b *BrevoProvider) ValidateConfig() error {
	if b.apiKey == "" {
		return fmt.Errorf("brevo API key is required")
	}
	if b.senderEmail == "" {
		return fmt.Errorf("brevo sender email is required")
	}
	return nil
}

// Send posts msg. Brevo answers 201 on success; any other status is an
// error carrying Brevo's message when the body has one.
func (b *BrevoProvider) Send(ctx context.Context, msg *Message) error {
	header := http.Header{}
	header.Set("accept", "application/json")
	header.Set("api-key", b.apiKey)

	payload := brevoPayload{
		Sender:      brevoAddress{Name: b.senderName, Email: b.senderEmail},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}

	resp, err := b.client.PostJSON(ctx, b.endpoint, header, payload)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryNetwork).
			Context("provider", ProviderBrevo).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return errors.Newf("brevo returned %d: %s", resp.StatusCode, brevoErrorMessage(resp.Body)).
		Component("notification").
		Category(errors.CategoryIntegration).
		Context("provider", ProviderBrevo).
		Context("status_code", resp.StatusCode).
		Build()
}

// brevoErrorMessage extracts {"message": ...} from an error body, falling
// back to the raw text.
func brevoErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return "empty response"
	}
	obj, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return string(raw)
	}
	if message, err := obj.GetString("message"); err == nil && message != "" {
		if code, err := obj.GetString("code"); err == nil && code != "" {
			return code + ": " + message
		}
		return message
	}
	return string(raw)
}
