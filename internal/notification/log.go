package notification

import (
	"context"

	"github.com/kinga-app/kinga/internal/logger"
)

// LogProvider writes codes to the log instead of sending them. It is the
// local development fallback when no transport is configured.
type LogProvider struct{}

func NewLogProvider() *LogProvider { return &LogProvider{} }

func (LogProvider) GetName() string       { return ProviderLog }
func (LogProvider) IsEnabled() bool       { return true }
func (LogProvider) ValidateConfig() error { return nil }

func (LogProvider) Send(_ context.Context, msg *Message) error {
	GetLogger().Info("LOCAL MODE: OTP IS "+msg.Code,
		logger.String("email", msg.To),
		logger.String("purpose", string(msg.Purpose)))
	return nil
}
