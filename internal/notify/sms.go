package notify

import (
	"context"

	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// SMSSender delivers a single text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSender logs messages instead of delivering them. Used when no SMS
// provider is configured.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("sms not sent: no provider configured", "to", to, "body_len", len(body))
	return nil
}
