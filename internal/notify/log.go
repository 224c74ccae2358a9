package notify

import (
	"context"

	"server/internal/domain"
	"server/internal/infra"
)

// LogNotifier records low balance alerts in the service log. It stands
// in for an email or push channel until one is configured.
type LogNotifier struct {
	logger infra.Logger
}

func NewLogNotifier(logger infra.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyLowBalance(ctx context.Context, userID string, balance int) error {
	n.logger.Info().Str("user_id", userID).Int("balance", balance).Msg("notify: low credit balance")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
