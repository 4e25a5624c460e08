package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/domain"
)

// LogSink writes audit events to the structured log. Payloads reaching it
// are already masked.
func LogSink(logger *zap.Logger) Sink {
	return SinkFunc(func(_ context.Context, event domain.AuditEvent) error {
		logger.Info("audit",
			zap.String("event_id", event.ID),
			zap.Int64("actor_id", event.ActorID),
			zap.Int64("company_id", event.CompanyID),
			zap.String("action", string(event.Action)),
			zap.String("outcome", string(event.Outcome)),
			zap.Any("payload", event.MaskedPayload),
			zap.Time("timestamp", event.Timestamp),
		)
		return nil
	})
}
