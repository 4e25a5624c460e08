package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/repository"
	"github.com/spec-kit/backoffice/internal/webhook"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

// Processor callback event types.
const (
	EventPaymentSuccess = "payment.success"
	EventPaymentFailed  = "payment.failed"
)

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		TransactionID string `json:"transaction_id"`
		Reason        string `json:"reason"`
	} `json:"data"`
}

// WebhookService applies authenticated processor callbacks to payment records.
type WebhookService struct {
	verifier *webhook.Verifier
	payments repository.PaymentRepository
	auditor  payment.Auditor
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewWebhookService builds the service.
func NewWebhookService(verifier *webhook.Verifier, payments repository.PaymentRepository, auditor payment.Auditor, metrics *observability.Metrics, logger *zap.Logger) *WebhookService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{verifier: verifier, payments: payments, auditor: auditor, metrics: metrics, logger: logger}
}

// Handle authenticates rawBody against signature and then applies the
// event. Nothing in the body is parsed before the signature checks out.
// Unknown event types and unknown transactions are acknowledged. A payment
// settles once: replays and contradicting late callbacks leave it unchanged.
func (s *WebhookService) Handle(ctx context.Context, rawBody []byte, signature string) error {
	if err := s.verifier.Verify(rawBody, signature); err != nil {
		s.metrics.RecordIntegrityViolation()
		s.logger.Warn("webhook dropped", zap.Error(err), zap.Int("bytes", len(rawBody)))
		return err
	}

	var event webhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return apperrors.NewValidationError("malformed webhook payload", nil)
	}

	var (
		status domain.PaymentStatus
		reason string
	)
	switch event.Type {
	case EventPaymentSuccess:
		status = domain.PaymentStatusConfirmed
	case EventPaymentFailed:
		status = domain.PaymentStatusFailed
		reason = strings.TrimSpace(event.Data.Reason)
		if reason == "" {
			reason = "reported failed by processor"
		}
	default:
		s.logger.Info("webhook event ignored", zap.String("type", event.Type))
		return nil
	}

	txID := strings.TrimSpace(event.Data.TransactionID)
	if txID == "" {
		return apperrors.NewValidationError("webhook event has no transaction id", nil)
	}

	record, err := s.payments.GetByTransactionID(ctx, txID)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Warn("webhook for unknown transaction", zap.String("transaction_id", txID), zap.String("type", event.Type))
		return nil
	}
	if err != nil {
		return err
	}

	if record.Status == status {
		s.logger.Info("webhook replay ignored",
			zap.String("transaction_id", txID),
			zap.String("status", string(status)))
		return nil
	}
	if !record.Status.CanMoveTo(status) {
		s.rejectTransition(record, txID, event.Type, status)
		return nil
	}

	err = s.payments.UpdateStatus(ctx, txID, record.Status, status, reason)
	if errors.Is(err, repository.ErrStatusConflict) {
		// Another callback settled the payment between read and write.
		current := record.Status
		if fresh, getErr := s.payments.GetByTransactionID(ctx, txID); getErr == nil {
			current = fresh.Status
		}
		if current != status {
			record.Status = current
			s.rejectTransition(record, txID, event.Type, status)
		}
		return nil
	}
	if err != nil {
		return err
	}

	outcome := domain.AuditOutcomeSuccess
	if status == domain.PaymentStatusFailed {
		outcome = domain.AuditOutcomeFailure
	}
	if s.auditor != nil {
		payload := map[string]any{
			"transaction_id": txID,
			"event":          event.Type,
			"status":         string(status),
		}
		if reason != "" {
			payload["reason"] = reason
		}
		s.auditor.Record(domain.AuditEvent{
			ActorID:       record.AdminID,
			CompanyID:     record.CompanyID,
			Action:        domain.AuditActionPaymentWebhook,
			MaskedPayload: payload,
			Outcome:       outcome,
		})
	}

	s.logger.Info("payment status updated from webhook",
		zap.String("transaction_id", txID),
		zap.String("status", string(status)))
	return nil
}

// rejectTransition acknowledges a callback that would move a settled
// payment, leaving the stored status untouched.
func (s *WebhookService) rejectTransition(record *domain.PaymentRecord, txID, eventType string, reported domain.PaymentStatus) {
	s.logger.Warn("webhook status change refused",
		zap.String("transaction_id", txID),
		zap.String("current", string(record.Status)),
		zap.String("reported", string(reported)))
	if s.auditor == nil {
		return
	}
	s.auditor.Record(domain.AuditEvent{
		ActorID:   record.AdminID,
		CompanyID: record.CompanyID,
		Action:    domain.AuditActionPaymentWebhook,
		MaskedPayload: map[string]any{
			"transaction_id": txID,
			"event":          eventType,
			"reason":         "status conflict",
			"current":        string(record.Status),
			"reported":       string(reported),
		},
		Outcome: domain.AuditOutcomeDenied,
	})
}
