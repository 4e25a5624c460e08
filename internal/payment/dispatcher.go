// Package payment builds bulk payments and dispatches them to the external
// processor with deduplication keys and masked audit records.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
	"github.com/spec-kit/backoffice/internal/security"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

var (
	// ErrInvalidBatch reports a batch that cannot be sent. It renders as a
	// 400; the wrapped detail stays in logs and audit.
	ErrInvalidBatch = apperrors.NewDomainError("VALIDATION_FAILED", "invalid payment batch", http.StatusBadRequest, nil)
	// ErrPaymentRejected reports a processor answer other than success or processing.
	ErrPaymentRejected = fmt.Errorf("%w: payment rejected by processor", apperrors.ErrExternalService)
)

// Auditor receives audit events. Implementations must not block.
type Auditor interface {
	Record(event domain.AuditEvent)
}

// Actor identifies who triggered a dispatch.
type Actor struct {
	UserID    int64
	CompanyID int64
}

// CustomerID is the processor-side customer for the actor's company.
func (a Actor) CustomerID() string {
	return fmt.Sprintf("company-%d", a.CompanyID)
}

// Batch is an ordered set of targets with the idempotency key for one
// dispatch attempt.
type Batch struct {
	SourceToken    string
	IdempotencyKey string
	Targets        []domain.PaymentTarget
}

// NewIdempotencyKey returns a fresh random key.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// NewBatch builds a batch with a freshly generated idempotency key.
func NewBatch(sourceToken string, targets []domain.PaymentTarget) Batch {
	return Batch{SourceToken: sourceToken, IdempotencyKey: NewIdempotencyKey(), Targets: targets}
}

// MaskedTarget is the log-safe form of a PaymentTarget.
type MaskedTarget struct {
	Account string `json:"iban"`
	Amount  string `json:"amount"`
}

// Result describes an accepted dispatch.
type Result struct {
	TransactionID  string
	Status         domain.PaymentStatus
	Total          domain.Amount
	IdempotencyKey string
	Targets        []MaskedTarget
}

// Dispatch modes recorded in audit payloads.
const (
	ModeBulk      = "bulk"
	ModeSingle    = "single"
	ModeScheduled = "scheduled"
)

// Dispatcher sends batches to the processor. It never retries.
type Dispatcher struct {
	processor Processor
	auditor   Auditor
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(processor Processor, auditor Auditor, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{processor: processor, auditor: auditor, logger: logger, metrics: metrics, now: time.Now}
}

// Dispatch sends targets under a new idempotency key.
func (d *Dispatcher) Dispatch(ctx context.Context, actor Actor, sourceToken string, targets []domain.PaymentTarget) (*Result, error) {
	return d.Submit(ctx, actor, NewBatch(sourceToken, targets))
}

// Submit sends a prepared batch. On success or processing it returns the
// transaction id and total; any other outcome is an error and nothing is
// retried.
func (d *Dispatcher) Submit(ctx context.Context, actor Actor, batch Batch) (*Result, error) {
	return d.submit(ctx, actor, batch, ModeBulk, nil, func(ctx context.Context) (*ProcessorResponse, error) {
		req := BulkPaymentRequest{
			CustomerID:     actor.CustomerID(),
			IdempotencyKey: batch.IdempotencyKey,
			SourceToken:    batch.SourceToken,
			Targets:        make([]Transfer, len(batch.Targets)),
		}
		for i, t := range batch.Targets {
			req.Targets[i] = Transfer{Account: t.DestinationAccount, Amount: int64(t.Amount)}
		}
		return d.processor.SubmitBulkPayment(ctx, req)
	})
}

// SubmitSingle sends a one-target batch as an immediate payment, or as a
// scheduled payment when at is non-zero. A scheduled time must lie in the
// future.
func (d *Dispatcher) SubmitSingle(ctx context.Context, actor Actor, batch Batch, at time.Time) (*Result, error) {
	mode := ModeSingle
	if !at.IsZero() {
		mode = ModeScheduled
	}
	check := func() error {
		if len(batch.Targets) != 1 {
			return fmt.Errorf("%w: single payment needs exactly one target, got %d", ErrInvalidBatch, len(batch.Targets))
		}
		if mode == ModeScheduled && !at.After(d.now()) {
			return fmt.Errorf("%w: schedule time %s is not in the future", ErrInvalidBatch, at.UTC().Format(time.RFC3339))
		}
		return nil
	}
	return d.submit(ctx, actor, batch, mode, check, func(ctx context.Context) (*ProcessorResponse, error) {
		req := SinglePaymentRequest{
			CustomerID:         actor.CustomerID(),
			IdempotencyKey:     batch.IdempotencyKey,
			SourceToken:        batch.SourceToken,
			DestinationAccount: batch.Targets[0].DestinationAccount,
			Amount:             int64(batch.Targets[0].Amount),
			Currency:           DefaultCurrency,
		}
		if mode == ModeScheduled {
			req.ScheduleAt = at.UTC().Format(time.RFC3339)
			return d.processor.SchedulePayment(ctx, req)
		}
		return d.processor.PayNow(ctx, req)
	})
}

func (d *Dispatcher) submit(ctx context.Context, actor Actor, batch Batch, mode string, check func() error, send func(context.Context) (*ProcessorResponse, error)) (*Result, error) {
	masked := MaskTargets(batch.Targets)
	total, err := validate(batch)
	if err == nil && check != nil {
		err = check()
	}

	payload := map[string]any{
		"mode":            mode,
		"idempotency_key": batch.IdempotencyKey,
		"targets":         masked,
		"total":           total.String(),
	}
	if err != nil {
		payload["reason"] = err.Error()
		d.finish(actor, payload, domain.AuditOutcomeFailure, "invalid")
		return nil, err
	}

	d.logger.Info("dispatching payment",
		zap.String("mode", mode),
		zap.Int64("actor_id", actor.UserID),
		zap.String("idempotency_key", batch.IdempotencyKey),
		zap.Any("targets", masked),
		zap.String("total", total.String()))

	resp, err := send(ctx)
	if err != nil {
		if !errors.Is(err, apperrors.ErrExternalService) {
			err = fmt.Errorf("%w: %v", apperrors.ErrExternalService, err)
		}
		payload["reason"] = "processor unreachable"
		d.logger.Warn("payment dispatch failed",
			zap.String("mode", mode),
			zap.String("idempotency_key", batch.IdempotencyKey),
			zap.Error(err))
		d.finish(actor, payload, domain.AuditOutcomeFailure, "error")
		return nil, err
	}

	payload["transaction_id"] = resp.TransactionID
	payload["status"] = string(resp.Status)
	if !resp.Status.Accepted() {
		d.logger.Warn("payment rejected",
			zap.String("mode", mode),
			zap.String("idempotency_key", batch.IdempotencyKey),
			zap.String("status", string(resp.Status)))
		d.finish(actor, payload, domain.AuditOutcomeFailure, "rejected")
		return nil, fmt.Errorf("%w (status %q)", ErrPaymentRejected, resp.Status)
	}

	d.finish(actor, payload, domain.AuditOutcomeSuccess, string(resp.Status))
	return &Result{
		TransactionID:  resp.TransactionID,
		Status:         resp.Status,
		Total:          total,
		IdempotencyKey: batch.IdempotencyKey,
		Targets:        masked,
	}, nil
}

func (d *Dispatcher) finish(actor Actor, payload map[string]any, outcome domain.AuditOutcome, metric string) {
	d.metrics.RecordDispatch(metric)
	if d.auditor == nil {
		return
	}
	d.auditor.Record(domain.AuditEvent{
		ActorID:       actor.UserID,
		CompanyID:     actor.CompanyID,
		Action:        domain.AuditActionPaymentDispatch,
		MaskedPayload: payload,
		Outcome:       outcome,
	})
}

// MaskTargets returns the log-safe form of targets.
func MaskTargets(targets []domain.PaymentTarget) []MaskedTarget {
	out := make([]MaskedTarget, len(targets))
	for i, t := range targets {
		out[i] = MaskedTarget{Account: security.MaskAccount(t.DestinationAccount), Amount: t.Amount.String()}
	}
	return out
}

func validate(batch Batch) (domain.Amount, error) {
	if strings.TrimSpace(batch.SourceToken) == "" {
		return 0, fmt.Errorf("%w: missing source instrument", ErrInvalidBatch)
	}
	if batch.IdempotencyKey == "" {
		return 0, fmt.Errorf("%w: missing idempotency key", ErrInvalidBatch)
	}
	if len(batch.Targets) == 0 {
		return 0, fmt.Errorf("%w: no targets", ErrInvalidBatch)
	}
	var total domain.Amount
	for i, t := range batch.Targets {
		if strings.TrimSpace(t.DestinationAccount) == "" {
			return 0, fmt.Errorf("%w: target %d has no account", ErrInvalidBatch, i)
		}
		if t.Amount <= 0 {
			return 0, fmt.Errorf("%w: target %d amount must be positive", ErrInvalidBatch, i)
		}
		total += t.Amount
	}
	return total, nil
}
