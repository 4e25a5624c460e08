package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/observability"
	"github.com/spec-kit/backoffice/internal/payment"
	"github.com/spec-kit/backoffice/internal/repository"
	"github.com/spec-kit/backoffice/internal/security"
	apperrors "github.com/spec-kit/backoffice/pkg/util/errorutil"
)

var expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)

// PaymentService runs company payouts and manages the payment source.
type PaymentService struct {
	payouts          repository.PayoutRepository
	payments         repository.PaymentRepository
	sources          repository.PaymentSourceRepository
	protector        *security.Protector
	authority        *security.Authority
	dispatcher       *payment.Dispatcher
	processor        payment.Processor
	attempts         payment.AttemptStore
	auditor          payment.Auditor
	metrics          *observability.Metrics
	logger           *zap.Logger
	requireSignature bool
	claimLease       time.Duration
}

// DefaultClaimLease is used when PaymentDependencies.ClaimLease is zero.
const DefaultClaimLease = 15 * time.Minute

// PaymentDependencies encapsulates requirements for the payment service.
type PaymentDependencies struct {
	PayoutRepo  repository.PayoutRepository
	PaymentRepo repository.PaymentRepository
	SourceRepo  repository.PaymentSourceRepository
	Protector   *security.Protector
	Authority   *security.Authority
	Dispatcher  *payment.Dispatcher
	Processor   payment.Processor
	// Attempts may be nil; request keys are then rejected.
	Attempts         payment.AttemptStore
	Auditor          payment.Auditor
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	RequireSignature bool
	// ClaimLease bounds how long a failed dispatch keeps its payouts away
	// from other runs.
	ClaimLease time.Duration
}

// NewPaymentService builds the service.
func NewPaymentService(deps PaymentDependencies) *PaymentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lease := deps.ClaimLease
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &PaymentService{
		payouts:          deps.PayoutRepo,
		payments:         deps.PaymentRepo,
		sources:          deps.SourceRepo,
		protector:        deps.Protector,
		authority:        deps.Authority,
		dispatcher:       deps.Dispatcher,
		processor:        deps.Processor,
		attempts:         deps.Attempts,
		auditor:          deps.Auditor,
		metrics:          deps.Metrics,
		logger:           logger,
		requireSignature: deps.RequireSignature,
		claimLease:       lease,
	}
}

// RunRequest authorizes one payout run.
type RunRequest struct {
	// Signature is the hex RSA-PSS signature over the caller's credential.
	Signature string
	// RequestKey groups retries of the same logical run under one
	// idempotency key. Optional.
	RequestKey string
}

// SingleRequest authorizes the payment of one payout.
type SingleRequest struct {
	PayoutID   int64
	Signature  string
	RequestKey string
	// ScheduleAt defers execution at the processor. Zero pays now.
	ScheduleAt time.Time
}

// RunResult summarizes an accepted run.
type RunResult struct {
	TransactionID  string
	Status         domain.PaymentStatus
	Total          domain.Amount
	IdempotencyKey string
	Payouts        int
	Targets        []payment.MaskedTarget
	ScheduledFor   *time.Time
}

// RunPayouts pays every pending payout of the caller's company in one bulk
// payment. The caller must be an admin and must present a signature over
// their own credential. Payouts are claimed under the run's idempotency key
// before dispatch, so concurrent runs never send the same payout twice.
func (s *PaymentService) RunPayouts(ctx context.Context, principal *auth.Principal, req RunRequest) (*RunResult, error) {
	return s.pay(ctx, principal, payoutOrder{
		action:     domain.AuditActionPaymentRun,
		scope:      attemptScope(principal, 0),
		signature:  req.Signature,
		requestKey: req.RequestKey,
	})
}

// PayOne pays a single pending payout immediately, or schedules it when
// req.ScheduleAt is set. Authorization matches RunPayouts.
func (s *PaymentService) PayOne(ctx context.Context, principal *auth.Principal, req SingleRequest) (*RunResult, error) {
	if req.PayoutID <= 0 {
		return nil, apperrors.NewValidationError("invalid payout id", nil)
	}
	return s.pay(ctx, principal, payoutOrder{
		action:     domain.AuditActionPayoutPay,
		scope:      attemptScope(principal, req.PayoutID),
		payoutID:   req.PayoutID,
		signature:  req.Signature,
		requestKey: req.RequestKey,
		scheduleAt: req.ScheduleAt,
		single:     true,
	})
}

type payoutOrder struct {
	action     domain.AuditAction
	scope      string
	payoutID   int64
	signature  string
	requestKey string
	scheduleAt time.Time
	single     bool
}

func (s *PaymentService) pay(ctx context.Context, principal *auth.Principal, order payoutOrder) (*RunResult, error) {
	if principal == nil || !principal.IsAdmin {
		return nil, apperrors.NewForbidden("admin required")
	}
	actor := payment.Actor{UserID: principal.SubjectID, CompanyID: principal.CompanyID}

	bypassed, err := s.authorize(principal, order.signature)
	if err != nil {
		s.metrics.RecordSignatureFailure()
		s.logger.Warn("payment authorization rejected",
			zap.Int64("user_id", principal.SubjectID),
			zap.Int64("company_id", principal.CompanyID))
		s.audit(actor, order.action, domain.AuditOutcomeDenied, map[string]any{
			"reason": "signature rejected",
		})
		return nil, err
	}

	source, err := s.sources.Get(ctx, principal.CompanyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewValidationError("no payment source associated with company", nil)
	}
	if err != nil {
		return nil, err
	}

	key, err := s.idempotencyKey(ctx, order.scope, order.requestKey)
	if err != nil {
		return nil, err
	}

	claimed, err := s.payouts.Claim(ctx, repository.PayoutClaim{
		CompanyID: principal.CompanyID,
		PayoutID:  order.payoutID,
		Token:     key,
		Lease:     s.claimLease,
	})
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		if order.single {
			return nil, apperrors.NewValidationError("payout is not pending", map[string]any{"payout_id": order.payoutID})
		}
		return nil, apperrors.NewValidationError("no pending payouts", nil)
	}

	targets, payoutIDs, err := s.decryptTargets(actor, order.action, claimed)
	if err != nil {
		s.release(ctx, principal.CompanyID, key)
		return nil, err
	}

	batch := payment.Batch{SourceToken: source.Token, IdempotencyKey: key, Targets: targets}
	var result *payment.Result
	if order.single {
		result, err = s.dispatcher.SubmitSingle(ctx, actor, batch, order.scheduleAt)
	} else {
		result, err = s.dispatcher.Submit(ctx, actor, batch)
	}
	if err != nil {
		// The processor never took the payment; the payouts go back to the
		// queue. Transport failures keep the claim until the lease ends so
		// only a retry under the same key can resend them.
		if errors.Is(err, payment.ErrInvalidBatch) || errors.Is(err, payment.ErrPaymentRejected) {
			s.release(ctx, principal.CompanyID, key)
		}
		return nil, err
	}

	record := &domain.PaymentRecord{
		TransactionID:  result.TransactionID,
		CompanyID:      principal.CompanyID,
		AdminID:        principal.SubjectID,
		Amount:         result.Total,
		IdempotencyKey: result.IdempotencyKey,
		Signature:      order.signature,
		Status:         result.Status,
	}
	payload := map[string]any{
		"transaction_id":     result.TransactionID,
		"idempotency_key":    result.IdempotencyKey,
		"payouts":            len(payoutIDs),
		"total":              result.Total.String(),
		"signature_bypassed": bypassed,
	}
	if order.single {
		payload["payout_id"] = order.payoutID
		payload["target"] = result.Targets[0]
	}
	if !order.scheduleAt.IsZero() {
		at := order.scheduleAt.UTC()
		record.ScheduledFor = &at
		payload["scheduled_for"] = at.Format(time.RFC3339)
	}

	// The processor has accepted the payment; a failed insert is reported
	// but must not turn into an error the client would retry.
	if err := s.payments.RecordRun(ctx, record, payoutIDs); err != nil {
		s.logger.Error("payment accepted but not recorded",
			zap.String("transaction_id", result.TransactionID),
			zap.Error(err))
		payload["reason"] = "payment record not persisted"
		s.audit(actor, order.action, domain.AuditOutcomeFailure, payload)
	} else {
		s.audit(actor, order.action, domain.AuditOutcomeSuccess, payload)
	}

	return &RunResult{
		TransactionID:  result.TransactionID,
		Status:         result.Status,
		Total:          result.Total,
		IdempotencyKey: result.IdempotencyKey,
		Payouts:        len(payoutIDs),
		Targets:        result.Targets,
		ScheduledFor:   record.ScheduledFor,
	}, nil
}

func (s *PaymentService) decryptTargets(actor payment.Actor, action domain.AuditAction, payouts []domain.Payout) ([]domain.PaymentTarget, []int64, error) {
	targets := make([]domain.PaymentTarget, len(payouts))
	payoutIDs := make([]int64, len(payouts))
	for i, p := range payouts {
		account, err := s.protector.Decrypt(security.EncryptedField(p.EncryptedIBAN))
		if err == nil && account == "" {
			err = fmt.Errorf("%w: payout has no account on file", apperrors.ErrDecryption)
		}
		if err != nil {
			s.logger.Error("payout account unavailable; payment aborted",
				zap.Int64("payout_id", p.ID),
				zap.Int64("client_id", p.ClientID))
			s.audit(actor, action, domain.AuditOutcomeFailure, map[string]any{
				"reason":    "payout account unavailable",
				"payout_id": p.ID,
			})
			return nil, nil, err
		}
		targets[i] = domain.PaymentTarget{DestinationAccount: account, Amount: p.Amount}
		payoutIDs[i] = p.ID
	}
	return targets, payoutIDs, nil
}

func (s *PaymentService) release(ctx context.Context, companyID int64, key string) {
	if err := s.payouts.Release(context.WithoutCancel(ctx), companyID, key); err != nil {
		s.logger.Warn("payout claim not released",
			zap.Int64("company_id", companyID),
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

func (s *PaymentService) authorize(principal *auth.Principal, signature string) (bool, error) {
	if !s.requireSignature {
		s.logger.Warn("payment signature check disabled; authorizing without signature",
			zap.Int64("user_id", principal.SubjectID))
		return true, nil
	}
	if s.authority == nil {
		return false, fmt.Errorf("%w: no authorization key loaded", apperrors.ErrConfiguration)
	}
	if strings.TrimSpace(signature) == "" {
		return false, fmt.Errorf("%w: missing authorization signature", apperrors.ErrValidation)
	}
	return false, s.authority.VerifyAuthorizationHex([]byte(principal.Credential), signature)
}

// attemptScope keys request-key groups per company, and per payout for
// single payments.
func attemptScope(principal *auth.Principal, payoutID int64) string {
	if principal == nil {
		return ""
	}
	scope := strconv.FormatInt(principal.CompanyID, 10)
	if payoutID != 0 {
		scope += ":payout:" + strconv.FormatInt(payoutID, 10)
	}
	return scope
}

func (s *PaymentService) idempotencyKey(ctx context.Context, scope, requestKey string) (string, error) {
	candidate := payment.NewIdempotencyKey()
	requestKey = strings.TrimSpace(requestKey)
	if requestKey == "" {
		return candidate, nil
	}
	if s.attempts == nil {
		return "", apperrors.NewValidationError("request keys are not supported", nil)
	}
	return s.attempts.Claim(ctx, scope, requestKey, candidate)
}

// CardInput is raw card data submitted by an admin.
type CardInput struct {
	PAN    string
	Expiry string
	Holder string
}

// AssociateCard tokenizes a card with the processor and stores the token as
// the company's payment source. The PAN itself is never stored or logged.
func (s *PaymentService) AssociateCard(ctx context.Context, principal *auth.Principal, in CardInput) (*domain.PaymentSource, error) {
	if principal == nil || !principal.IsAdmin {
		return nil, apperrors.NewForbidden("admin required")
	}
	pan := normalizePAN(in.PAN)
	if !validPAN(pan) {
		return nil, apperrors.NewValidationError("invalid card number", nil)
	}
	if !expiryPattern.MatchString(strings.TrimSpace(in.Expiry)) {
		return nil, apperrors.NewValidationError("invalid card expiry", map[string]any{"format": "MM/YY"})
	}
	holder := strings.TrimSpace(in.Holder)
	if holder == "" {
		return nil, apperrors.NewValidationError("card holder is required", nil)
	}

	actor := payment.Actor{UserID: principal.SubjectID, CompanyID: principal.CompanyID}
	association, err := s.processor.AssociateCard(ctx, actor.CustomerID(), payment.Card{
		PAN:    pan,
		Expiry: strings.TrimSpace(in.Expiry),
		Holder: holder,
	})
	if err != nil {
		s.audit(actor, domain.AuditActionPaymentSource, domain.AuditOutcomeFailure, map[string]any{
			"card": security.Mask(pan, security.DefaultVisibleSuffix),
		})
		return nil, err
	}
	if association.Token == "" {
		return nil, fmt.Errorf("%w: processor returned no card token", apperrors.ErrExternalService)
	}

	source := &domain.PaymentSource{
		CompanyID: principal.CompanyID,
		Token:     association.Token,
		CardLast4: pan[len(pan)-4:],
	}
	if err := s.sources.Upsert(ctx, source); err != nil {
		return nil, err
	}

	s.audit(actor, domain.AuditActionPaymentSource, domain.AuditOutcomeSuccess, map[string]any{
		"card": security.Mask(pan, security.DefaultVisibleSuffix),
	})
	s.logger.Info("payment source associated", zap.Int64("company_id", principal.CompanyID))
	return source, nil
}

func (s *PaymentService) audit(actor payment.Actor, action domain.AuditAction, outcome domain.AuditOutcome, payload map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(domain.AuditEvent{
		ActorID:       actor.UserID,
		CompanyID:     actor.CompanyID,
		Action:        action,
		MaskedPayload: payload,
		Outcome:       outcome,
	})
}

func normalizePAN(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
}

// validPAN checks length, digits and the Luhn checksum.
func validPAN(pan string) bool {
	if len(pan) < 12 || len(pan) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(pan) - 1; i >= 0; i-- {
		c := pan[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
