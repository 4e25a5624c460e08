package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/backoffice/internal/api/dto"
	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/domain"
	"github.com/spec-kit/backoffice/internal/service"
)

// PaymentRunner is the payment surface used by the company endpoints.
type PaymentRunner interface {
	RunPayouts(ctx context.Context, principal *auth.Principal, req service.RunRequest) (*service.RunResult, error)
	PayOne(ctx context.Context, principal *auth.Principal, req service.SingleRequest) (*service.RunResult, error)
	AssociateCard(ctx context.Context, principal *auth.Principal, in service.CardInput) (*domain.PaymentSource, error)
}

// PaymentsHandler exposes company payment endpoints.
type PaymentsHandler struct {
	payments PaymentRunner
}

// NewPaymentsHandler constructs handler.
func NewPaymentsHandler(payments PaymentRunner) *PaymentsHandler {
	return &PaymentsHandler{payments: payments}
}

// Pay handles POST /company/pay.
func (h *PaymentsHandler) Pay(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req dto.PayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	result, err := h.payments.RunPayouts(c.UserContext(), principal, service.RunRequest{
		Signature:  req.Signature,
		RequestKey: req.RequestKey,
	})
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": toPayResponse(result)})
}

// PayPayout handles POST /company/payouts/:id/pay.
func (h *PaymentsHandler) PayPayout(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return fiber.NewError(http.StatusBadRequest, "invalid payout id")
	}

	var req dto.PayoutPayRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	var at time.Time
	if req.ScheduleAt != "" {
		if at, err = time.Parse(time.RFC3339, req.ScheduleAt); err != nil {
			return fiber.NewError(http.StatusBadRequest, "schedule_at must be an RFC 3339 time")
		}
	}

	result, err := h.payments.PayOne(c.UserContext(), principal, service.SingleRequest{
		PayoutID:   int64(id),
		Signature:  req.Signature,
		RequestKey: req.RequestKey,
		ScheduleAt: at,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toPayResponse(result)})
}

func toPayResponse(result *service.RunResult) dto.PayResponse {
	targets := make([]dto.MaskedTargetResponse, len(result.Targets))
	for i, t := range result.Targets {
		targets[i] = dto.MaskedTargetResponse{IBAN: t.Account, Amount: t.Amount}
	}
	return dto.PayResponse{
		TransactionID:  result.TransactionID,
		Status:         string(result.Status),
		Total:          result.Total.String(),
		IdempotencyKey: result.IdempotencyKey,
		Payouts:        result.Payouts,
		Targets:        targets,
		ScheduledFor:   result.ScheduledFor,
	}
}

// AssociateSource handles POST /company/payment-source.
func (h *PaymentsHandler) AssociateSource(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}

	var req dto.PaymentSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	source, err := h.payments.AssociateCard(c.UserContext(), principal, service.CardInput{
		PAN:    req.CardNumber,
		Expiry: req.Expiry,
		Holder: req.Holder,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.PaymentSourceResponse{
		CardLast4: source.CardLast4,
		Status:    "associated",
	}})
}
