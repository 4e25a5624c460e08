package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/backoffice/internal/api/dto"
	"github.com/spec-kit/backoffice/internal/auth"
	"github.com/spec-kit/backoffice/internal/service"
)

// PaymentInfoManager reads and writes client payment info.
type PaymentInfoManager interface {
	SetPaymentInfo(ctx context.Context, principal *auth.Principal, clientID int64, iban string) (*service.PaymentInfo, error)
	GetPaymentInfo(ctx context.Context, principal *auth.Principal, clientID int64) (*service.PaymentInfo, error)
}

// ClientsHandler exposes client payment-info endpoints.
type ClientsHandler struct {
	clients PaymentInfoManager
}

// NewClientsHandler constructs handler.
func NewClientsHandler(clients PaymentInfoManager) *ClientsHandler {
	return &ClientsHandler{clients: clients}
}

// SetPaymentInfo handles PUT /clients/:id/payment-info.
func (h *ClientsHandler) SetPaymentInfo(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	clientID, err := clientIDParam(c)
	if err != nil {
		return err
	}

	var req dto.PaymentInfoRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	info, err := h.clients.SetPaymentInfo(c.UserContext(), principal, clientID, req.IBAN)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toPaymentInfoResponse(info)})
}

// GetPaymentInfo handles GET /clients/:id/payment-info.
func (h *ClientsHandler) GetPaymentInfo(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	clientID, err := clientIDParam(c)
	if err != nil {
		return err
	}

	info, err := h.clients.GetPaymentInfo(c.UserContext(), principal, clientID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": toPaymentInfoResponse(info)})
}

func clientIDParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "invalid client id")
	}
	return int64(id), nil
}

func toPaymentInfoResponse(info *service.PaymentInfo) dto.PaymentInfoResponse {
	return dto.PaymentInfoResponse{ClientID: info.ClientID, IBAN: info.IBAN, HasIBAN: info.HasIBAN}
}
