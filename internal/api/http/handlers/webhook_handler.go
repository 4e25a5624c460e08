package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/backoffice/internal/webhook"
)

// WebhookProcessor authenticates and applies processor callbacks.
type WebhookProcessor interface {
	Handle(ctx context.Context, rawBody []byte, signature string) error
}

// WebhookHandler receives processor callbacks.
type WebhookHandler struct {
	webhooks WebhookProcessor
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(webhooks WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// FastPay handles POST /webhooks/fastpay. The MAC is computed over the
// exact request bytes, so the body is passed on unparsed.
func (h *WebhookHandler) FastPay(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.Body()...)
	if err := h.webhooks.Handle(c.UserContext(), raw, c.Get(webhook.SignatureHeader)); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "received"})
}
