package domain

import "time"

// AuditAction names an audited operation.
type AuditAction string

const (
	AuditActionPaymentDispatch  AuditAction = "payment.dispatch"
	AuditActionPaymentRun       AuditAction = "payment.run"
	AuditActionPayoutPay        AuditAction = "payment.payout"
	AuditActionPaymentWebhook   AuditAction = "payment.webhook"
	AuditActionPaymentSource    AuditAction = "payment.source_associated"
	AuditActionClientIBANUpdate AuditAction = "client.iban_updated"
	AuditActionLogout           AuditAction = "auth.logout"
)

// AuditOutcome is the result recorded for an audited operation.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is a write-only record. MaskedPayload must never contain
// unmasked account identifiers.
type AuditEvent struct {
	ID            string         `json:"id"`
	ActorID       int64          `json:"actor_id"`
	CompanyID     int64          `json:"company_id"`
	Action        AuditAction    `json:"action"`
	MaskedPayload map[string]any `json:"masked_payload"`
	Timestamp     time.Time      `json:"timestamp"`
	Outcome       AuditOutcome   `json:"outcome"`
}
