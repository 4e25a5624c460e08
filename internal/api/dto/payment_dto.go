package dto

import "time"

// PayRequest authorizes a payout run. Signature is the hex RSA-PSS
// signature over the bearer credential of the same request.
type PayRequest struct {
	Signature  string `json:"signature"`
	RequestKey string `json:"request_key,omitempty"`
}

// PayoutPayRequest authorizes the payment of one payout. ScheduleAt is an
// RFC 3339 time; empty pays immediately.
type PayoutPayRequest struct {
	Signature  string `json:"signature"`
	RequestKey string `json:"request_key,omitempty"`
	ScheduleAt string `json:"schedule_at,omitempty"`
}

// MaskedTargetResponse is one payee of a run, account masked.
type MaskedTargetResponse struct {
	IBAN   string `json:"iban"`
	Amount string `json:"amount"`
}

// PayResponse summarizes an accepted payout run.
type PayResponse struct {
	TransactionID  string                 `json:"transaction_id"`
	Status         string                 `json:"status"`
	Total          string                 `json:"total"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Payouts        int                    `json:"payouts"`
	Targets        []MaskedTargetResponse `json:"targets"`
	ScheduledFor   *time.Time             `json:"scheduled_for,omitempty"`
}

// PaymentSourceRequest carries card data for tokenization.
type PaymentSourceRequest struct {
	CardNumber string `json:"card_number"`
	Expiry     string `json:"expiry"`
	Holder     string `json:"holder"`
}

// PaymentSourceResponse never carries more than the last four digits.
type PaymentSourceResponse struct {
	CardLast4 string `json:"card_last4"`
	Status    string `json:"status"`
}
