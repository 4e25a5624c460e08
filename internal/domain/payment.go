package domain

import (
	"fmt"
	"time"
)

// Amount is a positive monetary value in minor units (cents).
type Amount int64

// String renders the amount with two decimals.
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// PaymentTarget is one payee of a bulk payment. DestinationAccount is
// plaintext and exists only in memory for the duration of a dispatch.
type PaymentTarget struct {
	DestinationAccount string
	Amount             Amount
}

// PaymentStatus is the processor-reported state of a payment.
type PaymentStatus string

const (
	PaymentStatusSuccess    PaymentStatus = "success"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusScheduled  PaymentStatus = "scheduled"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusConfirmed  PaymentStatus = "confirmed"
)

// Accepted reports whether the processor took the payment.
func (s PaymentStatus) Accepted() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusProcessing || s == PaymentStatusScheduled
}

// Final reports whether no further status change is allowed.
func (s PaymentStatus) Final() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusFailed
}

// CanMoveTo reports whether a processor callback may move a payment from s
// to next. Only accepted payments settle; settled payments never change.
func (s PaymentStatus) CanMoveTo(next PaymentStatus) bool {
	return s.Accepted() && next.Final()
}

// Payout is a pending transfer to a client, stored with its encrypted IBAN.
type Payout struct {
	ID            int64
	CompanyID     int64
	ClientID      int64
	EncryptedIBAN string
	Amount        Amount
	CreatedAt     time.Time
}

// PaymentRecord is the persisted proof of a dispatched bulk payment.
type PaymentRecord struct {
	ID             int64
	TransactionID  string
	CompanyID      int64
	AdminID        int64
	Amount         Amount
	IdempotencyKey string
	Signature      string
	Status         PaymentStatus
	FailureReason  string
	// ScheduledFor is set for payments the processor executes later.
	ScheduledFor *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PaymentSource is the processor token of a company's payment instrument.
type PaymentSource struct {
	CompanyID int64
	Token     string
	CardLast4 string
	UpdatedAt time.Time
}
