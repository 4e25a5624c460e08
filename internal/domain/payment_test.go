package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentStatusCanMoveTo(t *testing.T) {
	tests := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusProcessing, PaymentStatusConfirmed, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusSuccess, PaymentStatusConfirmed, true},
		{PaymentStatusScheduled, PaymentStatusFailed, true},
		{PaymentStatusConfirmed, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusConfirmed, false},
		{PaymentStatusConfirmed, PaymentStatusConfirmed, false},
		{PaymentStatusProcessing, PaymentStatusScheduled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanMoveTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "450.50", Amount(45050).String())
	assert.Equal(t, "0.07", Amount(7).String())
	assert.Equal(t, "-1.00", Amount(-100).String())
}
