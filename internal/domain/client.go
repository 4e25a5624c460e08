package domain

import "time"

// Client is a company customer that may receive payouts.
type Client struct {
	ID            int64
	CompanyID     int64
	Name          string
	EncryptedIBAN string
	UpdatedAt     time.Time
}
