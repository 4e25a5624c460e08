package domain

import "time"

// User is a back-office account: an employee of a company, optionally an
// admin (may trigger payments) or an agent (manages client records).
type User struct {
	ID           int64
	CompanyID    int64
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsAgent      bool
	// Active is cleared on logout; credentials of inactive users are rejected.
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
