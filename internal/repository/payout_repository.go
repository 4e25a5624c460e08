package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/backoffice/internal/domain"
)

// PayoutClaim selects the payouts one dispatch attempt takes ownership of.
type PayoutClaim struct {
	CompanyID int64
	// PayoutID restricts the claim to one payout. Zero claims every pending one.
	PayoutID int64
	// Token identifies the attempt. Payouts already held by the same token
	// are claimed again so a retry of that attempt sees them.
	Token string
	// Lease is how long a claim blocks other attempts.
	Lease time.Duration
}

// PayoutRepository manages the queue of pending client payouts.
type PayoutRepository interface {
	// Claim marks the unpaid payouts matching c as held by c.Token and
	// returns them. Payouts held by another live claim are skipped.
	Claim(ctx context.Context, c PayoutClaim) ([]domain.Payout, error)
	// Release drops the claims of token on payouts that were never linked
	// to a payment.
	Release(ctx context.Context, companyID int64, token string) error
}

type payoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository returns a Postgres-backed implementation.
func NewPayoutRepository(pool *pgxpool.Pool) PayoutRepository {
	return &payoutRepository{pool: pool}
}

func (r *payoutRepository) Claim(ctx context.Context, c PayoutClaim) ([]domain.Payout, error) {
	const query = `
        WITH claimed AS (
            UPDATE payouts SET claim_token=$3, claimed_at=NOW()
            WHERE id IN (
                SELECT id FROM payouts
                WHERE company_id=$1
                  AND ($2::bigint = 0 OR id=$2)
                  AND payment_id IS NULL
                  AND (claim_token IS NULL OR claim_token=$3
                       OR claimed_at < NOW() - make_interval(secs => $4::double precision))
                ORDER BY id
                FOR UPDATE SKIP LOCKED
            )
            RETURNING id, company_id, client_id, amount_cents, created_at
        )
        SELECT cl.id, cl.company_id, cl.client_id, COALESCE(c.encrypted_iban, ''), cl.amount_cents, cl.created_at
        FROM claimed cl
        JOIN clients c ON c.id = cl.client_id
        ORDER BY cl.id`

	rows, err := r.pool.Query(ctx, query, c.CompanyID, c.PayoutID, c.Token, c.Lease.Seconds())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payout, error) {
		var p domain.Payout
		err := row.Scan(&p.ID, &p.CompanyID, &p.ClientID, &p.EncryptedIBAN, &p.Amount, &p.CreatedAt)
		return p, err
	})
}

func (r *payoutRepository) Release(ctx context.Context, companyID int64, token string) error {
	const query = `
        UPDATE payouts SET claim_token=NULL, claimed_at=NULL
        WHERE company_id=$1 AND claim_token=$2 AND payment_id IS NULL`

	_, err := r.pool.Exec(ctx, query, companyID, token)
	return err
}
