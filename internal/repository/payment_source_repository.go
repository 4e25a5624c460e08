package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/backoffice/internal/domain"
)

// PaymentSourceRepository stores the processor token of each company's
// payment instrument.
type PaymentSourceRepository interface {
	Get(ctx context.Context, companyID int64) (*domain.PaymentSource, error)
	Upsert(ctx context.Context, source *domain.PaymentSource) error
}

type paymentSourceRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentSourceRepository returns a Postgres-backed implementation.
func NewPaymentSourceRepository(pool *pgxpool.Pool) PaymentSourceRepository {
	return &paymentSourceRepository{pool: pool}
}

func (r *paymentSourceRepository) Get(ctx context.Context, companyID int64) (*domain.PaymentSource, error) {
	const query = `SELECT company_id, token, card_last4, updated_at FROM payment_sources WHERE company_id=$1`

	var src domain.PaymentSource
	if err := r.pool.QueryRow(ctx, query, companyID).Scan(&src.CompanyID, &src.Token, &src.CardLast4, &src.UpdatedAt); err != nil {
		return nil, err
	}
	return &src, nil
}

func (r *paymentSourceRepository) Upsert(ctx context.Context, source *domain.PaymentSource) error {
	const query = `
        INSERT INTO payment_sources (company_id, token, card_last4)
        VALUES ($1, $2, $3)
        ON CONFLICT (company_id) DO UPDATE SET token=EXCLUDED.token, card_last4=EXCLUDED.card_last4, updated_at=NOW()
        RETURNING updated_at`

	return r.pool.QueryRow(ctx, query, source.CompanyID, source.Token, source.CardLast4).Scan(&source.UpdatedAt)
}
