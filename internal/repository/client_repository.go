package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/backoffice/internal/domain"
)

// ClientRepository stores client records and their encrypted IBANs. Values
// are persisted exactly as given; encryption happens before they arrive.
type ClientRepository interface {
	GetByID(ctx context.Context, companyID, clientID int64) (*domain.Client, error)
	UpdateEncryptedIBAN(ctx context.Context, companyID, clientID int64, encrypted string) error
}

type clientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository returns a Postgres-backed implementation.
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &clientRepository{pool: pool}
}

func (r *clientRepository) GetByID(ctx context.Context, companyID, clientID int64) (*domain.Client, error) {
	const query = `
        SELECT id, company_id, name, COALESCE(encrypted_iban, ''), updated_at
        FROM clients WHERE id=$1 AND company_id=$2`

	var client domain.Client
	if err := r.pool.QueryRow(ctx, query, clientID, companyID).Scan(
		&client.ID,
		&client.CompanyID,
		&client.Name,
		&client.EncryptedIBAN,
		&client.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *clientRepository) UpdateEncryptedIBAN(ctx context.Context, companyID, clientID int64, encrypted string) error {
	const query = `
        UPDATE clients SET encrypted_iban=NULLIF($1, ''), updated_at=NOW()
        WHERE id=$2 AND company_id=$3`

	cmd, err := r.pool.Exec(ctx, query, encrypted, clientID, companyID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
