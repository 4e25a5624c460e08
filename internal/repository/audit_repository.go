package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/backoffice/internal/domain"
)

// AuditRepository is the durable audit sink.
type AuditRepository interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository returns a Postgres-backed implementation.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Record(ctx context.Context, event domain.AuditEvent) error {
	const query = `
        INSERT INTO audit_events (id, actor_id, company_id, action, masked_payload, outcome, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO NOTHING`

	payload, err := json.Marshal(event.MaskedPayload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, query,
		event.ID,
		event.ActorID,
		event.CompanyID,
		event.Action,
		payload,
		event.Outcome,
		event.Timestamp,
	)
	return err
}
