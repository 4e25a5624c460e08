package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/backoffice/internal/domain"
)

var (
	// ErrPayoutsNotClaimed reports payouts that were paid or re-claimed by
	// another attempt while this one was dispatching.
	ErrPayoutsNotClaimed = errors.New("payouts not held by this payment attempt")
	// ErrStatusConflict reports a payment whose status changed underneath
	// a conditional update.
	ErrStatusConflict = errors.New("payment status changed concurrently")
)

// PaymentRepository persists dispatched payments.
type PaymentRepository interface {
	// RecordRun stores the payment and links the dispatched payouts to it in
	// one transaction. Every payout must still be claimed under the record's
	// idempotency key; otherwise nothing is stored and ErrPayoutsNotClaimed
	// is returned.
	RecordRun(ctx context.Context, record *domain.PaymentRecord, payoutIDs []int64) error
	// UpdateStatus moves a payment from one status to another. It returns
	// ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, transactionID string, from, to domain.PaymentStatus, reason string) error
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error)
}

type paymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a Postgres-backed implementation.
func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

func (r *paymentRepository) RecordRun(ctx context.Context, record *domain.PaymentRecord, payoutIDs []int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const insert = `
        INSERT INTO payments (transaction_id, company_id, admin_id, amount_cents, idempotency_key, signature, status, scheduled_for)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at`

	if err := tx.QueryRow(ctx, insert,
		record.TransactionID,
		record.CompanyID,
		record.AdminID,
		record.Amount,
		record.IdempotencyKey,
		record.Signature,
		record.Status,
		record.ScheduledFor,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if len(payoutIDs) > 0 {
		const link = `
        UPDATE payouts SET payment_id=$1
        WHERE id = ANY($2) AND company_id=$3 AND payment_id IS NULL AND claim_token=$4`
		cmd, err := tx.Exec(ctx, link, record.ID, payoutIDs, record.CompanyID, record.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("link payouts: %w", err)
		}
		if cmd.RowsAffected() != int64(len(payoutIDs)) {
			return fmt.Errorf("link payouts: %w (%d of %d)", ErrPayoutsNotClaimed, cmd.RowsAffected(), len(payoutIDs))
		}
	}

	return tx.Commit(ctx)
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, transactionID string, from, to domain.PaymentStatus, reason string) error {
	const query = `
        UPDATE payments SET status=$1, failure_reason=NULLIF($2, ''), updated_at=NOW()
        WHERE transaction_id=$3 AND status=$4`

	cmd, err := r.pool.Exec(ctx, query, to, reason, transactionID, from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error) {
	const query = `
        SELECT id, transaction_id, company_id, admin_id, amount_cents, idempotency_key, signature,
               status, COALESCE(failure_reason, ''), scheduled_for, created_at, updated_at
        FROM payments WHERE transaction_id=$1`

	var rec domain.PaymentRecord
	if err := r.pool.QueryRow(ctx, query, transactionID).Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.CompanyID,
		&rec.AdminID,
		&rec.Amount,
		&rec.IdempotencyKey,
		&rec.Signature,
		&rec.Status,
		&rec.FailureReason,
		&rec.ScheduledFor,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
