package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/payment/domain"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

const AggregateType = "payment"

const schema = `
CREATE TABLE IF NOT EXISTS payments (
	id            BIGSERIAL PRIMARY KEY,
	merchant_uid  TEXT        NOT NULL,
	payment_key   TEXT        NOT NULL,
	amount        BIGINT      NOT NULL CHECK (amount > 0),
	status        TEXT        NOT NULL,
	cancel_reason TEXT        NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_merchant_status ON payments (merchant_uid, status, id DESC);
`

const columns = `id, merchant_uid, payment_key, amount, status, cancel_reason, created_at, updated_at`

type Repository struct {
	log  *zap.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *zap.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repository) Insert(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (merchant_uid, payment_key, amount, status, cancel_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.MerchantUID, p.PaymentKey, p.Amount, p.Status, p.CancelReason, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

// Duplicate rows per merchant are expected (audit trail, retried checkouts); the most
// recent one wins.
func (r *Repository) FindByMerchantUID(ctx context.Context, merchantUID string) (domain.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE merchant_uid=$1 ORDER BY id DESC LIMIT 1`, merchantUID)
	return scanOne(row)
}

func (r *Repository) FindByMerchantUIDAndStatus(ctx context.Context, merchantUID string, status domain.Status) (domain.Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM payments WHERE merchant_uid=$1 AND status=$2 ORDER BY id DESC LIMIT 1`, merchantUID, status)
	return scanOne(row)
}

func (r *Repository) History(ctx context.Context, merchantUID string) ([]domain.Payment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM payments WHERE merchant_uid=$1 ORDER BY id`, merchantUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateStatusWithEvent(ctx context.Context, id int64, from, to domain.Status, ev events.Event) error {
	if !from.CanTransitionTo(to) || to.Appends() {
		return fmt.Errorf("%w: %s -> %s in place", domain.ErrInvalidTransition, from, to)
	}
	msg, err := events.NewOutboxMessage(AggregateType, ev, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ct, err := tx.Exec(ctx, `UPDATE payments SET status=$1, updated_at=$2 WHERE id=$3 AND status=$4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment %d is no longer %s", domain.ErrInvalidTransition, id, from)
	}
	if err := outbox.Insert(ctx, tx, msg); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) AppendWithEvent(ctx context.Context, p domain.Payment, ev events.Event) (domain.Payment, error) {
	if !p.Status.Appends() {
		return domain.Payment{}, fmt.Errorf("%w: %s is not an appended status", domain.ErrInvalidTransition, p.Status)
	}
	msg, err := events.NewOutboxMessage(AggregateType, ev, tracing.Traceparent(ctx))
	if err != nil {
		return domain.Payment{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Payment{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (merchant_uid, payment_key, amount, status, cancel_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		p.MerchantUID, p.PaymentKey, p.Amount, p.Status, p.CancelReason, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := outbox.Insert(ctx, tx, msg); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}

func scanOne(row pgx.Row) (domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.MerchantUID, &p.PaymentKey, &p.Amount, &p.Status, &p.CancelReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return p, nil
}
