package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/order/domain"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

const AggregateType = "order"

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id            BIGSERIAL PRIMARY KEY,
	merchant_uid  TEXT        NOT NULL UNIQUE,
	customer_id   BIGINT      NOT NULL,
	store_id      BIGINT      NOT NULL,
	total_price   BIGINT      NOT NULL CHECK (total_price > 0),
	status        TEXT        NOT NULL,
	cancel_reason TEXT        NOT NULL DEFAULT '',
	version       BIGINT      NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
`

const columns = `id, merchant_uid, customer_id, store_id, total_price, status, cancel_reason, version, created_at, updated_at`

const uniqueViolation = "23505"

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

func (r *Repository) Create(ctx context.Context, o domain.Order) (domain.Order, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO orders (merchant_uid, customer_id, store_id, total_price, status, cancel_reason, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8) RETURNING id`,
		o.MerchantUID, o.CustomerID, o.StoreID, o.TotalPrice, o.Status, o.CancelReason, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrDuplicateOrder, o.MerchantUID)
	}
	if err != nil {
		return domain.Order{}, err
	}
	o.Version = 0
	return o, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Order, error) {
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM orders WHERE id=$1`, id))
}

func (r *Repository) GetByMerchantUID(ctx context.Context, merchantUID string) (domain.Order, error) {
	return scanOne(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM orders WHERE merchant_uid=$1`, merchantUID))
}

func (r *Repository) Save(ctx context.Context, o domain.Order) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := update(ctx, tx, &o); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *Repository) SaveWithOutbox(ctx context.Context, o domain.Order, ev events.Event) (domain.Order, error) {
	msg, err := events.NewOutboxMessage(AggregateType, ev, tracing.Traceparent(ctx))
	if err != nil {
		return domain.Order{}, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := update(ctx, tx, &o); err != nil {
		return domain.Order{}, err
	}
	if err := outbox.Insert(ctx, tx, msg); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func update(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status=$1, cancel_reason=$2, version=version+1, updated_at=$3
		WHERE id=$4 AND version=$5`,
		o.Status, o.CancelReason, now, o.ID, o.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d at version %d", domain.ErrConcurrentModification, o.ID, o.Version)
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

func scanOne(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.MerchantUID, &o.CustomerID, &o.StoreID, &o.TotalPrice, &o.Status, &o.CancelReason, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}
