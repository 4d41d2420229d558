package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	type           TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	headers        JSONB       NOT NULL DEFAULT '{}'::jsonb,
	traceparent    TEXT        NOT NULL DEFAULT '',
	status         TEXT        NOT NULL DEFAULT 'pending',
	relay_id       TEXT,
	lease_until    TIMESTAMPTZ,
	retry_count    INT         NOT NULL DEFAULT 0,
	last_error     TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_outbox_claim ON outbox (aggregate_type, status, id);
`

// Insert writes msg inside tx so the event commits or rolls back with the state change.
func Insert(ctx context.Context, tx pgx.Tx, msg Message) error {
	headers := msg.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		msg.AggregateType, msg.AggregateID, msg.Type, msg.Payload, headers, msg.Traceparent)
	return err
}

// PgStore claims rows of one aggregate type, so services sharing a database never
// relay each other's events.
type PgStore struct {
	log           *zap.Logger
	pool          *pgxpool.Pool
	aggregateType string
	maxRetries    int
}

func NewPgStore(log *zap.Logger, pool *pgxpool.Pool, aggregateType string, maxRetries int) *PgStore {
	return &PgStore{log: log, pool: pool, aggregateType: aggregateType, maxRetries: maxRetries}
}

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

func (s *PgStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Expired leases belong to a relay that died mid-batch; they are claimable again.
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE aggregate_type = $1
		  AND (status = 'pending' OR (status = 'in_progress' AND lease_until < now()))
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, s.aggregateType, batchSize)
	if err != nil {
		return nil, err
	}

	var events []Event
	for rows.Next() {
		var event Event
		var headers map[string]string
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload, &headers, &event.Traceparent, &event.CreatedAt, &event.RetryCount); err != nil {
			rows.Close()
			return nil, err
		}
		event.Headers = headers
		event.Status = StatusInProgress
		event.RelayID = relayID
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE outbox SET status='in_progress', relay_id=$1, lease_until=now() + make_interval(secs => $2)
		WHERE id = ANY($3)`, relayID, lease.Seconds(), remaining(events))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PgStore) MarkSent(ctx context.Context, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status='sent', lease_until=NULL WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

// MarkFailed puts the row back to pending until maxRetries is reached.
func (s *PgStore) MarkFailed(ctx context.Context, id int64, errMsg string, permanent bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = CASE WHEN $3 OR retry_count + 1 >= $4 THEN 'failed' ELSE 'pending' END,
		    last_error = $2, retry_count = retry_count + 1, relay_id = NULL, lease_until = NULL
		WHERE id = $1`, id, errMsg, permanent, s.maxRetries)
	if err != nil {
		return err
	}
	s.log.Warn("outbox event failed", zap.Int64("event_id", id), zap.String("err", errMsg), zap.Bool("permanent", permanent))
	return nil
}

func (s *PgStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET lease_until=now() + make_interval(secs => $1) WHERE id = ANY($2) AND relay_id=$3`, lease.Seconds(), ids, relayID)
	return err
}

func (s *PgStore) Release(ctx context.Context, relayID string, ids []int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='pending', relay_id=NULL, lease_until=NULL
		WHERE id = ANY($1) AND relay_id=$2 AND status='in_progress'`, ids, relayID)
	return err
}

// Requeue moves failed rows back to pending and resets their retry budget.
func (s *PgStore) Requeue(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='pending', retry_count=0, last_error=NULL
		WHERE aggregate_type=$1 AND status='failed'`, s.aggregateType)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
