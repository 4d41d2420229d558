package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/config"
	"github.com/dmehra2102/delivery-settlement/internal/events"
	orderkafka "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/postgres"
	paymentpg "github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/delivery-settlement/pkg/channel"
	"github.com/dmehra2102/delivery-settlement/pkg/logging"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
)

type env struct {
	cfg  *config.Config
	log  *zap.Logger
	pool *pgxpool.Pool
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, err
	}
	log := logging.New("settlementctl", cfg.LogLevel)
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	return &env{cfg: cfg, log: log, pool: pool}, nil
}

func (e *env) close() {
	e.pool.Close()
	_ = e.log.Sync()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the orders, payments and outbox tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			if err := orderpg.NewRepository(e.log, e.pool).EnsureSchema(ctx); err != nil {
				return fmt.Errorf("orders: %w", err)
			}
			if err := paymentpg.NewRepository(e.log, e.pool).EnsureSchema(ctx); err != nil {
				return fmt.Errorf("payments: %w", err)
			}
			if err := outbox.EnsureSchema(ctx, e.pool); err != nil {
				return fmt.Errorf("outbox: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the transactional outbox",
	}

	var aggregate string
	requeue := &cobra.Command{
		Use:   "requeue",
		Short: "Move failed outbox rows of one aggregate back to pending",
		Example: `  settlementctl outbox requeue --aggregate payment
  settlementctl outbox requeue --aggregate order`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if aggregate != orderpg.AggregateType && aggregate != paymentpg.AggregateType {
				return fmt.Errorf("unknown aggregate %q (want %s or %s)", aggregate, orderpg.AggregateType, paymentpg.AggregateType)
			}
			ctx := cmd.Context()
			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			n, err := outbox.NewPgStore(e.log, e.pool, aggregate, e.cfg.RelayMaxRetries).Requeue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d %s events\n", n, aggregate)
			return nil
		},
	}
	requeue.Flags().StringVarP(&aggregate, "aggregate", "a", paymentpg.AggregateType, "aggregate type (order or payment)")
	cmd.AddCommand(requeue)
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Validate and publish a raw settlement event",
		Long: `Publish a raw JSON event. Payment outcome topics go to the Event Channel,
order topics go to the order events Kafka topic. The payload is decoded first,
so malformed events are rejected before they reach a consumer.`,
		Example: `  settlementctl publish payment-failed-event '{"merchantUid":"m1"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, payload := args[0], []byte(args[1])
			ev, err := events.Decode(topic, payload)
			if err != nil {
				return err
			}

			cfg, err := config.Load(nil)
			if err != nil {
				return err
			}
			log := logging.New("settlementctl", cfg.LogLevel)
			defer func() { _ = log.Sync() }()

			if events.IsPaymentOutcome(topic) {
				return publishChannel(cmd.Context(), cfg, log, topic, payload)
			}
			return publishKafka(cmd.Context(), cfg, ev, topic, payload)
		},
	}
}

func publishChannel(ctx context.Context, cfg *config.Config, log *zap.Logger, topic string, payload []byte) error {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	ch, err := channel.Open(log, cfg.ChannelDriver, rdb, cfg.NatsURL, cfg.NatsPrefix)
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.Publish(ctx, topic, payload)
}

func publishKafka(ctx context.Context, cfg *config.Config, ev events.Event, topic string, payload []byte) error {
	w := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer w.Close()

	return w.WriteMessages(ctx, kafka.Message{
		Topic: cfg.OrderTopic,
		Key:   []byte(ev.CorrelationID()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: outbox.HeaderEventType, Value: []byte(topic)},
			{Key: outbox.HeaderEventID, Value: []byte("manual-" + uuid.NewString())},
		},
	})
}
