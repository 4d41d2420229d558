//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Env struct {
	PG    *postgres.PostgresContainer
	Redis *tcredis.RedisContainer
	Kafka *kafka.KafkaContainer

	Pool  *pgxpool.Pool
	RDB   *redis.Client
	PGURL string
	KAddr []string
}

// Setup starts Postgres and Redis. Kafka is only started when withKafka is set since it
// is by far the slowest container.
func Setup(ctx context.Context, withKafka bool) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	env := &Env{}
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("settlement"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		return nil, err
	}
	env.PG = pgC

	env.PGURL, err = pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Pool, err = pgxpool.New(context.Background(), env.PGURL)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.Redis = redisC
	redisURL, err := redisC.ConnectionString(ctx)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		env.Teardown(context.Background())
		return nil, err
	}
	env.RDB = redis.NewClient(opts)

	if withKafka {
		kafkaC, err := kafka.Run(ctx,
			"confluentinc/confluent-local:7.5.0",
			kafka.WithClusterID("settlement-test"),
		)
		if err != nil {
			env.Teardown(context.Background())
			return nil, err
		}
		env.Kafka = kafkaC
		env.KAddr, err = kafkaC.Brokers(ctx)
		if err != nil {
			env.Teardown(context.Background())
			return nil, err
		}
	}
	return env, nil
}

func (e *Env) Teardown(ctx context.Context) {
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RDB != nil {
		_ = e.RDB.Close()
	}
	if e.Kafka != nil {
		_ = e.Kafka.Terminate(ctx)
	}
	if e.Redis != nil {
		_ = e.Redis.Terminate(ctx)
	}
	if e.PG != nil {
		_ = e.PG.Terminate(ctx)
	}
}
