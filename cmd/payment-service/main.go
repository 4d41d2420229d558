package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dmehra2102/delivery-settlement/internal/config"
	"github.com/dmehra2102/delivery-settlement/internal/events"
	"github.com/dmehra2102/delivery-settlement/internal/payment/application"
	"github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/gateway"
	paymentgrpc "github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/grpc"
	paymenthttp "github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/kafka"
	pg "github.com/dmehra2102/delivery-settlement/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/delivery-settlement/pkg/channel"
	"github.com/dmehra2102/delivery-settlement/pkg/idempotency"
	"github.com/dmehra2102/delivery-settlement/pkg/logging"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
	"github.com/dmehra2102/delivery-settlement/pkg/shutdown"
	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

func main() {
	cfg, err := config.Load(map[string]any{"http_addr": ":8081"})
	if err != nil {
		panic(err)
	}
	log := logging.New("payment-service", cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "payment-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := pg.NewRepository(log, pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("payment schema failed", zap.Error(err))
		os.Exit(1)
	}
	if err := outbox.EnsureSchema(ctx, pool); err != nil {
		log.Error("outbox schema failed", zap.Error(err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)
	locker := idempotency.NewLocker(rdb, "payment_lock", cfg.LockTTL)

	ch, err := channel.Open(log, cfg.ChannelDriver, rdb, cfg.NatsURL, cfg.NatsPrefix)
	if err != nil {
		log.Error("channel open failed", zap.Error(err))
		os.Exit(1)
	}
	defer ch.Close()

	// Outbox relay for payment outcomes onto the Event Channel
	store := outbox.NewPgStore(log, pool, pg.AggregateType, cfg.RelayMaxRetries)
	relay := outbox.NewRelay(log, store, events.NewBridge(log, ch), "payment-service-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithLease(cfg.RelayLease),
	)

	toss := gateway.NewTossClient(log, gateway.Config{
		BaseURL:   cfg.GatewayURL,
		SecretKey: cfg.GatewaySecretKey,
		RPS:       cfg.GatewayRPS,
		Timeout:   cfg.GatewayTimeout,
	})
	svc := application.NewService(log, repo, toss, locker, cfg.GatewayTimeout)
	consumer := paymentkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.OrderTopic, cfg.KafkaGroup, svc, idem)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      paymenthttp.NewRouter(log, paymenthttp.NewHandler(log, svc)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	health := paymentgrpc.NewServer()
	if err := health.Run(cfg.GRPCAddr); err != nil {
		log.Error("grpc listen failed", zap.Error(err))
		os.Exit(1)
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped", zap.Error(err))
		}
	}()

	go func() {
		defer workers.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Error("consumer stopped", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	health.SetServing(true)
	log.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))

	<-ctx.Done()
	health.SetServing(false)

	shutdown.Drain(log, 10*time.Second,
		shutdown.Hook{Name: "http", Stop: srv.Shutdown},
		shutdown.Hook{Name: "grpc", Stop: func(context.Context) error {
			health.GracefulStop()
			return nil
		}},
		shutdown.Hook{Name: "workers", Stop: shutdown.Wait(&workers)},
	)
	log.Info("payment-service shutdown complete")
}
