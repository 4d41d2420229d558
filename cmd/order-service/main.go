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
	"github.com/dmehra2102/delivery-settlement/internal/order/application"
	orderchannel "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/channel"
	orderhttp "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/http"
	orderkafka "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/kafka"
	orderpg "github.com/dmehra2102/delivery-settlement/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/delivery-settlement/pkg/channel"
	"github.com/dmehra2102/delivery-settlement/pkg/logging"
	"github.com/dmehra2102/delivery-settlement/pkg/outbox"
	"github.com/dmehra2102/delivery-settlement/pkg/shutdown"
	"github.com/dmehra2102/delivery-settlement/pkg/tracing"
)

func main() {
	cfg, err := config.Load(map[string]any{"http_addr": ":8080"})
	if err != nil {
		panic(err)
	}
	log := logging.New("order-service", cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", zap.Error(err))
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres setup
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := orderpg.NewRepository(log, pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Error("order schema failed", zap.Error(err))
		os.Exit(1)
	}
	if err := outbox.EnsureSchema(ctx, pool); err != nil {
		log.Error("outbox schema failed", zap.Error(err))
		os.Exit(1)
	}

	// Event Channel
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	ch, err := channel.Open(log, cfg.ChannelDriver, rdb, cfg.NatsURL, cfg.NatsPrefix)
	if err != nil {
		log.Error("channel open failed", zap.Error(err))
		os.Exit(1)
	}
	defer ch.Close()

	// Kafka producer and outbox relay for order events
	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	store := outbox.NewPgStore(log, pool, orderpg.AggregateType, cfg.RelayMaxRetries)
	publisher := outbox.NewKafkaPublisher(log, writer, cfg.OrderTopic)
	relay := outbox.NewRelay(log, store, publisher, "order-service-relay",
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithBatchSize(cfg.RelayBatchSize),
		outbox.WithLease(cfg.RelayLease),
	)

	svc := application.NewService(log, repo, orderchannel.NewNotifier(log, ch))
	dispatcher := orderchannel.NewDispatcher(log, svc)
	handler := orderhttp.NewHandler(log, svc)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", zap.Error(err))
		}
	}()

	go func() {
		defer workers.Done()
		if err := dispatcher.Run(ctx, ch); err != nil {
			log.Error("dispatcher stopped", zap.Error(err))
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

	<-ctx.Done()

	shutdown.Drain(log, 10*time.Second,
		shutdown.Hook{Name: "http", Stop: srv.Shutdown},
		shutdown.Hook{Name: "workers", Stop: shutdown.Wait(&workers)},
	)
	log.Info("order-service shutdown complete")
}
