package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shopworks/storefront-api/internal/audit"
	"github.com/shopworks/storefront-api/internal/config"
	kafkax "github.com/shopworks/storefront-api/internal/kafka"
	"github.com/shopworks/storefront-api/internal/logx"
	"github.com/shopworks/storefront-api/internal/orders"
	"github.com/shopworks/storefront-api/internal/postgres"
	"github.com/shopworks/storefront-api/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logx.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &audit.Service{
		DB:    db,
		Redis: rdb,
		Cache: &redisx.StatusCache{R: rdb},
		Log:   logger,
		Name:  cfg.ServiceName + "-auditor",
	}

	group := getenv("AUDITOR_GROUP", "order-auditor")
	workers := mustAtoi(os.Getenv("AUDITOR_WORKERS"), "4")

	topics := []string{
		orders.TopicOrderSubmitted,
		orders.TopicOrderCancelled,
		orders.TopicOrderItemRemoved,
		orders.TopicOrderStatusChanged,
	}
	for _, topic := range topics {
		topic := topic
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, logger)
		go func() {
			logger.Info("auditor consumer started",
				zap.String("group", group),
				zap.String("topic", topic),
				zap.Int("workers", workers))
			if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
				logger.Error("consumer exit", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}()
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down consumers...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
