package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shopworks/storefront-api/internal/catalog"
	"github.com/shopworks/storefront-api/internal/config"
	"github.com/shopworks/storefront-api/internal/httpx"
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

	// Producers, one per order topic
	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{
		orders.TopicOrderSubmitted,
		orders.TopicOrderCancelled,
		orders.TopicOrderItemRemoved,
		orders.TopicOrderStatusChanged,
	} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, logger)
		p.Start(ctx)
		producers[topic] = p
	}

	// Handlers
	router := httpx.NewRouter(logger)
	oh := &httpx.OrdersHandler{
		Recon:       &orders.Reconciler{Store: &orders.PGStore{DB: db}},
		Cache:       &redisx.StatusCache{R: rdb},
		Submitted:   producers[orders.TopicOrderSubmitted],
		Cancelled:   producers[orders.TopicOrderCancelled],
		ItemRemoved: producers[orders.TopicOrderItemRemoved],
		StatusMoved: producers[orders.TopicOrderStatusChanged],
		Service:     cfg.ServiceName,
	}
	oh.Register(router)
	ch := &httpx.CatalogHandler{Repo: &catalog.Repo{DB: db}}
	ch.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range producers {
		p.Close() // close inbox -> flush & close writer
	}
	cancel()
	for _, p := range producers {
		p.WaitClosed() // drain
	}
}
