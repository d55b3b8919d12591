package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sharmaji847401-hue/myapi/internal/api"
	"github.com/sharmaji847401-hue/myapi/internal/catalog"
	"github.com/sharmaji847401-hue/myapi/internal/config"
	"github.com/sharmaji847401-hue/myapi/internal/handler"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/kafka"
	"github.com/sharmaji847401-hue/myapi/internal/infrastructure/redis"
	"github.com/sharmaji847401-hue/myapi/internal/observability"
	"github.com/sharmaji847401-hue/myapi/internal/reconcile"
	core "github.com/sharmaji847401-hue/myapi/internal/repository/postgres"
	service "github.com/sharmaji847401-hue/myapi/internal/services"
	"github.com/sharmaji847401-hue/myapi/internal/upstream"
)

func main() {
	cfg := config.Load()

	// Логи, метрики, трейсы
	shutdownTracing := observability.Setup("reseller-gateway", cfg.OTLPEndpoint)
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to open Postgres: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if err := core.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	accountRepo := core.NewPostgresAccountRepository(db)
	serviceRepo := core.NewPostgresServiceRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)

	// Redis is only a cache; the gateway runs without it.
	var cache redis.RedisClient
	if client, err := redis.NewClient(ctx, cfg.RedisAddr); err != nil {
		slog.Warn("catalog cache disabled", "error", err)
	} else {
		cache = client
		defer client.Close()
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	events := kafka.NewSettlementPublisher(producer, cfg.Kafka.TransactionsTopic)

	billing := service.NewBillingService(
		accountRepo,
		catalog.New(serviceRepo, cache, cfg.CatalogCacheTTL),
		transactionRepo,
		upstream.NewClient(cfg.Upstream.Timeout, cfg.Upstream.MaxBodySize),
		events,
	)

	sweeper := reconcile.NewSweeper(transactionRepo, nil, events, reconcile.Config{
		Interval:   cfg.Reconcile.Interval,
		PendingAge: cfg.Reconcile.PendingAge,
		BatchSize:  cfg.Reconcile.BatchSize,
	})
	go sweeper.Run(ctx)

	rechargeConsumer := kafka.NewRechargeConsumer(cfg.Kafka.Brokers, cfg.Kafka.RechargesTopic, cfg.Kafka.GroupID, accountRepo)
	go rechargeConsumer.Consume(ctx)
	defer rechargeConsumer.Close()

	router := api.SetupRouter(handler.NewHandler(billing, sweeper), api.RouterConfig{
		Accounts:       accountRepo,
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Upstream timeout plus headroom for settlement.
		WriteTimeout: cfg.Upstream.Timeout + 10*time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Upstream.Timeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
