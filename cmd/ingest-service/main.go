package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/analytics"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/auth"
	"ms-commerce-sync/internal/backfill"
	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/database/migrations"
	"ms-commerce-sync/internal/identity"
	"ms-commerce-sync/internal/ingest"
	"ms-commerce-sync/internal/ingest/api"
	"ms-commerce-sync/internal/kafka"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/payments"
	"ms-commerce-sync/internal/payments/storage"
	"ms-commerce-sync/internal/reconcile"
	"ms-commerce-sync/internal/warehouse"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", dsn)
		if err == nil {
			err = sqldb.Ping()
		}
		if err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("PostgreSQL connection failed: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("DATABASE", fmt.Sprintf("Redis connection successful to %s", cfg.Addr))
	return client
}

func buildPublisher(cfg config.KafkaConfig, log *logger.Logger) kafka.JobPublisher {
	if !cfg.Enabled || cfg.MockMode {
		log.Warn("KAFKA", "Kafka disabled or in mock mode, resync jobs will not leave the process")
		return kafka.NewMockProducer(log)
	}

	if err := kafka.EnsureTopicsExist(cfg.Brokers, []string{cfg.Topics.ResyncJobs}); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}
	return kafka.NewProducer(cfg.Brokers, cfg.Topics.ResyncJobs, log)
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting ingest service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		AutoMigrate:   true,
	})
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()
	log.Info("DATABASE", "Warehouse schema migrated")

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	publisher := buildPublisher(cfg.Kafka, log)
	defer publisher.Close()

	paymentStore, err := storage.NewPostgreSQLStoreWithDB(bunDB.DB, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Payment store init failed: %v", err))
	}

	adapters := map[string]adapter.Adapter{
		models.ChannelStorefront: adapter.NewStorefront(cfg.Sources.Storefront),
		models.ChannelPOS:        adapter.NewPOS(cfg.Sources.POS),
		models.ChannelBooking:    adapter.NewBooking(cfg.Sources.Booking),
	}

	wh := warehouse.NewDB(bunDB)
	audits := audit.NewStore(bunDB)
	paymentSvc := payments.NewService(paymentStore, wh, log)
	resolver := identity.NewResolver(cfg.Identity.HashKey)
	ingestSvc := ingest.NewService(adapters, resolver, wh, paymentSvc, audits, log)

	lock := backfill.NewRunLock(redisClient, cfg.Backfill.LockTTL)
	orchestrator := backfill.NewOrchestrator(adapters, ingestSvc, audits, lock, log)
	engine := reconcile.NewEngine(adapters, wh, publisher, audits, log)
	analyticsSvc := analytics.NewService(bunDB, log)

	adminAuth, err := auth.Middleware(cfg.Admin, log)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	handler := &api.Handler{
		Ingest:       ingestSvc,
		Orchestrator: orchestrator,
		Engine:       engine,
		Audits:       audits,
		Analytics:    analyticsSvc,
		Log:          log,
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(adminAuth),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ingest service listening on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Shutdown error: %v", err))
	}
	log.Info("APP", "Ingest service shutdown complete")
}
