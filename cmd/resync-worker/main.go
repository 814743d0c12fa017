package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/backfill"
	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/identity"
	"ms-commerce-sync/internal/ingest"
	"ms-commerce-sync/internal/kafka"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/payments"
	"ms-commerce-sync/internal/payments/storage"
	"ms-commerce-sync/internal/utils"
	"ms-commerce-sync/internal/warehouse"
)

// The resync worker drains the resync-jobs topic: each job re-backfills one
// source day, which the mismatch detector published after finding drift.
func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting resync worker initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

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
	ingestSvc := ingest.NewService(adapters, identity.NewResolver(cfg.Identity.HashKey), wh, paymentSvc, audits, log)

	lock := backfill.NewRunLock(redisClient, cfg.Backfill.LockTTL)
	orchestrator := backfill.NewOrchestrator(adapters, ingestSvc, audits, lock, log)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ResyncJobs, cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.Info("KAFKA", fmt.Sprintf("Consuming resync jobs from %s", cfg.Kafka.Topics.ResyncJobs))
	err = consumer.Start(ctx, func(ctx context.Context, job models.ResyncJob) error {
		day, err := utils.ParseDate(job.Date)
		if err != nil {
			return fmt.Errorf("job %s has bad date %q: %w", job.ID, job.Date, err)
		}

		log.LogBackfill(job.Source, fmt.Sprintf("resync job %s for %s (%s)", job.ID, job.Date, job.Reason))
		result, err := orchestrator.RunDay(ctx, job.Source, day)
		if err != nil {
			return fmt.Errorf("resync %s/%s: %w", job.Source, job.Date, err)
		}

		log.LogBackfill(job.Source, fmt.Sprintf("resync job %s done: %d processed, %d failed",
			job.ID, result.Processed, result.Failed))

		// Late-settling fees: re-apply any payments in the window onto their
		// orders after the facts are refreshed.
		if job.Source == models.ChannelPOS {
			window := utils.DayWindow(day)
			if _, err := paymentSvc.ReapplyWindow(ctx, job.Source, window.Start, window.End); err != nil {
				log.Error("PAYMENTS", fmt.Sprintf("reapply window %s: %v", job.Date, err))
			}
		}
		return nil
	})
	if err != nil {
		log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}

	// Give in-flight commits a moment before the deferred closes run.
	time.Sleep(200 * time.Millisecond)
	log.Info("APP", "Resync worker shutdown complete")
}
