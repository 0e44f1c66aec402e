package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"smartlocker/internal/audit"
	"smartlocker/internal/config"
	"smartlocker/internal/logger"
	"smartlocker/internal/queue"
	"smartlocker/internal/store"
)

const version = "0.3.0"

// Worker consumes booking events from the broker and stores them in the audit table.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewWithServiceContext("locker-worker", version, cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == queue.BackendMemory {
		log.Error("the worker needs a shared broker; set QUEUE_BACKEND to redis, amqp or nats")
		os.Exit(1)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := audit.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Error("audit migration failed", "error", err)
		os.Exit(1)
	}

	q, err := queue.Open(queue.Options{
		Backend:   cfg.QueueBackend,
		Name:      cfg.QueueName,
		RedisAddr: cfg.RedisAddr,
		AMQPURL:   cfg.AMQPURL,
		NATSURL:   cfg.NATSURL,
	})
	if err != nil {
		log.Error("queue connect failed", "backend", cfg.QueueBackend, "error", err)
		os.Exit(1)
	}
	defer q.Close()

	log.Info("worker started, waiting for events", "backend", q.Backend)
	if err := audit.NewSink(repo, log).Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", "error", err)
		return
	}
	log.Info("worker stopped")
}
