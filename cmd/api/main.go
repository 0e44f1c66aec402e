package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartlocker/internal/api"
	"smartlocker/internal/audit"
	"smartlocker/internal/booking"
	"smartlocker/internal/config"
	"smartlocker/internal/faceclient"
	"smartlocker/internal/logger"
	"smartlocker/internal/metrics"
	"smartlocker/internal/queue"
	"smartlocker/internal/receipt"
	"smartlocker/internal/store"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithServiceContext("locker-api", version, cfg.Env)
	slog.SetDefault(log)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	checks := map[string]api.HealthCheck{}

	var repo *audit.Repository
	db, err := store.NewDB(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Warn("audit db not reachable, audit history disabled", "driver", cfg.DatabaseDriver, "error", err)
	} else {
		repo = audit.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			log.Warn("audit migration failed", "error", err)
			repo = nil
		}
		checks["db"] = db.Healthy
	}
	defer func() { _ = db.Close() }()

	q, err := queue.Open(queue.Options{
		Backend:   cfg.QueueBackend,
		Name:      cfg.QueueName,
		RedisAddr: cfg.RedisAddr,
		AMQPURL:   cfg.AMQPURL,
		NATSURL:   cfg.NATSURL,
	})
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()
	checks["queue"] = q.Healthy

	// the in-memory queue has no out-of-process consumer
	if q.Backend == queue.BackendMemory {
		go drainInProcess(ctx, q, repo, log)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceDelay)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn("face service not available", "url", cfg.FaceServiceURL, "error", err)
		}
		checks["face"] = func(ctx context.Context) bool { return face.Health(ctx) == nil }
	}

	issuer, err := receipt.NewIssuer(cfg.ReceiptIssuer, cfg.ReceiptKey)
	if err != nil {
		return err
	}

	svc := booking.NewService(face, booking.Options{
		LockerCount:      cfg.LockerCount,
		MaxDurationHours: cfg.MaxDurationHours,
		WarnBefore:       cfg.WarnBefore,
		Events:           q,
		Receipts:         issuer,
		Metrics:          m,
		Logger:           log,
	})
	go svc.RunExpirySweeper(ctx, cfg.SweepInterval)

	handler := api.NewHandler(svc, repo, log, checks)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", "port", cfg.HTTPPort, "queue", q.Backend, "face_simulated", cfg.FaceSkip)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced shutdown", "error", err)
	}
	log.Info("server exited")
	return nil
}

func drainInProcess(ctx context.Context, q queue.Queue, repo *audit.Repository, log *slog.Logger) {
	if repo != nil {
		if err := audit.NewSink(repo, log).Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit sink stopped", "error", err)
		}
		return
	}
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Error("queue consume init failed", "error", err)
		return
	}
	for msg := range messages {
		log.Debug("audit event", "type", msg.Type, "body", string(msg.Body))
	}
}
