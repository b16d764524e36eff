// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server and the
// background sweep worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mpokorn/EventGo-backend/internal/database"
	"github.com/mpokorn/EventGo-backend/internal/handler"
	"github.com/mpokorn/EventGo-backend/internal/notify"
	"github.com/mpokorn/EventGo-backend/internal/repository"
	"github.com/mpokorn/EventGo-backend/internal/service"
	"github.com/mpokorn/EventGo-backend/internal/worker"
)

func main() {
	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// ── 1. Connect to PostgreSQL ──────────────────────────────────────────
	pool, err := database.NewPool(ctx, logger)
	if err != nil {
		logger.WithError(err).Fatal("database")
	}
	defer pool.Close()
	if err := database.ApplySchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("schema")
	}
	logger.Info("connected to postgres")

	// ── 2. Wire up layers ────────────────────────────────────────────────
	store := repository.NewPostgresStore(pool, logger)

	var notifier service.Notifier = service.NoopNotifier{}
	redisAddr := getEnv("REDIS_ADDR", "")
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		notifier = notify.NewRedisNotifier(rdb, logger)
	}

	engine := service.NewOfferEngine(store, logger, notifier)
	waitlistSvc := service.NewWaitlistService(store, logger, engine)
	refundSvc := service.NewRefundService(store, logger, engine)
	acceptSvc := service.NewAcceptanceService(store, logger, engine, notifier)
	sweeper := service.NewSweeper(store, logger, engine, notifier)
	ledger := service.NewLedger(store, logger)

	h := handler.NewWaitlistHandler(waitlistSvc, refundSvc, acceptSvc, sweeper, ledger, logger)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(logger))  // structured access log
	r.Use(handler.CORS)            // permissive CORS for demo

	// Health
	r.Get("/health", handler.HealthCheck)

	// API routes behind the upstream-identity check
	r.Group(func(r chi.Router) {
		r.Use(handler.Identity)
		h.Routes(r)
	})

	// Ops endpoints for the scheduler and operators, no user identity
	h.InternalRoutes(r)

	// ── 4. Start the background sweep worker ─────────────────────────────
	var bg *worker.Worker
	if redisAddr != "" {
		bg, err = worker.New(
			asynq.RedisClientOpt{Addr: redisAddr},
			sweeper,
			logger,
			getEnv("SWEEP_CRON", worker.DefaultSweepCron),
		)
		if err != nil {
			logger.WithError(err).Fatal("worker setup")
		}
		if err := bg.Start(); err != nil {
			logger.WithError(err).Fatal("worker start")
		}
		logger.Info("expiration sweep scheduled")
	} else {
		logger.Warn("REDIS_ADDR not set; expiration sweep only runs via POST /internal/sweep")
	}

	// ── 5. Start server with graceful shutdown ────────────────────────────
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		logger.Infof("server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if bg != nil {
		bg.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("graceful shutdown failed")
	}
	logger.Info("server stopped")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
