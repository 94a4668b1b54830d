package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/pubsub"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to the event bus ──────────────────────────────────────
	events, err := event.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to AMQP")
	}
	defer events.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	proctoringRepo := repository.NewProctoringRepository(pool)
	sheetRepo := repository.NewAnswerSheetRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	alertRepo := repository.NewAlertRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	notifier := pubsub.NewRedisNotifier(rdb, log)
	queue := worker.NewRedisQueue(rdb)
	directory := service.NewExamDirectory(catalogRepo, rdb, cfg.ExamCacheTTL, log)

	authService := service.NewAuthService(cfg)
	sessionRegistry := service.NewSessionRegistry(proctoringRepo, directory, notifier, log)
	signalRelay := service.NewSignalRelay(proctoringRepo, directory, notifier, log)
	attemptService := service.NewAttemptService(sheetRepo, directory, queue, notifier, events, log)
	gradingService := service.NewGradingService(sheetRepo, resultRepo, directory, grading.NewEngine(), events, log)
	alertService := service.NewAlertService(alertRepo, attemptService, directory, notifier, cfg.ViolationThreshold, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Proctoring: handler.NewProctoringHandler(sessionRegistry, signalRelay),
		Attempt:    handler.NewAttemptHandler(attemptService, gradingService),
		Alert:      handler.NewAlertHandler(alertService),
		WS:         handler.NewWSHandler(directory, notifier, attemptService, log, cfg.AllowedOrigins),
		Monitor:    handler.NewMonitorHandler(directory, sessionRegistry, alertService, notifier, log),
		System:     handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	gradingWorker := worker.NewGradingWorker(rdb, gradingService, log)
	alertWorker := worker.NewAlertWorker(rdb, alertService, log)

	workers.Go(func() { gradingWorker.Start(workerCtx) })
	workers.Go(func() { alertWorker.Start(workerCtx) })

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout). Shutdown does not
	// track hijacked WebSocket connections; cancelling ctx ends them.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	cancel()

	// 2. Stop background workers and wait for their final flushes.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
