package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AlertIngester stores a batch of alerts and returns the ones it could not store.
type AlertIngester interface {
	Ingest(ctx context.Context, batch []model.CheatingAlert) []model.CheatingAlert
}

// AlertWorker consumes classified cheating alerts from persist_alerts_queue
// in batches.
type AlertWorker struct {
	rdb      *redis.Client
	ingester AlertIngester
	log      zerolog.Logger
}

// NewAlertWorker creates an AlertWorker.
func NewAlertWorker(rdb *redis.Client, ingester AlertIngester, log zerolog.Logger) *AlertWorker {
	return &AlertWorker{
		rdb:      rdb,
		ingester: ingester,
		log:      log.With().Str("component", "alert_worker").Logger(),
	}
}

// Start batches alerts until ctx is cancelled, flushing on size or age.
// Call in a goroutine.
func (w *AlertWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AlertWorker started")

	buffer := make([]model.CheatingAlert, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAlertsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		alert, ok := w.decode(result[1])
		if !ok {
			continue
		}
		buffer = append(buffer, alert)
	}
}

// decode parses a queued alert. Malformed items cannot be retried and are dropped.
func (w *AlertWorker) decode(raw string) (model.CheatingAlert, bool) {
	var a model.CheatingAlert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed alert")
		return a, false
	}
	if a.StudentID == "" || a.Type == "" {
		w.log.Error().Str("data", raw).Msg("Discarding alert without student or type")
		return a, false
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}
	return a, true
}

func (w *AlertWorker) flush(ctx context.Context, batch []model.CheatingAlert) {
	if failed := w.ingester.Ingest(ctx, batch); len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *AlertWorker) requeue(ctx context.Context, items []model.CheatingAlert) {
	pipe := w.rdb.Pipeline()
	for _, a := range items {
		data, _ := json.Marshal(a)
		pipe.RPush(ctx, config.WorkerKey.PersistAlertsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue alerts. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed alerts")
	time.Sleep(2 * time.Second)
}

func (w *AlertWorker) shutdown(buffer []model.CheatingAlert) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flush(shutdownCtx, buffer)
	}
}
