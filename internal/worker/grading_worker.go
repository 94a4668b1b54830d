package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	GradePollTimeout = 1 * time.Second // Must be >= 1s to satisfy Redis
	GradeRetryDelay  = 5 * time.Second
	// UngradedSweepLimit caps how many lost submissions are requeued at start.
	UngradedSweepLimit = 1000
)

// Grader is the part of the grading service the worker drives.
type Grader interface {
	GradeSubmission(ctx context.Context, job model.GradingJob) (*model.ExamResult, error)
	EnqueueUngraded(ctx context.Context, queue service.GradingQueue, limit int) (int, error)
}

// GradingWorker consumes persist_grading_queue and writes exam results.
type GradingWorker struct {
	rdb     *redis.Client
	grader  Grader
	queue   service.GradingQueue
	log     zerolog.Logger
	requeue func(ctx context.Context, raw string) error
	pause   time.Duration
}

// NewGradingWorker creates a GradingWorker.
func NewGradingWorker(rdb *redis.Client, grader Grader, log zerolog.Logger) *GradingWorker {
	w := &GradingWorker{
		rdb:    rdb,
		grader: grader,
		queue:  NewRedisQueue(rdb),
		log:    log.With().Str("component", "grading_worker").Logger(),
		pause:  GradeRetryDelay,
	}
	w.requeue = func(ctx context.Context, raw string) error {
		return w.rdb.RPush(ctx, config.WorkerKey.GradingQueue, raw).Err()
	}
	return w
}

// Start requeues submissions that have no result, then grades queued jobs
// until ctx is cancelled. Call in a goroutine.
func (w *GradingWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GradingWorker started")

	if n, err := w.grader.EnqueueUngraded(ctx, w.queue, UngradedSweepLimit); err != nil {
		w.log.Error().Err(err).Int("queued", n).Msg("Ungraded sweep failed")
	} else if n > 0 {
		w.log.Info().Int("queued", n).Msg("Requeued ungraded submissions")
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("GradingWorker stopped")
			return
		default:
		}

		item, err := w.rdb.BLPop(ctx, GradePollTimeout, config.WorkerKey.GradingQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				w.log.Error().Err(err).Msg("BLPop error, sleeping 3s")
				time.Sleep(3 * time.Second)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}
		w.process(ctx, item[1])
	}
}

// process grades one queued job. Jobs that can never succeed are dropped;
// anything else goes back on the queue.
func (w *GradingWorker) process(ctx context.Context, raw string) {
	var job model.GradingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Malformed JSON cannot be retried.
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed job")
		metrics.GradingRuns.WithLabelValues("rejected").Inc()
		return
	}
	log := w.log.With().Str("exam_id", job.ExamID).Str("student_id", job.StudentID).Logger()

	_, err := w.grader.GradeSubmission(ctx, job)
	switch {
	case err == nil:
		metrics.GradingRuns.WithLabelValues("graded").Inc()
	case permanent(err):
		metrics.GradingRuns.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Msg("Grading rejected, dropping job")
	default:
		metrics.GradingRuns.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Dur("retry_in", w.pause).Msg("Grading failed, requeueing")
		if rqErr := w.requeue(context.Background(), raw); rqErr != nil {
			log.Error().Err(rqErr).Msg("CRITICAL: Failed to requeue grading job")
		}
		// Avoid thrashing while the database is down.
		select {
		case <-ctx.Done():
		case <-time.After(w.pause):
		}
	}
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	return errors.Is(err, service.ErrInvalidInput) ||
		errors.Is(err, service.ErrNotFound) ||
		errors.Is(err, service.ErrStateConflict)
}
