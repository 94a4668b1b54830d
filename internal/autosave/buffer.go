// Package autosave accumulates answer edits locally and flushes them as a
// single merge-patch.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultInterval is the reference flush period.
const DefaultInterval = 30 * time.Second

// finalFlushTimeout bounds the flush issued when Run stops.
const finalFlushTimeout = 5 * time.Second

// Saver persists a merge-patch of answers for one exam.
type Saver interface {
	SaveAnswers(ctx context.Context, examID uuid.UUID, patch model.Answers) (*model.AnswerSheet, error)
}

// Buffer holds answers edited since the last successful flush.
type Buffer struct {
	examID uuid.UUID
	saver  Saver
	log    zerolog.Logger

	mu      sync.Mutex
	pending model.Answers

	// flushMu keeps at most one patch in flight so patches reach the server
	// in edit order.
	flushMu sync.Mutex
}

// New creates a Buffer for examID.
func New(examID uuid.UUID, saver Saver, log zerolog.Logger) *Buffer {
	return &Buffer{
		examID:  examID,
		saver:   saver,
		log:     log.With().Str("component", "autosave").Str("exam_id", examID.String()).Logger(),
		pending: model.Answers{},
	}
}

// Put records an edit. A later edit to the same question replaces the earlier one.
func (b *Buffer) Put(questionID string, v model.AnswerValue) {
	b.mu.Lock()
	b.pending[questionID] = v
	b.mu.Unlock()
}

// Pending returns the number of unsaved questions.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush sends the accumulated edits as one patch and clears them. On failure
// the patch is merged back under any edits made while it was in flight.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	patch := b.pending
	b.pending = model.Answers{}
	b.mu.Unlock()

	if _, err := b.saver.SaveAnswers(ctx, b.examID, patch); err != nil {
		b.mu.Lock()
		for qID, v := range patch {
			if _, newer := b.pending[qID]; !newer {
				b.pending[qID] = v
			}
		}
		b.mu.Unlock()
		return err
	}

	b.log.Debug().Int("count", len(patch)).Msg("Answers flushed")
	return nil
}

// Drain removes and returns everything pending, for use as the final answers
// of a submit.
func (b *Buffer) Drain() model.Answers {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = model.Answers{}
	return out
}

// Run flushes every interval until ctx is cancelled, then makes one last
// attempt with a fresh context. Call in a goroutine.
func (b *Buffer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			if err := b.Flush(flushCtx); err != nil {
				b.log.Error().Err(err).Int("pending", b.Pending()).Msg("Final flush failed")
			}
			cancel()
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.log.Warn().Err(err).Int("pending", b.Pending()).Msg("Flush failed, will retry")
			}
		}
	}
}
