package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctoringRepository handles proctoring session and signal data access.
type ProctoringRepository struct {
	pool *pgxpool.Pool
}

// NewProctoringRepository creates a new ProctoringRepository.
func NewProctoringRepository(pool *pgxpool.Pool) *ProctoringRepository {
	return &ProctoringRepository{pool: pool}
}

// ReplaceSession retires every prior session of (exam, student), purging the
// signals scoped to their connections, and inserts s in the same transaction.
// Concurrent callers for the same pair are serialized on an advisory lock.
// It returns the connection IDs that were retired.
func (r *ProctoringRepository) ReplaceSession(ctx context.Context, s *model.ProctoringSession) ([]string, error) {
	var retired []string

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		lockKey := s.ExamID.String() + ":" + s.StudentID
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
			return fmt.Errorf("lock session pair: %w", err)
		}

		var err error
		retired, err = deleteSessionsTx(ctx, tx,
			`DELETE FROM proctoring_sessions
			 WHERE exam_id = $1 AND student_id = $2
			 RETURNING connection_id`, s.ExamID, s.StudentID)
		if err != nil {
			return err
		}
		if err := deleteSignalsTx(ctx, tx, s.ExamID, s.StudentID, retired); err != nil {
			return err
		}

		return tx.QueryRow(ctx,
			`INSERT INTO proctoring_sessions (id, exam_id, student_id, connection_id, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			s.ID, s.ExamID, s.StudentID, s.ConnectionID, s.Status,
		).Scan(&s.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return retired, nil
}

// GetSession retrieves a session by ID. Returns pgx.ErrNoRows if it is gone.
func (r *ProctoringRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ProctoringSession, error) {
	s := &model.ProctoringSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, connection_id, status, created_at
		 FROM proctoring_sessions
		 WHERE id = $1`, id,
	).Scan(&s.ID, &s.ExamID, &s.StudentID, &s.ConnectionID, &s.Status, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSession removes a session and its signals. Deleting a session that no
// longer exists is not an error; deleted reports whether a row was removed.
func (r *ProctoringRepository) DeleteSession(ctx context.Context, s *model.ProctoringSession) (deleted bool, err error) {
	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// The session row goes first so a concurrent InsertSignal holding a
		// share lock on it finishes before its signals are swept.
		conns, err := deleteSessionsTx(ctx, tx,
			`DELETE FROM proctoring_sessions
			 WHERE id = $1
			 RETURNING connection_id`, s.ID)
		if err != nil {
			return err
		}
		deleted = len(conns) > 0
		return deleteSignalsTx(ctx, tx, s.ExamID, s.StudentID, conns)
	})
	return deleted, err
}

// ListActiveSessions returns all active sessions for an exam.
func (r *ProctoringRepository) ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, connection_id, status, created_at
		 FROM proctoring_sessions
		 WHERE exam_id = $1 AND status = $2
		 ORDER BY created_at ASC`, examID, model.SessionStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]model.ProctoringSession, 0)
	for rows.Next() {
		var s model.ProctoringSession
		if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.ConnectionID, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// InsertSignal appends a signal only while the student's session for the
// signal's connection is still live. The session row is share-locked for the
// duration of the insert, so a concurrent ReplaceSession either sees and
// reaps the new signal or makes this insert find no session.
// Returns pgx.ErrNoRows when the connection has been superseded or ended.
func (r *ProctoringRepository) InsertSignal(ctx context.Context, sig *model.ProctoringSignal, studentID string) error {
	err := r.pool.QueryRow(ctx,
		`WITH live AS (
			SELECT id FROM proctoring_sessions
			WHERE exam_id = $1 AND student_id = $2 AND connection_id = $3 AND status = 'active'
			FOR SHARE
		 )
		 INSERT INTO proctoring_signals (exam_id, sender_id, recipient_id, connection_id, type, data)
		 SELECT $1, $4, $5, $3, $6, $7 FROM live
		 RETURNING id, created_at`,
		sig.ExamID, studentID, sig.ConnectionID, sig.SenderID, sig.RecipientID, sig.Type, sig.Data,
	).Scan(&sig.ID, &sig.CreatedAt)
	if err != nil {
		return err
	}
	return nil
}

// ListSignalsFor returns every signal addressed to recipientID in the exam,
// in insertion order. Nothing is marked as read.
func (r *ProctoringRepository) ListSignalsFor(ctx context.Context, examID uuid.UUID, recipientID string) ([]model.ProctoringSignal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, sender_id, recipient_id, connection_id, type, data, created_at
		 FROM proctoring_signals
		 WHERE exam_id = $1 AND recipient_id = $2
		 ORDER BY id ASC`, examID, recipientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signals := make([]model.ProctoringSignal, 0)
	for rows.Next() {
		var sig model.ProctoringSignal
		if err := rows.Scan(
			&sig.ID, &sig.ExamID, &sig.SenderID, &sig.RecipientID,
			&sig.ConnectionID, &sig.Type, &sig.Data, &sig.CreatedAt,
		); err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ─── tx helpers ─────────────────────────────────────────────────────────

func deleteSessionsTx(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete sessions: %w", err)
	}
	conns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect retired connections: %w", err)
	}
	return conns, nil
}

// deleteSignalsTx purges signals scoped to the given connections of one student,
// in either direction.
func deleteSignalsTx(ctx context.Context, tx pgx.Tx, examID uuid.UUID, studentID string, conns []string) error {
	if len(conns) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`DELETE FROM proctoring_signals
		 WHERE exam_id = $1
		   AND connection_id = ANY($2::text[])
		   AND (sender_id = $3 OR recipient_id = $3)`,
		examID, conns, studentID,
	)
	if err != nil {
		return fmt.Errorf("delete signals: %w", err)
	}
	return nil
}
