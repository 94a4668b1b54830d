package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const answerSheetColumns = `student_id, exam_id, exam_start_time, answers, status, submitted_at, updated_at`

// AnswerSheetRepository handles answer sheet data access. Every mutation is a
// single guarded statement; callers learn about a failed guard through
// pgx.ErrNoRows and re-read the row to classify it.
type AnswerSheetRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerSheetRepository creates a new AnswerSheetRepository.
func NewAnswerSheetRepository(pool *pgxpool.Pool) *AnswerSheetRepository {
	return &AnswerSheetRepository{pool: pool}
}

func scanAnswerSheet(row pgx.Row) (*model.AnswerSheet, error) {
	s := &model.AnswerSheet{}
	if err := row.Scan(
		&s.StudentID, &s.ExamID, &s.ExamStartTime, &s.Answers,
		&s.Status, &s.SubmittedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if s.Answers == nil {
		s.Answers = model.Answers{}
	}
	return s, nil
}

// Get retrieves the answer sheet for (exam, student).
func (r *AnswerSheetRepository) Get(ctx context.Context, examID uuid.UUID, studentID string) (*model.AnswerSheet, error) {
	return scanAnswerSheet(r.pool.QueryRow(ctx,
		`SELECT `+answerSheetColumns+`
		 FROM answer_sheets
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	))
}

// Start records the attempt start. The first writer's start time wins; later
// calls return the stored row unchanged, including a submitted one.
func (r *AnswerSheetRepository) Start(ctx context.Context, examID uuid.UUID, studentID string, at time.Time) (*model.AnswerSheet, error) {
	return scanAnswerSheet(r.pool.QueryRow(ctx,
		`INSERT INTO answer_sheets (exam_id, student_id, exam_start_time, status, updated_at)
		 VALUES ($1, $2, $3, 'in_progress', $3)
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET exam_start_time = COALESCE(answer_sheets.exam_start_time, EXCLUDED.exam_start_time),
		     status = CASE WHEN answer_sheets.status = 'not_started' THEN 'in_progress' ELSE answer_sheets.status END,
		     updated_at = CASE WHEN answer_sheets.exam_start_time IS NULL THEN EXCLUDED.updated_at ELSE answer_sheets.updated_at END
		 RETURNING `+answerSheetColumns,
		examID, studentID, at,
	))
}

// MergeAnswers unions patch into the stored answers of an in-progress sheet.
// Keys in patch overwrite, absent keys are untouched.
func (r *AnswerSheetRepository) MergeAnswers(ctx context.Context, examID uuid.UUID, studentID string, patch model.Answers) (*model.AnswerSheet, error) {
	return scanAnswerSheet(r.pool.QueryRow(ctx,
		`UPDATE answer_sheets
		 SET answers = answers || $3::jsonb, updated_at = NOW()
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'in_progress'
		 RETURNING `+answerSheetColumns,
		examID, studentID, patch,
	))
}

// Submit merges the final answers and moves an in-progress sheet to submitted.
// Only the first caller to observe an unsubmitted row gets it back.
func (r *AnswerSheetRepository) Submit(ctx context.Context, examID uuid.UUID, studentID string, final model.Answers, at time.Time) (*model.AnswerSheet, error) {
	if final == nil {
		final = model.Answers{}
	}
	return scanAnswerSheet(r.pool.QueryRow(ctx,
		`UPDATE answer_sheets
		 SET answers = answers || $3::jsonb,
		     status = 'submitted',
		     submitted_at = $4,
		     updated_at = $4
		 WHERE exam_id = $1 AND student_id = $2 AND status = 'in_progress'
		 RETURNING `+answerSheetColumns,
		examID, studentID, final, at,
	))
}

// ListUngraded returns submitted sheets that have no result yet, oldest first.
func (r *AnswerSheetRepository) ListUngraded(ctx context.Context, limit int) ([]model.GradingJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.student_id, a.exam_id::text, a.submitted_at
		 FROM answer_sheets a
		 LEFT JOIN exam_results r ON r.exam_id = a.exam_id AND r.student_id = a.student_id
		 WHERE a.status = 'submitted' AND r.exam_id IS NULL
		 ORDER BY a.submitted_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]model.GradingJob, 0)
	for rows.Next() {
		var j model.GradingJob
		if err := rows.Scan(&j.StudentID, &j.ExamID, &j.SubmittedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
