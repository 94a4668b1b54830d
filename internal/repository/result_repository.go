package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ResultRepository handles exam result data access.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Upsert writes a complete result in one statement. A retried grading run
// overwrites the previous row instead of adding to it.
func (r *ResultRepository) Upsert(ctx context.Context, res *model.ExamResult) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_results (exam_id, student_id, score, total_marks, submitted_at, graded_answers, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW())
		 ON CONFLICT (exam_id, student_id) DO UPDATE
		 SET score = EXCLUDED.score,
		     total_marks = EXCLUDED.total_marks,
		     submitted_at = EXCLUDED.submitted_at,
		     graded_answers = EXCLUDED.graded_answers,
		     graded_at = EXCLUDED.graded_at`,
		res.ExamID, res.StudentID, res.Score, res.TotalMarks, res.SubmittedAt, res.GradedAnswers,
	)
	return err
}

// Get retrieves the result for (exam, student).
func (r *ResultRepository) Get(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, student_id, score, total_marks, submitted_at, graded_answers
		 FROM exam_results
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID,
	).Scan(&res.ExamID, &res.StudentID, &res.Score, &res.TotalMarks, &res.SubmittedAt, &res.GradedAnswers)
	if err != nil {
		return nil, err
	}
	return res, nil
}
