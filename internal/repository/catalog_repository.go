package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CatalogRepository reads the exam, enrolment, join-request and question
// tables owned by other services. It never writes to them.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetExam retrieves an exam by ID.
func (r *CatalogRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, invigilator_id, start_time, end_time, duration_minutes, total_marks, status
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.InvigilatorID, &e.StartTime, &e.EndTime, &e.DurationMinutes, &e.TotalMarks, &e.Status)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// IsEnrolled reports whether the student belongs to a batch assigned to the exam.
func (r *CatalogRepository) IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM exam_batches eb
			JOIN batch_students bs ON bs.batch_id = eb.batch_id
			WHERE eb.exam_id = $1 AND bs.student_id = $2
		 )`, examID, studentID,
	).Scan(&ok)
	return ok, err
}

// LatestJoinRequest returns the student's most recent join request for the
// exam. Returns pgx.ErrNoRows if they never asked.
func (r *CatalogRepository) LatestJoinRequest(ctx context.Context, examID uuid.UUID, studentID string) (*model.JoinRequest, error) {
	jr := &model.JoinRequest{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, student_id, status, requested_at
		 FROM join_requests
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY requested_at DESC
		 LIMIT 1`, examID, studentID,
	).Scan(&jr.ID, &jr.ExamID, &jr.StudentID, &jr.Status, &jr.RequestedAt)
	if err != nil {
		return nil, err
	}
	return jr, nil
}

// ListQuestions returns the exam's question definitions in display order.
func (r *CatalogRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.QuestionDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT definition
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY position ASC, question_id ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[model.QuestionDefinition])
}
