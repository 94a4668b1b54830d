package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var alertColumns = []string{"exam_id", "student_id", "type", "severity", "confidence", "description", "resolved", "detected_at"}

// AlertRepository stores classified cheating alerts.
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

// InsertBatch bulk-loads alerts with COPY.
func (r *AlertRepository) InsertBatch(ctx context.Context, alerts []model.CheatingAlert) error {
	rows := make([][]any, 0, len(alerts))
	for _, a := range alerts {
		rows = append(rows, []any{
			a.ExamID, a.StudentID, a.Type, a.Severity, a.Confidence, a.Description, a.Resolved, a.DetectedAt,
		})
	}

	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"cheating_alerts"}, alertColumns, pgx.CopyFromRows(rows))
	return err
}

// Insert stores a single alert. Used when a bulk load fails and rows are
// retried one by one.
func (r *AlertRepository) Insert(ctx context.Context, a *model.CheatingAlert) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO cheating_alerts (exam_id, student_id, type, severity, confidence, description, resolved, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		a.ExamID, a.StudentID, a.Type, a.Severity, a.Confidence, a.Description, a.Resolved, a.DetectedAt,
	).Scan(&a.ID)
}

// CountUnresolved counts a student's open alerts for an exam.
func (r *AlertRepository) CountUnresolved(ctx context.Context, examID uuid.UUID, studentID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cheating_alerts
		 WHERE exam_id = $1 AND student_id = $2 AND NOT resolved`, examID, studentID,
	).Scan(&n)
	return n, err
}

// ListByExam returns a page of alerts for an exam, newest first, and the total.
func (r *AlertRepository) ListByExam(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.CheatingAlert, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cheating_alerts WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, student_id, type, severity, confidence, description, resolved, detected_at
		 FROM cheating_alerts
		 WHERE exam_id = $1
		 ORDER BY detected_at DESC, id DESC
		 LIMIT $2 OFFSET $3`, examID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts := make([]model.CheatingAlert, 0)
	for rows.Next() {
		var a model.CheatingAlert
		if err := rows.Scan(
			&a.ID, &a.ExamID, &a.StudentID, &a.Type, &a.Severity,
			&a.Confidence, &a.Description, &a.Resolved, &a.DetectedAt,
		); err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}
