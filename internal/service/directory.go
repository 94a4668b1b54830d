package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamDirectory answers read-only questions about exams owned by other
// services and resolves which role a caller plays in an exam.
// When a Redis client is given, exam records, enrolment and question
// definitions are cached for ttl. Join-request status is never cached so an
// approval is seen on the next read.
type ExamDirectory struct {
	catalog CatalogStore
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

// NewExamDirectory creates an ExamDirectory. rdb may be nil.
func NewExamDirectory(catalog CatalogStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamDirectory {
	return &ExamDirectory{
		catalog: catalog,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "exam_directory").Logger(),
	}
}

// Exam returns the exam record.
func (d *ExamDirectory) Exam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	var exam model.Exam
	if d.cacheGet(ctx, config.CacheKey.ExamRecordKey(examID), &exam) {
		return &exam, nil
	}

	e, err := d.catalog.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	d.cacheSet(ctx, config.CacheKey.ExamRecordKey(examID), e)
	return e, nil
}

// Questions returns the exam's question definitions.
func (d *ExamDirectory) Questions(ctx context.Context, examID uuid.UUID) ([]model.QuestionDefinition, error) {
	var questions []model.QuestionDefinition
	if d.cacheGet(ctx, config.CacheKey.ExamQuestionsKey(examID), &questions) {
		return questions, nil
	}

	questions, err := d.catalog.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	d.cacheSet(ctx, config.CacheKey.ExamQuestionsKey(examID), questions)
	return questions, nil
}

// IsEnrolled reports whether the student belongs to a batch assigned to the exam.
func (d *ExamDirectory) IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error) {
	var enrolled bool
	if d.cacheGet(ctx, config.CacheKey.EnrollmentKey(examID, studentID), &enrolled) {
		return enrolled, nil
	}

	enrolled, err := d.catalog.IsEnrolled(ctx, examID, studentID)
	if err != nil {
		return false, fmt.Errorf("check enrolment: %w", err)
	}
	d.cacheSet(ctx, config.CacheKey.EnrollmentKey(examID, studentID), enrolled)
	return enrolled, nil
}

// JoinStatus returns the status of the student's latest join request, or nil
// if they have not asked to join.
func (d *ExamDirectory) JoinStatus(ctx context.Context, examID uuid.UUID, studentID string) (*model.JoinRequestStatus, error) {
	jr, err := d.catalog.LatestJoinRequest(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get join request: %w", err)
	}
	return &jr.Status, nil
}

// RoleOf resolves the role caller plays in exam: the exam's designated
// invigilator, or an enrolled student. Anything else is ErrNotParticipant.
func (d *ExamDirectory) RoleOf(ctx context.Context, caller model.Caller, exam *model.Exam) (model.Role, error) {
	switch {
	case caller.IsInvigilator():
		if caller.UserID != "" && caller.UserID == exam.InvigilatorID {
			return model.RoleInvigilator, nil
		}
	case caller.IsStudent():
		enrolled, err := d.IsEnrolled(ctx, exam.ID, caller.UserID)
		if err != nil {
			return "", err
		}
		if enrolled {
			return model.RoleStudent, nil
		}
	}
	return "", ErrNotParticipant
}

// Participant loads the exam and checks the caller plays the required role in it.
func (d *ExamDirectory) Participant(ctx context.Context, caller model.Caller, examID uuid.UUID, required model.Role) (*model.Exam, error) {
	exam, err := d.Exam(ctx, examID)
	if err != nil {
		return nil, err
	}
	role, err := d.RoleOf(ctx, caller, exam)
	if err != nil {
		return nil, err
	}
	if required != "" && role != required {
		if required == model.RoleInvigilator {
			return nil, ErrInvigilatorOnly
		}
		return nil, ErrStudentOnly
	}
	return exam, nil
}

// cacheGet decodes a cached value into dst. Cache failures are treated as misses.
func (d *ExamDirectory) cacheGet(ctx context.Context, key string, dst any) bool {
	if d.rdb == nil {
		return false
	}
	data, err := d.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return false
	}
	return true
}

func (d *ExamDirectory) cacheSet(ctx context.Context, key string, v any) {
	if d.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.rdb.Set(ctx, key, data, d.ttl).Err(); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
