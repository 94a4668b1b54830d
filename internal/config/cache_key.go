package config

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamRecordKey returns the cache key for an exam's read-only record
func (r *CacheKeyStruct) ExamRecordKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:record", examID)
}

// ExamQuestionsKey returns the cache key for an exam's question definitions
func (r *CacheKeyStruct) ExamQuestionsKey(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:questions", examID)
}

// EnrollmentKey returns the cache key for a student's enrolment flag on an exam
func (r *CacheKeyStruct) EnrollmentKey(examID uuid.UUID, studentID string) string {
	return fmt.Sprintf("exam:%s:enrolled:%s", examID, studentID)
}

// ProctorChannel returns the Redis PubSub channel for proctoring changes of one role in an exam
func (r *CacheKeyStruct) ProctorChannel(examID uuid.UUID, role model.Role) string {
	return fmt.Sprintf("exam:%s:proctor:%s", examID, role)
}

var CacheKey = NewCacheKeyStruct()
