package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// seed-exam creates one ongoing exam with enrolled, approved students and
// prints a token for every participant so a local deployment can be driven
// end to end.
func main() {
	students := flag.Int("students", 5, "Number of students to enrol")
	duration := flag.Int("duration", 60, "Exam duration in minutes")
	tokenTTL := flag.Duration("token-ttl", 4*time.Hour, "Lifetime of the printed tokens")
	alert := flag.Bool("alert", false, "Queue one sample cheating alert for the first student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examID := uuid.New()
	invigilatorID := "inv-" + examID.String()[:8]
	batchID := "batch-" + examID.String()[:8]
	studentIDs := make([]string, *students)
	for i := range studentIDs {
		studentIDs[i] = fmt.Sprintf("stu-%s-%02d", examID.String()[:8], i+1)
	}

	fmt.Printf("=== Seeding exam %s ===\n", examID)

	now := time.Now().UTC()
	err = database.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exams (id, title, invigilator_id, start_time, end_time, duration_minutes, total_marks, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			examID, "Seeded exam", invigilatorID,
			now.Add(-5*time.Minute), now.Add(time.Duration(*duration)*time.Minute+time.Hour),
			*duration, 10.0, model.ExamStatusOngoing,
		); err != nil {
			return fmt.Errorf("insert exam: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO exam_batches (exam_id, batch_id) VALUES ($1, $2)`, examID, batchID,
		); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		rows := make([][]any, 0, len(studentIDs))
		for _, id := range studentIDs {
			rows = append(rows, []any{batchID, id})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"batch_students"},
			[]string{"batch_id", "student_id"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy batch students: %w", err)
		}

		batch := &pgx.Batch{}
		for _, id := range studentIDs {
			batch.Queue(
				`INSERT INTO join_requests (id, exam_id, student_id, status) VALUES ($1, $2, $3, $4)`,
				uuid.New(), examID, id, model.JoinRequestApproved,
			)
		}
		for i, q := range sampleQuestions() {
			batch.Queue(
				`INSERT INTO exam_questions (exam_id, question_id, position, definition) VALUES ($1, $2, $3, $4)`,
				examID, q.ID, i, q,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	auth := service.NewAuthService(cfg)
	printToken := func(caller model.Caller) {
		token, err := auth.IssueToken(caller, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Str("user_id", caller.UserID).Msg("Failed to issue token")
		}
		fmt.Printf("%-12s %-24s %s\n", caller.Role, caller.UserID, token)
	}

	fmt.Println()
	printToken(model.Caller{UserID: invigilatorID, Role: model.RoleInvigilator})
	for _, id := range studentIDs {
		printToken(model.Caller{UserID: id, Role: model.RoleStudent})
	}

	if *alert && len(studentIDs) > 0 {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		err = worker.NewRedisQueue(rdb).EnqueueAlert(ctx, model.CheatingAlert{
			ExamID:      examID,
			StudentID:   studentIDs[0],
			Type:        "multiple_faces",
			Severity:    model.AlertSeverityHigh,
			Confidence:  0.93,
			Description: "Seeded alert",
			DetectedAt:  time.Now().UTC(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to queue alert")
		}
		fmt.Printf("\nQueued a sample alert for %s\n", studentIDs[0])
	}

	fmt.Printf("\nSeed completed! Exam %s with %d students.\n", examID, len(studentIDs))
}

func sampleQuestions() []model.QuestionDefinition {
	truth := true
	answer := "Jakarta"
	return []model.QuestionDefinition{
		{
			ID:           "q1",
			QuestionText: "Which gas do plants absorb?",
			QuestionType: model.QuestionTypeMCQ,
			Marks:        4,
			Options: []model.Option{
				{Text: "Oxygen"},
				{Text: "Carbon dioxide", IsCorrect: true},
				{Text: "Nitrogen"},
			},
		},
		{
			ID:                     "q2",
			QuestionText:           "Water boils at 100 °C at sea level.",
			QuestionType:           model.QuestionTypeTrueFalse,
			Marks:                  2,
			CorrectTrueFalseAnswer: &truth,
		},
		{
			ID:           "q3",
			QuestionText: "Capital of Indonesia?",
			QuestionType: model.QuestionTypeSAQ,
			Marks:        4,
			AnswerText:   &answer,
		},
	}
}
