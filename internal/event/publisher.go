// Package event publishes attempt lifecycle events to other services over AMQP.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	RoutingAttemptSubmitted = "attempt.submitted"
	RoutingResultGraded     = "result.graded"

	publishTimeout = 5 * time.Second
)

// AttemptSubmitted is emitted once per accepted submission.
type AttemptSubmitted struct {
	EventType   string              `json:"event_type"`
	ExamID      string              `json:"exam_id"`
	StudentID   string              `json:"student_id"`
	Trigger     model.SubmitTrigger `json:"trigger"`
	SubmittedAt time.Time           `json:"submitted_at"`
}

// ResultGraded is emitted every time a result is (re)written.
type ResultGraded struct {
	EventType   string    `json:"event_type"`
	ExamID      string    `json:"exam_id"`
	StudentID   string    `json:"student_id"`
	Score       float64   `json:"score"`
	TotalMarks  float64   `json:"total_marks"`
	SubmittedAt time.Time `json:"submitted_at"`
	GradedAt    time.Time `json:"graded_at"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	PublishAttemptSubmitted(ctx context.Context, sheet *model.AnswerSheet, trigger model.SubmitTrigger) error
	PublishResultGraded(ctx context.Context, res *model.ExamResult) error
	Close() error
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      zerolog.Logger
}

// NewPublisher dials url and declares exchange. An empty url yields a
// publisher that drops every event.
func NewPublisher(url, exchange string, log zerolog.Logger) (Publisher, error) {
	log = log.With().Str("component", "event_publisher").Logger()
	if url == "" {
		log.Warn().Msg("AMQP URL is empty, event publishing is disabled")
		return Nop{}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("AMQP publisher ready")
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", routingKey, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(pubCtx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.log.Debug().Str("routing_key", routingKey).Msg("Event published")
	return nil
}

// PublishAttemptSubmitted announces a submission.
func (p *AMQPPublisher) PublishAttemptSubmitted(ctx context.Context, sheet *model.AnswerSheet, trigger model.SubmitTrigger) error {
	ev := AttemptSubmitted{
		EventType: RoutingAttemptSubmitted,
		ExamID:    sheet.ExamID.String(),
		StudentID: sheet.StudentID,
		Trigger:   trigger,
	}
	if sheet.SubmittedAt != nil {
		ev.SubmittedAt = *sheet.SubmittedAt
	}
	return p.publish(ctx, RoutingAttemptSubmitted, ev)
}

// PublishResultGraded announces a written result.
func (p *AMQPPublisher) PublishResultGraded(ctx context.Context, res *model.ExamResult) error {
	return p.publish(ctx, RoutingResultGraded, ResultGraded{
		EventType:   RoutingResultGraded,
		ExamID:      res.ExamID.String(),
		StudentID:   res.StudentID,
		Score:       res.Score,
		TotalMarks:  res.TotalMarks,
		SubmittedAt: res.SubmittedAt,
		GradedAt:    time.Now().UTC(),
	})
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Error closing AMQP channel")
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishAttemptSubmitted(context.Context, *model.AnswerSheet, model.SubmitTrigger) error {
	return nil
}

func (Nop) PublishResultGraded(context.Context, *model.ExamResult) error { return nil }

func (Nop) Close() error { return nil }
