package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const subscriptionBuffer = 32

// RedisNotifier fans events out across server instances over Redis Pub/Sub.
type RedisNotifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisNotifier creates a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, log zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb: rdb,
		log: log.With().Str("component", "redis_notifier").Logger(),
	}
}

// Publish sends ev on the channel of its exam and audience.
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := config.CacheKey.ProctorChannel(ev.ExamID, ev.Audience)
	if err := n.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on the (exam, role) channel. The subscription is confirmed
// before returning so no event published afterwards is missed.
func (n *RedisNotifier) Subscribe(ctx context.Context, examID uuid.UUID, role model.Role) (Subscription, error) {
	channel := config.CacheKey.ProctorChannel(examID, role)
	ps := n.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(ctx, n.log.With().Str("channel", channel).Logger())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) pump(ctx context.Context, log zerolog.Logger) {
	defer close(s.events)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("Discarding malformed event")
				continue
			}
			select {
			case s.events <- ev:
			default:
				// Receiver is behind; it re-reads on its next tick anyway.
				log.Debug().Str("type", string(ev.Type)).Msg("Subscriber lagging, event dropped")
			}
		}
	}
}
