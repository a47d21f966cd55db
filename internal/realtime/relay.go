package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay shares group broadcasts between server processes over a redis
// pub/sub channel. Messages published by this process are ignored on receipt.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

type envelope struct {
	Origin  string          `json:"origin"`
	GameID  string          `json:"gameId"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisRelay creates a relay for cfg
func NewRedisRelay(cfg config.RedisConfig, logger *zap.Logger) *RedisRelay {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisRelay{
		client:  client,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

var _ Relay = (*RedisRelay)(nil)

// Ping checks the redis connection
func (r *RedisRelay) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Publish sends a group broadcast to the other processes
func (r *RedisRelay) Publish(ctx context.Context, gameID string, payload []byte) error {
	data, err := json.Marshal(envelope{Origin: r.origin, GameID: gameID, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run delivers broadcasts from other processes to deliver until ctx is done
func (r *RedisRelay) Run(ctx context.Context, deliver func(ctx context.Context, gameID string, payload []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("event relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("malformed relay message", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			deliver(ctx, env.GameID, env.Payload)
		}
	}
}

// Close releases the redis client
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
