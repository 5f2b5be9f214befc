package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxWatchRetries = 3

// RedisStore keeps messages in Redis: one JSON string per message plus a sorted
// set of ids scored by deadline in unix milliseconds.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store whose keys start with prefix
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "entitystore:repair"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (s *RedisStore) dueKey() string {
	return s.prefix + ":due"
}

func (s *RedisStore) messageKey(id uuid.UUID) string {
	return s.prefix + ":msg:" + id.String()
}

func (s *RedisStore) Put(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.messageKey(msg.ID), data, 0)
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{
			Score:  float64(msg.Deadline.UnixMilli()),
			Member: msg.ID.String(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	data, err := s.client.Get(ctx, s.messageKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

func (s *RedisStore) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.messageKey(id))
		pipe.ZRem(ctx, s.dueKey(), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove message: %w", err)
	}
	return nil
}

func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}

	due := make([]*Message, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.logger.Warn("Dropping malformed repair message id",
				zap.String("id", raw),
				zap.Error(err))
			s.client.ZRem(ctx, s.dueKey(), raw)
			continue
		}
		msg, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// acknowledged between the range and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		due = append(due, msg)
	}
	return due, nil
}

func (s *RedisStore) RecordAttempt(ctx context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error {
	key := s.messageKey(id)

	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg.Attempts++
		msg.LastError = lastErr
		msg.Deadline = retryAt

		updated, err := json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZAddXX(ctx, s.dueKey(), redis.Z{
				Score:  float64(retryAt.UnixMilli()),
				Member: id.String(),
			})
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, update, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to record attempt: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to record attempt: %w", redis.TxFailedErr)
}

func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.dueKey()).Result()
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
