package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyhub/internal/model"
	"notifyhub/pkg/metrics"
)

const DefaultKeyPrefix = "notify:queue"

// RedisQueue is the per-user durable mailbox. Entries survive until the first
// successful Pop from any process.
type RedisQueue struct {
	rdb       redis.Cmdable
	keyPrefix string
	maxLength int64
	logger    *zap.Logger
}

type Options struct {
	KeyPrefix string
	// MaxLength > 0 keeps only the newest MaxLength entries.
	MaxLength int64
}

func NewRedisQueue(rdb redis.Cmdable, opts Options, logger *zap.Logger) *RedisQueue {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		rdb:       rdb,
		keyPrefix: opts.KeyPrefix,
		maxLength: opts.MaxLength,
		logger:    logger,
	}
}

func (q *RedisQueue) key(userID string) string {
	return fmt.Sprintf("%s:%s", q.keyPrefix, userID)
}

// Push appends entry to the tail of userID's queue.
func (q *RedisQueue) Push(ctx context.Context, userID string, entry model.QueueEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	key := q.key(userID)
	if q.maxLength <= 0 {
		if err := q.rdb.RPush(ctx, key, body).Err(); err != nil {
			return fmt.Errorf("failed to push queue entry: %w", err)
		}
		return nil
	}

	// RPUSH + LTRIM 放在同一个 MULTI 里
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, body)
		pipe.LTrim(ctx, key, -q.maxLength, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}
	return nil
}

// Pop removes and returns the head entry. ok is false when the queue is empty.
func (q *RedisQueue) Pop(ctx context.Context, userID string) (entry model.QueueEntry, ok bool, err error) {
	start := time.Now()
	defer func() {
		result := "hit"
		switch {
		case err != nil:
			result = "error"
		case !ok:
			result = "empty"
		}
		metrics.RecordQueuePop(result, time.Since(start))
	}()

	body, err := q.rdb.LPop(ctx, q.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.QueueEntry{}, false, nil
	}
	if err != nil {
		return model.QueueEntry{}, false, fmt.Errorf("failed to pop queue entry: %w", err)
	}

	if err := json.Unmarshal(body, &entry); err != nil {
		// 坏数据已经被移出队列，记录后丢弃
		q.logger.Warn("Dropped malformed queue entry",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return model.QueueEntry{}, false, nil
	}
	return entry, true, nil
}

func (q *RedisQueue) Len(ctx context.Context, userID string) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Requeue puts entry back at the head, used when a popped entry could not be
// written to the client.
func (q *RedisQueue) Requeue(ctx context.Context, userID string, entry model.QueueEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key(userID), body).Err(); err != nil {
		return fmt.Errorf("failed to requeue entry: %w", err)
	}
	return nil
}
