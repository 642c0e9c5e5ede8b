package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"

	"notifyhub/pkg/mq"
)

// AMQPBackend publishes to the realtime topic exchange with the channel name
// as routing key.
type AMQPBackend struct {
	publisher *mq.Publisher
}

func NewAMQPBackend(publisher *mq.Publisher) *AMQPBackend {
	return &AMQPBackend{publisher: publisher}
}

func (b *AMQPBackend) Publish(ctx context.Context, channel string, body []byte) error {
	return b.publisher.PublishRaw(ctx, mq.RealtimeExchangeName, channel, body, nil)
}

func (b *AMQPBackend) Name() string { return "amqp" }

// RedisBackend uses Redis PUBLISH.
type RedisBackend struct {
	rdb redis.Cmdable
}

func NewRedisBackend(rdb redis.Cmdable) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Publish(ctx context.Context, channel string, body []byte) error {
	return b.rdb.Publish(ctx, channel, body).Err()
}

func (b *RedisBackend) Name() string { return "redis" }
