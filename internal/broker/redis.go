package broker

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries events over Redis pub/sub. Each subscription holds
// its own PubSub connection; the shared client is safe for concurrent
// publishers.
type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(addr, password string, db int) *RedisTransport {
	return &RedisTransport{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (TransportSub, error) {
	pubsub := t.client.Subscribe(ctx, channel)

	// Wait for the subscribe confirmation so the caller knows the channel
	// is attached before any publish races it.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	return &redisSub{pubsub: pubsub}, nil
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSub struct {
	pubsub *redis.PubSub
}

func (s *redisSub) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	msg, err := s.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrReceiveTimeout
		}
		return nil, err
	}

	switch m := msg.(type) {
	case *redis.Message:
		return []byte(m.Payload), nil
	default:
		// Subscribe/pong control frames carry no event.
		return nil, ErrReceiveTimeout
	}
}

func (s *redisSub) Close() error {
	return s.pubsub.Close()
}
