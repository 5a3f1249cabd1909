package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sendIdempotencyTTL = 24 * time.Hour

// Idempotency guards a send against client retries carrying the same clientMsgId.
type Idempotency interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: sendIdempotencyTTL}
}

// Claim reports whether key was free and is now held by the caller.
func (r *RedisIdempotency) Claim(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, "1", r.ttl).Result()
}

func (r *RedisIdempotency) Release(ctx context.Context, key string) {
	_, _ = r.client.Del(ctx, key).Result()
}

func sendIdempotencyKey(senderID, clientMsgID string) string {
	return fmt.Sprintf("messaging:send:idempotency:%s:%s", senderID, clientMsgID)
}
