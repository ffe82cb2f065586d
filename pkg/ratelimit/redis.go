package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares flood counters across bot replicas. Redis errors fall
// back to the in-process limiter so a cache outage never blocks commands.
type RedisLimiter struct {
	Client   *redis.Client
	Limit    int
	Window   time.Duration
	Prefix   string
	Fallback *InMemoryLimiter
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	lim := &RedisLimiter{Client: client, Limit: limit, Window: window, Prefix: "likegate:flood:"}
	if lim.Limit <= 0 {
		lim.Limit = 1
	}
	if lim.Window <= 0 {
		lim.Window = time.Minute
	}
	lim.Fallback = NewInMemory(lim.Limit, lim.Window)
	return lim
}

// Allow opens the window with SET NX PX and counts in the same MULTI block.
func (l *RedisLimiter) Allow(ctx context.Context, userID int64) Decision {
	if l.Client == nil {
		return l.fallback(ctx, userID)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	key := l.Prefix + userKey(userID)
	var (
		count *redis.IntCmd
		ttl   *redis.DurationCmd
	)
	_, err := l.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SetNX(ctx, key, 0, l.Window)
		count = p.Incr(ctx, key)
		ttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		log.Printf("flood limiter: redis unavailable, using local counters: %v", err)
		return l.fallback(ctx, userID)
	}
	left := ttl.Val()
	if left <= 0 {
		left = l.Window
	}
	return decide(int(count.Val()), l.Limit, left)
}

func (l *RedisLimiter) fallback(ctx context.Context, userID int64) Decision {
	if l.Fallback != nil {
		return l.Fallback.Allow(ctx, userID)
	}
	return Decision{Allowed: true, Limit: l.Limit}
}
