package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Decision is the outcome of one flood check for a user.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	RetryAfter time.Duration
}

// Limiter bounds how many commands a Telegram user may issue per window.
type Limiter interface {
	Allow(ctx context.Context, userID int64) Decision
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, userID int64) Decision {
	return Decision{Allowed: true}
}

type InMemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	items  map[int64]entry
}

type entry struct {
	count   int
	resetAt time.Time
}

func NewInMemory(limit int, window time.Duration) *InMemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		items:  make(map[int64]entry),
	}
}

func (l *InMemoryLimiter) Allow(ctx context.Context, userID int64) Decision {
	now := l.now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanup(now)
	curr, ok := l.items[userID]
	if !ok || !now.Before(curr.resetAt) {
		curr = entry{resetAt: now.Add(l.window)}
	}
	curr.count++
	l.items[userID] = curr
	return decide(curr.count, l.limit, curr.resetAt.Sub(now))
}

func (l *InMemoryLimiter) cleanup(now time.Time) {
	for k, v := range l.items {
		if !now.Before(v.resetAt) {
			delete(l.items, k)
		}
	}
}

func decide(count, limit int, ttl time.Duration) Decision {
	d := Decision{Allowed: count <= limit, Count: count, Limit: limit}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
