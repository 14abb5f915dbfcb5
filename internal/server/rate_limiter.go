// Package server implements the rate limiting used on both ends of a
// connection's life: a sharded fixed-window counter that bounds new
// connection attempts per remote address, and a token bucket that throttles
// inbound messages on an established connection.
package server

import (
	"hash/fnv"
	"sync"
	"time"
)

const limiterShardCount = 16

type rateBucket struct {
	windowStart time.Time
	count       int
}

type limiterShard struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
}

// ConnectionLimiter counts connection attempts per key within a fixed
// window. Keys are sharded so the limiter never becomes a contention
// bottleneck on the accept path.
type ConnectionLimiter struct {
	window time.Duration
	max    int
	shards [limiterShardCount]limiterShard
}

// NewConnectionLimiter creates a limiter allowing max attempts per key per
// window.
func NewConnectionLimiter(window time.Duration, max int) *ConnectionLimiter {
	l := &ConnectionLimiter{window: window, max: max}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*rateBucket)
	}
	return l
}

// Allow records an attempt for key and reports whether it is within the
// window budget.
func (l *ConnectionLimiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

func (l *ConnectionLimiter) allowAt(key string, now time.Time) bool {
	shard := &l.shards[shardIndex(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, ok := shard.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		shard.buckets[key] = &rateBucket{windowStart: now, count: 1}
		return true
	}
	if b.count >= l.max {
		return false
	}
	b.count++
	return true
}

// Sweep drops buckets whose window has rolled over, bounding memory for
// one-shot keys.
func (l *ConnectionLimiter) Sweep(now time.Time) {
	for i := range l.shards {
		shard := &l.shards[i]
		shard.mu.Lock()
		for key, b := range shard.buckets {
			if now.Sub(b.windowStart) >= l.window {
				delete(shard.buckets, key)
			}
		}
		shard.mu.Unlock()
	}
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % limiterShardCount)
}

// tokenBucket throttles a single connection's inbound message rate.
type tokenBucket struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
}

func newTokenBucket(capacity int, interval time.Duration) *tokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &tokenBucket{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now

	if elapsed > 0 {
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
	}

	if tb.tokens < 1 {
		return false
	}

	tb.tokens--
	return true
}
