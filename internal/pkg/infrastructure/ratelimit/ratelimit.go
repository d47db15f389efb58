package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second

	sharedTierTimeout = 100 * time.Millisecond
	keyPrefix         = "rate_limit:"

	stripeCount = 64
)

// A Decision is the result of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	return d.ResetAt.Sub(now)
}

type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string, max int, window time.Duration) Decision
}

type limiter struct {
	shared *redis.Client

	stripes [stripeCount]*stripe

	// failOpen counts admissions granted because the shared tier was
	// unreachable.
	failOpen atomic.Uint64
}

// New creates a fixed-window limiter. With a shared redis tier the
// counter is atomic across processes (INCR + EXPIRE); without one, or
// when the tier is unreachable, counting falls back to striped local
// counters.
func New(shared *redis.Client) Limiter {
	l := &limiter{shared: shared}
	for i := range l.stripes {
		l.stripes[i] = &stripe{counts: map[string]*window{}}
	}
	return l
}

func (l *limiter) FailOpenCount() uint64 {
	return l.failOpen.Load()
}

func (l *limiter) CheckAndIncrement(ctx context.Context, key string, max int, windowDur time.Duration) Decision {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if windowDur <= 0 {
		windowDur = DefaultWindow
	}

	now := time.Now()
	bucket := now.UnixMilli() / windowDur.Milliseconds()
	resetAt := time.UnixMilli((bucket + 1) * windowDur.Milliseconds())

	if l.shared != nil {
		decision, ok := l.checkShared(ctx, key, bucket, max, windowDur, resetAt)
		if ok {
			return decision
		}
		// fail open on shared tier trouble, but keep counting locally
		// so a dead redis does not disable limiting entirely
		l.failOpen.Add(1)
		logging.GetFromContext(ctx).Debug("rate limiter shared tier unavailable, using local counters", "key", key)
	}

	return l.checkLocal(key, bucket, max, resetAt)
}

func (l *limiter) checkShared(ctx context.Context, key string, bucket int64, max int, windowDur time.Duration, resetAt time.Time) (Decision, bool) {
	sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
	defer cancel()

	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, bucket)

	pipe := l.shared.TxPipeline()
	incr := pipe.Incr(sctx, redisKey)
	pipe.Expire(sctx, redisKey, windowDur)

	_, err := pipe.Exec(sctx)
	if err != nil {
		return Decision{}, false
	}

	count := int(incr.Val())
	if count > max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, true
	}

	return Decision{Allowed: true, Remaining: max - count, ResetAt: resetAt}, true
}

func (l *limiter) checkLocal(key string, bucket int64, max int, resetAt time.Time) Decision {
	s := l.stripes[fnv32(key)%stripeCount]

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.counts[key]
	if !ok || w.bucket != bucket {
		w = &window{bucket: bucket}
		s.counts[key] = w
	}

	w.count++
	if w.count > max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}
	}

	return Decision{Allowed: true, Remaining: max - w.count, ResetAt: resetAt}
}

type window struct {
	bucket int64
	count  int
}

type stripe struct {
	mu     sync.Mutex
	counts map[string]*window
}

func fnv32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// DeviceKey and SourceKey build the two limiter keyspaces: device id
// for authenticated paths, source ip for registration.
func DeviceKey(deviceID int64) string {
	return fmt.Sprintf("device:%d", deviceID)
}

func SourceKey(ip string) string {
	return fmt.Sprintf("source:%s", ip)
}
