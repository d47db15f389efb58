package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestAllowsUpToMaxWithinWindow(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	l := New(nil)
	key := DeviceKey(7)

	for i := 0; i < 100; i++ {
		d := l.CheckAndIncrement(ctx, key, 100, time.Minute)
		is.True(d.Allowed)
		is.Equal(d.Remaining, 99-i)
	}

	d := l.CheckAndIncrement(ctx, key, 100, time.Minute)
	is.True(!d.Allowed)
	is.Equal(d.Remaining, 0)
	is.True(d.RetryAfter(time.Now()) <= time.Minute)
}

func TestKeysAreIndependent(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	l := New(nil)

	for i := 0; i < 5; i++ {
		l.CheckAndIncrement(ctx, DeviceKey(1), 5, time.Minute)
	}

	is.True(!l.CheckAndIncrement(ctx, DeviceKey(1), 5, time.Minute).Allowed)
	is.True(l.CheckAndIncrement(ctx, DeviceKey(2), 5, time.Minute).Allowed)
	is.True(l.CheckAndIncrement(ctx, SourceKey("10.0.0.1"), 5, time.Minute).Allowed)
}

func TestWindowRollsOver(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	l := New(nil)
	key := DeviceKey(7)

	// drive the current bucket to its limit
	for l.CheckAndIncrement(ctx, key, 2, 50*time.Millisecond).Allowed {
	}

	time.Sleep(60 * time.Millisecond)

	is.True(l.CheckAndIncrement(ctx, key, 2, 50*time.Millisecond).Allowed)
}

func TestConcurrentChecksNeverExceedMax(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	l := New(nil)
	key := DeviceKey(7)

	var allowed int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if l.CheckAndIncrement(ctx, key, 100, time.Minute).Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	is.Equal(allowed, int64(100))
}
