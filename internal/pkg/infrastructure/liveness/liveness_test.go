package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/diwise/iot-telemetry/pkg/types"
	"github.com/matryer/is"
)

func TestTouchMarksDeviceOnline(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	now := time.Now().UTC()

	err := c.Touch(ctx, 7, now)
	is.NoErr(err)

	rec, ok := c.Get(ctx, 7)
	is.True(ok)
	is.Equal(rec.Status, types.LivenessOnline)
	is.Equal(rec.LastSeen, now)
}

func TestEvaluateAppliesFreshnessWindow(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 5*time.Minute)
	now := time.Now().UTC()

	c.Touch(ctx, 7, now.Add(-time.Minute))
	is.Equal(c.Evaluate(ctx, 7, now), types.LivenessOnline)

	c.Touch(ctx, 8, now.Add(-10*time.Minute))
	is.Equal(c.Evaluate(ctx, 8, now), types.LivenessOffline)

	is.Equal(c.Evaluate(ctx, 9, now), types.LivenessUnknown)
}

func TestStaleTouchDoesNotRollBackLastSeen(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	fresh := time.Now().UTC()
	stale := fresh.Add(-time.Hour)

	c.Touch(ctx, 7, fresh)
	c.Touch(ctx, 7, stale)

	rec, ok := c.Get(ctx, 7)
	is.True(ok)
	is.Equal(rec.LastSeen, fresh)
}

func TestSetStatusOverridesWithoutTimestamp(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	now := time.Now().UTC()

	c.Touch(ctx, 7, now)
	c.SetStatus(ctx, 7, types.LivenessOffline)

	rec, ok := c.Get(ctx, 7)
	is.True(ok)
	is.Equal(rec.Status, types.LivenessOffline)
	is.Equal(rec.LastSeen, now)
}

func TestGetManyReturnsKnownEntries(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	now := time.Now().UTC()

	c.Touch(ctx, 1, now)
	c.Touch(ctx, 2, now)

	result := c.GetMany(ctx, []int64{1, 2, 3})
	is.Equal(len(result), 2)
	is.Equal(result[1].Status, types.LivenessOnline)
}

func TestClear(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	c.Touch(ctx, 7, time.Now().UTC())
	c.Clear(ctx, 7)

	_, ok := c.Get(ctx, 7)
	is.True(!ok)
}

func TestEntriesExpireWithTTL(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 10*time.Millisecond, 0)
	c.Touch(ctx, 7, time.Now().UTC())

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(ctx, 7)
	is.True(!ok)
}

func TestConcurrentTouches(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	c := New(nil, 0, 0)
	base := time.Now().UTC()

	done := make(chan struct{})
	for i := 0; i < 16; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				c.Touch(ctx, int64(i%4), base.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
	}
	for i := 0; i < 16; i++ {
		<-done
	}

	rec, ok := c.Get(ctx, 0)
	is.True(ok)
	is.Equal(rec.LastSeen, base.Add(99*time.Millisecond))
}
