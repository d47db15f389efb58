package liveness

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/redis/go-redis/v9"

	"github.com/diwise/iot-telemetry/pkg/types"
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultFreshnessWindow = 5 * time.Minute

	statusKeyPrefix   = "device:status:"
	lastSeenKeyPrefix = "device:lastseen:"

	sharedTierTimeout = 100 * time.Millisecond

	stripeCount = 64
)

type Cache interface {
	Touch(ctx context.Context, deviceID int64, ts time.Time) error
	SetStatus(ctx context.Context, deviceID int64, status string) error
	Get(ctx context.Context, deviceID int64) (types.LivenessRecord, bool)
	GetMany(ctx context.Context, deviceIDs []int64) map[int64]types.LivenessRecord
	Evaluate(ctx context.Context, deviceID int64, now time.Time) string
	Clear(ctx context.Context, deviceID int64)
	ClearAll(ctx context.Context)
	Ping(ctx context.Context) error
}

type cache struct {
	stripes [stripeCount]*stripe

	shared *redis.Client
	ttl    time.Duration
	window time.Duration
}

// New creates a liveness cache with an optional shared redis tier.
// The in-process map is authoritative for reads; the shared tier is
// written through best effort and consulted only for ids the local
// map has never seen. A nil client disables the shared tier.
func New(shared *redis.Client, ttl, freshnessWindow time.Duration) Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if freshnessWindow <= 0 {
		freshnessWindow = DefaultFreshnessWindow
	}

	c := &cache{
		shared: shared,
		ttl:    ttl,
		window: freshnessWindow,
	}
	for i := range c.stripes {
		c.stripes[i] = newStripe()
	}

	return c
}

func (c *cache) stripe(deviceID int64) *stripe {
	return c.stripes[uint64(deviceID)%stripeCount]
}

// Touch marks a device online at ts. Concurrent writers for the same
// device resolve by highest timestamp, ties by version counter, so a
// stale touch can never roll liveness backwards.
func (c *cache) Touch(ctx context.Context, deviceID int64, ts time.Time) error {
	ts = ts.UTC()
	c.stripe(deviceID).merge(deviceID, types.LivenessOnline, ts, c.ttl)

	return c.writeThrough(ctx, deviceID, types.LivenessOnline, ts)
}

func (c *cache) SetStatus(ctx context.Context, deviceID int64, status string) error {
	c.stripe(deviceID).setStatus(deviceID, status, c.ttl)

	if c.shared == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
	defer cancel()

	err := c.shared.Set(sctx, statusKey(deviceID), status, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("shared tier unavailable: %w", err)
	}

	return nil
}

func (c *cache) Get(ctx context.Context, deviceID int64) (types.LivenessRecord, bool) {
	rec, ok := c.stripe(deviceID).get(deviceID)
	if ok {
		return rec, true
	}

	// cold local cache, try to seed from the shared tier
	seeded := c.readShared(ctx, []int64{deviceID})
	if rec, ok := seeded[deviceID]; ok {
		c.stripe(deviceID).merge(deviceID, rec.Status, rec.LastSeen, c.ttl)
		return rec, true
	}

	return types.LivenessRecord{Status: types.LivenessUnknown}, false
}

func (c *cache) GetMany(ctx context.Context, deviceIDs []int64) map[int64]types.LivenessRecord {
	result := make(map[int64]types.LivenessRecord, len(deviceIDs))
	missing := make([]int64, 0)

	for _, id := range deviceIDs {
		if rec, ok := c.stripe(id).get(id); ok {
			result[id] = rec
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		for id, rec := range c.readShared(ctx, missing) {
			c.stripe(id).merge(id, rec.Status, rec.LastSeen, c.ttl)
			result[id] = rec
		}
	}

	return result
}

// Evaluate derives the reported liveness: online iff the cached
// status is online and last seen falls within the freshness window.
func (c *cache) Evaluate(ctx context.Context, deviceID int64, now time.Time) string {
	rec, ok := c.Get(ctx, deviceID)
	if !ok {
		return types.LivenessUnknown
	}

	if rec.Status == types.LivenessOnline && now.Sub(rec.LastSeen) < c.window {
		return types.LivenessOnline
	}

	return types.LivenessOffline
}

func (c *cache) Clear(ctx context.Context, deviceID int64) {
	c.stripe(deviceID).clear(deviceID)

	if c.shared != nil {
		sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
		defer cancel()
		c.shared.Del(sctx, statusKey(deviceID), lastSeenKey(deviceID))
	}
}

func (c *cache) ClearAll(ctx context.Context) {
	for _, s := range c.stripes {
		s.clearAll()
	}
}

func (c *cache) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
	defer cancel()

	return c.shared.Ping(sctx).Err()
}

// writeThrough updates the shared tier. Failure degrades to local
// only operation and never blocks or fails ingestion.
func (c *cache) writeThrough(ctx context.Context, deviceID int64, status string, ts time.Time) error {
	if c.shared == nil {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
	defer cancel()

	pipe := c.shared.Pipeline()
	pipe.Set(sctx, statusKey(deviceID), status, c.ttl)
	pipe.Set(sctx, lastSeenKey(deviceID), ts.Format(time.RFC3339Nano), c.ttl)

	_, err := pipe.Exec(sctx)
	if err != nil {
		logging.GetFromContext(ctx).Debug("liveness write-through failed", "device_id", deviceID, "err", err.Error())
		return fmt.Errorf("shared tier unavailable: %w", err)
	}

	return nil
}

// readShared fetches status and last seen for the given ids in a
// single round trip.
func (c *cache) readShared(ctx context.Context, deviceIDs []int64) map[int64]types.LivenessRecord {
	if c.shared == nil || len(deviceIDs) == 0 {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, sharedTierTimeout)
	defer cancel()

	keys := make([]string, 0, len(deviceIDs)*2)
	for _, id := range deviceIDs {
		keys = append(keys, statusKey(id), lastSeenKey(id))
	}

	values, err := c.shared.MGet(sctx, keys...).Result()
	if err != nil {
		return nil
	}

	result := make(map[int64]types.LivenessRecord, len(deviceIDs))

	for i, id := range deviceIDs {
		status, _ := values[i*2].(string)
		if status == "" {
			continue
		}

		rec := types.LivenessRecord{Status: status}
		if raw, ok := values[i*2+1].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				rec.LastSeen = ts
			}
		}

		result[id] = rec
	}

	return result
}

func statusKey(deviceID int64) string {
	return statusKeyPrefix + strconv.FormatInt(deviceID, 10)
}

func lastSeenKey(deviceID int64) string {
	return lastSeenKeyPrefix + strconv.FormatInt(deviceID, 10)
}
