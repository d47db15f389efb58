package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-telemetry/internal/pkg/application/deviceauth"
	"github.com/diwise/iot-telemetry/internal/pkg/application/normalizer"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/ratelimit"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/pkg/types"
)

var tracer = otel.Tracer("iot-telemetry/ingest")

type Status int

const (
	Accepted Status = iota
	RejectedMalformed
	RejectedUnknownKey
	RejectedInactive
	RejectedForbidden
	RateLimited
	StoreUnavailable
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case RejectedMalformed:
		return "rejected_malformed"
	case RejectedUnknownKey:
		return "rejected_unknown_key"
	case RejectedInactive:
		return "rejected_inactive"
	case RejectedForbidden:
		return "rejected_forbidden"
	case RateLimited:
		return "rate_limited"
	}
	return "store_unavailable"
}

// An Outcome is the pipeline's verdict on one payload. Points and
// Timestamp are only meaningful when the payload was accepted,
// RetryAfter only when it was rate limited.
type Outcome struct {
	Status     Status
	DeviceID   int64
	Points     int
	Timestamp  time.Time
	RetryAfter time.Duration
	Reason     string
}

//go:generate moq -rm -out devicecatalog_mock.go . DeviceCatalog
type DeviceCatalog interface {
	TouchLastSeen(ctx context.Context, deviceID int64, lastSeen time.Time) error
}

type Config struct {
	MaxMessagesPerDevice int
	RateWindow           time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerDevice <= 0 {
		c.MaxMessagesPerDevice = ratelimit.DefaultMaxRequests
	}
	if c.RateWindow <= 0 {
		c.RateWindow = ratelimit.DefaultWindow
	}
	return c
}

// Pipeline runs every inbound payload through the same sequence
// regardless of transport: authenticate, admit, normalize, append,
// then refresh liveness and the catalog's last seen mark.
type Pipeline struct {
	cfg Config

	auth    deviceauth.Authenticator
	store   timeseries.Store
	live    liveness.Cache
	limiter ratelimit.Limiter
	catalog DeviceCatalog

	accepted          atomic.Uint64
	rejected          atomic.Uint64
	rateLimited       atomic.Uint64
	storeFailures     atomic.Uint64
	livenessDegraded  atomic.Uint64
	lastSeenDeferrals atomic.Uint64
}

func New(auth deviceauth.Authenticator, store timeseries.Store, live liveness.Cache, limiter ratelimit.Limiter, catalog DeviceCatalog, cfg Config) *Pipeline {
	return &Pipeline{
		cfg:     cfg.withDefaults(),
		auth:    auth,
		store:   store,
		live:    live,
		limiter: limiter,
		catalog: catalog,
	}
}

// Ingest processes one telemetry payload. The payload is only
// Accepted once the append to the time-series store has succeeded;
// liveness is never refreshed for a payload that was not stored.
func (p *Pipeline) Ingest(ctx context.Context, source types.Source, payload []byte) Outcome {
	ctx, span := tracer.Start(ctx, "ingest-telemetry")
	defer span.End()

	log := logging.GetFromContext(ctx)

	device, outcome, ok := p.admit(ctx, &source, payload)
	if !ok {
		return outcome
	}

	batch, err := normalizer.Normalize(source, device, payload)
	if err != nil {
		p.rejected.Add(1)
		return Outcome{Status: RejectedMalformed, DeviceID: device.ID, Reason: err.Error()}
	}

	for _, point := range batch.Points {
		err = p.store.EnsureSeries(ctx, device.ID, batch.Measurement, point.Name, datatypeOf(point.Value))
		if err != nil {
			p.rejected.Add(1)
			return Outcome{Status: RejectedMalformed, DeviceID: device.ID, Reason: err.Error()}
		}
	}

	err = p.appendWithRetry(ctx, batch)
	if err != nil {
		p.storeFailures.Add(1)
		span.RecordError(err)
		log.Error("append failed, payload not accepted", "device_id", device.ID, "err", err.Error())
		return Outcome{Status: StoreUnavailable, DeviceID: device.ID, Reason: "time-series store unavailable"}
	}

	p.refreshLiveness(ctx, device.ID, batch.Timestamp)

	p.accepted.Add(1)
	return Outcome{Status: Accepted, DeviceID: device.ID, Points: len(batch.Points), Timestamp: batch.Timestamp}
}

// IngestStatus processes an explicit status message. It only moves
// the liveness cache; nothing is written to the time-series store.
func (p *Pipeline) IngestStatus(ctx context.Context, source types.Source, payload []byte) Outcome {
	ctx, span := tracer.Start(ctx, "ingest-status")
	defer span.End()

	device, outcome, ok := p.authenticate(ctx, &source, payload)
	if !ok {
		return outcome
	}

	var msg struct {
		Status    string          `json:"status"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.rejected.Add(1)
		return Outcome{Status: RejectedMalformed, DeviceID: device.ID, Reason: "unparseable status payload"}
	}

	ts := payloadTimestamp(msg.Timestamp, source.ReceivedAt)

	switch msg.Status {
	case types.LivenessOnline:
		// a retained status is replayed on every subscribe; when its
		// timestamp has already aged out of the freshness window it
		// must not resurrect the device
		if source.Retained && time.Since(ts) >= liveness.DefaultFreshnessWindow {
			return Outcome{Status: Accepted, DeviceID: device.ID, Timestamp: ts, Reason: "stale retained status ignored"}
		}
		if err := p.live.Touch(ctx, device.ID, ts); err != nil {
			p.livenessDegraded.Add(1)
		}
		p.touchCatalog(ctx, device.ID, ts)
	case types.LivenessOffline:
		if err := p.live.SetStatus(ctx, device.ID, types.LivenessOffline); err != nil {
			p.livenessDegraded.Add(1)
		}
	default:
		p.rejected.Add(1)
		return Outcome{Status: RejectedMalformed, DeviceID: device.ID, Reason: fmt.Sprintf("unknown status %q", msg.Status)}
	}

	p.accepted.Add(1)
	return Outcome{Status: Accepted, DeviceID: device.ID, Timestamp: ts}
}

// IngestHeartbeat refreshes liveness and the catalog's last seen mark
// without storing any telemetry.
func (p *Pipeline) IngestHeartbeat(ctx context.Context, source types.Source, payload []byte) Outcome {
	ctx, span := tracer.Start(ctx, "ingest-heartbeat")
	defer span.End()

	device, outcome, ok := p.authenticate(ctx, &source, payload)
	if !ok {
		return outcome
	}

	now := source.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if err := p.live.Touch(ctx, device.ID, now); err != nil {
		p.livenessDegraded.Add(1)
	}
	p.touchCatalog(ctx, device.ID, now)

	p.accepted.Add(1)
	return Outcome{Status: Accepted, DeviceID: device.ID, Timestamp: now}
}

// admit authenticates and applies the per device rate limit.
func (p *Pipeline) admit(ctx context.Context, source *types.Source, payload []byte) (types.Device, Outcome, bool) {
	device, outcome, ok := p.authenticate(ctx, source, payload)
	if !ok {
		return device, outcome, false
	}

	decision := p.limiter.CheckAndIncrement(ctx, ratelimit.DeviceKey(device.ID), p.cfg.MaxMessagesPerDevice, p.cfg.RateWindow)
	if !decision.Allowed {
		p.rateLimited.Add(1)
		return device, Outcome{
			Status:     RateLimited,
			DeviceID:   device.ID,
			RetryAfter: decision.RetryAfter(time.Now()),
			Reason:     "device message limit exceeded",
		}, false
	}

	return device, Outcome{}, true
}

func (p *Pipeline) authenticate(ctx context.Context, source *types.Source, payload []byte) (types.Device, Outcome, bool) {
	creds, err := normalizer.ExtractCredentials(payload)
	if err != nil {
		p.rejected.Add(1)
		return types.Device{}, Outcome{Status: RejectedMalformed, Reason: "unparseable payload"}, false
	}
	if source.APIKey == "" {
		source.APIKey = creds.APIKey
	}
	source.ClaimedDeviceID = creds.ClaimedDeviceID

	result, err := p.auth.Authenticate(ctx, *source)
	if err != nil {
		p.storeFailures.Add(1)
		return types.Device{}, Outcome{Status: StoreUnavailable, Reason: "device catalog unavailable"}, false
	}

	switch result.Outcome {
	case deviceauth.Authorized:
		return result.Device, Outcome{}, true
	case deviceauth.RejectedUnknownKey:
		p.rejected.Add(1)
		return types.Device{}, Outcome{Status: RejectedUnknownKey, Reason: result.Reason}, false
	case deviceauth.RejectedInactive:
		p.rejected.Add(1)
		return result.Device, Outcome{Status: RejectedInactive, DeviceID: result.Device.ID, Reason: result.Reason}, false
	case deviceauth.RejectedTopicMismatch:
		p.rejected.Add(1)
		return result.Device, Outcome{Status: RejectedForbidden, DeviceID: result.Device.ID, Reason: result.Reason}, false
	}

	p.rejected.Add(1)
	return types.Device{}, Outcome{Status: RejectedMalformed, Reason: result.Reason}, false
}

// appendWithRetry makes three attempts with jittered exponential
// delays between 200ms and 2s before giving up.
func (p *Pipeline) appendWithRetry(ctx context.Context, batch types.SampleBatch) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(func() error {
		err := p.store.Append(ctx, batch)
		if err != nil && !errors.Is(err, timeseries.ErrTransient) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}

// refreshLiveness runs after a successful append. Both the liveness
// cache and the catalog mark are best effort; their failure degrades
// freshness but never the accepted payload.
func (p *Pipeline) refreshLiveness(ctx context.Context, deviceID int64, ts time.Time) {
	if err := p.live.Touch(ctx, deviceID, ts); err != nil {
		p.livenessDegraded.Add(1)
	}
	p.touchCatalog(ctx, deviceID, ts)
}

func (p *Pipeline) touchCatalog(ctx context.Context, deviceID int64, ts time.Time) {
	err := p.catalog.TouchLastSeen(ctx, deviceID, ts)
	if err != nil {
		p.lastSeenDeferrals.Add(1)
		logging.GetFromContext(ctx).Debug("last seen update deferred", "device_id", deviceID, "err", err.Error())
	}
}

type Stats struct {
	Accepted          uint64
	Rejected          uint64
	RateLimited       uint64
	StoreFailures     uint64
	LivenessDegraded  uint64
	LastSeenDeferrals uint64
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:          p.accepted.Load(),
		Rejected:          p.rejected.Load(),
		RateLimited:       p.rateLimited.Load(),
		StoreFailures:     p.storeFailures.Load(),
		LivenessDegraded:  p.livenessDegraded.Load(),
		LastSeenDeferrals: p.lastSeenDeferrals.Load(),
	}
}

func datatypeOf(value any) string {
	switch value.(type) {
	case bool:
		return "bool"
	case int64:
		return "int64"
	case float64:
		return "double"
	}
	return "text"
}

func payloadTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 {
		return fallbackOrNow(fallback)
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		if ts, err := normalizer.ParseTimestamp(s); err == nil {
			return ts
		}
		return fallbackOrNow(fallback)
	}

	if ts, err := normalizer.ParseTimestamp(string(raw)); err == nil {
		return ts
	}

	return fallbackOrNow(fallback)
}

func fallbackOrNow(fallback time.Time) time.Time {
	if fallback.IsZero() {
		return time.Now().UTC()
	}
	return fallback.UTC()
}
