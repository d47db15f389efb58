package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/diwise/iot-telemetry/internal/pkg/application/deviceauth"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/ratelimit"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/pkg/types"
)

type fixture struct {
	pipeline *Pipeline
	store    *timeseries.StoreMock
	live     liveness.Cache
	catalog  *DeviceCatalogMock
}

func testSetup(t *testing.T, cfg Config) (*is.I, *fixture) {
	is := is.New(t)

	registry := &deviceauth.DeviceRegistryMock{
		GetDeviceByAPIKeyFunc: func(ctx context.Context, apiKey string) (types.Device, error) {
			switch apiKey {
			case "K7":
				return types.Device{ID: 7, Name: "device-7", DeviceType: "sensor", Status: types.DeviceStatusActive}, nil
			case "K8":
				return types.Device{ID: 8, Name: "device-8", Status: types.DeviceStatusInactive}, nil
			case "BOOM":
				return types.Device{}, errors.New("connection refused")
			}
			return types.Device{}, storage.ErrDeviceNotFound
		},
	}

	store := &timeseries.StoreMock{
		EnsureSeriesFunc: func(ctx context.Context, deviceID int64, measurement, field, datatype string) error {
			return nil
		},
		AppendFunc: func(ctx context.Context, batch types.SampleBatch) error {
			return nil
		},
	}

	live := liveness.New(nil, time.Hour, liveness.DefaultFreshnessWindow)
	catalog := &DeviceCatalogMock{
		TouchLastSeenFunc: func(ctx context.Context, deviceID int64, lastSeen time.Time) error {
			return nil
		},
	}

	auth := deviceauth.New(registry, broker.NewSchema("iotflow"), time.Minute)
	p := New(auth, store, live, ratelimit.New(nil), catalog, cfg)

	return is, &fixture{pipeline: p, store: store, live: live, catalog: catalog}
}

func telemetrySource(deviceID int64) types.Source {
	return types.Source{
		Transport:   types.TransportBroker,
		DeviceID:    deviceID,
		Topic:       "iotflow/devices/7/telemetry",
		Measurement: "telemetry",
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestAcceptsTelemetryAndRefreshesLiveness(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	outcome := f.pipeline.Ingest(ctx, telemetrySource(7), []byte(`{"api_key": "K7", "data": {"temperature": 21.5, "humidity": 48}}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(outcome.DeviceID, int64(7))
	is.Equal(outcome.Points, 2)

	is.Equal(len(f.store.AppendCalls()), 1)
	is.Equal(f.store.AppendCalls()[0].Batch.DeviceID, int64(7))

	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessOnline)
	is.Equal(len(f.catalog.TouchLastSeenCalls()), 1)
}

func TestRejectsUnknownKeyWithoutStoring(t *testing.T) {
	is, f := testSetup(t, Config{})

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{"api_key": "NOPE", "data": {"t": 1}}`))

	is.Equal(outcome.Status, RejectedUnknownKey)
	is.Equal(len(f.store.AppendCalls()), 0)
}

func TestRejectsInactiveDevice(t *testing.T) {
	is, f := testSetup(t, Config{})

	source := telemetrySource(8)
	source.Topic = "iotflow/devices/8/telemetry"

	outcome := f.pipeline.Ingest(context.Background(), source, []byte(`{"api_key": "K8", "data": {"t": 1}}`))

	is.Equal(outcome.Status, RejectedInactive)
	is.Equal(len(f.store.AppendCalls()), 0)
}

func TestRejectsTopicOfForeignDevice(t *testing.T) {
	is, f := testSetup(t, Config{})

	source := telemetrySource(9)
	source.Topic = "iotflow/devices/9/telemetry"

	outcome := f.pipeline.Ingest(context.Background(), source, []byte(`{"api_key": "K7", "data": {"t": 1}}`))

	is.Equal(outcome.Status, RejectedForbidden)
	is.Equal(len(f.store.AppendCalls()), 0)
}

func TestRejectsUnparseablePayload(t *testing.T) {
	is, f := testSetup(t, Config{})

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{{{`))

	is.Equal(outcome.Status, RejectedMalformed)
	is.Equal(len(f.store.AppendCalls()), 0)
}

func TestCatalogOutageMapsToUnavailable(t *testing.T) {
	is, f := testSetup(t, Config{})

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{"api_key": "BOOM", "data": {"t": 1}}`))

	is.Equal(outcome.Status, StoreUnavailable)
	is.Equal(len(f.store.AppendCalls()), 0)
}

func TestRateLimitsPerDevice(t *testing.T) {
	is, f := testSetup(t, Config{MaxMessagesPerDevice: 3, RateWindow: time.Minute})
	ctx := context.Background()
	payload := []byte(`{"api_key": "K7", "data": {"t": 1}}`)

	accepted := 0
	var limited Outcome
	for i := 0; i < 10; i++ {
		outcome := f.pipeline.Ingest(ctx, telemetrySource(7), payload)
		if outcome.Status == Accepted {
			accepted++
			continue
		}
		limited = outcome
	}

	is.Equal(accepted, 3)
	is.Equal(limited.Status, RateLimited)
	is.True(limited.RetryAfter > 0)
	is.True(limited.RetryAfter <= time.Minute)
	is.Equal(len(f.store.AppendCalls()), 3)
}

func TestStoreFailureDoesNotRefreshLiveness(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	f.store.AppendFunc = func(ctx context.Context, batch types.SampleBatch) error {
		return errors.New("write refused")
	}

	outcome := f.pipeline.Ingest(ctx, telemetrySource(7), []byte(`{"api_key": "K7", "data": {"t": 1}}`))

	is.Equal(outcome.Status, StoreUnavailable)
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessUnknown)
	is.Equal(len(f.catalog.TouchLastSeenCalls()), 0)
}

func TestTransientStoreFailureIsRetried(t *testing.T) {
	is, f := testSetup(t, Config{})

	attempts := 0
	f.store.AppendFunc = func(ctx context.Context, batch types.SampleBatch) error {
		attempts++
		if attempts < 3 {
			return timeseries.ErrTransient
		}
		return nil
	}

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{"api_key": "K7", "data": {"t": 1}}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(attempts, 3)
}

func TestPersistentTransientFailureGivesUpAfterThreeAttempts(t *testing.T) {
	is, f := testSetup(t, Config{})

	f.store.AppendFunc = func(ctx context.Context, batch types.SampleBatch) error {
		return timeseries.ErrTransient
	}

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{"api_key": "K7", "data": {"t": 1}}`))

	is.Equal(outcome.Status, StoreUnavailable)
	is.Equal(len(f.store.AppendCalls()), 3)
}

func TestHeartbeatTouchesWithoutStoring(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	source := telemetrySource(7)
	source.Topic = "iotflow/devices/7/heartbeat"

	outcome := f.pipeline.IngestHeartbeat(ctx, source, []byte(`{"api_key": "K7"}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(len(f.store.AppendCalls()), 0)
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessOnline)
	is.Equal(len(f.catalog.TouchLastSeenCalls()), 1)
}

func TestStatusOfflineMarksDeviceOffline(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	source := telemetrySource(7)
	source.Topic = "iotflow/devices/7/heartbeat"
	f.pipeline.IngestHeartbeat(ctx, source, []byte(`{"api_key": "K7"}`))
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessOnline)

	source.Topic = "iotflow/devices/7/status/offline"
	outcome := f.pipeline.IngestStatus(ctx, source, []byte(`{"api_key": "K7", "status": "offline"}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessOffline)
}

func TestStaleRetainedStatusDoesNotMarkOnline(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	source := telemetrySource(7)
	source.Topic = "iotflow/devices/7/status/online"
	source.Retained = true

	stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	outcome := f.pipeline.IngestStatus(ctx, source, []byte(`{"api_key": "K7", "status": "online", "timestamp": "`+stale+`"}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessUnknown)
	is.Equal(len(f.catalog.TouchLastSeenCalls()), 0)
}

func TestFreshRetainedStatusStillCounts(t *testing.T) {
	is, f := testSetup(t, Config{})
	ctx := context.Background()

	source := telemetrySource(7)
	source.Topic = "iotflow/devices/7/status/online"
	source.Retained = true

	fresh := time.Now().UTC().Format(time.RFC3339)
	outcome := f.pipeline.IngestStatus(ctx, source, []byte(`{"api_key": "K7", "status": "online", "timestamp": "`+fresh+`"}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(f.live.Evaluate(ctx, 7, time.Now()), types.LivenessOnline)
}

func TestRejectsUnknownStatusValue(t *testing.T) {
	is, f := testSetup(t, Config{})

	source := telemetrySource(7)
	source.Topic = "iotflow/devices/7/status/online"

	outcome := f.pipeline.IngestStatus(context.Background(), source, []byte(`{"api_key": "K7", "status": "sleeping"}`))

	is.Equal(outcome.Status, RejectedMalformed)
}

func TestLastSeenFailureDoesNotRejectPayload(t *testing.T) {
	is, f := testSetup(t, Config{})

	f.catalog.TouchLastSeenFunc = func(ctx context.Context, deviceID int64, lastSeen time.Time) error {
		return errors.New("catalog busy")
	}

	outcome := f.pipeline.Ingest(context.Background(), telemetrySource(7), []byte(`{"api_key": "K7", "data": {"t": 1}}`))

	is.Equal(outcome.Status, Accepted)
	is.Equal(f.pipeline.Stats().LastSeenDeferrals, uint64(1))
}
