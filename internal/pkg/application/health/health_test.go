package health

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/pkg/types"
)

type fixture struct {
	census *DeviceCensusMock
	store  *timeseries.StoreMock
	live   liveness.Cache
	pub    *PublisherMock
}

func testSetup(t *testing.T, cfg Config) (*is.I, *Aggregator, *fixture) {
	is := is.New(t)

	census := &DeviceCensusMock{
		CountDevicesFunc: func(ctx context.Context, conditions ...storage.ConditionFunc) (uint64, error) {
			return 3, nil
		},
		ListActiveDevicesFunc: func(ctx context.Context) ([]types.Device, error) {
			return []types.Device{{ID: 1, Status: types.DeviceStatusActive}, {ID: 2, Status: types.DeviceStatusActive}}, nil
		},
		PingFunc: func(ctx context.Context) error { return nil },
	}

	store := &timeseries.StoreMock{
		PingFunc: func(ctx context.Context) error { return nil },
		CountFunc: func(ctx context.Context, deviceID int64, start time.Time) (int64, error) {
			if time.Since(start) < 2*time.Hour {
				return 60, nil
			}
			return 1440, nil
		},
	}

	live := liveness.New(nil, time.Hour, liveness.DefaultFreshnessWindow)
	pub := &PublisherMock{
		PublishFunc: func(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
			return nil
		},
	}

	a := New(census, store, live, pub, broker.NewSchema("iotflow"), cfg)

	return is, a, &fixture{census: census, store: store, live: live, pub: pub}
}

func TestSnapshotReportsHealthyFleet(t *testing.T) {
	is, a, f := testSetup(t, Config{})
	ctx := context.Background()

	f.live.Touch(ctx, 1, time.Now().UTC())
	f.live.Touch(ctx, 2, time.Now().Add(-10*time.Minute).UTC())

	s := a.Snapshot(ctx)

	is.Equal(s.Status, StatusHealthy)
	is.Equal(s.Devices.Total, uint64(3))
	is.Equal(s.Devices.Active, 2)
	is.Equal(s.Devices.Online, 1)
	is.Equal(s.Telemetry.LastHour, int64(60))
	is.Equal(s.Telemetry.LastDay, int64(1440))
}

func TestSnapshotUnhealthyWhenStoreIsDown(t *testing.T) {
	is, a, f := testSetup(t, Config{})

	f.store.PingFunc = func(ctx context.Context) error {
		return errors.New("connection refused")
	}

	s := a.Snapshot(context.Background())

	is.Equal(s.Status, StatusUnhealthy)
	is.Equal(s.Checks["timeseries"].Status, StatusUnhealthy)
	is.Equal(s.Checks["timeseries"].Error, "connection refused")
}

type flakySharedTier struct {
	liveness.Cache
}

func (f flakySharedTier) Ping(ctx context.Context) error {
	return errors.New("shared tier unreachable")
}

func TestSnapshotDegradedWhenSharedTierIsDown(t *testing.T) {
	is, a, f := testSetup(t, Config{})
	a.live = flakySharedTier{Cache: f.live}

	s := a.Snapshot(context.Background())

	is.Equal(s.Status, StatusDegraded)
	is.Equal(s.Checks["catalog"].Status, StatusHealthy)
}

func TestReconcileDowngradesStaleOnlineEntries(t *testing.T) {
	is, a, f := testSetup(t, Config{})
	ctx := context.Background()

	f.live.Touch(ctx, 1, time.Now().Add(-10*time.Minute).UTC())

	rec, ok := f.live.Get(ctx, 1)
	is.True(ok)
	is.Equal(rec.Status, types.LivenessOnline)

	a.Reconcile(ctx)

	rec, ok = f.live.Get(ctx, 1)
	is.True(ok)
	is.Equal(rec.Status, types.LivenessOffline)
}

func TestReconcileSeedsColdCacheFromCatalog(t *testing.T) {
	is, a, f := testSetup(t, Config{})
	ctx := context.Background()

	lastSeen := time.Now().Add(-time.Minute).UTC()
	f.census.ListActiveDevicesFunc = func(ctx context.Context) ([]types.Device, error) {
		return []types.Device{{ID: 5, Status: types.DeviceStatusActive, LastSeen: &lastSeen}}, nil
	}

	a.Reconcile(ctx)

	is.Equal(f.live.Evaluate(ctx, 5, time.Now()), types.LivenessOnline)
}

func TestReconcileHonorsScanBudget(t *testing.T) {
	is, a, f := testSetup(t, Config{ScanBudget: 1})
	ctx := context.Background()

	f.live.Touch(ctx, 1, time.Now().Add(-10*time.Minute).UTC())
	f.live.Touch(ctx, 2, time.Now().Add(-10*time.Minute).UTC())

	a.Reconcile(ctx)

	rec, _ := f.live.Get(ctx, 1)
	is.Equal(rec.Status, types.LivenessOffline)

	rec, _ = f.live.Get(ctx, 2)
	is.Equal(rec.Status, types.LivenessOnline)
}

func TestLoopPublishesSnapshotOnSystemTopic(t *testing.T) {
	is, a, f := testSetup(t, Config{Interval: 10 * time.Millisecond})
	ctx := context.Background()

	a.Start(ctx)
	time.Sleep(60 * time.Millisecond)
	a.Stop(ctx)

	calls := f.pub.PublishCalls()
	is.True(len(calls) > 0)
	is.Equal(calls[0].Topic, "iotflow/system/health")

	var s Snapshot
	is.NoErr(json.Unmarshal(calls[0].Payload, &s))
	is.Equal(s.Status, StatusHealthy)
}
