package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/pkg/types"
)

var tracer = otel.Tracer("iot-telemetry/health")

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	DefaultInterval   = 60 * time.Second
	DefaultScanBudget = 1000
)

//go:generate moq -rm -out devicecensus_mock.go . DeviceCensus
type DeviceCensus interface {
	CountDevices(ctx context.Context, conditions ...storage.ConditionFunc) (uint64, error)
	ListActiveDevices(ctx context.Context) ([]types.Device, error)
	Ping(ctx context.Context) error
}

//go:generate moq -rm -out publisher_mock.go . Publisher
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
}

type Check struct {
	Status  string `json:"status"`
	Latency int64  `json:"latencyMillis"`
	Error   string `json:"error,omitempty"`
}

type Snapshot struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int64     `json:"uptimeSeconds"`

	Checks map[string]Check `json:"checks"`

	Devices struct {
		Total  uint64 `json:"total"`
		Active int    `json:"active"`
		Online int    `json:"online"`
	} `json:"devices"`

	Telemetry struct {
		LastHour int64 `json:"lastHour"`
		LastDay  int64 `json:"lastDay"`
	} `json:"telemetry"`

	System struct {
		CPUPercent    float64 `json:"cpuPercent"`
		MemoryPercent float64 `json:"memoryPercent"`
		DiskPercent   float64 `json:"diskPercent"`
		Load1         float64 `json:"load1"`
	} `json:"system"`
}

type Config struct {
	Interval   time.Duration
	ScanBudget int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ScanBudget <= 0 {
		c.ScanBudget = DefaultScanBudget
	}
	return c
}

// Aggregator produces health snapshots on demand and runs the
// background loop that reconciles the liveness cache against the
// device catalog and publishes the snapshot on the system topic.
type Aggregator struct {
	cfg Config

	census DeviceCensus
	store  timeseries.Store
	live   liveness.Cache
	pub    Publisher
	schema broker.Schema

	startedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(census DeviceCensus, store timeseries.Store, live liveness.Cache, pub Publisher, schema broker.Schema, cfg Config) *Aggregator {
	return &Aggregator{
		cfg:       cfg.withDefaults(),
		census:    census,
		store:     store,
		live:      live,
		pub:       pub,
		schema:    schema,
		startedAt: time.Now(),
	}
}

// Snapshot checks every backing service and gathers fleet and host
// metrics. It never fails; unreachable services are reported through
// the snapshot status instead.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	ctx, span := tracer.Start(ctx, "health-snapshot")
	defer span.End()

	now := time.Now().UTC()

	s := Snapshot{
		Status:    StatusHealthy,
		Timestamp: now,
		Uptime:    int64(now.Sub(a.startedAt).Seconds()),
		Checks:    map[string]Check{},
	}

	catalog := a.check(ctx, a.census.Ping)
	store := a.check(ctx, a.store.Ping)
	shared := a.check(ctx, a.live.Ping)

	s.Checks["catalog"] = catalog
	s.Checks["timeseries"] = store
	s.Checks["liveness"] = shared

	// the shared liveness tier is optional, losing it only degrades
	if catalog.Status != StatusHealthy || store.Status != StatusHealthy {
		s.Status = StatusUnhealthy
	} else if shared.Status != StatusHealthy {
		s.Status = StatusDegraded
	}

	if total, err := a.census.CountDevices(ctx); err == nil {
		s.Devices.Total = total
	}

	if active, err := a.census.ListActiveDevices(ctx); err == nil {
		s.Devices.Active = len(active)

		scanned := active
		if len(scanned) > a.cfg.ScanBudget {
			scanned = scanned[:a.cfg.ScanBudget]
		}
		for _, d := range scanned {
			if a.live.Evaluate(ctx, d.ID, now) == types.LivenessOnline {
				s.Devices.Online++
			}
		}
	}

	if n, err := a.store.Count(ctx, 0, now.Add(-time.Hour)); err == nil {
		s.Telemetry.LastHour = n
	}
	if n, err := a.store.Count(ctx, 0, now.Add(-24*time.Hour)); err == nil {
		s.Telemetry.LastDay = n
	}

	a.collectSystem(&s)

	return s
}

func (a *Aggregator) check(ctx context.Context, ping func(context.Context) error) Check {
	started := time.Now()
	err := ping(ctx)
	c := Check{Status: StatusHealthy, Latency: time.Since(started).Milliseconds()}
	if err != nil {
		c.Status = StatusUnhealthy
		c.Error = err.Error()
	}
	return c
}

func (a *Aggregator) collectSystem(s *Snapshot) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.System.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.System.MemoryPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		s.System.DiskPercent = du.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.System.Load1 = avg.Load1
	}
}

// Start runs the reconcile and publish loop until Stop is called.
func (a *Aggregator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	a.wg.Add(1)
	go a.run(loopCtx)
}

func (a *Aggregator) Stop(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Reconcile(ctx)
			a.publish(ctx)
		}
	}
}

// Reconcile walks the active fleet, bounded by the scan budget, and
// repairs liveness drift in both directions: cached online entries
// whose last seen has aged out are downgraded, and devices the cache
// has never seen are seeded from the catalog's last seen mark.
func (a *Aggregator) Reconcile(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "health-reconcile")
	defer span.End()

	log := logging.GetFromContext(ctx)

	devices, err := a.census.ListActiveDevices(ctx)
	if err != nil {
		log.Warn("reconcile skipped, catalog unavailable", "err", err.Error())
		return
	}

	if len(devices) > a.cfg.ScanBudget {
		devices = devices[:a.cfg.ScanBudget]
	}

	now := time.Now().UTC()
	downgraded, seeded := 0, 0

	for _, d := range devices {
		rec, ok := a.live.Get(ctx, d.ID)

		if ok && rec.Status == types.LivenessOnline && now.Sub(rec.LastSeen) >= liveness.DefaultFreshnessWindow {
			a.live.SetStatus(ctx, d.ID, types.LivenessOffline)
			downgraded++
			continue
		}

		if !ok && d.LastSeen != nil && now.Sub(*d.LastSeen) < liveness.DefaultFreshnessWindow {
			a.live.Touch(ctx, d.ID, *d.LastSeen)
			seeded++
		}
	}

	if downgraded > 0 || seeded > 0 {
		log.Info("liveness reconciled", "scanned", len(devices), "downgraded", downgraded, "seeded", seeded)
	}
}

func (a *Aggregator) publish(ctx context.Context) {
	snapshot := a.Snapshot(ctx)

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}

	topic, qos, retain := a.schema.SystemHealth()
	err = a.pub.Publish(ctx, topic, qos, retain, payload)
	if err != nil {
		logging.GetFromContext(ctx).Debug("health publish skipped", "err", err.Error())
	}
}
