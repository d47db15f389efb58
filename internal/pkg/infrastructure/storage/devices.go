package storage

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/diwise/iot-telemetry/pkg/types"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `id, name, api_key, device_type, status, firmware, hardware, created_on, modified_on, last_seen`

func scanDevice(row pgx.Row) (types.Device, error) {
	var d types.Device
	var lastSeen *time.Time

	err := row.Scan(&d.ID, &d.Name, &d.APIKey, &d.DeviceType, &d.Status, &d.Firmware, &d.Hardware, &d.CreatedAt, &d.UpdatedAt, &lastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Device{}, ErrDeviceNotFound
		}
		return types.Device{}, classify(err)
	}

	d.LastSeen = lastSeen

	return d, nil
}

func (s *Storage) GetDevice(ctx context.Context, conditions ...ConditionFunc) (types.Device, error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices ` + condition.Where() + ` LIMIT 1`

	var device types.Device
	err := retry(ctx, func(ctx context.Context) error {
		var err error
		device, err = scanDevice(s.pool.QueryRow(ctx, query, condition.NamedArgs()))
		return err
	})

	return device, err
}

func (s *Storage) GetDeviceByID(ctx context.Context, deviceID int64) (types.Device, error) {
	return s.GetDevice(ctx, WithDeviceID(deviceID))
}

// GetDeviceByAPIKey resolves a device from its presented credential.
// The presented key is compared against the stored one in constant
// time even though the index lookup already matched it.
func (s *Storage) GetDeviceByAPIKey(ctx context.Context, apiKey string) (types.Device, error) {
	device, err := s.GetDevice(ctx, WithAPIKey(apiKey))
	if err != nil {
		return types.Device{}, err
	}

	if subtle.ConstantTimeCompare([]byte(device.APIKey), []byte(apiKey)) != 1 {
		return types.Device{}, ErrDeviceNotFound
	}

	return device, nil
}

func (s *Storage) AddDevice(ctx context.Context, device types.Device) (types.Device, error) {
	args := pgx.NamedArgs{
		"name":        device.Name,
		"api_key":     device.APIKey,
		"device_type": device.DeviceType,
		"status":      device.Status,
		"firmware":    device.Firmware,
		"hardware":    device.Hardware,
	}

	err := retry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO devices (name, api_key, device_type, status, firmware, hardware)
			VALUES (@name, @api_key, @device_type, @status, @firmware, @hardware)
			RETURNING id, created_on, modified_on
		`, args)

		err := row.Scan(&device.ID, &device.CreatedAt, &device.UpdatedAt)
		if err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return types.Device{}, err
	}

	return device, nil
}

func (s *Storage) SetDeviceStatus(ctx context.Context, deviceID int64, status string) error {
	args := pgx.NamedArgs{
		"device_id": deviceID,
		"status":    status,
	}

	return retry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE devices SET status = @status, modified_on = CURRENT_TIMESTAMP
			WHERE id = @device_id
		`, args)
		if err != nil {
			return classify(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrDeviceNotFound
		}
		return nil
	})
}

// TouchLastSeen records activity for a device. Writes for the same
// device are coalesced to at most one per second; a coalesced call
// returns nil without touching the database. Failures here must not
// fail ingestion, the caller only counts and logs them.
func (s *Storage) TouchLastSeen(ctx context.Context, deviceID int64, ts time.Time) error {
	if !s.touchGate.admit(deviceID, ts) {
		return nil
	}

	args := pgx.NamedArgs{
		"device_id": deviceID,
		"last_seen": ts.UTC(),
	}

	err := retry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE devices SET last_seen = GREATEST(COALESCE(last_seen, @last_seen), @last_seen)
			WHERE id = @device_id
		`, args)
		return classify(err)
	})
	if err != nil {
		s.touchGate.forget(deviceID)
	}

	return err
}

func (s *Storage) QueryDevices(ctx context.Context, conditions ...ConditionFunc) (types.Collection[types.Device], error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	query := `SELECT ` + deviceColumns + `, count(*) OVER () FROM devices ` +
		condition.Where() + ` ORDER BY id ASC ` + condition.OffsetLimit()

	var collection types.Collection[types.Device]

	err := retry(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, condition.NamedArgs())
		if err != nil {
			return classify(err)
		}
		defer rows.Close()

		devices := make([]types.Device, 0)
		var total uint64

		for rows.Next() {
			var d types.Device
			var lastSeen *time.Time

			err := rows.Scan(&d.ID, &d.Name, &d.APIKey, &d.DeviceType, &d.Status, &d.Firmware, &d.Hardware, &d.CreatedAt, &d.UpdatedAt, &lastSeen, &total)
			if err != nil {
				return classify(err)
			}

			d.LastSeen = lastSeen
			devices = append(devices, d)
		}

		if rows.Err() != nil {
			return classify(rows.Err())
		}

		collection = types.Collection[types.Device]{
			Data:       devices,
			Count:      uint64(len(devices)),
			Offset:     uint64(condition.Offset()),
			Limit:      uint64(len(devices)),
			TotalCount: total,
		}

		return nil
	})

	return collection, err
}

func (s *Storage) ListActiveDevices(ctx context.Context) ([]types.Device, error) {
	collection, err := s.QueryDevices(ctx, WithStatus(types.DeviceStatusActive))
	if err != nil {
		return nil, err
	}
	return collection.Data, nil
}

func (s *Storage) CountDevices(ctx context.Context, conditions ...ConditionFunc) (uint64, error) {
	condition := &Condition{}
	for _, f := range conditions {
		f(condition)
	}

	var count uint64
	err := retry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT count(*) FROM devices `+condition.Where(), condition.NamedArgs())
		if err := row.Scan(&count); err != nil {
			return classify(err)
		}
		return nil
	})

	return count, err
}

// touchGate admits at most one last-seen write per device per window.
type touchGate struct {
	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time
}

func newTouchGate(window time.Duration) *touchGate {
	return &touchGate{
		window: window,
		last:   map[int64]time.Time{},
	}
}

func (g *touchGate) admit(deviceID int64, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[deviceID]; ok && ts.Sub(prev) < g.window {
		return false
	}

	g.last[deviceID] = ts
	return true
}

func (g *touchGate) forget(deviceID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, deviceID)
}
