package timeseries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/iot-telemetry/pkg/types"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

var (
	ErrTransient   = errors.New("transient time-series error")
	ErrUnavailable = errors.New("time-series store unavailable")
)

// A Record is one pivoted row: every field observed for a device at a
// single timestamp.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	DeviceID   int64             `json:"deviceID"`
	DeviceType string            `json:"deviceType,omitempty"`
	Fields     map[string]any    `json:"fields"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

//go:generate moq -rm -out timeseries_mock.go . Store
type Store interface {
	EnsureSeries(ctx context.Context, deviceID int64, measurement, field, datatype string) error
	Append(ctx context.Context, batch types.SampleBatch) error
	QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]Record, error)
	QueryLatest(ctx context.Context, deviceID int64) (*Record, error)
	QueryAggregate(ctx context.Context, deviceID int64, field string, start time.Time, window time.Duration, fn string) ([]Record, error)
	Count(ctx context.Context, deviceID int64, start time.Time) (int64, error)
	DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) error
	Ping(ctx context.Context) error
}

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Root   string
}

type influxStore struct {
	client influxdb2.Client
	write  influxdb2api.WriteAPIBlocking
	query  influxdb2api.QueryAPI
	delete influxdb2api.DeleteAPI

	org    string
	bucket string
	root   string
}

func New(cfg Config) Store {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Millisecond))

	root := cfg.Root
	if root == "" {
		root = "iotflow"
	}

	return &influxStore{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		delete: client.DeleteAPI(),
		org:    cfg.Org,
		bucket: cfg.Bucket,
		root:   root,
	}
}

// SeriesPath returns the logical path of a field series. The field
// name is the only user-controlled segment and is escaped so it can
// never break out of the device subtree.
func SeriesPath(root string, deviceID int64, field string) string {
	return fmt.Sprintf("%s.devices.device_%d.%s", root, deviceID, EscapeField(field))
}

var fieldEscaper = strings.NewReplacer(
	".", "_", " ", "_", ",", "_", "=", "_", "\"", "_", "'", "_",
	"\n", "_", "\t", "_", "/", "_", "\\", "_",
)

func EscapeField(field string) string {
	return fieldEscaper.Replace(field)
}

// EnsureSeries is a no-op against InfluxDB, which creates series on
// first write. It still validates the datatype so the pipeline fails
// before writing anything it could not read back.
func (s *influxStore) EnsureSeries(ctx context.Context, deviceID int64, measurement, field, datatype string) error {
	switch datatype {
	case "bool", "int64", "double", "text":
		return nil
	}
	return fmt.Errorf("unsupported datatype %s for series %s", datatype, SeriesPath(s.root, deviceID, field))
}

// Append writes a batch in a single call so that a failure leaves no
// partial batch behind. Timestamps are written with millisecond
// precision; (series, timestamp) is the idempotency key, a rewrite of
// the same batch overwrites the same points.
func (s *influxStore) Append(ctx context.Context, batch types.SampleBatch) error {
	if len(batch.Points) == 0 {
		return nil
	}

	measurement := batch.Measurement
	if measurement == "" {
		measurement = "telemetry"
	}

	points := make([]*write.Point, 0, len(batch.Points))

	for _, p := range batch.Points {
		tags := map[string]string{
			"device_id":   fmt.Sprintf("%d", batch.DeviceID),
			"device_type": batch.DeviceType,
		}
		for k, v := range p.Tags {
			tags[k] = v
		}

		field := EscapeField(p.Name)
		points = append(points, influxdb2.NewPoint(measurement, tags, map[string]any{field: p.Value}, batch.Timestamp.UTC()))
	}

	err := s.write.WritePoint(ctx, points...)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	return nil
}

func (s *influxStore) QueryRange(ctx context.Context, deviceID int64, start, end time.Time, limit int) ([]Record, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s, stop: %s)
			|> filter(fn: (r) => r["device_id"] == "%d")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, s.bucket, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), deviceID, limit)

	return s.queryRecords(ctx, deviceID, flux)
}

func (s *influxStore) QueryLatest(ctx context.Context, deviceID int64) (*Record, error) {
	flux := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r["device_id"] == "%d")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, s.bucket, deviceID)

	records, err := s.queryRecords(ctx, deviceID, flux)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	return &records[0], nil
}

func (s *influxStore) QueryAggregate(ctx context.Context, deviceID int64, field string, start time.Time, window time.Duration, fn string) ([]Record, error) {
	switch fn {
	case "mean", "min", "max", "sum", "count":
	default:
		return nil, fmt.Errorf("unsupported aggregate function %s", fn)
	}

	flux := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s)
			|> filter(fn: (r) => r["device_id"] == "%d")
			|> filter(fn: (r) => r["_field"] == "%s")
			|> aggregateWindow(every: %s, fn: %s, createEmpty: false)
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
	`, s.bucket, start.UTC().Format(time.RFC3339), deviceID, EscapeField(field), window.String(), fn)

	return s.queryRecords(ctx, deviceID, flux)
}

// Count returns the number of stored values since start. A deviceID
// of zero or less counts across all devices.
func (s *influxStore) Count(ctx context.Context, deviceID int64, start time.Time) (int64, error) {
	deviceFilter := ""
	if deviceID > 0 {
		deviceFilter = fmt.Sprintf(`|> filter(fn: (r) => r["device_id"] == "%d")`, deviceID)
	}

	flux := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: %s)
			%s
			|> group()
			|> count(column: "_value")
	`, s.bucket, start.UTC().Format(time.RFC3339), deviceFilter)

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}
	defer result.Close()

	var count int64
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			count += v
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("%w: %s", ErrTransient, result.Err().Error())
	}

	return count, nil
}

func (s *influxStore) DeleteRange(ctx context.Context, deviceID int64, start, end time.Time) error {
	predicate := fmt.Sprintf(`device_id="%d"`, deviceID)

	err := s.delete.DeleteWithName(ctx, s.org, s.bucket, start.UTC(), end.UTC(), predicate)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	return nil
}

func (s *influxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err.Error())
	}
	if !ok {
		return ErrUnavailable
	}
	return nil
}

func (s *influxStore) queryRecords(ctx context.Context, deviceID int64, flux string) ([]Record, error) {
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}
	defer result.Close()

	records := make([]Record, 0)

	for result.Next() {
		row := result.Record()

		rec := Record{
			Timestamp: row.Time(),
			DeviceID:  deviceID,
			Fields:    map[string]any{},
		}

		for k, v := range row.Values() {
			switch {
			case k == "device_type":
				if s, ok := v.(string); ok {
					rec.DeviceType = s
				}
			case strings.HasPrefix(k, "meta_"):
				if rec.Metadata == nil {
					rec.Metadata = map[string]string{}
				}
				rec.Metadata[strings.TrimPrefix(k, "meta_")] = fmt.Sprintf("%v", v)
			case strings.HasPrefix(k, "_"), k == "device_id", k == "result", k == "table":
			default:
				rec.Fields[k] = v
			}
		}

		records = append(records, rec)
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransient, result.Err().Error())
	}

	return records, nil
}
