package types

import (
	"time"
)

const (
	DeviceStatusActive      = "active"
	DeviceStatusInactive    = "inactive"
	DeviceStatusMaintenance = "maintenance"
)

type Device struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	APIKey     string `json:"apiKey,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Status     string `json:"status"`

	Firmware string `json:"firmware,omitempty"`
	Hardware string `json:"hardware,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

func (d Device) IsActive() bool {
	return d.Status == DeviceStatusActive
}

// A Point is a single field observation. Values are restricted to
// bool, int64, float64 and string by the normalizer.
type Point struct {
	Name  string            `json:"name"`
	Value any               `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

// A SampleBatch is the canonical form of one ingested payload. All
// points in a batch share the batch timestamp.
type SampleBatch struct {
	DeviceID    int64     `json:"deviceID"`
	DeviceType  string    `json:"deviceType,omitempty"`
	Measurement string    `json:"measurement"`
	Timestamp   time.Time `json:"timestamp"`
	Points      []Point   `json:"points"`
}

const (
	LivenessOnline  = "online"
	LivenessOffline = "offline"
	LivenessUnknown = "unknown"
)

type LivenessRecord struct {
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
	Version  uint64    `json:"-"`
}

const (
	TransportBroker  = "broker"
	TransportRequest = "request"
)

// Source identifies where a payload entered the system. Both
// transports construct the same value so that the ingestion pipeline
// stays transport agnostic.
type Source struct {
	Transport string
	RemoteIP  string

	// APIKey is the credential presented with the request. On the
	// broker path it is extracted from the payload by the pipeline.
	APIKey string

	// DeviceID is the id claimed by the topic or endpoint path, or
	// zero when the path does not name a device.
	DeviceID int64

	// ClaimedDeviceID is a device id found inside the payload itself,
	// or zero. It is never trusted on its own; any disagreement with
	// the key or the path is a hard reject.
	ClaimedDeviceID int64

	// Topic is the full broker topic, empty on the request path.
	Topic string

	// Measurement is the name derived from the topic suffix, or
	// "telemetry" on the request path.
	Measurement string

	ReceivedAt time.Time
	QoS        byte
	Retained   bool
}

type Collection[T any] struct {
	Data       []T    `json:"data"`
	Count      uint64 `json:"count"`
	Offset     uint64 `json:"offset"`
	Limit      uint64 `json:"limit"`
	TotalCount uint64 `json:"totalCount"`
}
