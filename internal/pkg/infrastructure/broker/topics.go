package broker

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultRoot = "iotflow"

type Kind string

const (
	KindTelemetry  Kind = "telemetry"
	KindStatus     Kind = "status"
	KindHeartbeat  Kind = "heartbeat"
	KindCommand    Kind = "commands"
	KindConfig     Kind = "config"
	KindFleet      Kind = "fleet"
	KindSystem     Kind = "system"
	KindMonitoring Kind = "monitoring"
	KindDiscovery  Kind = "discovery"
)

// Topic is the parsed form of an incoming topic string.
type Topic struct {
	Raw      string
	Root     string
	Kind     Kind
	DeviceID int64
	Subtopic string
}

// Measurement derives a measurement name from the topic suffix.
// Telemetry on the bare topic stores under "telemetry", a subtopic
// such as .../telemetry/sensors stores under "sensors". Reserved
// characters are stripped.
func (t Topic) Measurement() string {
	if t.Subtopic == "" {
		return "telemetry"
	}

	suffix := t.Subtopic
	if i := strings.LastIndex(suffix, "/"); i >= 0 {
		suffix = suffix[i+1:]
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, suffix)

	if cleaned == "" {
		return "telemetry"
	}

	return cleaned
}

// Schema knows the topic layout under a configurable root and the
// QoS/retain policy each topic class carries.
type Schema struct {
	Root string
}

func NewSchema(root string) Schema {
	if root == "" {
		root = DefaultRoot
	}
	return Schema{Root: root}
}

// Parse splits an incoming topic into (kind, device id, subtopic).
// Topics outside the schema are rejected.
func (s Schema) Parse(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")

	if len(parts) < 2 || parts[0] != s.Root {
		return Topic{}, fmt.Errorf("topic %q is not rooted at %q", topic, s.Root)
	}

	t := Topic{Raw: topic, Root: s.Root}

	switch parts[1] {
	case "devices":
		if len(parts) < 4 {
			return Topic{}, fmt.Errorf("device topic %q lacks a kind segment", topic)
		}

		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || id <= 0 {
			return Topic{}, fmt.Errorf("invalid device id in topic %q", topic)
		}
		t.DeviceID = id

		switch parts[3] {
		case "telemetry":
			t.Kind = KindTelemetry
		case "status":
			t.Kind = KindStatus
		case "heartbeat":
			t.Kind = KindHeartbeat
		case "commands":
			t.Kind = KindCommand
		case "config":
			t.Kind = KindConfig
		default:
			return Topic{}, fmt.Errorf("unknown device topic kind %q", parts[3])
		}

		t.Subtopic = strings.Join(parts[4:], "/")

	case "fleet":
		t.Kind = KindFleet
		t.Subtopic = strings.Join(parts[2:], "/")
	case "system":
		t.Kind = KindSystem
		t.Subtopic = strings.Join(parts[2:], "/")
	case "monitoring":
		t.Kind = KindMonitoring
		t.Subtopic = strings.Join(parts[2:], "/")
	case "discovery":
		t.Kind = KindDiscovery
		t.Subtopic = strings.Join(parts[2:], "/")
	default:
		return Topic{}, fmt.Errorf("unknown topic class %q", parts[1])
	}

	return t, nil
}

// SubscriptionFilters is the core subscriber set with the QoS each
// pattern is consumed at.
func (s Schema) SubscriptionFilters() map[string]byte {
	return map[string]byte{
		s.Root + "/devices/+/telemetry":   1,
		s.Root + "/devices/+/telemetry/+": 1,
		s.Root + "/devices/+/status/+":    1,
		s.Root + "/devices/+/heartbeat":   0,
		s.Root + "/system/+":              0,
		s.Root + "/discovery/+/+":         0,
	}
}

func (s Schema) DeviceTelemetry(deviceID int64, subtopic string) (string, byte, bool) {
	t := fmt.Sprintf("%s/devices/%d/telemetry", s.Root, deviceID)
	if subtopic != "" {
		t += "/" + subtopic
	}
	return t, 1, false
}

// DeviceStatus topics retain online/offline so late subscribers see
// the last announced state.
func (s Schema) DeviceStatus(deviceID int64, kind string) (string, byte, bool) {
	retain := kind == "online" || kind == "offline"
	return fmt.Sprintf("%s/devices/%d/status/%s", s.Root, deviceID, kind), 1, retain
}

func (s Schema) DeviceHeartbeat(deviceID int64) (string, byte, bool) {
	return fmt.Sprintf("%s/devices/%d/heartbeat", s.Root, deviceID), 0, false
}

// DeviceCommand topics are exactly-once; config and firmware are
// retained so devices receive them on reconnect.
func (s Schema) DeviceCommand(deviceID int64, kind string) (string, byte, bool) {
	retain := kind == "config" || kind == "firmware"
	return fmt.Sprintf("%s/devices/%d/commands/%s", s.Root, deviceID, kind), 2, retain
}

func (s Schema) DeviceConfig(deviceID int64) (string, byte, bool) {
	return fmt.Sprintf("%s/devices/%d/config", s.Root, deviceID), 1, true
}

func (s Schema) FleetCommand(group string) (string, byte, bool) {
	return fmt.Sprintf("%s/fleet/commands/%s", s.Root, group), 2, true
}

func (s Schema) SystemHealth() (string, byte, bool) {
	return s.Root + "/system/health", 0, false
}

// AllowedPublishPrefixes lists the topic subtrees a device may
// publish to, AllowedSubscribePrefixes the ones it may subscribe to.
func (s Schema) AllowedPublishPrefixes(deviceID int64) []string {
	base := fmt.Sprintf("%s/devices/%d/", s.Root, deviceID)
	return []string{
		base + "telemetry",
		base + "status",
		base + "heartbeat",
	}
}

func (s Schema) AllowedSubscribePrefixes(deviceID int64) []string {
	base := fmt.Sprintf("%s/devices/%d/", s.Root, deviceID)
	return []string{
		base + "commands",
		base + "config",
	}
}
