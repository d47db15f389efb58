package broker

import (
	"testing"

	"github.com/matryer/is"
)

func TestParseTelemetryTopic(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, err := s.Parse("iotflow/devices/7/telemetry")
	is.NoErr(err)
	is.Equal(topic.Kind, KindTelemetry)
	is.Equal(topic.DeviceID, int64(7))
	is.Equal(topic.Subtopic, "")
	is.Equal(topic.Measurement(), "telemetry")
}

func TestParseTelemetrySubtopic(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, err := s.Parse("iotflow/devices/7/telemetry/sensors")
	is.NoErr(err)
	is.Equal(topic.Subtopic, "sensors")
	is.Equal(topic.Measurement(), "sensors")
}

func TestParseStatusTopic(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, err := s.Parse("iotflow/devices/42/status/online")
	is.NoErr(err)
	is.Equal(topic.Kind, KindStatus)
	is.Equal(topic.DeviceID, int64(42))
	is.Equal(topic.Subtopic, "online")
}

func TestParseSystemTopic(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, err := s.Parse("iotflow/system/health")
	is.NoErr(err)
	is.Equal(topic.Kind, KindSystem)
	is.Equal(topic.DeviceID, int64(0))
}

func TestParseRejectsForeignRoot(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	_, err := s.Parse("otherroot/devices/7/telemetry")
	is.True(err != nil)
}

func TestParseRejectsBadDeviceID(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	for _, raw := range []string{
		"iotflow/devices/abc/telemetry",
		"iotflow/devices/-1/telemetry",
		"iotflow/devices/0/telemetry",
		"iotflow/devices/7",
	} {
		_, err := s.Parse(raw)
		is.True(err != nil)
	}
}

func TestMeasurementStripsReservedCharacters(t *testing.T) {
	is := is.New(t)

	topic := Topic{Subtopic: "sen sors;drop"}
	is.Equal(topic.Measurement(), "sensorsdrop")

	topic = Topic{Subtopic: "$$$"}
	is.Equal(topic.Measurement(), "telemetry")
}

func TestStatusTopicRetainPolicy(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, qos, retain := s.DeviceStatus(7, "online")
	is.Equal(topic, "iotflow/devices/7/status/online")
	is.Equal(qos, byte(1))
	is.True(retain)

	_, _, retain = s.DeviceStatus(7, "battery")
	is.True(!retain)
}

func TestCommandTopicPolicy(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, qos, retain := s.DeviceCommand(7, "firmware")
	is.Equal(topic, "iotflow/devices/7/commands/firmware")
	is.Equal(qos, byte(2))
	is.True(retain)

	_, qos, retain = s.DeviceCommand(7, "reboot")
	is.Equal(qos, byte(2))
	is.True(!retain)
}

func TestDeviceTopicsRoundTripThroughParse(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	topic, qos, retain := s.DeviceTelemetry(7, "sensors")
	is.Equal(qos, byte(1))
	is.True(!retain)
	parsed, err := s.Parse(topic)
	is.NoErr(err)
	is.Equal(parsed.Kind, KindTelemetry)
	is.Equal(parsed.DeviceID, int64(7))
	is.Equal(parsed.Measurement(), "sensors")

	topic, qos, retain = s.DeviceHeartbeat(7)
	is.Equal(qos, byte(0))
	is.True(!retain)
	parsed, err = s.Parse(topic)
	is.NoErr(err)
	is.Equal(parsed.Kind, KindHeartbeat)
}

func TestSubscriptionFiltersCoverCoreSet(t *testing.T) {
	is := is.New(t)
	s := NewSchema("iotflow")

	filters := s.SubscriptionFilters()
	is.Equal(filters["iotflow/devices/+/telemetry"], byte(1))
	is.Equal(filters["iotflow/devices/+/telemetry/+"], byte(1))
	is.Equal(filters["iotflow/devices/+/status/+"], byte(1))
	_, ok := filters["iotflow/system/+"]
	is.True(ok)
}
