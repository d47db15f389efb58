package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/diwise/iot-telemetry/pkg/types"
)

var testDevice = types.Device{ID: 42, DeviceType: "weather-station", Status: types.DeviceStatusActive}

func testSource() types.Source {
	return types.Source{
		Transport:   types.TransportBroker,
		Measurement: "telemetry",
		ReceivedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalizesStructuredPayload(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{
		"api_key": "K",
		"timestamp": "2026-03-01T11:59:30Z",
		"data": {"temperature": 21.5, "humidity": 48, "door_open": false, "label": "north"}
	}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(batch.DeviceID, int64(42))
	is.Equal(batch.DeviceType, "weather-station")
	is.Equal(batch.Measurement, "telemetry")
	is.Equal(batch.Timestamp, time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC))

	is.Equal(len(batch.Points), 4)
	is.Equal(batch.Points[0].Name, "door_open")
	is.Equal(batch.Points[0].Value, false)
	is.Equal(batch.Points[1].Name, "humidity")
	is.Equal(batch.Points[1].Value, int64(48))
	is.Equal(batch.Points[2].Name, "label")
	is.Equal(batch.Points[2].Value, "north")
	is.Equal(batch.Points[3].Name, "temperature")
	is.Equal(batch.Points[3].Value, 21.5)
}

func TestNormalizesFlatPayload(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"api_key": "K", "device_id": 42, "ts": "1704067260", "temperature": 19}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(len(batch.Points), 1)
	is.Equal(batch.Points[0].Name, "temperature")
	is.Equal(batch.Points[0].Value, int64(19))
	is.Equal(batch.Timestamp, time.Unix(1704067260, 0).UTC())
}

func TestReservedKeysNeverBecomeFields(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"api_key": "K", "device_id": 42, "timestamp": 1704067260, "metadata": {"site": "a"}, "co2": 412}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(len(batch.Points), 1)
	is.Equal(batch.Points[0].Name, "co2")
}

func TestFlatStatusBecomesTag(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"api_key": "K", "temperature": 19, "status": "ok"}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(len(batch.Points), 1)
	is.Equal(batch.Points[0].Name, "temperature")
	is.Equal(batch.Points[0].Tags["status"], "ok")
}

func TestStructuredStatusStaysAField(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"data": {"status": 3}}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(len(batch.Points), 1)
	is.Equal(batch.Points[0].Name, "status")
	is.Equal(batch.Points[0].Value, int64(3))
	is.Equal(len(batch.Points[0].Tags), 0)
}

func TestNestedValuesAreEncodedAsText(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"data": {"gps": {"lat": 57.7, "lon": 11.9}, "samples": [1, 2, 3]}}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	is.Equal(len(batch.Points), 2)
	is.Equal(batch.Points[0].Name, "gps")
	is.Equal(batch.Points[0].Value, `{"lat":57.7,"lon":11.9}`)
	is.Equal(batch.Points[1].Name, "samples")
	is.Equal(batch.Points[1].Value, "[1,2,3]")
}

func TestRejectsNullField(t *testing.T) {
	is := is.New(t)

	_, err := Normalize(testSource(), testDevice, []byte(`{"data": {"temperature": null}}`))
	is.True(errors.Is(err, ErrMalformed))
}

func TestRejectsPayloadWithoutFields(t *testing.T) {
	is := is.New(t)

	_, err := Normalize(testSource(), testDevice, []byte(`{"api_key": "K", "timestamp": 1704067260}`))
	is.True(errors.Is(err, ErrMalformed))

	_, err = Normalize(testSource(), testDevice, []byte(`{"data": {}}`))
	is.True(errors.Is(err, ErrMalformed))
}

func TestRejectsNonObjectPayload(t *testing.T) {
	is := is.New(t)

	_, err := Normalize(testSource(), testDevice, []byte(`[1,2,3]`))
	is.True(errors.Is(err, ErrMalformed))

	_, err = Normalize(testSource(), testDevice, []byte(`{"data": 17}`))
	is.True(errors.Is(err, ErrMalformed))

	_, err = Normalize(testSource(), testDevice, []byte(`not json`))
	is.True(errors.Is(err, ErrMalformed))
}

func TestMetadataBecomesPrefixedTags(t *testing.T) {
	is := is.New(t)

	payload := []byte(`{"data": {"rssi": -71}, "metadata": {"site": "rooftop", "channel": 6, "device_id": "spoofed"}}`)

	batch, err := Normalize(testSource(), testDevice, payload)
	is.NoErr(err)

	tags := batch.Points[0].Tags
	is.Equal(tags["meta_site"], "rooftop")
	is.Equal(tags["meta_channel"], "6")

	_, spoofed := tags["meta_device_id"]
	is.True(!spoofed)
}

func TestMissingTimestampUsesReceivedAt(t *testing.T) {
	is := is.New(t)

	src := testSource()
	batch, err := Normalize(src, testDevice, []byte(`{"data": {"temperature": 20}}`))
	is.NoErr(err)
	is.Equal(batch.Timestamp, src.ReceivedAt)
}

func TestMeasurementDefaultsToTelemetry(t *testing.T) {
	is := is.New(t)

	src := testSource()
	src.Measurement = ""

	batch, err := Normalize(src, testDevice, []byte(`{"data": {"temperature": 20}}`))
	is.NoErr(err)
	is.Equal(batch.Measurement, "telemetry")
}

func TestParseTimestamp(t *testing.T) {
	is := is.New(t)

	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-01T11:59:30Z", time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)},
		{"2026-03-01T11:59:30", time.Date(2026, 3, 1, 11, 59, 30, 0, time.UTC)},
		{"2026-03-01T11:59:30.500Z", time.Date(2026, 3, 1, 11, 59, 30, 500_000_000, time.UTC)},
		{"1704067260", time.Unix(1704067260, 0).UTC()},
		{"1704067260000", time.UnixMilli(1704067260000).UTC()},
	}

	for _, c := range cases {
		got, err := ParseTimestamp(c.in)
		is.NoErr(err)
		is.Equal(got, c.want)
	}

	_, err := ParseTimestamp("yesterday")
	is.True(errors.Is(err, ErrMalformed))
}

func TestExtractCredentials(t *testing.T) {
	is := is.New(t)

	c, err := ExtractCredentials([]byte(`{"api_key": "K7", "device_id": 7, "data": {"t": 1}}`))
	is.NoErr(err)
	is.Equal(c.APIKey, "K7")
	is.Equal(c.ClaimedDeviceID, int64(7))

	c, err = ExtractCredentials([]byte(`{"data": {"t": 1}}`))
	is.NoErr(err)
	is.Equal(c.APIKey, "")
	is.Equal(c.ClaimedDeviceID, int64(0))

	_, err = ExtractCredentials([]byte(`{{`))
	is.True(errors.Is(err, ErrMalformed))
}
