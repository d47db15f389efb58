package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/diwise/iot-telemetry/pkg/types"
)

var ErrMalformed = errors.New("malformed payload")

// reserved top-level keys that never become fields; a flat-form
// status describes the reading and is stored as a tag instead
var reservedKeys = map[string]struct{}{
	"api_key":   {},
	"timestamp": {},
	"ts":        {},
	"device_id": {},
	"metadata":  {},
	"status":    {},
}

// Credentials are the parts of a payload needed before
// authentication: the presented key and any device id the payload
// claims for itself.
type Credentials struct {
	APIKey          string
	ClaimedDeviceID int64
}

// ExtractCredentials parses just enough of a payload to find the api
// key, without trusting anything else in it.
func ExtractCredentials(raw []byte) (Credentials, error) {
	var envelope struct {
		APIKey   string          `json:"api_key"`
		DeviceID json.RawMessage `json:"device_id"`
	}

	err := json.Unmarshal(raw, &envelope)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}

	c := Credentials{APIKey: envelope.APIKey}

	if len(envelope.DeviceID) > 0 {
		var id int64
		if json.Unmarshal(envelope.DeviceID, &id) == nil {
			c.ClaimedDeviceID = id
		}
	}

	return c, nil
}

// Normalize converts a payload in either the structured form (a
// "data" object) or the legacy flat form into a canonical sample
// batch for the authorized device.
func Normalize(source types.Source, device types.Device, raw []byte) (types.SampleBatch, error) {
	values, err := decodeObject(raw)
	if err != nil {
		return types.SampleBatch{}, err
	}

	ts, err := resolveTimestamp(values, source.ReceivedAt)
	if err != nil {
		return types.SampleBatch{}, err
	}

	tags, err := metadataTags(values)
	if err != nil {
		return types.SampleBatch{}, err
	}

	if _, structured := values["data"]; !structured {
		if s, ok := scalarString(values["status"]); ok {
			if tags == nil {
				tags = map[string]string{}
			}
			tags["status"] = s
		}
	}

	fields, err := fieldValues(values)
	if err != nil {
		return types.SampleBatch{}, err
	}

	if len(fields) == 0 {
		return types.SampleBatch{}, fmt.Errorf("%w: no telemetry fields in payload", ErrMalformed)
	}

	measurement := source.Measurement
	if measurement == "" {
		measurement = "telemetry"
	}

	names := lo.Keys(fields)
	sort.Strings(names)

	points := make([]types.Point, 0, len(names))
	for _, name := range names {
		points = append(points, types.Point{Name: name, Value: fields[name], Tags: tags})
	}

	return types.SampleBatch{
		DeviceID:    device.ID,
		DeviceType:  device.DeviceType,
		Measurement: measurement,
		Timestamp:   ts,
		Points:      points,
	}, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var values map[string]any
	err := dec.Decode(&values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err.Error())
	}

	return values, nil
}

// fieldValues applies the tagged branch: a "data" object makes every
// one of its members a field, otherwise every non-reserved top-level
// key does.
func fieldValues(values map[string]any) (map[string]any, error) {
	source := values
	flat := true

	if data, ok := values["data"]; ok {
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: data is not an object", ErrMalformed)
		}
		source = obj
		flat = false
	}

	fields := make(map[string]any, len(source))

	for name, value := range source {
		if flat {
			if _, reserved := reservedKeys[name]; reserved {
				continue
			}
		}

		typed, err := typedValue(name, value)
		if err != nil {
			return nil, err
		}
		fields[name] = typed
	}

	return fields, nil
}

// typedValue maps JSON values onto the four supported field types:
// bool, int64, double and text. Nested objects and arrays are stored
// as their JSON encoding in a text field.
func typedValue(name string, value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return v, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("%w: field %s has unparseable number %s", ErrMalformed, name, v.String())
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s could not be encoded", ErrMalformed, name)
		}
		return string(b), nil
	}

	return nil, fmt.Errorf("%w: field %s has unsupported type", ErrMalformed, name)
}

// metadataTags turns the optional metadata object into string tags
// prefixed meta_. The reserved device_id and device_type tags are set
// by the pipeline and cannot be injected through metadata.
func metadataTags(values map[string]any) (map[string]string, error) {
	raw, ok := values["metadata"]
	if !ok {
		return nil, nil
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: metadata is not an object", ErrMalformed)
	}

	tags := make(map[string]string, len(obj))
	for k, v := range obj {
		if k == "device_id" || k == "device_type" {
			continue
		}
		switch tv := v.(type) {
		case string:
			tags["meta_"+k] = tv
		case bool:
			tags["meta_"+k] = strconv.FormatBool(tv)
		case json.Number:
			tags["meta_"+k] = tv.String()
		}
	}

	if len(tags) == 0 {
		return nil, nil
	}

	return tags, nil
}

func scalarString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func resolveTimestamp(values map[string]any, receivedAt time.Time) (time.Time, error) {
	raw, ok := values["timestamp"]
	if !ok {
		raw, ok = values["ts"]
	}
	if !ok {
		if receivedAt.IsZero() {
			return time.Now().UTC(), nil
		}
		return receivedAt.UTC(), nil
	}

	switch v := raw.(type) {
	case string:
		return ParseTimestamp(v)
	case json.Number:
		return epochToTime(v.String())
	}

	return time.Time{}, fmt.Errorf("%w: unsupported timestamp type", ErrMalformed)
}

// ParseTimestamp accepts ISO-8601 with or without a trailing Z, and
// numeric strings as epoch seconds or milliseconds (values at or
// above 10^10 are milliseconds).
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(s)
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, s)
}

func epochToTime(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformed, s)
	}

	if f >= 1e10 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}

	return time.UnixMilli(int64(f * 1000)).UTC(), nil
}
