package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
)

var tracer = otel.Tracer("iot-telemetry/commands")

var ErrInvalidCommand = errors.New("invalid command")

// A Command is the envelope published on a device's command topic.
// Devices deduplicate redeliveries on the id.
type Command struct {
	ID       string          `json:"command_id"`
	Command  string          `json:"command"`
	Params   json.RawMessage `json:"params,omitempty"`
	IssuedAt time.Time       `json:"issued_at"`
}

//go:generate moq -rm -out publisher_mock.go . Publisher
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
}

type Sender struct {
	pub    Publisher
	schema broker.Schema
}

func New(pub Publisher, schema broker.Schema) *Sender {
	return &Sender{pub: pub, schema: schema}
}

// Send publishes a command to one device. Config and firmware
// commands are retained so the device picks them up on reconnect;
// everything else is delivered exactly once to a live subscription.
func (s *Sender) Send(ctx context.Context, deviceID int64, kind, command string, params json.RawMessage) (Command, error) {
	var err error

	ctx, span := tracer.Start(ctx, "send-command")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err = validateSegment(kind); err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(command) == "" {
		err = fmt.Errorf("%w: empty command", ErrInvalidCommand)
		return Command{}, err
	}

	cmd := Command{
		ID:       uuid.NewString(),
		Command:  command,
		Params:   params,
		IssuedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, err
	}

	topic, qos, retain := s.schema.DeviceCommand(deviceID, kind)

	err = s.pub.Publish(ctx, topic, qos, retain, payload)
	if err != nil {
		return Command{}, err
	}

	return cmd, nil
}

// SendFleet publishes a retained command to every device in a group.
func (s *Sender) SendFleet(ctx context.Context, group, command string, params json.RawMessage) (Command, error) {
	if err := validateSegment(group); err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(command) == "" {
		return Command{}, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}

	cmd := Command{
		ID:       uuid.NewString(),
		Command:  command,
		Params:   params,
		IssuedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Command{}, err
	}

	topic, qos, retain := s.schema.FleetCommand(group)

	err = s.pub.Publish(ctx, topic, qos, retain, payload)
	if err != nil {
		return Command{}, err
	}

	return cmd, nil
}

// PushConfig replaces the retained configuration document on a
// device's config topic. The broker re-delivers it whenever the
// device resubscribes.
func (s *Sender) PushConfig(ctx context.Context, deviceID int64, config json.RawMessage) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(config, &doc); err != nil || len(doc) == 0 {
		return fmt.Errorf("%w: configuration must be a non-empty json object", ErrInvalidCommand)
	}

	topic, qos, retain := s.schema.DeviceConfig(deviceID)

	return s.pub.Publish(ctx, topic, qos, retain, config)
}

// validateSegment keeps user input from introducing topic separators
// or wildcards.
func validateSegment(segment string) error {
	if segment == "" {
		return fmt.Errorf("%w: empty topic segment", ErrInvalidCommand)
	}

	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: illegal character %q in topic segment", ErrInvalidCommand, r)
		}
	}

	return nil
}
