package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
)

func testSetup(t *testing.T) (*is.I, *Sender, *PublisherMock) {
	is := is.New(t)

	pub := &PublisherMock{
		PublishFunc: func(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
			return nil
		},
	}

	return is, New(pub, broker.NewSchema("iotflow")), pub
}

func TestSendsCommandOnDeviceTopic(t *testing.T) {
	is, sender, pub := testSetup(t)

	cmd, err := sender.Send(context.Background(), 7, "reboot", "reboot", nil)
	is.NoErr(err)
	is.True(cmd.ID != "")

	is.Equal(len(pub.PublishCalls()), 1)
	call := pub.PublishCalls()[0]
	is.Equal(call.Topic, "iotflow/devices/7/commands/reboot")
	is.Equal(call.Qos, byte(2))
	is.True(!call.Retain)

	var sent Command
	is.NoErr(json.Unmarshal(call.Payload, &sent))
	is.Equal(sent.ID, cmd.ID)
	is.Equal(sent.Command, "reboot")
}

func TestConfigCommandsAreRetained(t *testing.T) {
	is, sender, pub := testSetup(t)

	params := json.RawMessage(`{"interval": 30}`)
	_, err := sender.Send(context.Background(), 7, "config", "set_interval", params)
	is.NoErr(err)

	call := pub.PublishCalls()[0]
	is.Equal(call.Topic, "iotflow/devices/7/commands/config")
	is.True(call.Retain)
}

func TestEachCommandGetsItsOwnID(t *testing.T) {
	is, sender, _ := testSetup(t)

	a, err := sender.Send(context.Background(), 7, "reboot", "reboot", nil)
	is.NoErr(err)
	b, err := sender.Send(context.Background(), 7, "reboot", "reboot", nil)
	is.NoErr(err)

	is.True(a.ID != b.ID)
}

func TestRejectsTopicBreakingKind(t *testing.T) {
	is, sender, pub := testSetup(t)

	for _, kind := range []string{"", "a/b", "a+", "#", "a b"} {
		_, err := sender.Send(context.Background(), 7, kind, "reboot", nil)
		is.True(errors.Is(err, ErrInvalidCommand))
	}

	is.Equal(len(pub.PublishCalls()), 0)
}

func TestRejectsEmptyCommand(t *testing.T) {
	is, sender, _ := testSetup(t)

	_, err := sender.Send(context.Background(), 7, "reboot", "  ", nil)
	is.True(errors.Is(err, ErrInvalidCommand))
}

func TestFleetCommandsAreRetained(t *testing.T) {
	is, sender, pub := testSetup(t)

	_, err := sender.SendFleet(context.Background(), "greenhouses", "firmware_check", nil)
	is.NoErr(err)

	call := pub.PublishCalls()[0]
	is.Equal(call.Topic, "iotflow/fleet/commands/greenhouses")
	is.Equal(call.Qos, byte(2))
	is.True(call.Retain)
}

func TestPushConfigIsRetainedOnConfigTopic(t *testing.T) {
	is, sender, pub := testSetup(t)

	err := sender.PushConfig(context.Background(), 7, json.RawMessage(`{"interval": 30}`))
	is.NoErr(err)

	call := pub.PublishCalls()[0]
	is.Equal(call.Topic, "iotflow/devices/7/config")
	is.Equal(call.Qos, byte(1))
	is.True(call.Retain)
}

func TestPushConfigRequiresAnObject(t *testing.T) {
	is, sender, pub := testSetup(t)

	for _, payload := range []string{``, `{}`, `[1]`, `"interval"`} {
		err := sender.PushConfig(context.Background(), 7, json.RawMessage(payload))
		is.True(errors.Is(err, ErrInvalidCommand))
	}

	is.Equal(len(pub.PublishCalls()), 0)
}

func TestPublishFailurePropagates(t *testing.T) {
	is, sender, pub := testSetup(t)

	pub.PublishFunc = func(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error {
		return broker.ErrBrokerUnavailable
	}

	_, err := sender.Send(context.Background(), 7, "reboot", "reboot", nil)
	is.True(errors.Is(err, broker.ErrBrokerUnavailable))
}
