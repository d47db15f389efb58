package ingest

import (
	"context"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/pkg/types"
)

func sourceFromMessage(m broker.Message) types.Source {
	return types.Source{
		Transport:   types.TransportBroker,
		DeviceID:    m.Topic.DeviceID,
		Topic:       m.Topic.Raw,
		Measurement: m.Topic.Measurement(),
		ReceivedAt:  m.ReceivedAt,
		QoS:         m.QoS,
		Retained:    m.Retained,
	}
}

// NewTelemetryHandler returns the broker handler for device telemetry
// topics. Rejections are logged and dropped; the broker offers no
// reply channel to the device.
func NewTelemetryHandler(p *Pipeline) broker.Handler {
	return func(ctx context.Context, m broker.Message) {
		outcome := p.Ingest(ctx, sourceFromMessage(m), m.Payload)
		logOutcome(ctx, "telemetry", m, outcome)
	}
}

func NewStatusHandler(p *Pipeline) broker.Handler {
	return func(ctx context.Context, m broker.Message) {
		outcome := p.IngestStatus(ctx, sourceFromMessage(m), m.Payload)
		logOutcome(ctx, "status", m, outcome)
	}
}

func NewHeartbeatHandler(p *Pipeline) broker.Handler {
	return func(ctx context.Context, m broker.Message) {
		outcome := p.IngestHeartbeat(ctx, sourceFromMessage(m), m.Payload)
		logOutcome(ctx, "heartbeat", m, outcome)
	}
}

func logOutcome(ctx context.Context, kind string, m broker.Message, outcome Outcome) {
	log := logging.GetFromContext(ctx)

	if outcome.Status == Accepted {
		log.Debug("message accepted", "kind", kind, "topic", m.Topic.Raw, "device_id", outcome.DeviceID, "points", outcome.Points)
		return
	}

	log.Warn("message dropped", "kind", kind, "topic", m.Topic.Raw, "outcome", outcome.Status.String(), "reason", outcome.Reason)
}
