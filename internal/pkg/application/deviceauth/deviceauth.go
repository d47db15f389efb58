package deviceauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/pkg/types"
)

var tracer = otel.Tracer("iot-telemetry/deviceauth")

type Outcome int

const (
	Authorized Outcome = iota
	RejectedUnknownKey
	RejectedInactive
	RejectedTopicMismatch
	RejectedMalformed
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "authorized"
	case RejectedUnknownKey:
		return "rejected_unknown_key"
	case RejectedInactive:
		return "rejected_inactive"
	case RejectedTopicMismatch:
		return "rejected_topic_mismatch"
	}
	return "rejected_malformed"
}

type Result struct {
	Outcome Outcome
	Device  types.Device
	Reason  string
}

//go:generate moq -rm -out deviceregistry_mock.go . DeviceRegistry
type DeviceRegistry interface {
	GetDeviceByAPIKey(ctx context.Context, apiKey string) (types.Device, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, source types.Source) (Result, error)
	Revoke(ctx context.Context, deviceID int64)
}

type authenticator struct {
	registry DeviceRegistry
	schema   broker.Schema

	// handles caches resolved devices by api key, bounded and with
	// the same ttl as the liveness cache
	handles *ttlcache.Cache[string, types.Device]
}

const handleCacheCapacity = 10_000

func New(registry DeviceRegistry, schema broker.Schema, handleTTL time.Duration) Authenticator {
	if handleTTL <= 0 {
		handleTTL = 24 * time.Hour
	}

	handles := ttlcache.New(
		ttlcache.WithTTL[string, types.Device](handleTTL),
		ttlcache.WithCapacity[string, types.Device](handleCacheCapacity),
	)
	go handles.Start()

	return &authenticator{
		registry: registry,
		schema:   schema,
		handles:  handles,
	}
}

// Authenticate resolves the presented credential and checks that the
// source is allowed to act for the resolved device. A non-nil error
// means the device catalog could not be consulted; every policy
// decision is expressed through the Result.
func (a *authenticator) Authenticate(ctx context.Context, source types.Source) (Result, error) {
	var err error

	ctx, span := tracer.Start(ctx, "authenticate")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	log := logging.GetFromContext(ctx)

	if source.APIKey == "" {
		return Result{Outcome: RejectedMalformed, Reason: "missing api key"}, nil
	}

	device, err := a.resolve(ctx, source.APIKey)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			err = nil
			return Result{Outcome: RejectedUnknownKey, Reason: "no device matches the presented key"}, nil
		}
		return Result{}, fmt.Errorf("device lookup failed: %w", err)
	}

	if !device.IsActive() {
		return Result{Outcome: RejectedInactive, Device: device, Reason: device.Status}, nil
	}

	// a device id carried in the payload must agree with the key
	if source.ClaimedDeviceID != 0 && source.ClaimedDeviceID != device.ID {
		log.Debug("payload device id disagrees with key", "device_id", device.ID, "claimed", source.ClaimedDeviceID)
		return Result{Outcome: RejectedTopicMismatch, Device: device, Reason: "payload device id does not match key"}, nil
	}

	switch source.Transport {
	case types.TransportBroker:
		if source.DeviceID != device.ID {
			return Result{Outcome: RejectedTopicMismatch, Device: device, Reason: fmt.Sprintf("device %d does not own topic %s", device.ID, source.Topic)}, nil
		}
		if !a.AuthorizePublish(device.ID, source.Topic) {
			return Result{Outcome: RejectedTopicMismatch, Device: device, Reason: fmt.Sprintf("topic %s outside allowed subtree", source.Topic)}, nil
		}
	case types.TransportRequest:
		if source.DeviceID != 0 && source.DeviceID != device.ID {
			return Result{Outcome: RejectedTopicMismatch, Device: device, Reason: "endpoint device id does not match key"}, nil
		}
	default:
		return Result{Outcome: RejectedMalformed, Reason: "unknown transport"}, nil
	}

	return Result{Outcome: Authorized, Device: device}, nil
}

// AuthorizePublish is total over a device's own subtree: every topic
// under telemetry, status or heartbeat for the device's id is
// allowed, everything else is not.
func (a *authenticator) AuthorizePublish(deviceID int64, topic string) bool {
	return prefixMatch(topic, a.schema.AllowedPublishPrefixes(deviceID))
}

func (a *authenticator) AuthorizeSubscribe(deviceID int64, topic string) bool {
	return prefixMatch(topic, a.schema.AllowedSubscribePrefixes(deviceID))
}

func prefixMatch(topic string, prefixes []string) bool {
	for _, p := range prefixes {
		if topic == p || strings.HasPrefix(topic, p+"/") {
			return true
		}
	}
	return false
}

// Revoke drops any cached handle for the device so the next message
// consults the catalog again. Deactivation takes effect immediately
// instead of waiting out the handle ttl.
func (a *authenticator) Revoke(ctx context.Context, deviceID int64) {
	for key, item := range a.handles.Items() {
		if item.Value().ID == deviceID {
			a.handles.Delete(key)
		}
	}
}

func (a *authenticator) resolve(ctx context.Context, apiKey string) (types.Device, error) {
	if item := a.handles.Get(apiKey); item != nil {
		return item.Value(), nil
	}

	device, err := a.registry.GetDeviceByAPIKey(ctx, apiKey)
	if err != nil {
		return types.Device{}, err
	}

	a.handles.Set(apiKey, device, ttlcache.DefaultTTL)

	return device, nil
}
