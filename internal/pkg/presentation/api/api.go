package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"

	"github.com/diwise/iot-telemetry/internal/pkg/application/commands"
	"github.com/diwise/iot-telemetry/internal/pkg/application/deviceauth"
	"github.com/diwise/iot-telemetry/internal/pkg/application/health"
	"github.com/diwise/iot-telemetry/internal/pkg/application/ingest"
	"github.com/diwise/iot-telemetry/internal/pkg/application/normalizer"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/ratelimit"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/pkg/types"
)

var tracer = otel.Tracer("iot-telemetry/api")

const (
	apiKeyHeader = "X-API-Key"

	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
)

type Config struct {
	MaxRegistrationsPerSource int
	RegistrationWindow        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRegistrationsPerSource <= 0 {
		c.MaxRegistrationsPerSource = 10
	}
	if c.RegistrationWindow <= 0 {
		c.RegistrationWindow = time.Hour
	}
	return c
}

//go:generate moq -rm -out deviceregistry_mock.go . DeviceRegistry
type DeviceRegistry interface {
	AddDevice(ctx context.Context, device types.Device) (types.Device, error)
	GetDeviceByID(ctx context.Context, deviceID int64) (types.Device, error)
	SetDeviceStatus(ctx context.Context, deviceID int64, status string) error
}

func RegisterHandlers(ctx context.Context, router *chi.Mux, cfg Config, pipeline *ingest.Pipeline, authn deviceauth.Authenticator, registry DeviceRegistry, store timeseries.Store, live liveness.Cache, limiter ratelimit.Limiter, agg *health.Aggregator, sender *commands.Sender) *chi.Mux {
	cfg = cfg.withDefaults()
	log := logging.GetFromContext(ctx)

	router.Get("/health", healthHandler(log, agg))

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/devices/register", registerDeviceHandler(log, cfg, registry, limiter))
		r.Post("/telemetry", submitTelemetryHandler(log, pipeline))

		r.Route("/devices/{deviceID}", func(r chi.Router) {
			r.Delete("/", deactivateDeviceHandler(log, authn, registry, live))
			r.Get("/telemetry", queryTelemetryHandler(log, authn, store))
			r.Delete("/telemetry", deleteTelemetryHandler(log, authn, store))
			r.Get("/status", deviceStatusHandler(log, authn, registry, store, live))
			r.Post("/heartbeat", heartbeatHandler(log, pipeline))
			r.Post("/commands", sendCommandHandler(log, authn, sender))
			r.Put("/config", pushConfigHandler(log, authn, sender))
		})
	})

	return router
}

func healthHandler(log *slog.Logger, agg *health.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := agg.Snapshot(r.Context())

		code := http.StatusOK
		if snapshot.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, snapshot)
	}
}

func registerDeviceHandler(log *slog.Logger, cfg Config, registry DeviceRegistry, limiter ratelimit.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "register-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		ip := remoteIP(r)
		decision := limiter.CheckAndIncrement(ctx, ratelimit.SourceKey(ip), cfg.MaxRegistrationsPerSource, cfg.RegistrationWindow)
		if !decision.Allowed {
			writeRateLimited(w, decision.RetryAfter(time.Now()))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req struct {
			Name       string `json:"name"`
			DeviceType string `json:"device_type"`
			Firmware   string `json:"firmware"`
			Hardware   string `json:"hardware"`
		}
		err = json.Unmarshal(body, &req)
		if err != nil || strings.TrimSpace(req.Name) == "" {
			err = nil
			writeError(w, http.StatusBadRequest, "a device name is required")
			return
		}

		apiKey, err := newAPIKey()
		if err != nil {
			requestLogger.Error("unable to generate api key", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		device, err := registry.AddDevice(ctx, types.Device{
			Name:       strings.TrimSpace(req.Name),
			APIKey:     apiKey,
			DeviceType: req.DeviceType,
			Firmware:   req.Firmware,
			Hardware:   req.Hardware,
			Status:     types.DeviceStatusActive,
		})
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = nil
			writeError(w, http.StatusConflict, "a device with that name already exists")
			return
		}
		if err != nil {
			requestLogger.Error("unable to register device", "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		requestLogger.Info("device registered", "device_id", device.ID, "name", device.Name)

		writeJSON(w, http.StatusCreated, map[string]any{
			"id":      device.ID,
			"name":    device.Name,
			"api_key": device.APIKey,
		})
	}
}

// deactivateDeviceHandler retires a device: its key stops
// authenticating and any cached liveness is dropped.
func deactivateDeviceHandler(log *slog.Logger, authn deviceauth.Authenticator, registry DeviceRegistry, live liveness.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "deactivate-device")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		err = registry.SetDeviceStatus(ctx, device.ID, types.DeviceStatusInactive)
		if err != nil {
			requestLogger.Error("unable to deactivate device", "device_id", device.ID, "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		// the key must stop authenticating now, not when the cached
		// handle expires
		authn.Revoke(ctx, device.ID)
		live.Clear(ctx, device.ID)

		requestLogger.Info("device deactivated", "device_id", device.ID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func submitTelemetryHandler(log *slog.Logger, pipeline *ingest.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "submit-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		source := types.Source{
			Transport:   types.TransportRequest,
			RemoteIP:    remoteIP(r),
			APIKey:      r.Header.Get(apiKeyHeader),
			Measurement: "telemetry",
			ReceivedAt:  time.Now().UTC(),
		}

		outcome := pipeline.Ingest(ctx, source, body)
		if outcome.Status != ingest.Accepted {
			writeOutcome(w, outcome)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"status":    "ok",
			"points":    outcome.Points,
			"timestamp": outcome.Timestamp,
		})
	}
}

func queryTelemetryHandler(log *slog.Logger, authn deviceauth.Authenticator, store timeseries.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "query-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		q := r.URL.Query()

		start, err := parseTimeParam(q.Get("start_time"), time.Now().Add(-24*time.Hour))
		if err != nil {
			err = nil
			writeError(w, http.StatusBadRequest, "unparseable start_time")
			return
		}
		end, err := parseTimeParam(q.Get("end_time"), time.Now())
		if err != nil {
			err = nil
			writeError(w, http.StatusBadRequest, "unparseable end_time")
			return
		}

		limit := defaultQueryLimit
		if raw := q.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				err = nil
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if limit > maxQueryLimit {
				limit = maxQueryLimit
			}
		}

		var records []timeseries.Record

		if fn := q.Get("aggregate"); fn != "" {
			field := q.Get("field")
			if field == "" {
				writeError(w, http.StatusBadRequest, "aggregate queries require a field")
				return
			}

			window := time.Hour
			if raw := q.Get("window"); raw != "" {
				window, err = time.ParseDuration(raw)
				if err != nil || window <= 0 {
					err = nil
					writeError(w, http.StatusBadRequest, "unparseable window")
					return
				}
			}

			records, err = store.QueryAggregate(ctx, device.ID, field, start, window, fn)
		} else {
			records, err = store.QueryRange(ctx, device.ID, start, end, limit)
		}

		if err != nil {
			requestLogger.Error("telemetry query failed", "device_id", device.ID, "err", err.Error())
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"device_id": device.ID,
			"count":     len(records),
			"records":   records,
		})
	}
}

func deleteTelemetryHandler(log *slog.Logger, authn deviceauth.Authenticator, store timeseries.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "delete-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		q := r.URL.Query()

		start, err := parseTimeParam(q.Get("start_time"), time.Unix(0, 0))
		if err != nil {
			err = nil
			writeError(w, http.StatusBadRequest, "unparseable start_time")
			return
		}
		end, err := parseTimeParam(q.Get("stop_time"), time.Now())
		if err != nil {
			err = nil
			writeError(w, http.StatusBadRequest, "unparseable stop_time")
			return
		}

		err = store.DeleteRange(ctx, device.ID, start, end)
		if err != nil {
			requestLogger.Error("telemetry delete failed", "device_id", device.ID, "err", err.Error())
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		requestLogger.Info("telemetry deleted", "device_id", device.ID, "start", start, "end", end)
		w.WriteHeader(http.StatusNoContent)
	}
}

func deviceStatusHandler(log *slog.Logger, authn deviceauth.Authenticator, registry DeviceRegistry, store timeseries.Store, live liveness.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "device-status")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		device, err = registry.GetDeviceByID(ctx, device.ID)
		if errors.Is(err, storage.ErrDeviceNotFound) {
			err = nil
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			requestLogger.Error("unable to fetch device", "device_id", device.ID, "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		now := time.Now()
		isOnline := live.Evaluate(ctx, device.ID, now) == types.LivenessOnline

		var count int64
		if n, err := store.Count(ctx, device.ID, now.Add(-24*time.Hour)); err == nil {
			count = n
		}

		var latest *timeseries.Record
		if rec, err := store.QueryLatest(ctx, device.ID); err == nil {
			latest = rec
		}

		// the key is never echoed back
		device.APIKey = ""

		writeJSON(w, http.StatusOK, map[string]any{
			"device":              device,
			"is_online":           isOnline,
			"telemetry_count_24h": count,
			"latest":              latest,
		})
	}
}

func heartbeatHandler(log *slog.Logger, pipeline *ingest.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "heartbeat")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		deviceID, err := pathDeviceID(r)
		if err != nil {
			err = nil
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		source := types.Source{
			Transport:  types.TransportRequest,
			RemoteIP:   remoteIP(r),
			APIKey:     r.Header.Get(apiKeyHeader),
			DeviceID:   deviceID,
			ReceivedAt: time.Now().UTC(),
		}

		outcome := pipeline.IngestHeartbeat(ctx, source, []byte(`{}`))
		if outcome.Status != ingest.Accepted {
			writeOutcome(w, outcome)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"last_seen": outcome.Timestamp,
		})
	}
}

func sendCommandHandler(log *slog.Logger, authn deviceauth.Authenticator, sender *commands.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "send-command")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var req struct {
			Kind    string          `json:"kind"`
			Command string          `json:"command"`
			Params  json.RawMessage `json:"params"`
		}
		err = json.Unmarshal(body, &req)
		if err != nil {
			err = nil
			writeError(w, http.StatusBadRequest, "unparseable command payload")
			return
		}
		if req.Kind == "" {
			req.Kind = "action"
		}

		cmd, err := sender.Send(ctx, device.ID, req.Kind, req.Command, req.Params)
		if errors.Is(err, commands.ErrInvalidCommand) {
			err = nil
			writeError(w, http.StatusBadRequest, "invalid command")
			return
		}
		if err != nil {
			requestLogger.Error("unable to publish command", "device_id", device.ID, "err", err.Error())
			writeError(w, http.StatusServiceUnavailable, "command could not be delivered")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"command_id": cmd.ID,
			"issued_at":  cmd.IssuedAt,
		})
	}
}

func pushConfigHandler(log *slog.Logger, authn deviceauth.Authenticator, sender *commands.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "push-config")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := o11y.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		device, done := authorizeRequest(ctx, w, r, authn)
		if done {
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		err = sender.PushConfig(ctx, device.ID, body)
		if errors.Is(err, commands.ErrInvalidCommand) {
			err = nil
			writeError(w, http.StatusBadRequest, "configuration must be a non-empty json object")
			return
		}
		if err != nil {
			requestLogger.Error("unable to publish configuration", "device_id", device.ID, "err", err.Error())
			writeError(w, http.StatusServiceUnavailable, "configuration could not be delivered")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{"status": "ok"})
	}
}

// authorizeRequest resolves the presented key and checks it against
// the device id in the path. It writes the response itself on any
// rejection and reports done.
func authorizeRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, authn deviceauth.Authenticator) (types.Device, bool) {
	deviceID, err := pathDeviceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unparseable device id")
		return types.Device{}, true
	}

	result, err := authn.Authenticate(ctx, types.Source{
		Transport: types.TransportRequest,
		RemoteIP:  remoteIP(r),
		APIKey:    r.Header.Get(apiKeyHeader),
		DeviceID:  deviceID,
	})
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return types.Device{}, true
	}

	switch result.Outcome {
	case deviceauth.Authorized:
		return result.Device, false
	case deviceauth.RejectedUnknownKey, deviceauth.RejectedMalformed:
		writeError(w, http.StatusUnauthorized, "invalid api key")
	default:
		writeError(w, http.StatusForbidden, result.Reason)
	}

	return types.Device{}, true
}

func writeOutcome(w http.ResponseWriter, outcome ingest.Outcome) {
	switch outcome.Status {
	case ingest.RejectedMalformed:
		writeError(w, http.StatusBadRequest, outcome.Reason)
	case ingest.RejectedUnknownKey:
		writeError(w, http.StatusUnauthorized, "invalid api key")
	case ingest.RejectedInactive, ingest.RejectedForbidden:
		writeError(w, http.StatusForbidden, outcome.Reason)
	case ingest.RateLimited:
		writeRateLimited(w, outcome.RetryAfter)
	default:
		writeError(w, http.StatusServiceUnavailable, outcome.Reason)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func pathDeviceID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "deviceID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid device id %q", raw)
	}
	return id, nil
}

func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseTimeParam accepts a relative offset like -1h or -7d, an
// ISO-8601 timestamp, or an epoch value.
func parseTimeParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback.UTC(), nil
	}

	if strings.HasPrefix(raw, "-") {
		if strings.HasSuffix(raw, "d") {
			days, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(raw, "-"), "d"))
			if err != nil {
				return time.Time{}, fmt.Errorf("unparseable relative time %q", raw)
			}
			return time.Now().Add(-time.Duration(days) * 24 * time.Hour).UTC(), nil
		}

		d, err := time.ParseDuration(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparseable relative time %q", raw)
		}
		return time.Now().Add(d).UTC(), nil
	}

	return normalizer.ParseTimestamp(raw)
}
