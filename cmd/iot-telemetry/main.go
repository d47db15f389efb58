package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"log/slog"

	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"

	"github.com/diwise/iot-telemetry/internal/pkg/application/commands"
	"github.com/diwise/iot-telemetry/internal/pkg/application/deviceauth"
	"github.com/diwise/iot-telemetry/internal/pkg/application/health"
	"github.com/diwise/iot-telemetry/internal/pkg/application/ingest"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/broker"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/liveness"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/ratelimit"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/storage"
	"github.com/diwise/iot-telemetry/internal/pkg/infrastructure/timeseries"
	"github.com/diwise/iot-telemetry/internal/pkg/presentation/api"
)

const serviceName string = "iot-telemetry"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort

	configurationFile

	mqttHost
	mqttPort
	mqttUser
	mqttPassword
	mqttClientID
	topicRoot

	influxURL
	influxToken
	influxOrg
	influxBucket

	dbHost
	dbUser
	dbPassword
	dbPort
	dbName
	dbSSLMode

	redisURL

	rateLimitMax
	rateLimitWindow
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",

		configurationFile: "/opt/diwise/config/config.yaml",

		mqttHost:     "",
		mqttPort:     "1883",
		mqttUser:     "",
		mqttPassword: "",
		mqttClientID: serviceName,
		topicRoot:    broker.DefaultRoot,

		influxURL:    "http://localhost:8086",
		influxToken:  "",
		influxOrg:    "diwise",
		influxBucket: "telemetry",

		dbHost:     "",
		dbUser:     "",
		dbPassword: "",
		dbPort:     "5432",
		dbName:     "diwise",
		dbSSLMode:  "disable",

		redisURL: "",

		rateLimitMax:    "100",
		rateLimitWindow: "60s",
	}
}

// appConfig carries the optional tuning that has no reasonable
// environment variable representation.
type appConfig struct {
	Broker struct {
		QueueSize int `yaml:"queueSize"`
		Workers   int `yaml:"workers"`
	} `yaml:"broker"`

	Health struct {
		Interval   string `yaml:"interval"`
		ScanBudget int    `yaml:"scanBudget"`
	} `yaml:"health"`

	Registration struct {
		MaxPerSource int    `yaml:"maxPerSource"`
		Window       string `yaml:"window"`
	} `yaml:"registration"`
}

func main() {
	ctx, flags := parseExternalConfig(context.Background(), defaultFlags())

	serviceVersion := buildinfo.SourceVersion()
	ctx, logger, cleanup := o11y.Init(ctx, serviceName, serviceVersion, "json")
	defer cleanup()

	appCfg := &appConfig{}
	if cfgFile, err := os.Open(flags[configurationFile]); err == nil {
		appCfg, err = parseExternalConfigFile(ctx, cfgFile)
		exitIf(err, logger, "could not parse configuration file")
	}

	err := run(ctx, flags, appCfg)
	exitIf(err, logger, "service terminated")
}

func run(ctx context.Context, flags flagMap, appCfg *appConfig) error {
	log := logging.GetFromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := storage.New(ctx, storage.NewConfig(
		flags[dbHost], flags[dbUser], flags[dbPassword], flags[dbPort], flags[dbName], flags[dbSSLMode],
	))
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer s.Close()

	err = s.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("could not initialize database: %w", err)
	}

	var sharedTier *redis.Client
	if flags[redisURL] != "" {
		opts, err := redis.ParseURL(flags[redisURL])
		if err != nil {
			return fmt.Errorf("unparseable redis url: %w", err)
		}
		sharedTier = redis.NewClient(opts)
		defer sharedTier.Close()
	}

	store := timeseries.New(timeseries.Config{
		URL:    flags[influxURL],
		Token:  flags[influxToken],
		Org:    flags[influxOrg],
		Bucket: flags[influxBucket],
		Root:   flags[topicRoot],
	})

	live := liveness.New(sharedTier, liveness.DefaultTTL, liveness.DefaultFreshnessWindow)
	limiter := ratelimit.New(sharedTier)
	schema := broker.NewSchema(flags[topicRoot])

	authn := deviceauth.New(s, schema, liveness.DefaultTTL)

	maxMessages, _ := strconv.Atoi(flags[rateLimitMax])
	window, err := time.ParseDuration(flags[rateLimitWindow])
	if err != nil {
		return fmt.Errorf("unparseable rate limit window: %w", err)
	}

	pipeline := ingest.New(authn, store, live, limiter, s, ingest.Config{
		MaxMessagesPerDevice: maxMessages,
		RateWindow:           window,
	})

	mqttPortNum, _ := strconv.Atoi(flags[mqttPort])
	dispatcher := broker.New(broker.Config{
		Host:      flags[mqttHost],
		Port:      mqttPortNum,
		ClientID:  flags[mqttClientID],
		Username:  flags[mqttUser],
		Password:  flags[mqttPassword],
		QueueSize: appCfg.Broker.QueueSize,
		Workers:   appCfg.Broker.Workers,
		Schema:    schema,
	})
	dispatcher.RegisterHandler(broker.KindTelemetry, ingest.NewTelemetryHandler(pipeline))
	dispatcher.RegisterHandler(broker.KindStatus, ingest.NewStatusHandler(pipeline))
	dispatcher.RegisterHandler(broker.KindHeartbeat, ingest.NewHeartbeatHandler(pipeline))

	if flags[mqttHost] != "" {
		err = dispatcher.Start(ctx)
		if err != nil {
			return fmt.Errorf("could not connect to broker: %w", err)
		}
		defer dispatcher.Stop(ctx)
	} else {
		log.Warn("no broker host configured, accepting telemetry over http only")
	}

	healthCfg := health.Config{ScanBudget: appCfg.Health.ScanBudget}
	if appCfg.Health.Interval != "" {
		healthCfg.Interval, err = time.ParseDuration(appCfg.Health.Interval)
		if err != nil {
			return fmt.Errorf("unparseable health interval: %w", err)
		}
	}

	agg := health.New(s, store, live, dispatcher, schema, healthCfg)
	agg.Start(ctx)
	defer agg.Stop(ctx)

	apiCfg := api.Config{MaxRegistrationsPerSource: appCfg.Registration.MaxPerSource}
	if appCfg.Registration.Window != "" {
		apiCfg.RegistrationWindow, err = time.ParseDuration(appCfg.Registration.Window)
		if err != nil {
			return fmt.Errorf("unparseable registration window: %w", err)
		}
	}

	sender := commands.New(dispatcher, schema)

	mux := api.RegisterHandlers(ctx, router.New(serviceName), apiCfg, pipeline, authn, s, store, live, limiter, agg, sender)

	server := &http.Server{
		Addr:    flags[listenAddress] + ":" + flags[servicePort],
		Handler: mux,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("starting http server", "addr", server.Addr, "version", buildinfo.SourceVersion())
		errs <- server.ListenAndServe()
	}()

	select {
	case err = <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func parseExternalConfigFile(_ context.Context, cfgFile io.ReadCloser) (*appConfig, error) {
	defer cfgFile.Close()

	b, err := io.ReadAll(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg := &appConfig{}
	err = yaml.Unmarshal(b, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseExternalConfig(ctx context.Context, flags flagMap) (context.Context, flagMap) {
	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault

	flags[listenAddress] = envOrDef(ctx, "LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef(ctx, "SERVICE_PORT", flags[servicePort])

	flags[mqttHost] = envOrDef(ctx, "MQTT_HOST", flags[mqttHost])
	flags[mqttPort] = envOrDef(ctx, "MQTT_PORT", flags[mqttPort])
	flags[mqttUser] = envOrDef(ctx, "MQTT_USERNAME", flags[mqttUser])
	flags[mqttPassword] = envOrDef(ctx, "MQTT_PASSWORD", flags[mqttPassword])
	flags[mqttClientID] = envOrDef(ctx, "MQTT_CLIENT_ID", flags[mqttClientID])
	flags[topicRoot] = envOrDef(ctx, "MQTT_TOPIC_ROOT", flags[topicRoot])

	flags[influxURL] = envOrDef(ctx, "INFLUXDB_URL", flags[influxURL])
	flags[influxToken] = envOrDef(ctx, "INFLUXDB_TOKEN", flags[influxToken])
	flags[influxOrg] = envOrDef(ctx, "INFLUXDB_ORG", flags[influxOrg])
	flags[influxBucket] = envOrDef(ctx, "INFLUXDB_BUCKET", flags[influxBucket])

	flags[dbHost] = envOrDef(ctx, "POSTGRES_HOST", flags[dbHost])
	flags[dbPort] = envOrDef(ctx, "POSTGRES_PORT", flags[dbPort])
	flags[dbName] = envOrDef(ctx, "POSTGRES_DBNAME", flags[dbName])
	flags[dbUser] = envOrDef(ctx, "POSTGRES_USER", flags[dbUser])
	flags[dbPassword] = envOrDef(ctx, "POSTGRES_PASSWORD", flags[dbPassword])
	flags[dbSSLMode] = envOrDef(ctx, "POSTGRES_SSLMODE", flags[dbSSLMode])

	flags[redisURL] = envOrDef(ctx, "REDIS_URL", flags[redisURL])

	flags[rateLimitMax] = envOrDef(ctx, "RATE_LIMIT_MAX", flags[rateLimitMax])
	flags[rateLimitWindow] = envOrDef(ctx, "RATE_LIMIT_WINDOW", flags[rateLimitWindow])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("config", "service configuration file", apply(configurationFile))
	flag.Func("port", "http service port", apply(servicePort))
	flag.Parse()

	return ctx, flags
}

func exitIf(err error, logger *slog.Logger, msg string, args ...any) {
	if err != nil {
		logger.With(args...).Error(msg, "err", err.Error())
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
