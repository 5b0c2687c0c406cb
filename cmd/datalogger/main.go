// Datalogger - MQTT to HTTP telemetry relay
//
// This is the main entry point for the Datalogger service. It subscribes
// to sensor telemetry on an MQTT broker, buffers readings in a durable
// local queue, and forwards them in batches to a remote HTTP collector.
// Messages are acknowledged to the broker only after the collector has
// accepted them, so readings survive crashes, restarts, and collector
// outages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/pbrresearch/datalogger/migrations"

	"github.com/pbrresearch/datalogger/internal/api"
	"github.com/pbrresearch/datalogger/internal/forwarder"
	"github.com/pbrresearch/datalogger/internal/infrastructure/config"
	"github.com/pbrresearch/datalogger/internal/infrastructure/database"
	"github.com/pbrresearch/datalogger/internal/infrastructure/logging"
	"github.com/pbrresearch/datalogger/internal/infrastructure/metrics"
	"github.com/pbrresearch/datalogger/internal/infrastructure/mqtt"
	"github.com/pbrresearch/datalogger/internal/pipeline"
	"github.com/pbrresearch/datalogger/internal/queue"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Datalogger",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open queue database
	db, err := database.Open(database.Config{
		Path:        cfg.Queue.Database.Path,
		WALMode:     cfg.Queue.Database.WALMode,
		BusyTimeout: cfg.Queue.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Queue.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Durable queue over the migrated schema
	q := queue.New(db.DB)

	// Connect to InfluxDB (optional); the pipeline accepts nil and skips
	// instrumentation when metrics are disabled.
	var metricsClient *metrics.Client
	if cfg.InfluxDB.Enabled {
		metricsClient, err = metrics.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := metricsClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		metricsClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the pipeline before MQTT connects: subscriptions hand
	// messages straight to Intake, so the coordinator must be running
	// first.
	fwd := forwarder.New(cfg.Collector, cfg.Service.Name)
	coordinator := pipeline.New(cfg, q, fwd, log.Component("pipeline"), metricsClient)
	if err := coordinator.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	defer func() {
		log.Info("stopping pipeline")
		coordinator.Stop()
	}()

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Subscribe to the configured telemetry topics
	qos := byte(cfg.MQTT.QoS) // #nosec G115 -- validated to 1..2 by config
	for _, topic := range cfg.MQTT.Topics {
		if subErr := mqttClient.Subscribe(topic, qos, coordinator.Intake); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("subscribed", "topic", topic, "qos", cfg.MQTT.QoS)
	}

	// Start status API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config: cfg.API,
			Logger: log.Component("api"),
			Queue:  q,
			Checks: map[string]api.HealthChecker{
				"database": db,
				"mqtt":     mqttClient,
			},
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, metricsClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server (if enabled)
	// 2. MQTT (stops intake; unacked messages stay with the broker)
	// 3. Pipeline (drains workers)
	// 4. InfluxDB (if enabled)
	// 5. Database

	log.Info("Datalogger stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DATALOGGER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DATALOGGER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - metricsClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, metricsClient *metrics.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if metricsClient != nil {
		if err := metricsClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
