package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Datalogger.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Collector CollectorConfig `yaml:"collector"`
	Queue     QueueConfig     `yaml:"queue"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig contains service-level identification.
type ServiceConfig struct {
	// Name identifies this datalogger instance in logs, status payloads,
	// and the collector's source field.
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    []string            `yaml:"topics"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// CollectorConfig contains HTTP collector settings.
type CollectorConfig struct {
	// URL is the batch submission endpoint.
	URL string `yaml:"url"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `yaml:"timeout"`

	Auth  CollectorAuthConfig  `yaml:"auth"`
	Retry CollectorRetryConfig `yaml:"retry"`
}

// CollectorAuthConfig contains collector authentication settings.
//
// Two modes are supported:
//   - Static token: set Token, leave LoginURL empty.
//   - Login flow: set LoginURL, Email, and Password. The forwarder posts
//     form-encoded credentials and caches the returned bearer token,
//     re-authenticating when the collector responds 401.
type CollectorAuthConfig struct {
	Token    string `yaml:"token"`
	LoginURL string `yaml:"login_url"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// CollectorRetryConfig contains retry behaviour for transient failures.
type CollectorRetryConfig struct {
	// InitialBackoff is the first retry delay in seconds.
	InitialBackoff int `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay in seconds.
	MaxBackoff int `yaml:"max_backoff"`
}

// QueueConfig contains durable queue settings.
type QueueConfig struct {
	Database DatabaseConfig   `yaml:"database"`
	Batch    QueueBatchConfig `yaml:"batch"`

	// MaxAttempts is the number of forwarding attempts before a record
	// is moved to the dead-letter store.
	MaxAttempts int `yaml:"max_attempts"`

	// BufferSize bounds the in-memory channel between the MQTT session
	// and the pipeline. When full, message reception blocks, pushing
	// backpressure to the broker's QoS flow control.
	BufferSize int `yaml:"buffer_size"`

	// Workers is the number of concurrent forwarding workers.
	Workers int `yaml:"workers"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// QueueBatchConfig controls batch accumulation for forwarding.
type QueueBatchConfig struct {
	// Size is the maximum number of records per collector request.
	Size int `yaml:"size"`

	// FlushInterval is the maximum time in seconds a record waits
	// before being forwarded, regardless of batch fill.
	FlushInterval int `yaml:"flush_interval"`
}

// APIConfig contains status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains optional pipeline metrics settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DATALOGGER_SECTION_KEY
// For example: DATALOGGER_MQTT_HOST, DATALOGGER_COLLECTOR_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "datalogger",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "datalogger",
			},
			QoS:    1,
			Topics: []string{"sensors/#"},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Collector: CollectorConfig{
			Timeout: 15,
			Retry: CollectorRetryConfig{
				InitialBackoff: 1,
				MaxBackoff:     60,
			},
		},
		Queue: QueueConfig{
			Database: DatabaseConfig{
				Path:        "./data/datalogger.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
			Batch: QueueBatchConfig{
				Size:          50,
				FlushInterval: 5,
			},
			MaxAttempts: 8,
			BufferSize:  256,
			Workers:     1,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DATALOGGER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("DATALOGGER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DATALOGGER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DATALOGGER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DATALOGGER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Collector
	if v := os.Getenv("DATALOGGER_COLLECTOR_URL"); v != "" {
		cfg.Collector.URL = v
	}
	if v := os.Getenv("DATALOGGER_COLLECTOR_TOKEN"); v != "" {
		cfg.Collector.Auth.Token = v
	}
	if v := os.Getenv("DATALOGGER_COLLECTOR_EMAIL"); v != "" {
		cfg.Collector.Auth.Email = v
	}
	if v := os.Getenv("DATALOGGER_COLLECTOR_PASSWORD"); v != "" {
		cfg.Collector.Auth.Password = v
	}

	// Queue
	if v := os.Getenv("DATALOGGER_QUEUE_PATH"); v != "" {
		cfg.Queue.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("DATALOGGER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Name == "" {
		errs = append(errs, "service.name is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	// QoS 0 gives the broker no redelivery obligation, which breaks the
	// at-least-once contract the queue depends on.
	if c.MQTT.QoS == 0 {
		errs = append(errs, "mqtt.qos must be at least 1 for reliable delivery")
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, "mqtt.topics must list at least one topic filter")
	}

	// Collector validation
	if c.Collector.URL == "" {
		errs = append(errs, "collector.url is required")
	}
	if c.Collector.Auth.LoginURL != "" {
		if c.Collector.Auth.Email == "" || c.Collector.Auth.Password == "" {
			errs = append(errs, "collector.auth.email and collector.auth.password are required when login_url is set")
		}
	}

	// Queue validation
	if c.Queue.Database.Path == "" {
		errs = append(errs, "queue.database.path is required")
	}
	if c.Queue.Batch.Size < 1 {
		errs = append(errs, "queue.batch.size must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, "queue.max_attempts must be at least 1")
	}
	// A zero flush interval would feed time.NewTicker a non-positive
	// duration and panic the forward workers at startup.
	if c.Queue.Batch.FlushInterval < 1 {
		errs = append(errs, "queue.batch.flush_interval must be at least 1")
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, "queue.workers must be at least 1")
	}
	if c.Queue.BufferSize < 1 {
		errs = append(errs, "queue.buffer_size must be at least 1")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CollectorTimeout returns the collector request timeout as a Duration.
func (c *Config) CollectorTimeout() time.Duration {
	return time.Duration(c.Collector.Timeout) * time.Second
}

// BatchFlushInterval returns the batch flush interval as a Duration.
func (c *Config) BatchFlushInterval() time.Duration {
	return time.Duration(c.Queue.Batch.FlushInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
