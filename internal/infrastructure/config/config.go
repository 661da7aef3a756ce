package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Messaging types accepted in messaging.type.
const (
	MessagingQpid = "qpid"
	MessagingAMQP = "amqp"
	MessagingMQTT = "mqtt"
	MessagingNATS = "nats"
)

// Registry backends accepted in registry.backend.
const (
	RegistryJSON   = "json"
	RegistrySQLite = "sqlite"
)

// Config is the root configuration structure for a Gray Logic bus client.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	// Instance names this process on the bus. It is sent as "instance" on
	// every message and announced as "handled-by" for owned devices.
	Instance   string           `yaml:"instance"`
	Messaging  MessagingConfig  `yaml:"messaging"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	AMQP       AMQPConfig       `yaml:"amqp"`
	NATS       NATSConfig       `yaml:"nats"`
	Registry   RegistryConfig   `yaml:"registry"`
	Connection ConnectionConfig `yaml:"connection"`
	Devices    []DeviceConfig   `yaml:"devices"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// MessagingConfig selects the broker transport.
type MessagingConfig struct {
	Type string `yaml:"type"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keepalive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	// ConnectTimeout bounds the initial connection attempt in Start.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// AMQPConfig contains AMQP 1.0 (qpid) broker settings.
type AMQPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Address is the shared node every participant publishes to and consumes from.
	Address        string        `yaml:"address"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// NATSConfig contains NATS server settings.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Subject        string        `yaml:"subject"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RegistryConfig selects where the UUID map is persisted.
type RegistryConfig struct {
	Backend    string         `yaml:"backend"`
	UUIDMapDir string         `yaml:"uuidmap_dir"`
	Database   DatabaseConfig `yaml:"database"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ConnectionConfig contains timings for the connection layer.
type ConnectionConfig struct {
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	InventoryMaxAge      time.Duration `yaml:"inventory_max_age"`
	ControllerRetries    int           `yaml:"controller_retries"`
	ControllerRetryDelay time.Duration `yaml:"controller_retry_delay"`
}

// DeviceConfig declares a device this instance owns from startup.
type DeviceConfig struct {
	InternalID  string `yaml:"internal_id"`
	DeviceType  string `yaml:"device_type"`
	InitialName string `yaml:"initial_name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_MESSAGING_TYPE, GRAYLOGIC_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides
// applied, for tools that run without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Messaging: MessagingConfig{
			Type: MessagingQpid,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ConnectTimeout: 10 * time.Second,
			},
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		AMQP: AMQPConfig{
			Host:           "localhost",
			Port:           5672,
			Address:        "agocontrol",
			ConnectRetries: 3,
			RetryDelay:     2 * time.Second,
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Subject:        "agocontrol",
			ConnectTimeout: 5 * time.Second,
		},
		Registry: RegistryConfig{
			Backend:    RegistryJSON,
			UUIDMapDir: "./data/uuidmap",
			Database: DatabaseConfig{
				Path:        "./data/registry.db",
				WALMode:     true,
				BusyTimeout: 5,
			},
		},
		Connection: ConnectionConfig{
			RequestTimeout:       3 * time.Second,
			PollInterval:         10 * time.Second,
			InventoryMaxAge:      60 * time.Second,
			ControllerRetries:    10,
			ControllerRetryDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_INSTANCE"); v != "" {
		cfg.Instance = v
	}
	if v := os.Getenv("GRAYLOGIC_MESSAGING_TYPE"); v != "" {
		cfg.Messaging.Type = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// AMQP
	if v := os.Getenv("GRAYLOGIC_AMQP_HOST"); v != "" {
		cfg.AMQP.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_AMQP_USERNAME"); v != "" {
		cfg.AMQP.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_AMQP_PASSWORD"); v != "" {
		cfg.AMQP.Password = v
	}

	// NATS
	if v := os.Getenv("GRAYLOGIC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}

	// Registry
	if v := os.Getenv("GRAYLOGIC_REGISTRY_BACKEND"); v != "" {
		cfg.Registry.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_REGISTRY_UUIDMAP_DIR"); v != "" {
		cfg.Registry.UUIDMapDir = v
	}
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Registry.Database.Path = v
	}

	if v := os.Getenv("GRAYLOGIC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Instance == "" {
		errs = append(errs, "instance is required (set GRAYLOGIC_INSTANCE environment variable)")
	}

	switch c.Messaging.Type {
	case MessagingQpid, MessagingAMQP:
		if c.AMQP.Host == "" {
			errs = append(errs, "amqp.host is required")
		}
		if c.AMQP.Address == "" {
			errs = append(errs, "amqp.address is required")
		}
		if c.AMQP.ConnectRetries < 1 {
			errs = append(errs, "amqp.connect_retries must be at least 1")
		}
	case MessagingMQTT:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	case MessagingNATS:
		if c.NATS.URL == "" {
			errs = append(errs, "nats.url is required")
		}
		if c.NATS.Subject == "" {
			errs = append(errs, "nats.subject is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("messaging.type %q must be one of qpid, amqp, mqtt, nats", c.Messaging.Type))
	}

	switch c.Registry.Backend {
	case RegistryJSON:
		if c.Registry.UUIDMapDir == "" {
			errs = append(errs, "registry.uuidmap_dir is required for the json backend")
		}
	case RegistrySQLite:
		if c.Registry.Database.Path == "" {
			errs = append(errs, "registry.database.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("registry.backend %q must be json or sqlite", c.Registry.Backend))
	}

	if c.Connection.RequestTimeout <= 0 {
		errs = append(errs, "connection.request_timeout must be positive")
	}
	if c.Connection.PollInterval <= 0 {
		errs = append(errs, "connection.poll_interval must be positive")
	}
	if c.Connection.ControllerRetries < 1 {
		errs = append(errs, "connection.controller_retries must be at least 1")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.InternalID == "" || d.DeviceType == "" {
			errs = append(errs, fmt.Sprintf("devices[%d]: internal_id and device_type are required", i))
			continue
		}
		if seen[d.InternalID] {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate internal_id %q", i, d.InternalID))
		}
		seen[d.InternalID] = true
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ClientID returns the MQTT client id, falling back to the instance name.
func (c *Config) ClientID() string {
	if c.MQTT.Broker.ClientID != "" {
		return c.MQTT.Broker.ClientID
	}
	return "graylogic-" + c.Instance
}
