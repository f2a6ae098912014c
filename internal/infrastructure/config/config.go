package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Decode error policies for the broker receive loop.
const (
	// DecodePolicyDrop logs and drops a message that cannot be decoded.
	DecodePolicyDrop = "drop"

	// DecodePolicyStop terminates the receive loop on the first decode error.
	DecodePolicyStop = "stop"
)

// DefaultMessageSeparator separates the topic from the JSON payload on the wire.
const DefaultMessageSeparator = "|"

// Config is the root configuration structure for an autohome node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Broker     BrokerConfig     `yaml:"broker"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// NodeConfig identifies this node on the bus.
type NodeConfig struct {
	// ID is generated at load time when left empty.
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BrokerConfig contains the bus relay settings.
//
// It is immutable once loaded; the broker service keeps its own copy.
type BrokerConfig struct {
	// Role selects whether both sockets bind (master) or connect (coordinator).
	Role Role `yaml:"role"`

	// PublisherAddress is the ZeroMQ endpoint for outbound messages.
	PublisherAddress string `yaml:"publisher_address"`

	// SubscriberAddress is the ZeroMQ endpoint for inbound messages.
	SubscriberAddress string `yaml:"subscriber_address"`

	// SubscriberTopicFilter is the subscription prefix. Empty receives
	// everything and disables typed decoding (raw mode).
	SubscriberTopicFilter string `yaml:"subscriber_topic_filter"`

	// MessageSeparator sits between topic and JSON payload. Default: "|"
	MessageSeparator string `yaml:"message_separator"`

	// DecodeErrorPolicy is "drop" (default) or "stop".
	DecodeErrorPolicy string `yaml:"decode_error_policy"`

	// DialRetry is the pause between connection attempts in coordinator mode.
	DialRetry time.Duration `yaml:"dial_retry"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SupervisorConfig controls automatic restarts of the broker service.
type SupervisorConfig struct {
	RestartOnFailure   bool          `yaml:"restart_on_failure"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
	MaxRestartDelay    time.Duration `yaml:"max_restart_delay"`
	StableThreshold    time.Duration `yaml:"stable_threshold"`
	MaxRestartAttempts int           `yaml:"max_restart_attempts"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Bridge    MQTTBridgeConfig    `yaml:"bridge"`
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

// MQTTBridgeConfig controls mirroring between the relay bus and MQTT.
type MQTTBridgeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled        bool   `yaml:"enabled"`
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Org            string `yaml:"org"`
	Bucket         string `yaml:"bucket"`
	BatchSize      int    `yaml:"batch_size"`
	FlushInterval  int    `yaml:"flush_interval"`
	ReportInterval int    `yaml:"report_interval"`
}

// APIConfig contains HTTP API server settings.
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

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds a node's configuration: defaults, then the YAML file at path,
// then AUTOHOME_SECTION_KEY environment variables (AUTOHOME_BROKER_ROLE,
// AUTOHOME_API_PORT, ...). A node without node.id gets a random one.
//
// An unknown broker role is rejected here, before any socket is created.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
//
// The broker role is deliberately left unset: every node must declare it.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			Name: "autohome",
		},
		Broker: BrokerConfig{
			MessageSeparator:  DefaultMessageSeparator,
			DecodeErrorPolicy: DecodePolicyDrop,
			DialRetry:         250 * time.Millisecond,
			DialTimeout:       5 * time.Second,
		},
		Supervisor: SupervisorConfig{
			RestartOnFailure:   true,
			RestartDelay:       time.Second,
			MaxRestartDelay:    time.Minute,
			StableThreshold:    time.Minute,
			MaxRestartAttempts: 0,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "autohome",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Bridge: MQTTBridgeConfig{
				Enabled:     true,
				TopicPrefix: "autohome",
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			ReportInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AUTOHOME_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Node
	if v := os.Getenv("AUTOHOME_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}

	// Broker
	if v := os.Getenv("AUTOHOME_BROKER_ROLE"); v != "" {
		role, err := ParseRole(v)
		if err != nil {
			return fmt.Errorf("AUTOHOME_BROKER_ROLE: %w", err)
		}
		cfg.Broker.Role = role
	}
	if v := os.Getenv("AUTOHOME_BROKER_PUBLISHER_ADDRESS"); v != "" {
		cfg.Broker.PublisherAddress = v
	}
	if v := os.Getenv("AUTOHOME_BROKER_SUBSCRIBER_ADDRESS"); v != "" {
		cfg.Broker.SubscriberAddress = v
	}
	if v, ok := os.LookupEnv("AUTOHOME_BROKER_TOPIC_FILTER"); ok {
		cfg.Broker.SubscriberTopicFilter = v
	}

	// MQTT
	if v := os.Getenv("AUTOHOME_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AUTOHOME_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AUTOHOME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AUTOHOME_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTOHOME_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("AUTOHOME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.Broker.problems()...)

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Supervisor.RestartDelay < 0 || c.Supervisor.MaxRestartDelay < 0 {
		errs = append(errs, "supervisor restart delays cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Validate checks the broker section on its own. The broker service calls
// this again at start so a hand-built BrokerConfig gets the same checks.
func (b BrokerConfig) Validate() error {
	if errs := b.problems(); len(errs) > 0 {
		return fmt.Errorf("broker configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (b BrokerConfig) problems() []string {
	var errs []string

	if !b.Role.Valid() {
		errs = append(errs, "broker.role is required (master or coordinator)")
	}
	if b.PublisherAddress == "" {
		errs = append(errs, "broker.publisher_address is required")
	}
	if b.SubscriberAddress == "" {
		errs = append(errs, "broker.subscriber_address is required")
	}
	if b.MessageSeparator == "" {
		errs = append(errs, "broker.message_separator cannot be empty")
	} else if strings.Contains(b.SubscriberTopicFilter, b.MessageSeparator) {
		errs = append(errs, "broker.subscriber_topic_filter cannot contain the message separator")
	}
	switch b.DecodeErrorPolicy {
	case "", DecodePolicyDrop, DecodePolicyStop:
	default:
		errs = append(errs, "broker.decode_error_policy must be drop or stop")
	}

	return errs
}

// Structured reports whether inbound messages are decoded as typed envelopes.
// A configured topic filter switches the relay into structured mode.
func (b BrokerConfig) Structured() bool {
	return b.SubscriberTopicFilter != ""
}

// ReadDuration is the HTTP read and read-header timeout.
func (t APITimeoutConfig) ReadDuration() time.Duration {
	return time.Duration(t.Read) * time.Second
}

func (t APITimeoutConfig) WriteDuration() time.Duration {
	return time.Duration(t.Write) * time.Second
}

func (t APITimeoutConfig) IdleDuration() time.Duration {
	return time.Duration(t.Idle) * time.Second
}
