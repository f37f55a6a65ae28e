package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// KafkaConsumerConfig defines configuration for Kafka consumer
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`             // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`               // Topic to consume from
	GroupID           string   `yaml:"group_id"`            // Consumer group ID
	Count             int      `yaml:"count"`               // Number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`     // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"`  // Kafka heartbeat interval
	MaxProcessingTime string   `yaml:"max_processing_time"` // Maximum time for processing a message
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`   // earliest/latest
	EnableAutoCommit  bool     `yaml:"enable_auto_commit"`  // Enable auto offset commit
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "attestation-requests"
		warnDefault("kafka_consumer.topic", c.Topic)
	}
	if c.GroupID == "" {
		c.GroupID = "attestation-engine"
		warnDefault("kafka_consumer.group_id", c.GroupID)
	}
	if c.Count <= 0 {
		c.Count = 1
		warnDefault("kafka_consumer.count", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
		warnDefault("kafka_consumer.session_timeout", c.SessionTimeout)
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
		warnDefault("kafka_consumer.heartbeat_interval", c.HeartbeatInterval)
	}
	if c.MaxProcessingTime == "" {
		c.MaxProcessingTime = "5m"
		warnDefault("kafka_consumer.max_processing_time", c.MaxProcessingTime)
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
		warnDefault("kafka_consumer.auto_offset_reset", c.AutoOffsetReset)
	}
}

// Validate validates the Kafka consumer configuration
func (c *KafkaConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka_consumer.brokers is required")
	}
	for key, value := range map[string]string{
		"session_timeout":     c.SessionTimeout,
		"heartbeat_interval":  c.HeartbeatInterval,
		"max_processing_time": c.MaxProcessingTime,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid kafka_consumer.%s %q: %w", key, value, err)
		}
	}
	return nil
}

// EventStreamConfig defines the Kafka topic carrying committed ledger events.
// An empty broker list disables the stream.
type EventStreamConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Enabled reports whether ledger events are streamed through Kafka.
func (c *EventStreamConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// SetDefaults sets reasonable default values for the event stream
func (c *EventStreamConfig) SetDefaults() {
	if !c.Enabled() {
		return
	}
	if c.Topic == "" {
		c.Topic = "shipment-events"
		warnDefault("event_stream.topic", c.Topic)
	}
	if c.GroupID == "" {
		c.GroupID = "ingestion-event-stream"
		warnDefault("event_stream.group_id", c.GroupID)
	}
}

// WorkerConfig defines configuration for worker processing
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`          // Number of concurrent workers per consumer
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors
	AttestationTimeout string `yaml:"attestation_timeout"`  // Upper bound for one attestation run
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
		warnDefault("worker.concurrency", c.Concurrency)
	}
	if c.ConsumerRetryDelay == "" {
		c.ConsumerRetryDelay = "5s"
		warnDefault("worker.consumer_retry_delay", c.ConsumerRetryDelay)
	}
	if c.AttestationTimeout == "" {
		c.AttestationTimeout = "6m"
		warnDefault("worker.attestation_timeout", c.AttestationTimeout)
	}
}

// Validate validates the worker configuration
func (c *WorkerConfig) Validate() error {
	if _, err := time.ParseDuration(c.ConsumerRetryDelay); err != nil {
		return fmt.Errorf("invalid worker.consumer_retry_delay %q: %w", c.ConsumerRetryDelay, err)
	}
	if _, err := time.ParseDuration(c.AttestationTimeout); err != nil {
		return fmt.Errorf("invalid worker.attestation_timeout %q: %w", c.AttestationTimeout, err)
	}
	return nil
}

// EngineMonitoringConfig defines monitoring configuration for engine
type EngineMonitoringConfig struct {
	HealthListenAddr string `yaml:"health_listen_addr"` // empty disables the health endpoint
	HealthCheckPath  string `yaml:"health_check_path"`
	LogLevel         string `yaml:"log_level" env:"LOG_LEVEL"`
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *EngineMonitoringConfig) SetDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
		warnDefault("monitoring.health_check_path", c.HealthCheckPath)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		warnDefault("monitoring.log_level", c.LogLevel)
	}
}

// EngineConfig defines all configuration for the Attestation Engine
type EngineConfig struct {
	Database DatabaseConfig `yaml:"database"`

	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`
	EventStream   EventStreamConfig   `yaml:"event_stream"`

	Worker WorkerConfig `yaml:"worker"`

	// Business Rules Configuration
	MaxTaskRetries int `yaml:"max_task_retries"` // Redeliveries of a request whose ledger was unreachable

	Monitoring EngineMonitoringConfig `yaml:"monitoring"`

	Oracle OracleConfig `yaml:"oracle"`

	// Ledger Client Configuration
	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path" env:"BLOCKCHAIN_CLIENT_CONFIG"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.Database.SetDefaults()
	cfg.KafkaConsumer.SetDefaults()
	cfg.EventStream.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Monitoring.SetDefaults()
	cfg.Oracle.SetDefaults()

	if cfg.MaxTaskRetries <= 0 {
		cfg.MaxTaskRetries = 3
		warnDefault("max_task_retries", cfg.MaxTaskRetries)
	}
	if cfg.BlockchainClientConfigPath == "" {
		cfg.BlockchainClientConfigPath = "client_config.yml"
		warnDefault("blockchain_client_config_path", cfg.BlockchainClientConfigPath)
	}
	cfg.BlockchainClientConfigPath = ResolvePath(path, cfg.BlockchainClientConfigPath)

	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}
	if err := cfg.KafkaConsumer.Validate(); err != nil {
		return nil, fmt.Errorf("kafka configuration error: %w", err)
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, fmt.Errorf("worker configuration error: %w", err)
	}
	if err := cfg.Oracle.Validate(); err != nil {
		return nil, fmt.Errorf("oracle configuration error: %w", err)
	}

	return &cfg, nil
}
