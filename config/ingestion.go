package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// KafkaProducerConfig defines configuration for Kafka producer
type KafkaProducerConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`

	// Batch processing settings
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchBytes   int           `yaml:"batch_bytes"`

	// Reliability settings
	RequiredAcks string `yaml:"required_acks"`
	Async        bool   `yaml:"async"`

	// Performance settings
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// SetDefaults sets reasonable default values for the producer
func (c *KafkaProducerConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "attestation-requests"
		warnDefault("kafka_producer.topic", c.Topic)
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
		warnDefault("kafka_producer.required_acks", c.RequiredAcks)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
		warnDefault("kafka_producer.write_timeout", c.WriteTimeout)
	}
}

// BatchProcessorConfig defines configuration for batch processing
type BatchProcessorConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	FlushChannelBuffer int           `yaml:"flush_channel_buffer"`
}

// SetDefaults sets reasonable default values for batch processor configuration
func (c *BatchProcessorConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 50
		warnDefault("batch_processor.batch_size", c.BatchSize)
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 100 * time.Millisecond
		warnDefault("batch_processor.batch_timeout", c.BatchTimeout)
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = 1000
		warnDefault("batch_processor.max_buffer_size", c.MaxBufferSize)
	}
	if c.FlushChannelBuffer == 0 {
		c.FlushChannelBuffer = 100
		warnDefault("batch_processor.flush_channel_buffer", c.FlushChannelBuffer)
	}
}

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// SetDefaults sets HTTP server timeouts. The write timeout must cover a
// synchronous attestation, which includes model inference.
func (c *HttpServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 6 * time.Minute
		warnDefault("http_server.write_timeout", c.WriteTimeout)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20
	}
}

// GatewayMonitoringConfig defines monitoring configuration for API gateway
type GatewayMonitoringConfig struct {
	HealthCheckPath string `yaml:"health_check_path"`
	LogLevel        string `yaml:"log_level" env:"LOG_LEVEL"`
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *GatewayMonitoringConfig) SetDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		warnDefault("monitoring.log_level", c.LogLevel)
	}
}

// ApiGatewayConfig defines all configurations required for the API gateway
type ApiGatewayConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr" env:"HTTP_LISTEN_ADDR"`
	GrpcListenAddr string `yaml:"grpc_listen_addr" env:"GRPC_LISTEN_ADDR"`

	// AsyncEnabled turns on the queued path (Postgres status + Kafka).
	AsyncEnabled bool `yaml:"async_enabled" env:"ASYNC_ENABLED"`

	Database       DatabaseConfig          `yaml:"database"`
	KafkaProducer  KafkaProducerConfig     `yaml:"kafka_producer"`
	EventStream    EventStreamConfig       `yaml:"event_stream"`
	BatchProcessor BatchProcessorConfig    `yaml:"batch_processor"`
	HttpServer     HttpServerConfig        `yaml:"http_server"`
	Monitoring     GatewayMonitoringConfig `yaml:"monitoring"`

	Oracle OracleConfig `yaml:"oracle"`

	BlockchainClientConfigPath string `yaml:"blockchain_client_config_path" env:"BLOCKCHAIN_CLIENT_CONFIG"`
}

// LoadApiGatewayConfig loads API gateway configuration from the specified YAML file path
func LoadApiGatewayConfig(path string) (*ApiGatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API Gateway config file '%s': %w", path, err)
	}

	var cfg ApiGatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse API Gateway YAML config file: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.HttpServer.SetDefaults()
	cfg.Monitoring.SetDefaults()
	cfg.EventStream.SetDefaults()
	cfg.Oracle.SetDefaults()
	if cfg.AsyncEnabled {
		cfg.Database.SetDefaults()
		cfg.KafkaProducer.SetDefaults()
		cfg.BatchProcessor.SetDefaults()
	}
	if cfg.BlockchainClientConfigPath == "" {
		cfg.BlockchainClientConfigPath = "client_config.yml"
		warnDefault("blockchain_client_config_path", cfg.BlockchainClientConfigPath)
	}
	cfg.BlockchainClientConfigPath = ResolvePath(path, cfg.BlockchainClientConfigPath)

	if cfg.HttpListenAddr == "" && cfg.GrpcListenAddr == "" {
		return nil, fmt.Errorf("configuration error: at least one of http_listen_addr or grpc_listen_addr must be configured")
	}
	if cfg.AsyncEnabled {
		if err := cfg.Database.Validate(); err != nil {
			return nil, fmt.Errorf("database configuration error: %w", err)
		}
		if len(cfg.KafkaProducer.Brokers) == 0 {
			return nil, fmt.Errorf("configuration error: kafka_producer.brokers is required when async_enabled is set")
		}
	}
	if err := cfg.Oracle.Validate(); err != nil {
		return nil, fmt.Errorf("oracle configuration error: %w", err)
	}

	return &cfg, nil
}
