package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// BlockchainConfig stores common ledger configuration across all ledger types
type BlockchainConfig struct {
	// --- Ledger Type Selection ---
	BlockchainType string `yaml:"blockchain_type" env:"BLOCKCHAIN_TYPE"` // "chainmaker" or "local"

	// --- SDK Behavior (chainmaker) ---
	RetryLimit     int `yaml:"retry_limit"`
	RetryInterval  int `yaml:"retry_interval"` // milliseconds
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// --- Submission Retry (all ledger types) ---
	SubmitMaxAttempts    int    `yaml:"submit_max_attempts" env:"SUBMIT_MAX_ATTEMPTS"`
	SubmitInitialBackoff string `yaml:"submit_initial_backoff"`
	SubmitMaxBackoff     string `yaml:"submit_max_backoff"`

	// --- Local Ledger ---
	// LocalStateDir persists the in-process ledger; empty keeps it in memory.
	LocalStateDir string `yaml:"local_state_dir" env:"LEDGER_STATE_DIR"`

	// --- Chain-specific Configuration ---
	// Loaded separately based on blockchain type
	ChainSpecific any `yaml:"-"`
}

// SetDefaults sets reasonable default values for the ledger configuration
func (c *BlockchainConfig) SetDefaults() {
	if c.BlockchainType == "" {
		c.BlockchainType = "chainmaker"
		warnDefault("blockchain_type", c.BlockchainType)
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 15
		warnDefault("timeout_seconds", c.TimeoutSeconds)
	}
	if c.SubmitMaxAttempts <= 0 {
		c.SubmitMaxAttempts = 4
		warnDefault("submit_max_attempts", c.SubmitMaxAttempts)
	}
	if c.SubmitInitialBackoff == "" {
		c.SubmitInitialBackoff = "500ms"
		warnDefault("submit_initial_backoff", c.SubmitInitialBackoff)
	}
	if c.SubmitMaxBackoff == "" {
		c.SubmitMaxBackoff = "5s"
		warnDefault("submit_max_backoff", c.SubmitMaxBackoff)
	}
}

// Validate validates the ledger configuration
func (c *BlockchainConfig) Validate() error {
	if _, err := time.ParseDuration(c.SubmitInitialBackoff); err != nil {
		return fmt.Errorf("invalid submit_initial_backoff %q: %w", c.SubmitInitialBackoff, err)
	}
	if _, err := time.ParseDuration(c.SubmitMaxBackoff); err != nil {
		return fmt.Errorf("invalid submit_max_backoff %q: %w", c.SubmitMaxBackoff, err)
	}
	return nil
}

// SubmitBackoff returns the parsed submission backoff bounds.
func (c *BlockchainConfig) SubmitBackoff() (initial, max time.Duration) {
	initial, _ = time.ParseDuration(c.SubmitInitialBackoff)
	max, _ = time.ParseDuration(c.SubmitMaxBackoff)
	return initial, max
}

// Timeout returns the per-call ledger timeout.
func (c *BlockchainConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LoadBlockchainConfig loads ledger configuration from the specified YAML file path
func LoadBlockchainConfig(path string) (*BlockchainConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config file: %w", err)
	}

	zap.L().Info("Loading blockchain configuration", zap.String("path", absPath))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", absPath, err)
	}

	var cfg BlockchainConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("blockchain configuration error: %w", err)
	}
	return &cfg, nil
}
