package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORACLE_"

// Config represents the complete application configuration
type Config struct {
	Engine     *EngineConfig
	ApiGateway *ApiGatewayConfig
	Blockchain *BlockchainConfig
}

// ApplyEnv overlays ORACLE_-prefixed environment variables onto a config
// loaded from YAML. Unset variables leave the YAML value untouched.
func ApplyEnv(cfg any) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// LoadConfig loads all configuration files from a directory
func LoadConfig(configDir string) (*Config, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config directory: %w", err)
	}

	config := &Config{}

	enginePath := filepath.Join(absDir, "engine.defaults.yml")
	if _, err := os.Stat(enginePath); err == nil {
		engineCfg, err := LoadEngineConfig(enginePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		config.Engine = engineCfg
	}

	apiGatewayPath := filepath.Join(absDir, "ingestion.defaults.yml")
	if _, err := os.Stat(apiGatewayPath); err == nil {
		apiGatewayCfg, err := LoadApiGatewayConfig(apiGatewayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load API gateway config: %w", err)
		}
		config.ApiGateway = apiGatewayCfg
	}

	blockchainPath := filepath.Join(absDir, "client_config.yml")
	if _, err := os.Stat(blockchainPath); err == nil {
		blockchainCfg, err := LoadBlockchainConfig(blockchainPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load blockchain config: %w", err)
		}
		config.Blockchain = blockchainCfg
	}

	return config, nil
}

// ResolvePath resolves p relative to the directory of the file that referenced it.
func ResolvePath(referrer, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(referrer), p)
}
