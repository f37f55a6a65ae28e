package blockchain

import (
	"context"
	"fmt"
	"path/filepath"

	"shiporacle/blockchain/client/chainmaker"
	"shiporacle/blockchain/client/local"
	"shiporacle/config"

	"go.uber.org/zap"
)

// BlockchainType represents the type of ledger client
type BlockchainType string

const (
	ChainMaker BlockchainType = "chainmaker"
	Local      BlockchainType = "local"
)

// LoadChainSpecificConfig loads chain-specific configuration based on ledger type
func LoadChainSpecificConfig(blockchainType string, configDir string) (any, error) {
	switch BlockchainType(blockchainType) {
	case ChainMaker, "":
		return chainmaker.LoadChainMakerConfig(filepath.Join(configDir, "clients", "chainmaker.yml"))
	case Local:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", blockchainType)
	}
}

// NewLedgerClient creates a ledger client based on the configuration. identity
// is the oracle address the local ledger records as submitter and owner;
// ChainMaker derives its identity from the configured user certificates.
func NewLedgerClient(ctx context.Context, cfg *config.BlockchainConfig, identity string, logger *zap.Logger) (LedgerClient, error) {
	var (
		client LedgerClient
		err    error
	)
	switch BlockchainType(cfg.BlockchainType) {
	case ChainMaker, "":
		client, err = chainmaker.NewChainMakerClient(cfg, logger)
	case Local:
		client, err = local.NewLocalClient(ctx, cfg, identity, logger)
	default:
		return nil, fmt.Errorf("unsupported blockchain type: %s", cfg.BlockchainType)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// NewLedgerClientFromFile creates a ledger client from configuration files
func NewLedgerClientFromFile(ctx context.Context, configPath, identity string, logger *zap.Logger) (LedgerClient, *config.BlockchainConfig, error) {
	cfg, err := config.LoadBlockchainConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.BlockchainType, filepath.Dir(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}
	cfg.ChainSpecific = chainSpecificCfg
	if cfg.LocalStateDir != "" {
		cfg.LocalStateDir = config.ResolvePath(configPath, cfg.LocalStateDir)
	}

	client, err := NewLedgerClient(ctx, cfg, identity, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}
