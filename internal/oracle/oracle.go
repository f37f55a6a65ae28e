// Package oracle assembles the attestation core shared by the service binaries.
package oracle

import (
	"context"
	"fmt"
	"time"

	"shiporacle/attestation/coordinator"
	"shiporacle/attestation/report"
	"shiporacle/attestation/signer"
	blockchain "shiporacle/blockchain/client"
	"shiporacle/config"

	"go.uber.org/zap"
)

// Oracle is a wired attestation core.
type Oracle struct {
	Signer      *signer.Signer
	Ledger      blockchain.LedgerClient
	LedgerCfg   *config.BlockchainConfig
	Generator   report.Generator
	Coordinator *coordinator.Coordinator
}

// Build loads the signer, connects the ledger described by ledgerConfigPath,
// and assembles the coordinator. configPath is the service config file that
// relative key paths are resolved against.
func Build(ctx context.Context, cfg config.OracleConfig, configPath, ledgerConfigPath string, logger *zap.Logger, opts ...coordinator.Option) (*Oracle, error) {
	if cfg.Signer.KeyFile != "" {
		cfg.Signer.KeyFile = config.ResolvePath(configPath, cfg.Signer.KeyFile)
	}
	sgn, err := signer.Load(cfg.Signer, logger.Named("signer"))
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle key: %w", err)
	}

	gen, err := report.New(cfg.Generator, logger.Named("generator"))
	if err != nil {
		return nil, fmt.Errorf("failed to create report generator: %w", err)
	}
	genTimeout, err := time.ParseDuration(cfg.Generator.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid generator timeout %q: %w", cfg.Generator.Timeout, err)
	}

	ledger, ledgerCfg, err := blockchain.NewLedgerClientFromFile(ctx, ledgerConfigPath, sgn.Address(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}

	coord := coordinator.New(gen, sgn, blockchain.NewSubmitter(ledger, ledgerCfg, logger), cfg.Coordinator, genTimeout, logger, opts...)

	logger.Info("Oracle ready",
		zap.String("ledger", ledgerCfg.BlockchainType),
		zap.String("model", gen.Model()),
		zap.String("degraded_mode", cfg.Coordinator.DegradedMode),
		zap.String("address", sgn.Address()))

	return &Oracle{Signer: sgn, Ledger: ledger, LedgerCfg: ledgerCfg, Generator: gen, Coordinator: coord}, nil
}

// Close releases the ledger connection.
func (o *Oracle) Close() error {
	return o.Ledger.Close()
}
