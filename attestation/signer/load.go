package signer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"shiporacle/config"

	"go.uber.org/zap"
)

// Load builds the process signer. Inline key material wins over the key file;
// a fresh key is generated only when explicitly allowed, and is persisted to
// the key file when one is configured.
func Load(cfg config.SignerConfig, logger *zap.Logger) (*Signer, error) {
	if cfg.PrivateKey != "" {
		s, err := FromHex(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded oracle key from configuration", zap.String("address", s.Address()))
		return s, nil
	}

	if cfg.KeyFile != "" {
		s, err := FromFile(cfg.KeyFile)
		if err == nil {
			logger.Info("Loaded oracle key from file", zap.String("path", cfg.KeyFile), zap.String("address", s.Address()))
			return s, nil
		}
		if !errors.Is(err, os.ErrNotExist) || !cfg.GenerateIfMissing {
			return nil, err
		}
	}

	if !cfg.GenerateIfMissing {
		return nil, unavailable("no key material configured", nil)
	}

	seedHex, _, err := Generate()
	if err != nil {
		return nil, unavailable("generate key", err)
	}
	if cfg.KeyFile != "" {
		if err := writeSeedFile(cfg.KeyFile, seedHex); err != nil {
			return nil, unavailable("persist generated key", err)
		}
	}
	s, err := FromHex(seedHex)
	if err != nil {
		return nil, err
	}
	logger.Warn("Generated new oracle key pair, save it for production use",
		zap.String("public_key", s.PublicKeyHex()),
		zap.String("address", s.Address()),
		zap.String("key_file", cfg.KeyFile))
	return s, nil
}

// FromFile reads a hex seed from path.
func FromFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, unavailable(fmt.Sprintf("key file %s does not exist", path), err)
		}
		return nil, unavailable(fmt.Sprintf("read key file %s", path), err)
	}
	return FromHex(string(data))
}

func writeSeedFile(path, seedHex string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(seedHex + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
