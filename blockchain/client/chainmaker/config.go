package chainmaker

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// NodeConfig stores detailed configuration for a single ChainMaker node
type NodeConfig struct {
	Address     string   `yaml:"address"`
	ConnCount   int      `yaml:"conn_count"`
	UseTLS      bool     `yaml:"use_tls"`
	TLSHostName string   `yaml:"tls_host_name"`
	CaPaths     []string `yaml:"ca_paths"`
}

// ChainMakerConfig stores ChainMaker-specific configuration
type ChainMakerConfig struct {
	// --- SDK Connection Required ---
	ChainID string `yaml:"chain_id"`
	OrgID   string `yaml:"org_id"`

	// TLS Connection Credentials
	UserKeyPath  string `yaml:"user_key_path"`
	UserCertPath string `yaml:"user_cert_path"`

	// Transaction Signing Credentials
	UserSignKeyPath  string `yaml:"user_sign_key_path"`
	UserSignCertPath string `yaml:"user_sign_cert_path"`

	Nodes []NodeConfig `yaml:"nodes"`

	// --- Shipment Contract ---
	ContractName             string `yaml:"contract_name"`
	RecordOrUpdateMethodName string `yaml:"record_or_update_method_name"`
	UpdateMethodName         string `yaml:"update_method_name"`
	GetShipmentMethodName    string `yaml:"get_shipment_method_name"`
	GetRegistryMethodName    string `yaml:"get_registry_method_name"`

	ParamKeyShipmentID      string `yaml:"param_key_shipment_id"`
	ParamKeySummary         string `yaml:"param_key_summary"`
	ParamKeyConfidenceScore string `yaml:"param_key_confidence_score"`
	ParamKeySignature       string `yaml:"param_key_signature"`

	CreatedEventTopic string `yaml:"created_event_topic"`
	UpdatedEventTopic string `yaml:"updated_event_topic"`
}

// SetDefaults fills the contract bindings left unset.
func (c *ChainMakerConfig) SetDefaults() {
	defaults := []struct {
		field *string
		key   string
		value string
	}{
		{&c.ContractName, "contract_name", "shipment_registry"},
		{&c.RecordOrUpdateMethodName, "record_or_update_method_name", "record_or_update"},
		{&c.UpdateMethodName, "update_method_name", "update"},
		{&c.GetShipmentMethodName, "get_shipment_method_name", "get_shipment"},
		{&c.GetRegistryMethodName, "get_registry_method_name", "get_registry"},
		{&c.ParamKeyShipmentID, "param_key_shipment_id", "shipment_id"},
		{&c.ParamKeySummary, "param_key_summary", "summary"},
		{&c.ParamKeyConfidenceScore, "param_key_confidence_score", "confidence_score"},
		{&c.ParamKeySignature, "param_key_signature", "signature"},
		{&c.CreatedEventTopic, "created_event_topic", "Created"},
		{&c.UpdatedEventTopic, "updated_event_topic", "Updated"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
			zap.S().Warnf("chainmaker.%s not set, defaulting to %s", d.key, d.value)
		}
	}
	for i := range c.Nodes {
		if c.Nodes[i].ConnCount <= 0 {
			c.Nodes[i].ConnCount = 10
		}
	}
}

// Validate checks the SDK connection settings.
func (c *ChainMakerConfig) Validate() error {
	if c.ChainID == "" || c.OrgID == "" {
		return fmt.Errorf("chainmaker chain_id and org_id are required")
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no node configurations provided in config")
	}
	for _, node := range c.Nodes {
		if node.UseTLS && len(node.CaPaths) == 0 {
			return fmt.Errorf("node %s has TLS enabled but no ca_paths provided", node.Address)
		}
	}
	return nil
}

// LoadChainMakerConfig loads ChainMaker configuration from the specified YAML file path
func LoadChainMakerConfig(path string) (*ChainMakerConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of ChainMaker config file: %w", err)
	}

	zap.L().Info("Loading ChainMaker configuration", zap.String("path", absPath))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ChainMaker config file '%s': %w", absPath, err)
	}

	var cfg ChainMakerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ChainMaker YAML config file: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
