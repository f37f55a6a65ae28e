package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SignerConfig locates the oracle's Ed25519 key material.
type SignerConfig struct {
	PrivateKey        string `yaml:"private_key" env:"PRIVATE_KEY"` // hex seed, usually supplied via env only
	KeyFile           string `yaml:"key_file" env:"KEY_FILE"`       // file holding the hex seed
	GenerateIfMissing bool   `yaml:"generate_if_missing" env:"GENERATE_KEY"`
}

// GeneratorConfig selects and tunes the report generator.
type GeneratorConfig struct {
	LLMType string `yaml:"llm_type" env:"LLM_TYPE"` // local, huggingface, or mock
	Timeout string `yaml:"timeout" env:"LLM_TIMEOUT"`

	LocalURL    string  `yaml:"local_llm_url" env:"LOCAL_LLM_URL"`
	LocalModel  string  `yaml:"local_llm_model" env:"LOCAL_LLM_MODEL"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS"`
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE"`

	HuggingFaceURL         string  `yaml:"huggingface_url" env:"HUGGINGFACE_URL"`
	HuggingFaceToken       string  `yaml:"huggingface_api_token" env:"HUGGINGFACE_API_TOKEN"`
	HuggingFaceModel       string  `yaml:"huggingface_model" env:"QWEN_MODEL"`
	HuggingFaceMaxTokens   int     `yaml:"huggingface_max_tokens" env:"QWEN_MAX_TOKENS"`
	HuggingFaceTemperature float64 `yaml:"huggingface_temperature" env:"QWEN_TEMPERATURE"`
}

// SetDefaults fills unset generator settings.
func (c *GeneratorConfig) SetDefaults() {
	if c.LLMType == "" {
		c.LLMType = "local"
		warnDefault("generator.llm_type", c.LLMType)
	}
	if c.Timeout == "" {
		c.Timeout = "5m"
		warnDefault("generator.timeout", c.Timeout)
	}
	if c.LocalURL == "" {
		c.LocalURL = "http://localhost:11434"
	}
	if c.LocalModel == "" {
		c.LocalModel = "qwen3:1.7b"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	if c.Temperature == 0 {
		c.Temperature = 0.5
	}
	if c.HuggingFaceURL == "" {
		c.HuggingFaceURL = "https://api-inference.huggingface.co"
	}
	if c.HuggingFaceModel == "" {
		c.HuggingFaceModel = "Qwen/Qwen2.5-7B-Instruct"
	}
	if c.HuggingFaceMaxTokens <= 0 {
		c.HuggingFaceMaxTokens = 1000
	}
	if c.HuggingFaceTemperature == 0 {
		c.HuggingFaceTemperature = 0.7
	}
}

// Validate validates the generator configuration.
func (c *GeneratorConfig) Validate() error {
	switch c.LLMType {
	case "local", "mock":
	case "huggingface":
		if c.HuggingFaceToken == "" {
			return fmt.Errorf("generator.huggingface_api_token is required when llm_type is huggingface")
		}
	default:
		return fmt.Errorf("unsupported generator.llm_type %q", c.LLMType)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid generator.timeout %q: %w", c.Timeout, err)
	}
	return nil
}

// Model returns the model name of the selected generator.
func (c *GeneratorConfig) Model() string {
	switch c.LLMType {
	case "huggingface":
		return c.HuggingFaceModel
	case "mock":
		return "mock"
	default:
		return c.LocalModel
	}
}

// CoordinatorConfig tunes the attestation pipeline.
type CoordinatorConfig struct {
	// DegradedMode is "fail" (surface GenerationFailed) or "degrade"
	// (fall back to a local low-confidence report).
	DegradedMode       string `yaml:"degraded_mode" env:"DEGRADED_MODE"`
	DegradedConfidence *int   `yaml:"degraded_confidence" env:"DEGRADED_CONFIDENCE"` // unset means 25
	SkipSelfVerify     bool   `yaml:"skip_self_verify" env:"SKIP_SELF_VERIFY"`
	ShipmentIDPrefix   string `yaml:"shipment_id_prefix" env:"SHIPMENT_ID_PREFIX"`
}

// SetDefaults fills unset coordinator settings.
func (c *CoordinatorConfig) SetDefaults() {
	if c.DegradedMode == "" {
		c.DegradedMode = "fail"
		warnDefault("coordinator.degraded_mode", c.DegradedMode)
	}
	if c.DegradedConfidence == nil {
		score := 25
		c.DegradedConfidence = &score
	}
	if c.ShipmentIDPrefix == "" {
		c.ShipmentIDPrefix = "SHIP"
	}
}

// Validate validates the coordinator configuration.
func (c *CoordinatorConfig) Validate() error {
	if c.DegradedMode != "fail" && c.DegradedMode != "degrade" {
		return fmt.Errorf("coordinator.degraded_mode must be fail or degrade, got %q", c.DegradedMode)
	}
	if score := c.DegradedScore(); score < 0 || score > 100 {
		return fmt.Errorf("coordinator.degraded_confidence must be within [0,100], got %d", score)
	}
	return nil
}

// DegradedScore returns the confidence given to degraded reports.
func (c *CoordinatorConfig) DegradedScore() int {
	if c.DegradedConfidence == nil {
		return 25
	}
	return *c.DegradedConfidence
}

// OracleConfig groups the settings of the attestation core.
type OracleConfig struct {
	Signer      SignerConfig      `yaml:"signer"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// SetDefaults sets defaults on every section.
func (c *OracleConfig) SetDefaults() {
	c.Generator.SetDefaults()
	c.Coordinator.SetDefaults()
}

// Validate validates every section.
func (c *OracleConfig) Validate() error {
	if err := c.Generator.Validate(); err != nil {
		return err
	}
	return c.Coordinator.Validate()
}

func warnDefault(key string, value any) {
	zap.S().Warnf("%s not set, defaulting to %v", key, value)
}
