package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadShippedDefaults(t *testing.T) {
	cfg, err := LoadConfig(".")
	require.NoError(t, err)

	require.NotNil(t, cfg.Engine)
	assert.Equal(t, "attestation-requests", cfg.Engine.KafkaConsumer.Topic)
	assert.Equal(t, 3, cfg.Engine.MaxTaskRetries)
	assert.Equal(t, "client_config.yml", filepath.Base(cfg.Engine.BlockchainClientConfigPath))

	require.NotNil(t, cfg.ApiGateway)
	assert.Equal(t, ":8080", cfg.ApiGateway.HttpListenAddr)
	assert.Equal(t, "mock", cfg.ApiGateway.Oracle.Generator.LLMType)

	require.NotNil(t, cfg.Blockchain)
	assert.Equal(t, "local", cfg.Blockchain.BlockchainType)
}

func TestEngineConfigDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "engine.yml", `
database:
  dsn: "postgres://localhost/test"
kafka_consumer:
  brokers: ["kafka:9092"]
oracle:
  generator:
    llm_type: "local"
`)
	t.Setenv("ORACLE_LLM_TYPE", "mock")
	t.Setenv("ORACLE_DEGRADED_MODE", "degrade")
	t.Setenv("ORACLE_BLOCKCHAIN_CLIENT_CONFIG", "ledger/client.yml")

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Oracle.Generator.LLMType, "env overrides yaml")
	assert.Equal(t, "degrade", cfg.Oracle.Coordinator.DegradedMode)
	assert.Equal(t, "postgres://localhost/test", cfg.Database.DSN)
	assert.Equal(t, filepath.Join(dir, "ledger", "client.yml"), cfg.BlockchainClientConfigPath)
	assert.Equal(t, "attestation-engine", cfg.KafkaConsumer.GroupID)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "6m", cfg.Worker.AttestationTimeout)
	assert.False(t, cfg.EventStream.Enabled())
}

func TestEngineConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing brokers": `
database: {dsn: "postgres://x"}
`,
		"bad duration": `
database: {dsn: "postgres://x"}
kafka_consumer: {brokers: ["k:9092"]}
worker: {attestation_timeout: "soon"}
`,
		"bad degraded mode": `
database: {dsn: "postgres://x"}
kafka_consumer: {brokers: ["k:9092"]}
oracle: {coordinator: {degraded_mode: "maybe"}}
`,
		"huggingface without token": `
database: {dsn: "postgres://x"}
kafka_consumer: {brokers: ["k:9092"]}
oracle: {generator: {llm_type: "huggingface"}}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "engine.yml", body)
			_, err := LoadEngineConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestApiGatewayConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadApiGatewayConfig(writeFile(t, dir, "none.yml", "async_enabled: false\n"))
	assert.Error(t, err, "a listener is required")

	_, err = LoadApiGatewayConfig(writeFile(t, dir, "async.yml", "http_listen_addr: \":8080\"\nasync_enabled: true\ndatabase: {dsn: \"postgres://x\"}\n"))
	assert.Error(t, err, "async needs kafka brokers")

	t.Setenv("ORACLE_ASYNC_ENABLED", "true")
	cfg, err := LoadApiGatewayConfig(writeFile(t, dir, "ok.yml", `
http_listen_addr: ":8080"
database: {dsn: "postgres://x"}
kafka_producer: {brokers: ["k:9092"]}
`))
	require.NoError(t, err)
	assert.True(t, cfg.AsyncEnabled)
	assert.Equal(t, 50, cfg.BatchProcessor.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.BatchProcessor.BatchTimeout)
	assert.Equal(t, "all", cfg.KafkaProducer.RequiredAcks)
	assert.Equal(t, 6*time.Minute, cfg.HttpServer.WriteTimeout)
}

func TestBlockchainConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "client_config.yml", "blockchain_type: local\nsubmit_initial_backoff: \"250ms\"\n")
	t.Setenv("ORACLE_SUBMIT_MAX_ATTEMPTS", "7")

	cfg, err := LoadBlockchainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.BlockchainType)
	assert.Equal(t, 7, cfg.SubmitMaxAttempts)
	initial, ceiling := cfg.SubmitBackoff()
	assert.Equal(t, 250*time.Millisecond, initial)
	assert.Equal(t, 5*time.Second, ceiling)
	assert.Equal(t, 15*time.Second, cfg.Timeout())

	_, err = LoadBlockchainConfig(writeFile(t, dir, "bad.yml", "submit_max_backoff: \"later\"\n"))
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("conf", "client.yml"), ResolvePath("conf/engine.yml", "client.yml"))
	assert.Equal(t, "/abs/client.yml", ResolvePath("conf/engine.yml", "/abs/client.yml"))
	assert.Equal(t, "", ResolvePath("conf/engine.yml", ""))
}

func TestDegradedConfidenceZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	base := "database: {dsn: \"postgres://x\"}\nkafka_consumer: {brokers: [\"k:9092\"]}\n"

	cfg, err := LoadEngineConfig(writeFile(t, dir, "zero.yml", base+"oracle: {coordinator: {degraded_mode: degrade, degraded_confidence: 0}}\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Oracle.Coordinator.DegradedScore())

	cfg, err = LoadEngineConfig(writeFile(t, dir, "unset.yml", base))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Oracle.Coordinator.DegradedScore())

	t.Setenv("ORACLE_DEGRADED_CONFIDENCE", "0")
	cfg, err = LoadEngineConfig(writeFile(t, dir, "env.yml", base))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Oracle.Coordinator.DegradedScore())

	_, err = LoadEngineConfig(writeFile(t, dir, "high.yml", base+"oracle: {coordinator: {degraded_confidence: 101}}\n"))
	assert.Error(t, err)
}
