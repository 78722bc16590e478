package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, BackendNone, cfg.Events.Backend)
	assert.Equal(t, "option.quotes", cfg.Events.QuoteTopic)
	assert.Equal(t, "option.requests", cfg.Events.RequestTopic)
	assert.Equal(t, 50_000, cfg.Simulation.PathCount)
	assert.Equal(t, 252, cfg.Simulation.StepCount)
	assert.Equal(t, EstimatorLSM, cfg.Simulation.Estimator)
	assert.Equal(t, 1000, cfg.Simulation.MaxSamples)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Empty(t, cfg.MySQL.DSN)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  read_timeout: 3s
log:
  level: debug
  format: console
redis:
  addr: "127.0.0.1:6379"
  ttl: 30s
events:
  backend: kafka
  kafka_brokers: ["k1:9092", "k2:9092"]
simulation:
  path_count: 1000
  step_count: 50
  estimator: pathwise-max
  max_sample_paths: 200
snowflake:
  node_id: 7
`)
	t.Setenv("PRICER_SERVER_ADDR", ":9100")
	t.Setenv("PRICER_SIMULATION_WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr) // 环境变量优先
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 1000, cfg.Simulation.PathCount)
	assert.Equal(t, 4, cfg.Simulation.Workers)
	assert.Equal(t, EstimatorPathwiseMax, cfg.Simulation.Estimator)
	assert.Equal(t, 200, cfg.Simulation.MaxSamples)
	assert.Equal(t, int64(7), cfg.Snowflake.NodeID)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend":   "events:\n  backend: rabbit\n",
		"format":    "log:\n  format: xml\n",
		"paths":     "simulation:\n  path_count: 0\n",
		"max paths": "simulation:\n  path_count: 10\n  max_path_count: 5\n",
		"estimator": "simulation:\n  estimator: binomial\n",
		"samples":   "simulation:\n  max_sample_paths: 0\n",
		"node":      "snowflake:\n  node_id: 4096\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.ErrorIs(t, err, ErrInvalid, name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "pricer.yaml"))
	require.NoError(t, err)

	assert.Equal(t, BackendNone, cfg.Events.Backend)
	assert.Equal(t, 2_000_000, cfg.Simulation.MaxPathCount)
	assert.Equal(t, 1000, cfg.Simulation.MaxSamples)
	assert.Equal(t, EstimatorLSM, cfg.Simulation.Estimator)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
}
