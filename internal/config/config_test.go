package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Asset.Backend)
	assert.Equal(t, "0", cfg.Pool.LiquidityBuffer)
	assert.Equal(t, 24*time.Hour, cfg.Treasury.RebalanceCooldown.Duration)
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Pool.LiquidityBuffer = "not-a-number"
	cfg.Treasury.Strategies = []StrategyConfig{
		{Name: "a", Kind: "hold", WeightBps: 6000},
		{Name: "b", Kind: "magic", WeightBps: 5000},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "liquidity_buffer")
	assert.Contains(t, err.Error(), "unknown kind")
	assert.Contains(t, err.Error(), "exceeding 10000")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factorpool.toml")
	body := `
mode = "full"
log_level = "debug"

[pool]
liquidity_buffer = "250000"

[treasury]
rebalance_cooldown = "6h"

[[treasury.strategies]]
name = "park"
kind = "hold"
weight_bps = 4000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("FACTOR_SERVER_PORT", "9090")
	t.Setenv("FACTOR_AUTHZ_OPERATORS", "0x1111111111111111111111111111111111111111, 0x2222222222222222222222222222222222222222")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "250000", cfg.Pool.LiquidityBuffer)
	assert.Equal(t, "250000", cfg.LiquidityBufferAmount().Dec())
	assert.Equal(t, 6*time.Hour, cfg.Treasury.RebalanceCooldown.Duration)
	require.Len(t, cfg.Treasury.Strategies, 1)
	assert.Equal(t, "park", cfg.Treasury.Strategies[0].Name)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Len(t, cfg.Authz.Operators, 2)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Server.APIKeys = []string{"key-1"}

	red := cfg.RedactedConfig()
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Operator.PrivateKey)
	assert.Equal(t, []string{"***"}, red.Server.APIKeys)

	// Original untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
