// Package config defines the top-level configuration for the factorpool
// ledger daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FACTOR_* environment variables.
type Config struct {
	Asset    AssetConfig    `toml:"asset"`
	Pool     PoolConfig     `toml:"pool"`
	Treasury TreasuryConfig `toml:"treasury"`
	Authz    AuthzConfig    `toml:"authz"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AssetConfig selects and parameterizes the value-transfer backend.
type AssetConfig struct {
	// Backend is "memory" (in-process ledger) or "erc20" (on-chain token).
	Backend string `toml:"backend"`

	// PoolAccount is the holding account fundings are paid out of and
	// repayments pulled into.
	PoolAccount string `toml:"pool_account"`

	// RPCURL and TokenAddress configure the erc20 backend.
	RPCURL       string `toml:"rpc_url"`
	TokenAddress string `toml:"token_address"`
	ChainID      int64  `toml:"chain_id"`
}

// PoolConfig holds capital pool parameters.
type PoolConfig struct {
	// LiquidityBuffer is the minimum available liquidity kept out of the
	// treasury, as a decimal string in asset base units.
	LiquidityBuffer string `toml:"liquidity_buffer"`

	// MaxTreasuryAllocationBps caps treasury holdings as a fraction of total
	// assets.
	MaxTreasuryAllocationBps int `toml:"max_treasury_allocation_bps"`
}

// TreasuryConfig holds allocator parameters and the strategies registered at
// startup.
type TreasuryConfig struct {
	SlippageToleranceBps int              `toml:"slippage_tolerance_bps"`
	RebalanceCooldown    duration         `toml:"rebalance_cooldown"`
	MaxStrategies        int              `toml:"max_strategies"`
	Strategies           []StrategyConfig `toml:"strategies"`
}

// StrategyConfig declares one strategy adapter to register at startup.
type StrategyConfig struct {
	Name      string `toml:"name"`
	Kind      string `toml:"kind"` // "hold" or "accrual"
	WeightBps int    `toml:"weight_bps"`
	RateBps   int    `toml:"rate_bps"` // accrual only
}

// AuthzConfig holds the static role table.
type AuthzConfig struct {
	Owners     []string `toml:"owners"`
	Operators  []string `toml:"operators"`
	Treasurers []string `toml:"treasurers"`
	LPs        []string `toml:"lps"`
}

// OperatorConfig holds the operator signing key used by the erc20 backend.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event bus.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the archival job.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKeys     []string `toml:"api_keys"`
	CORSOrigins []string `toml:"cors_origins"`
}

type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Asset: AssetConfig{
			Backend:     "memory",
			PoolAccount: "0x0000000000000000000000000000000000000001",
		},
		Pool: PoolConfig{
			LiquidityBuffer:          "0",
			MaxTreasuryAllocationBps: 5000,
		},
		Treasury: TreasuryConfig{
			SlippageToleranceBps: 50,
			RebalanceCooldown:    duration{24 * time.Hour},
			MaxStrategies:        16,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  8,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
	"full":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validAssetBackends = map[string]bool{
	"memory": true,
	"erc20":  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// an error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !validAssetBackends[strings.ToLower(c.Asset.Backend)] {
		errs = append(errs, fmt.Sprintf("unknown asset backend %q (valid: memory, erc20)", c.Asset.Backend))
	}
	if !common.IsHexAddress(c.Asset.PoolAccount) {
		errs = append(errs, fmt.Sprintf("asset pool_account %q is not a hex address", c.Asset.PoolAccount))
	}
	if strings.EqualFold(c.Asset.Backend, "erc20") {
		if c.Asset.RPCURL == "" {
			errs = append(errs, "asset rpc_url is required for the erc20 backend")
		}
		if !common.IsHexAddress(c.Asset.TokenAddress) {
			errs = append(errs, fmt.Sprintf("asset token_address %q is not a hex address", c.Asset.TokenAddress))
		}
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator private_key or encrypted_key_path is required for the erc20 backend")
		}
	}

	if _, err := uint256.FromDecimal(c.Pool.LiquidityBuffer); err != nil {
		errs = append(errs, fmt.Sprintf("pool liquidity_buffer %q is not a decimal amount", c.Pool.LiquidityBuffer))
	}
	if c.Pool.MaxTreasuryAllocationBps < 0 || c.Pool.MaxTreasuryAllocationBps > 10000 {
		errs = append(errs, fmt.Sprintf("pool max_treasury_allocation_bps %d out of range [0,10000]", c.Pool.MaxTreasuryAllocationBps))
	}

	if c.Treasury.SlippageToleranceBps < 0 || c.Treasury.SlippageToleranceBps > 10000 {
		errs = append(errs, fmt.Sprintf("treasury slippage_tolerance_bps %d out of range [0,10000]", c.Treasury.SlippageToleranceBps))
	}
	var totalWeight int
	for _, s := range c.Treasury.Strategies {
		if s.Name == "" {
			errs = append(errs, "treasury strategy with empty name")
		}
		if s.Kind != "hold" && s.Kind != "accrual" {
			errs = append(errs, fmt.Sprintf("treasury strategy %q: unknown kind %q (valid: hold, accrual)", s.Name, s.Kind))
		}
		if s.WeightBps <= 0 || s.WeightBps > 10000 {
			errs = append(errs, fmt.Sprintf("treasury strategy %q: weight_bps %d out of range (0,10000]", s.Name, s.WeightBps))
		}
		totalWeight += s.WeightBps
	}
	if totalWeight > 10000 {
		errs = append(errs, fmt.Sprintf("treasury strategy weights sum to %d bps, exceeding 10000", totalWeight))
	}

	for _, group := range []struct {
		name  string
		addrs []string
	}{
		{"owners", c.Authz.Owners},
		{"operators", c.Authz.Operators},
		{"treasurers", c.Authz.Treasurers},
		{"lps", c.Authz.LPs},
	} {
		for _, a := range group.addrs {
			if !common.IsHexAddress(a) {
				errs = append(errs, fmt.Sprintf("authz %s entry %q is not a hex address", group.name, a))
			}
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server port %d out of range", c.Server.Port))
	}
	if c.Archive.RetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf("archive retention_days %d must be positive", c.Archive.RetentionDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LiquidityBufferAmount parses the configured buffer. Call after Validate.
func (c *Config) LiquidityBufferAmount() *uint256.Int {
	v, err := uint256.FromDecimal(c.Pool.LiquidityBuffer)
	if err != nil {
		return uint256.NewInt(0)
	}
	return v
}

// PoolAccountAddress parses the configured pool account. Call after Validate.
func (c *Config) PoolAccountAddress() common.Address {
	return common.HexToAddress(c.Asset.PoolAccount)
}
