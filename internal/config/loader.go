package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration from the TOML file at path, merges it over the
// built-in defaults, then applies FACTOR_* environment variable overrides.
// A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides overwrites config fields from FACTOR_* environment
// variables. Only variables that are set and non-empty take effect.
func applyEnvOverrides(cfg *Config) {
	setStr("FACTOR_MODE", &cfg.Mode)
	setStr("FACTOR_LOG_LEVEL", &cfg.LogLevel)

	setStr("FACTOR_ASSET_BACKEND", &cfg.Asset.Backend)
	setStr("FACTOR_ASSET_POOL_ACCOUNT", &cfg.Asset.PoolAccount)
	setStr("FACTOR_ASSET_RPC_URL", &cfg.Asset.RPCURL)
	setStr("FACTOR_ASSET_TOKEN_ADDRESS", &cfg.Asset.TokenAddress)
	setInt64("FACTOR_ASSET_CHAIN_ID", &cfg.Asset.ChainID)

	setStr("FACTOR_POOL_LIQUIDITY_BUFFER", &cfg.Pool.LiquidityBuffer)
	setInt("FACTOR_POOL_MAX_TREASURY_ALLOCATION_BPS", &cfg.Pool.MaxTreasuryAllocationBps)

	setInt("FACTOR_TREASURY_SLIPPAGE_TOLERANCE_BPS", &cfg.Treasury.SlippageToleranceBps)
	setDuration("FACTOR_TREASURY_REBALANCE_COOLDOWN", &cfg.Treasury.RebalanceCooldown)
	setInt("FACTOR_TREASURY_MAX_STRATEGIES", &cfg.Treasury.MaxStrategies)

	setStringSlice("FACTOR_AUTHZ_OWNERS", &cfg.Authz.Owners)
	setStringSlice("FACTOR_AUTHZ_OPERATORS", &cfg.Authz.Operators)
	setStringSlice("FACTOR_AUTHZ_TREASURERS", &cfg.Authz.Treasurers)
	setStringSlice("FACTOR_AUTHZ_LPS", &cfg.Authz.LPs)

	setStr("FACTOR_OPERATOR_PRIVATE_KEY", &cfg.Operator.PrivateKey)
	setStr("FACTOR_OPERATOR_ENCRYPTED_KEY_PATH", &cfg.Operator.EncryptedKeyPath)
	setStr("FACTOR_OPERATOR_KEY_PASSWORD", &cfg.Operator.KeyPassword)

	setBool("FACTOR_POSTGRES_ENABLED", &cfg.Postgres.Enabled)
	setStr("FACTOR_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("FACTOR_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("FACTOR_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("FACTOR_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("FACTOR_POSTGRES_USER", &cfg.Postgres.User)
	setStr("FACTOR_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("FACTOR_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setBool("FACTOR_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("FACTOR_REDIS_ENABLED", &cfg.Redis.Enabled)
	setStr("FACTOR_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("FACTOR_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("FACTOR_REDIS_DB", &cfg.Redis.DB)
	setBool("FACTOR_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	setStr("FACTOR_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("FACTOR_S3_REGION", &cfg.S3.Region)
	setStr("FACTOR_S3_BUCKET", &cfg.S3.Bucket)
	setStr("FACTOR_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("FACTOR_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("FACTOR_S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("FACTOR_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	setInt("FACTOR_ARCHIVE_RETENTION_DAYS", &cfg.Archive.RetentionDays)
	setDuration("FACTOR_ARCHIVE_INTERVAL", &cfg.Archive.Interval)

	setBool("FACTOR_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("FACTOR_SERVER_PORT", &cfg.Server.Port)
	setStringSlice("FACTOR_SERVER_API_KEYS", &cfg.Server.APIKeys)
	setStringSlice("FACTOR_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
