package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/asset/erc20"
	"github.com/lumenfi/factorpool/internal/asset/memasset"
	"github.com/lumenfi/factorpool/internal/authz"
	"github.com/lumenfi/factorpool/internal/blob/s3blob"
	"github.com/lumenfi/factorpool/internal/bus/membus"
	"github.com/lumenfi/factorpool/internal/bus/redisbus"
	"github.com/lumenfi/factorpool/internal/config"
	"github.com/lumenfi/factorpool/internal/crypto"
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/ledger"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
	"github.com/lumenfi/factorpool/internal/server/handler"
	"github.com/lumenfi/factorpool/internal/settlement"
	"github.com/lumenfi/factorpool/internal/store/memory"
	"github.com/lumenfi/factorpool/internal/store/postgres"
	"github.com/lumenfi/factorpool/internal/treasury"
	"github.com/lumenfi/factorpool/internal/treasury/strategies"
)

// Dependencies bundles everything the application modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger   *ledger.Ledger
	Bus      domain.EventSubscriber
	Archiver *s3blob.Archiver

	// Checks are health probes for backing services, keyed by service name.
	Checks map[string]handler.Checker
}

// needsS3 returns true for modes that run the archival job.
func needsS3(mode string) bool {
	switch strings.ToLower(mode) {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Checks: make(map[string]handler.Checker),
	}
	poolAccount := cfg.PoolAccountAddress()

	// --- Asset backend ---
	var asset domain.Asset
	switch strings.ToLower(cfg.Asset.Backend) {
	case "erc20":
		key, operatorAddr, err := crypto.LoadOperatorKey(crypto.KeySource{
			RawHex:        cfg.Operator.PrivateKey,
			EncryptedPath: cfg.Operator.EncryptedKeyPath,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: operator key: %w", err)
		}
		token, err := erc20.New(ctx, cfg.Asset.RPCURL,
			common.HexToAddress(cfg.Asset.TokenAddress), cfg.Asset.ChainID, key, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: erc20 asset: %w", err)
		}
		closers = append(closers, token.Close)
		logger.Info("erc20 asset backend ready",
			slog.String("token", cfg.Asset.TokenAddress),
			slog.String("operator", operatorAddr.Hex()),
		)
		asset = token
	default:
		asset = memasset.NewLedger().Account(poolAccount)
	}

	// --- Persistence ---
	var (
		invoices  domain.InvoiceStore
		events    domain.EventStore
		strats    domain.StrategyStore
		poolState domain.PoolStateStore
	)
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pgPool := pgClient.Pool()
		invoices = postgres.NewInvoiceStore(pgPool)
		events = postgres.NewEventStore(pgPool)
		strats = postgres.NewStrategyStore(pgPool)
		poolState = postgres.NewPoolStateStore(pgPool)
		deps.Checks["postgres"] = pgPool.Ping
	} else {
		invoices = memory.NewInvoiceStore()
		events = memory.NewEventStore()
		strats = memory.NewStrategyStore()
		poolState = memory.NewPoolStateStore()
	}

	// --- Event bus ---
	var bus interface {
		domain.EventBus
		domain.EventSubscriber
	}
	if cfg.Redis.Enabled {
		redisClient, err := redisbus.New(ctx, redisbus.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		bus = redisbus.NewEventBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		bus = membus.New()
	}
	deps.Bus = bus

	// --- Ledger core ---
	reg := registry.New(logger)
	p := pool.New(pool.Config{
		LiquidityBuffer:          cfg.LiquidityBufferAmount(),
		MaxTreasuryAllocationBps: uint16(cfg.Pool.MaxTreasuryAllocationBps),
	}, logger)
	alloc := treasury.New(treasury.Config{
		SlippageToleranceBps: uint16(cfg.Treasury.SlippageToleranceBps),
		RebalanceCooldown:    cfg.Treasury.RebalanceCooldown.Duration,
		MaxStrategies:        cfg.Treasury.MaxStrategies,
	}, logger)
	p.SetTreasuryManager(alloc)

	// Strategy adapters come from config; persisted records overlay their
	// weight and pause state during Rehydrate.
	for _, sc := range cfg.Treasury.Strategies {
		var adapter domain.StrategyAdapter
		switch sc.Kind {
		case "accrual":
			adapter = strategies.NewAccrual(sc.Name, uint16(sc.RateBps), time.Now)
		default:
			adapter = strategies.NewHold(sc.Name)
		}
		if err := alloc.AddStrategy(adapter, uint16(sc.WeightBps)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: strategy %s: %w", sc.Name, err)
		}
	}

	coord := settlement.New(reg, p, asset, poolAccount, logger)

	roles := authz.NewStatic(map[domain.Role][]common.Address{
		domain.RoleOwner:    parseAddresses(cfg.Authz.Owners),
		domain.RoleOperator: parseAddresses(cfg.Authz.Operators),
		domain.RoleTreasury: parseAddresses(cfg.Authz.Treasurers),
		domain.RoleLP:       parseAddresses(cfg.Authz.LPs),
	})

	led := ledger.New(ledger.Deps{
		Registry:    reg,
		Pool:        p,
		Treasury:    alloc,
		Coordinator: coord,
		Asset:       asset,
		Authz:       roles,
		PoolAccount: poolAccount,
		Bus:         bus,
		Invoices:    invoices,
		Events:      events,
		Strategies:  strats,
		PoolState:   poolState,
		Logger:      logger,
	})
	if err := led.Rehydrate(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rehydrate: %w", err)
	}
	deps.Ledger = led

	// --- S3 object storage (archival modes only) ---
	if needsS3(cfg.Mode) && cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Checks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), invoices, events, bus)
	}

	return deps, cleanup, nil
}

// parseAddresses converts validated config hex strings into addresses.
func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		out = append(out, common.HexToAddress(h))
	}
	return out
}
