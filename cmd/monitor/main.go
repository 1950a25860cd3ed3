// Package main is the risk monitor entry point: it wires storage, caches,
// the chain reader, protocol adapters and the risk pipeline together, then
// runs the periodic monitor alongside the operational API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/defi-risk-monitor/internal/adapter"
	"github.com/defi-risk-monitor/internal/aggregator"
	"github.com/defi-risk-monitor/internal/alert"
	"github.com/defi-risk-monitor/internal/api"
	"github.com/defi-risk-monitor/internal/cache"
	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/config"
	"github.com/defi-risk-monitor/internal/lending"
	"github.com/defi-risk-monitor/internal/logging"
	"github.com/defi-risk-monitor/internal/monitor"
	"github.com/defi-risk-monitor/internal/report"
	"github.com/defi-risk-monitor/internal/risk"
	"github.com/defi-risk-monitor/internal/storage"
	"github.com/defi-risk-monitor/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("failed to load configuration")
	}

	logging.InitGlobalLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("risk monitor starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	postgres, err := storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to postgres")
	}
	defer postgres.Close()

	clickhouseDB, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to clickhouse")
	}
	defer clickhouseDB.Close()

	redisCache, err := cache.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to redis")
	}
	defer redisCache.Close()

	cacheSvc := cache.NewService(redisCache, cfg.Cache.PositionTTL, cfg.Cache.MetadataTTL, cfg.Cache.MarketStateTTL)
	loader := cache.NewLoader(cacheSvc)

	priceRepo := storage.NewPriceHistoryRepository(clickhouseDB)
	riskConfigRepo := storage.NewRiskConfigRepository(postgres)
	thresholdRepo := storage.NewThresholdRepository(postgres)
	alertRepo := storage.NewAlertRepository(postgres)

	// Chain reader.
	endpoints := make(map[types.ChainID]chain.ChainEndpoint)
	registries := make(map[types.ChainID]chain.ProtocolRegistry)
	var enabledChains []types.ChainID

	for _, name := range cfg.Chains.Enabled {
		chainID, ok := chainIDFromName(strings.TrimSpace(name))
		if !ok {
			logger.WithField("chain", name).Warn("skipping unknown chain")
			continue
		}
		chainCfg := cfg.Chains.Chains[strings.TrimSpace(name)]
		if chainCfg.RPCPrimary == "" {
			logger.WithField("chain", name).Warn("skipping chain with no RPC endpoint configured")
			continue
		}
		endpoints[chainID] = chain.ChainEndpoint{
			RPCURL:          chainCfg.RPCPrimary,
			RPCSecondaryURL: chainCfg.RPCSecondary,
			CallTimeout:     chainCfg.CallTimeout,
			RPS:             chainCfg.RPS,
		}
		if chainID == types.ChainEthereum {
			registries[chainID] = chain.EthereumMainnetRegistry
		}
		enabledChains = append(enabledChains, chainID)
	}

	reader, err := chain.NewEVMReader(&chain.EVMReaderConfig{
		Chains:     endpoints,
		Registries: registries,
		PriceFeed:  priceRepo,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize chain reader")
	}
	defer reader.Close()

	// Protocol adapters.
	deps := adapter.Deps{Reader: reader, Loader: loader, Cache: cacheSvc, Feed: priceRepo}
	registry := adapter.NewRegistry()
	for _, a := range []adapter.ProtocolAdapter{
		adapter.NewUniswapV3Adapter(deps, registries),
		adapter.NewAaveV3Adapter(deps, registries),
		adapter.NewCurveAdapter(deps, registries),
		adapter.NewLidoAdapter(deps, registries),
	} {
		if err := registry.Register(a); err != nil {
			logger.WithError(err).Fatal("failed to register protocol adapter")
		}
	}

	agg := aggregator.New(registry, enabledChains,
		aggregator.WithMaxConcurrent(cfg.Monitor.MaxConcurrent))

	calculator := risk.NewCalculator(
		risk.WithPeriodsPerYear(float64(cfg.Risk.PeriodsPerYear)))

	var notifier alert.Notifier = alert.NewLogNotifier()
	if cfg.Alerts.WebhookURL != "" {
		notifier = alert.NewMultiNotifier(alert.NewWebhookNotifier(cfg.Alerts.WebhookURL), notifier)
	}
	engine := alert.NewEngine(cfg.Alerts.Cooldown, alert.WithNotifier(notifier))

	lendingMgr := lending.NewManager(nil)
	reports := report.NewBuilder(agg, reader, calculator, lendingMgr, alertRepo)

	mon := monitor.New(monitor.Deps{
		Aggregator:   agg,
		Reader:       reader,
		History:      priceRepo,
		StateHistory: priceRepo,
		Calculator:   calculator,
		Engine:       engine,
		Users:        trackedUsers(cfg.Monitor.TrackedAddresses),
		Configs:      riskConfigRepo,
		Thresholds:   thresholdRepo,
		Alerts:       alertRepo,
	}, cfg.Monitor.Interval, cfg.Monitor.MaxConcurrent, cfg.Risk.VolatilityLookback)

	server := api.NewServer(cfg.Server.Host+":"+cfg.Server.Port, agg, reports, alertRepo, riskConfigRepo,
		map[string]api.Pinger{
			"postgres":   postgres,
			"clickhouse": clickhouseDB,
			"redis":      redisCache,
		})

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("api server failed")
		}
	}()
	go func() {
		if err := mon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("monitor stopped unexpectedly")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("api server shutdown failed")
	}

	logger.Info("risk monitor exited")
}

// chainIDFromName maps a configured chain name to its ChainID
func chainIDFromName(name string) (types.ChainID, bool) {
	switch name {
	case "ethereum":
		return types.ChainEthereum, true
	case "polygon":
		return types.ChainPolygon, true
	case "arbitrum":
		return types.ChainArbitrum, true
	case "optimism":
		return types.ChainOptimism, true
	case "base":
		return types.ChainBase, true
	default:
		return "", false
	}
}

// trackedUsers parses TRACKED_ADDRESSES entries of the form userId=address,
// or bare addresses that double as their own user id
func trackedUsers(entries []string) monitor.StaticUsers {
	users := make(monitor.StaticUsers, 0, len(entries))
	for _, entry := range entries {
		if userID, address, found := strings.Cut(entry, "="); found {
			users = append(users, monitor.TrackedUser{UserID: userID, Address: address})
		} else {
			users = append(users, monitor.TrackedUser{UserID: entry, Address: entry})
		}
	}
	return users
}
