package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/application/service"
	"agentmirror/internal/application/usecase/reconcile"
	domainservice "agentmirror/internal/domain/service"
	"agentmirror/internal/infrastructure/agentfeed"
	"agentmirror/internal/infrastructure/config"
	"agentmirror/internal/infrastructure/exchange"
	"agentmirror/internal/infrastructure/exchange/binance"
	"agentmirror/internal/infrastructure/exchange/dryrun"
	"agentmirror/internal/infrastructure/metrics"
	"agentmirror/internal/infrastructure/pricefeed"
	"agentmirror/internal/infrastructure/storage/composite"
	"agentmirror/internal/infrastructure/storage/memory"
	pgrepo "agentmirror/internal/infrastructure/storage/postgres"
	redisrepo "agentmirror/internal/infrastructure/storage/redis"
	sqliterepo "agentmirror/internal/infrastructure/storage/sqlite"
	"agentmirror/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层
	redisClient *redisclient.Client
	Ledger      port.Ledger
	Gateway     port.ExchangeGateway
	Prices      *service.PriceCache
	priceFeeds  []port.PriceFeed
	Source      *agentfeed.Client
	Publisher   port.EventPublisher
	Metrics     *metrics.Observer

	// 输出端口
	Sink *console.Sink

	// 应用组件
	Risk        *domainservice.RiskGate
	Coordinator *service.ExecutionCoordinator
	Engine      *reconcile.Engine

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(os.Stdout, true),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化
func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}
	sc.initExchange()
	sc.initPriceFeeds()

	converter := exchange.NewCommonSymbolConverter(sc.Config.Execution.QuoteAsset)
	sc.Source = agentfeed.NewClient(sc.Config.AgentFeed.BaseURL,
		time.Duration(sc.Config.AgentFeed.TimeoutSec)*time.Second, converter)

	sc.Risk = domainservice.NewRiskGate(sc.Config.Risk.PriceTolerance, sc.Config.Risk.SymbolTolerance)
	sc.Coordinator = service.NewExecutionCoordinator(sc.Gateway, sc.Prices, service.ExecutionConfig{
		CloseVerifyAttempts: sc.Config.Execution.CloseVerifyAttempts,
		CloseVerifyDelay:    time.Duration(sc.Config.Execution.CloseVerifyDelayMs) * time.Millisecond,
		ProtectiveOrders:    *sc.Config.Execution.ProtectiveOrders,
	})
	sc.Engine = reconcile.NewEngine(sc.Ledger, sc.Coordinator, sc.Risk)
	sc.Metrics = metrics.New()

	log.Info().
		Bool("dry_run", sc.Config.App.DryRun).
		Str("ledger", sc.Config.Ledger.Backend).
		Int("feeds", len(sc.priceFeeds)).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化账本：主存储 + 镜像
func (sc *ServiceContext) initializeStorage() error {
	primary, err := sc.openLedger(sc.Config.Ledger.Backend)
	if err != nil {
		return err
	}
	if len(sc.Config.Ledger.Mirrors) == 0 {
		sc.Ledger = primary
	} else {
		mirrors := make([]port.Ledger, 0, len(sc.Config.Ledger.Mirrors))
		for _, name := range sc.Config.Ledger.Mirrors {
			m, err := sc.openLedger(name)
			if err != nil {
				return fmt.Errorf("ledger mirror %s: %w", name, err)
			}
			mirrors = append(mirrors, m)
		}
		sc.Ledger = composite.New(primary, mirrors...)
	}

	if sc.Config.Redis.PublishEvents {
		rdb, err := sc.redis()
		if err != nil {
			return err
		}
		sc.Publisher = redisrepo.NewPublisher(rdb, sc.Config.Redis.Prefix,
			sc.Config.Redis.ActionStream, sc.Config.Redis.ActionChannel, sc.Config.Redis.StreamMaxLen)
	}
	return nil
}

func (sc *ServiceContext) openLedger(backend string) (port.Ledger, error) {
	var (
		l   port.Ledger
		err error
	)
	switch backend {
	case config.LedgerMemory:
		l = memory.NewLedger()
	case config.LedgerSQLite:
		l, err = sqliterepo.New(sc.Config.SQLite.Path)
		if err == nil {
			log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
		}
	case config.LedgerPostgres:
		l, err = pgrepo.New(sc.Config.Postgres.DSN)
		if err == nil {
			log.Info().Msg("✓ Postgres initialized")
		}
	case config.LedgerRedis:
		var rdb *redisclient.Client
		rdb, err = sc.redis()
		if err == nil {
			l = redisrepo.New(rdb, sc.Config.Redis.Prefix)
		}
	default:
		err = fmt.Errorf("unknown ledger backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Str("backend", backend).Msg("closing ledger")
		return l.Close()
	})
	return l, nil
}

// redis 返回共享连接，首次调用时建立
func (sc *ServiceContext) redis() (*redisclient.Client, error) {
	if sc.redisClient != nil {
		return sc.redisClient, nil
	}
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return rdb, nil
}

func (sc *ServiceContext) initExchange() {
	bc := sc.Config.Exchange.Binance
	manager := binance.NewPerpetualManager(binance.ClientOptions{
		APIKey:     bc.APIKey,
		APISecret:  bc.APISecret,
		BaseURL:    bc.RestURL,
		Timeout:    time.Duration(bc.TimeoutSec) * time.Second,
		RecvWindow: bc.RecvWindow,
	})
	var gw port.ExchangeGateway = binance.NewGateway(manager)

	if sc.Config.App.DryRun {
		// market data still comes from the public Binance endpoints
		gw = dryrun.New(gw, sc.Config.App.DryRunFunds)
		log.Warn().Float64("balance", sc.Config.App.DryRunFunds).Msg("✓ Dry-run gateway initialized, no orders will be sent")
	} else {
		log.Info().Str("url", bc.RestURL).Msg("✓ Binance gateway initialized")
	}
	sc.Gateway = gw
}

func (sc *ServiceContext) initPriceFeeds() {
	bc := sc.Config.Exchange.Binance
	sc.Prices = service.NewPriceCache(time.Duration(bc.PriceMaxAge) * time.Second)
	if !bc.StreamPrices {
		return
	}
	feed, err := pricefeed.New(binance.ExchangeName, bc.WsURL, sc.Config.Execution.QuoteAsset)
	if err != nil {
		log.Warn().Err(err).Msg("price feed unavailable, falling back to REST mark prices")
		return
	}
	sc.priceFeeds = append(sc.priceFeeds, feed)
}

// StartBackground starts the price stream and the metrics server. Both stop with ctx.
func (sc *ServiceContext) StartBackground(ctx context.Context) {
	if len(sc.priceFeeds) > 0 {
		go func() {
			err := sc.Prices.Run(ctx, sc.priceFeeds, sc.Config.Exchange.Binance.Symbols)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("price stream stopped")
			}
		}()
	}
	if addr := sc.Config.Metrics.Addr; addr != "" {
		go func() {
			if err := sc.Metrics.Serve(ctx, addr); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
}

// Agents 返回配置的 agent 列表，未配置时从 agent feed 读取
func (sc *ServiceContext) Agents(ctx context.Context) ([]string, error) {
	if len(sc.Config.App.Agents) > 0 {
		return sc.Config.App.Agents, nil
	}
	agents, err := sc.Source.Agents(ctx)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	return agents, nil
}

// BuildSchedulerDeps 构建 Scheduler 所需的依赖
func (sc *ServiceContext) BuildSchedulerDeps(agents []string) reconcile.SchedulerDeps {
	return reconcile.SchedulerDeps{
		Engine:       sc.Engine,
		Source:       sc.Source,
		Cleaner:      sc.Coordinator,
		Sink:         sc.Sink,
		Publisher:    sc.Publisher,
		Observer:     sc.Metrics,
		Agents:       agents,
		Interval:     time.Duration(sc.Config.App.IntervalSec) * time.Second,
		TotalMargin:  sc.Config.App.TotalMargin,
		CleanOrphans: sc.Config.App.CleanOrphans,
	}
}

// Close 按相反顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}
