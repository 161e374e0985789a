package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"xquote/internal/application/port"
	"xquote/internal/application/usecase/tracker"
	"xquote/internal/domain"
	"xquote/internal/infrastructure/config"
	"xquote/internal/infrastructure/primer"
	"xquote/internal/infrastructure/push"
	"xquote/internal/infrastructure/storage/composite"
	pgrepo "xquote/internal/infrastructure/storage/postgres"
	redisrepo "xquote/internal/infrastructure/storage/redis"
	sqliterepo "xquote/internal/infrastructure/storage/sqlite"
	"xquote/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层
	whitelist  *domain.Whitelist
	aggregator *domain.Aggregator
	pushMgr    *push.Manager
	primer     *primer.Client
	mirror     *composite.Repo

	// 输出端口
	Sink port.Sink

	tracker *tracker.Service

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext，所有依赖按顺序在这里完成初始化
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	ids := make([]domain.ExchangeID, 0, len(cfg.Exchanges.Whitelist))
	for _, ex := range cfg.Exchanges.Whitelist {
		ids = append(ids, domain.ExchangeID(ex))
	}
	whitelist := domain.NewWhitelist(ids...)
	if whitelist.Len() == 0 {
		return nil, ErrEmptyWhitelist
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		whitelist:   whitelist,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	protocol := push.Protocol(sc.Config.Server.Protocol)
	endpoint, err := push.Endpoint(sc.Config.Server.BaseURL, sc.Config.Server.WsPath, protocol)
	if err != nil {
		return fmt.Errorf("push endpoint: %w", err)
	}
	sc.pushMgr = push.NewManager(push.Config{
		URL:         endpoint,
		Protocol:    protocol,
		DialTimeout: sc.Config.DialTimeout(),
		BufferSize:  sc.Config.Push.BufferSize,
		Retry: push.RetryConfig{
			MaxRetries: sc.Config.Push.MaxRetries,
			InitialDel: sc.Config.InitialDelay(),
			MaxDelay:   sc.Config.MaxDelay(),
		},
	})
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing push subscription")
		return sc.pushMgr.Unbind()
	})

	sc.primer = primer.New(sc.Config.Server.BaseURL, sc.Config.PrimeTimeout())
	sc.aggregator = domain.NewAggregator(sc.whitelist)

	sc.tracker = tracker.NewService(sc.BuildTrackerServiceDeps())

	log.Info().
		Str("endpoint", endpoint).
		Strs("exchanges", exchangeNames(sc.whitelist)).
		Int("mirrors", sc.mirror.Len()).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化快照镜像 (Redis / SQLite / Postgres)，都是可选的
func (sc *ServiceContext) initializeStorage() error {
	var repos []port.Repository

	if sc.Config.Redis.Enabled {
		// 测试连接
		ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
		repo, err := redisrepo.Dial(ctx,
			sc.Config.Redis.Addr,
			sc.Config.Redis.Password,
			sc.Config.Redis.DB,
			sc.Config.Redis.Prefix,
			sc.Config.RedisTTL(),
		)
		cancel()
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, repo)
		log.Info().
			Str("addr", sc.Config.Redis.Addr).
			Int("db", sc.Config.Redis.DB).
			Msg("✓ Redis initialized")
	}

	if sc.Config.SQLite.Enabled {
		repo, err := sqliterepo.New(sc.Config.SQLite.Path)
		if err != nil {
			_ = composite.New(repos...).Close()
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, repo)
		log.Info().Str("path", sc.Config.SQLite.Path).Msg("✓ SQLite initialized")
	}

	if sc.Config.Postgres.Enabled {
		repo, err := pgrepo.New(sc.Config.Postgres.DSN)
		if err != nil {
			_ = composite.New(repos...).Close()
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		repos = append(repos, repo)
		log.Info().Msg("✓ Postgres initialized")
	}

	sc.mirror = composite.New(repos...)
	sc.closerChain = append(sc.closerChain, func() error {
		if sc.mirror.Len() > 0 {
			log.Info().Msg("closing snapshot mirrors")
		}
		return sc.mirror.Close()
	})
	return nil
}

// BuildTrackerServiceDeps 构建 tracker Service 所需的依赖
func (sc *ServiceContext) BuildTrackerServiceDeps() tracker.ServiceDeps {
	var repo tracker.Repository = tracker.NewNoopRepo()
	if sc.mirror != nil && sc.mirror.Len() > 0 {
		repo = sc.mirror
	}
	return tracker.ServiceDeps{
		Aggregator:   sc.aggregator,
		Subscriber:   sc.pushMgr,
		Primer:       sc.primer,
		Repo:         repo,
		PrimeTimeout: sc.Config.PrimeTimeout(),
	}
}

// Tracker 获取交易对跟踪服务
func (sc *ServiceContext) Tracker() *tracker.Service {
	return sc.tracker
}

// Whitelist 获取交易所白名单
func (sc *ServiceContext) Whitelist() *domain.Whitelist {
	return sc.whitelist
}

// Close 按初始化的相反顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}

func exchangeNames(w *domain.Whitelist) []string {
	ids := w.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
