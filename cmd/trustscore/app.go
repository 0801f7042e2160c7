package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"trustscore/internal/cache"
	"trustscore/internal/config"
	"trustscore/internal/connection"
	"trustscore/internal/errors"
	"trustscore/internal/logging"
	"trustscore/internal/metrics"
	"trustscore/internal/provider"
	"trustscore/internal/ratelimit"
	"trustscore/internal/scoring"
	"trustscore/internal/service"
	"trustscore/internal/shutdown"
	"trustscore/internal/validation"
)

// app 一次进程运行所需的全部组件
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	transports *connection.Pool
	limiters   *ratelimit.Registry
	metrics    *metrics.Metrics
	recorder   *errors.Recorder
	cache      *cache.ScoreCache
	scorer     *service.Scorer
}

// loadApp 加载配置并按依赖顺序创建组件。quietStdout为true时日志改写到stderr，保证stdout只输出结果
func loadApp(quietStdout bool) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logCfg := *cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	if quietStdout && (logCfg.Output == "" || logCfg.Output == "stdout") {
		logCfg.Output = "stderr"
	}
	logger, err := logging.NewLogger(&logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		limiters: ratelimit.NewRegistry(logger),
		metrics:  metrics.New(metrics.DefaultNamespace),
		recorder: errors.NewRecorder(logger),
	}

	a.transports, err = connection.NewPool(cfg.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("创建出口池失败: %w", err)
	}

	store, err := openStore(cfg.Cache, logger)
	if err != nil {
		a.transports.Close()
		return nil, err
	}
	a.cache = cache.NewScoreCache(store, cfg.Cache.TTL, logger)
	a.cache.SetComputeTimeout(cfg.Cache.ComputeTimeout)

	if err := a.buildScorer(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildScorer() error {
	registry, err := provider.NewRegistry(a.cfg, a.transports, a.limiters, a.metrics, a.logger)
	if err != nil {
		return fmt.Errorf("创建数据源失败: %w", err)
	}

	settings, err := scoring.SettingsFromConfig(a.cfg.Scoring)
	if err != nil {
		return fmt.Errorf("评分配置无效: %w", err)
	}
	engine, err := scoring.NewEngine(settings)
	if err != nil {
		return fmt.Errorf("创建评分引擎失败: %w", err)
	}

	a.scorer, err = service.NewScorer(service.Options{
		Chains:    a.cfg.Chains,
		Fetchers:  registry.Fetchers(),
		Engine:    engine,
		Cache:     a.cache,
		Validator: validation.NewValidator(a.logger, false),
		Metrics:   a.metrics,
		Recorder:  a.recorder,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("创建评分服务失败: %w", err)
	}
	return nil
}

func openStore(cfg *config.CacheConfig, logger *logrus.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case "bolt":
		store, err := cache.NewBoltStore(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("打开缓存失败: %w", err)
		}
		return store, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

// registerShutdown 按停机顺序注册组件的关闭函数
func (a *app) registerShutdown(gs *shutdown.GracefulShutdown) {
	gs.RegisterShutdownFunc("关闭数据源出口", func(context.Context) error {
		return a.transports.Close()
	}, shutdown.OrderCloseTransports)
	gs.RegisterShutdownFunc("关闭评分缓存", func(context.Context) error {
		return a.cache.Close()
	}, shutdown.OrderCloseCache)
}

// close 直接关闭所有组件，用于一次性命令
func (a *app) close() {
	gs := shutdown.NewGracefulShutdown(a.cfg.Server.ShutdownTimeout, a.logger)
	a.registerShutdown(gs)
	_ = gs.Close()
}
