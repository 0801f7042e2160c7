// Package service 把数据获取、统计、评分和缓存串成一次完整的评分请求。
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trustscore/internal/cache"
	"trustscore/internal/config"
	"trustscore/internal/errors"
	"trustscore/internal/logging"
	"trustscore/internal/metrics"
	"trustscore/internal/provider"
	"trustscore/internal/retry"
	"trustscore/internal/scoring"
	"trustscore/internal/stats"
	"trustscore/internal/units"
	"trustscore/internal/validation"
	"trustscore/pkg/models"
)

// Options 评分服务的依赖
type Options struct {
	Chains    map[string]*config.ChainConfig
	Fetchers  map[string]provider.Fetcher
	Engine    *scoring.Engine
	Cache     *cache.ScoreCache
	Validator *validation.Validator
	Metrics   *metrics.Metrics
	Recorder  *errors.Recorder
	Logger    *logrus.Logger
}

// route 单条链的数据源和换算参数
type route struct {
	chain      units.Chain
	fetcher    provider.Fetcher
	calculator *stats.Calculator
	priceUSD   decimal.Decimal
}

// Scorer 评分服务，可并发使用
type Scorer struct {
	routes    map[string]*route
	engine    *scoring.Engine
	cache     *cache.ScoreCache
	validator *validation.Validator
	metrics   *metrics.Metrics
	recorder  *errors.Recorder
	logger    *logrus.Logger
	now       func() time.Time
}

// NewScorer 创建评分服务。Fetchers中的每条链都必须是已知链
func NewScorer(opts Options) (*Scorer, error) {
	if opts.Engine == nil || opts.Cache == nil || opts.Logger == nil {
		return nil, fmt.Errorf("评分服务缺少必要依赖")
	}
	if opts.Validator == nil {
		opts.Validator = validation.NewValidator(opts.Logger, false)
	}
	if opts.Recorder == nil {
		opts.Recorder = errors.NewRecorder(opts.Logger)
	}

	s := &Scorer{
		routes:    make(map[string]*route, len(opts.Fetchers)),
		engine:    opts.Engine,
		cache:     opts.Cache,
		validator: opts.Validator,
		metrics:   opts.Metrics,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		now:       time.Now,
	}

	for name, fetcher := range opts.Fetchers {
		chain, err := units.Lookup(name)
		if err != nil {
			return nil, err
		}
		r := &route{
			chain:      chain,
			fetcher:    fetcher,
			calculator: stats.NewCalculator(chain.Converter()),
		}
		if cc, ok := opts.Chains[name]; ok && cc != nil {
			r.priceUSD = decimal.NewFromFloat(cc.NativePriceUSD)
		}
		s.routes[chain.Name] = r
	}
	return s, nil
}

// Chains 已配置数据源的链
func (s *Scorer) Chains() []string {
	names := make([]string, 0, len(s.routes))
	for name := range s.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Score 计算钱包评分。TTL内重复请求直接返回缓存结果，同一个键同时只有一个计算在进行
func (s *Scorer) Score(ctx context.Context, address, chain string) (*models.WalletScore, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := logging.NewScoreLogger(s.logger, requestID, chain, address)

	score, cached, err := s.score(ctx, logger, address, chain)
	if err != nil {
		s.recorder.Record(err, "scorer")
		s.metrics.RecordScore(chain, string(s.engine.ScoreType()), "error", 0, time.Since(start))
		return nil, err
	}

	s.metrics.RecordCache(cached)
	s.metrics.RecordScore(score.Chain, string(score.ScoreType), "success", score.Score, time.Since(start))
	logger.WithFields(logrus.Fields{
		"score":   score.Score,
		"cached":  cached,
		"elapsed": time.Since(start).String(),
	}).Info("评分完成")
	return score, nil
}

// Invalidate 丢弃地址的缓存评分，下次请求重新计算
func (s *Scorer) Invalidate(address, chain string) error {
	r, normalized, err := s.resolve(address, chain)
	if err != nil {
		return err
	}
	return s.cache.Invalidate(s.key(r, normalized))
}

func (s *Scorer) score(ctx context.Context, logger *logrus.Entry, address, chain string) (*models.WalletScore, bool, error) {
	r, normalized, err := s.resolve(address, chain)
	if err != nil {
		return nil, false, err
	}

	return s.cache.GetOrCompute(ctx, s.key(r, normalized), func(ctx context.Context) (*models.WalletScore, error) {
		return s.compute(ctx, logger, r, normalized)
	})
}

func (s *Scorer) resolve(address, chain string) (*route, string, error) {
	c, err := units.Lookup(chain)
	if err != nil {
		return nil, "", err
	}
	r, ok := s.routes[c.Name]
	if !ok {
		return nil, "", errors.NewScoreError(errors.ErrorTypeUnsupportedChain, errors.SeverityLow,
			errors.ErrUnsupportedChain.Code, fmt.Sprintf("区块链 %s 未配置数据源", c.Name))
	}
	normalized, err := s.validator.NormalizeAddress(c, address)
	if err != nil {
		return nil, "", err
	}
	return r, normalized, nil
}

func (s *Scorer) key(r *route, address string) cache.Key {
	return cache.Key{Address: address, Chain: r.chain.Name, Model: s.engine.ScoreType()}
}

// compute 获取数据并计算评分，只在缓存未命中时调用
func (s *Scorer) compute(ctx context.Context, logger *logrus.Entry, r *route, address string) (*models.WalletScore, error) {
	data, err := r.fetcher.Fetch(ctx, address)
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errors.WrapError(err, errors.ErrorTypeNoData, errors.SeverityMedium, errors.ErrNoProviderData.Code,
			fmt.Sprintf("无法获取 %s 上地址 %s 的链上数据", r.chain.Name, address)).
			WithStatus(retry.StatusOf(err)).
			WithContext("chain", r.chain.Name)
	}
	if data == nil || data.NativeBalance == nil {
		return nil, errors.NewScoreError(errors.ErrorTypeNoData, errors.SeverityMedium, errors.ErrNoProviderData.Code,
			fmt.Sprintf("数据源没有返回 %s 上地址 %s 的余额", r.chain.Name, address))
	}

	asOf := s.now()
	check := s.validator.ValidateChainData(data, asOf)
	for _, w := range check.Warnings {
		logger.Warn(w)
	}
	if !check.Valid {
		return nil, check.Errors[0]
	}

	converter := r.calculator.Converter()
	balanceUSD := converter.ToNative(data.NativeBalance).Mul(r.priceUSD)

	var medianUSD float64
	if data.HistoricalMedianUSD != nil {
		medianUSD = *data.HistoricalMedianUSD
	} else {
		median := stats.HistoricalMedianNative(address, data.NativeBalance, data.Transactions, converter)
		medianUSD = median.Mul(r.priceUSD).InexactFloat64()
	}

	walletStats := r.calculator.Calculate(stats.Input{
		Address:             address,
		Chain:               r.chain.Name,
		NativeBalance:       data.NativeBalance,
		BalanceUSD:          balanceUSD.InexactFloat64(),
		HistoricalMedianUSD: medianUSD,
		Transactions:        data.Transactions,
		TokenTransfers:      data.TokenTransfers,
		TokenBalances:       data.TokenBalances,
		QualifiedBalances:   data.QualifiedBalances,
		Degraded:            data.Degraded,
	})

	result := s.engine.Score(walletStats, asOf)
	score := &models.WalletScore{
		Address:    address,
		Chain:      r.chain.Name,
		Score:      result.Score,
		ScoreType:  result.Type,
		Stats:      walletStats,
		ComputedAt: asOf,
	}
	if result.Tier != nil {
		fee := result.Tier.Fee
		score.DiscountTier = result.Tier.ID
		score.DiscountedMintFee = &fee
	}

	if len(data.Degraded) > 0 {
		s.metrics.RecordDegraded(r.chain.Name, data.Degraded)
		logger.WithField("degraded", data.Degraded).Warn("部分数据缺失，按尽力而为的方式评分")
	}
	logger.WithFields(logrus.Fields{
		"provider":   data.Provider,
		"tx_count":   walletStats.TxCount,
		"components": result.Components,
	}).Debug("评分计算完成")
	return score, nil
}
