// Package scoring 把 WalletStats 归约为[0,1]区间内的信任分，并按需查找折扣档位。
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"trustscore/internal/config"
	"trustscore/pkg/models"
)

// 子指标名称，与配置中的weights键一致
const (
	MetricBalance      = "balance"
	MetricRecency      = "recency"
	MetricAge          = "age"
	MetricActivity     = "activity"
	MetricCounterparty = "counterparty"
	MetricToken        = "token"
)

var metricOrder = []string{MetricBalance, MetricRecency, MetricAge, MetricActivity, MetricCounterparty, MetricToken}

// Settings 评分参数，构造后不可修改
type Settings struct {
	Weights             map[string]float64
	BalanceCapUSD       float64
	TxCountCap          int
	CounterpartyCap     int
	TokenCap            int
	RecencyWindow       time.Duration
	AgeWindow           time.Duration
	UseHistoricalMedian bool
	EnableDiscount      bool
	Discounts           *DiscountTable
}

// SettingsFromConfig 从配置构造评分参数
func SettingsFromConfig(cfg *config.ScoringConfig) (Settings, error) {
	if cfg == nil {
		return Settings{}, tableError("缺少评分配置")
	}
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	s := Settings{
		Weights:             weights,
		BalanceCapUSD:       cfg.BalanceCapUSD,
		TxCountCap:          cfg.TxCountCap,
		CounterpartyCap:     cfg.CounterpartyCap,
		TokenCap:            cfg.TokenCap,
		RecencyWindow:       cfg.RecencyWindow,
		AgeWindow:           cfg.AgeWindow,
		UseHistoricalMedian: cfg.UseHistoricalMedian || models.ScoreType(cfg.Model) == models.ScoreTypeWalletMedian,
		EnableDiscount:      cfg.EnableDiscount,
	}
	if cfg.EnableDiscount {
		table, err := DiscountTableFromConfig(cfg.DiscountTiers)
		if err != nil {
			return Settings{}, err
		}
		s.Discounts = table
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	for name, w := range s.Weights {
		known := false
		for _, m := range metricOrder {
			if m == name {
				known = true
				break
			}
		}
		if !known {
			return tableError(fmt.Sprintf("未知的评分指标: %s", name))
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return tableError(fmt.Sprintf("指标 %s 的权重无效: %v", name, w))
		}
	}
	if s.BalanceCapUSD <= 0 || s.TxCountCap <= 0 || s.CounterpartyCap <= 0 || s.TokenCap <= 0 {
		return tableError("评分归一化上限必须大于0")
	}
	if s.RecencyWindow <= 0 || s.AgeWindow <= 0 {
		return tableError("评分时间窗口必须大于0")
	}
	return nil
}

// Result 单次评分结果
type Result struct {
	Score      float64            `json:"score"`
	Type       models.ScoreType   `json:"score_type"`
	Components map[string]float64 `json:"components"`
	Tier       *Tier              `json:"tier,omitempty"`
}

// Engine 评分引擎，纯函数，可并发使用
type Engine struct {
	settings Settings
}

// NewEngine 创建评分引擎
func NewEngine(settings Settings) (*Engine, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &Engine{settings: settings}, nil
}

// ScoreType 返回当前计算模型对应的评分类型
func (e *Engine) ScoreType() models.ScoreType {
	if e.settings.UseHistoricalMedian {
		return models.ScoreTypeWalletMedian
	}
	return models.ScoreTypeWallet
}

// Score 计算评分。asOf是计算时刻，相同的stats和asOf总是得到相同结果
func (e *Engine) Score(stats *models.WalletStats, asOf time.Time) Result {
	result := Result{Type: e.ScoreType(), Components: make(map[string]float64, len(metricOrder))}
	if stats == nil {
		stats = &models.WalletStats{}
	}

	s := e.settings
	balanceUSD := stats.BalanceUSD
	if s.UseHistoricalMedian {
		// 中位余额抵抗临时充值拉高分数
		balanceUSD = stats.MedianBalanceUSD
	}

	result.Components[MetricBalance] = logScale(balanceUSD, s.BalanceCapUSD)
	result.Components[MetricRecency] = recency(stats.LastActivity, asOf, s.RecencyWindow)
	result.Components[MetricAge] = age(stats.FirstActivity, asOf, s.AgeWindow)
	result.Components[MetricActivity] = logScale(float64(stats.TxCount), float64(s.TxCountCap))
	result.Components[MetricCounterparty] = logScale(float64(stats.DistinctCounterparties), float64(s.CounterpartyCap))
	tokens := stats.DistinctTokens
	if stats.HeldTokens > tokens {
		tokens = stats.HeldTokens
	}
	result.Components[MetricToken] = logScale(float64(tokens), float64(s.TokenCap))

	var weighted, total float64
	for _, name := range metricOrder {
		w := s.Weights[name]
		if w <= 0 {
			continue
		}
		weighted += w * result.Components[name]
		total += w
	}
	if total > 0 {
		result.Score = clamp01(weighted / total)
	}

	if s.EnableDiscount {
		if tier, ok := s.Discounts.Lookup(result.Score); ok {
			result.Tier = &tier
		}
	}
	return result
}

// DiscountForTier 按外部给定的档位查找折扣，未启用折扣或档位不存在时返回false
func (e *Engine) DiscountForTier(id string) (decimal.Decimal, bool) {
	if !e.settings.EnableDiscount {
		return decimal.Zero, false
	}
	tier, ok := e.settings.Discounts.LookupTier(id)
	return tier.Fee, ok
}

// logScale log(1+v)/log(1+limit)，结果截断到[0,1]
func logScale(v, limit float64) float64 {
	if v <= 0 || limit <= 0 {
		return 0
	}
	return clamp01(math.Log1p(v) / math.Log1p(limit))
}

// recency 最近一次活动距今越近越接近1，超过窗口为0
func recency(last, asOf time.Time, window time.Duration) float64 {
	if last.IsZero() {
		return 0
	}
	elapsed := asOf.Sub(last)
	if elapsed < 0 {
		elapsed = 0
	}
	return clamp01(1 - float64(elapsed)/float64(window))
}

// age 首次活动距今越久越接近1
func age(first, asOf time.Time, window time.Duration) float64 {
	if first.IsZero() {
		return 0
	}
	return clamp01(float64(asOf.Sub(first)) / float64(window))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 1
	default:
		return v
	}
}
