package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntervalStats 相邻交易之间的时间间隔分布（秒）
type IntervalStats struct {
	Count         int     `json:"count"`
	MinSeconds    float64 `json:"min_seconds"`
	MaxSeconds    float64 `json:"max_seconds"`
	MeanSeconds   float64 `json:"mean_seconds"`
	MedianSeconds float64 `json:"median_seconds"`
	SpanSeconds   float64 `json:"span_seconds"` // 首笔到末笔活动的跨度
}

// Span 返回活动跨度
func (s IntervalStats) Span() time.Duration {
	return time.Duration(s.SpanSeconds * float64(time.Second))
}

// WalletStats 单个地址的活动汇总，计算完成后不再修改
type WalletStats struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Symbol  string `json:"symbol"`

	NativeBalance    decimal.Decimal `json:"native_balance"`
	BalanceUSD       float64         `json:"balance_usd"`
	MedianBalanceUSD float64         `json:"median_balance_usd"`

	TxCount       int           `json:"tx_count"`
	FailedTxCount int           `json:"failed_tx_count"`
	FirstActivity time.Time     `json:"first_activity"`
	LastActivity  time.Time     `json:"last_activity"`
	Intervals     IntervalStats `json:"intervals"`

	DistinctCounterparties int `json:"distinct_counterparties"`
	DistinctTokens         int `json:"distinct_tokens"` // 发生过转账的代币种类
	HeldTokens             int `json:"held_tokens"`     // 当前余额非零的代币种类
	QualifiedOutgoing      int `json:"qualified_outgoing"`
	QualifiedIncoming      int `json:"qualified_incoming"`

	NativeSent     decimal.Decimal `json:"native_sent"`
	NativeReceived decimal.Decimal `json:"native_received"`

	PrecisionReduced bool     `json:"precision_reduced,omitempty"`
	Degraded         []string `json:"degraded,omitempty"`
}

// HasActivity 是否有任何链上活动
func (s *WalletStats) HasActivity() bool {
	return s.TxCount > 0 || s.DistinctTokens > 0
}
