// Package stats 把单个地址的原始链上数据归约为 WalletStats。
// 归约算法对所有链通用，链的差异只体现在注入的单位换算器上。
package stats

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"trustscore/internal/units"
	"trustscore/pkg/models"
)

// Input 统计计算的输入
type Input struct {
	Address             string
	Chain               string
	NativeBalance       *big.Int // 最小链上单位
	BalanceUSD          float64
	HistoricalMedianUSD float64
	Transactions        []models.NormalTransaction
	TokenTransfers      []models.TokenTransfer
	TokenBalances       []models.TokenBalance             // 可选
	QualifiedBalances   []models.TransferQualifiedBalance // 可选
	Degraded            []string
}

// Calculator 统计计算器，无状态，可并发使用
type Calculator struct {
	converter units.Converter
}

// NewCalculator 创建统计计算器
func NewCalculator(converter units.Converter) *Calculator {
	return &Calculator{converter: converter}
}

// Converter 返回计算器使用的单位换算器
func (c *Calculator) Converter() units.Converter {
	return c.converter
}

// Calculate 计算钱包统计。相同输入总是得到相同输出，且不修改输入
func (c *Calculator) Calculate(in Input) *models.WalletStats {
	address := strings.ToLower(in.Address)

	txs := sortedTransactions(in.Transactions)
	transfers := sortedTransfers(in.TokenTransfers)

	stats := &models.WalletStats{
		Address:          in.Address,
		Chain:            in.Chain,
		Symbol:           c.converter.Symbol,
		NativeBalance:    c.converter.ToNative(in.NativeBalance),
		BalanceUSD:       nonNegative(in.BalanceUSD),
		MedianBalanceUSD: nonNegative(in.HistoricalMedianUSD),
		TxCount:          len(txs),
		PrecisionReduced: units.Reduced(in.NativeBalance),
	}
	if len(in.Degraded) > 0 {
		stats.Degraded = append([]string(nil), in.Degraded...)
		sort.Strings(stats.Degraded)
	}

	counterparties := make(map[string]struct{})
	sent, received := new(big.Int), new(big.Int)
	txHashes := make(map[string]struct{}, len(txs))
	events := make([]time.Time, 0, len(txs)+len(transfers))

	for i := range txs {
		tx := &txs[i]
		events = append(events, tx.Timestamp)
		if tx.Hash != "" {
			txHashes[tx.Hash] = struct{}{}
		}
		if cp := tx.Counterparty(address); cp != "" && cp != address {
			counterparties[cp] = struct{}{}
		}
		if tx.IsError {
			stats.FailedTxCount++
			continue
		}
		if tx.Value == nil {
			continue
		}
		if tx.IsOutgoing(address) {
			sent.Add(sent, tx.Value)
		} else {
			received.Add(received, tx.Value)
		}
	}

	tokens := make(map[string]struct{})
	for i := range transfers {
		tr := &transfers[i]
		// 同一笔交易内的代币转账不重复计入活动时间
		if _, dup := txHashes[tr.Hash]; !dup {
			events = append(events, tr.Timestamp)
		}
		if cp := tr.Counterparty(address); cp != "" && cp != address {
			counterparties[cp] = struct{}{}
		}
		if tr.ContractAddress != "" {
			tokens[strings.ToLower(tr.ContractAddress)] = struct{}{}
		}
	}

	held := make(map[string]struct{})
	for _, b := range in.TokenBalances {
		if b.Balance != nil && b.Balance.Sign() > 0 && b.ContractAddress != "" {
			held[strings.ToLower(b.ContractAddress)] = struct{}{}
		}
	}

	for _, q := range in.QualifiedBalances {
		switch q.Direction {
		case models.DirectionOutgoing:
			stats.QualifiedOutgoing++
		case models.DirectionIncoming:
			stats.QualifiedIncoming++
		}
	}

	stats.DistinctCounterparties = len(counterparties)
	stats.DistinctTokens = len(tokens)
	stats.HeldTokens = len(held)
	stats.NativeSent = c.converter.ToNative(sent)
	stats.NativeReceived = c.converter.ToNative(received)
	if units.Reduced(sent) || units.Reduced(received) {
		stats.PrecisionReduced = true
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
	if len(events) > 0 {
		stats.FirstActivity = events[0].UTC()
		stats.LastActivity = events[len(events)-1].UTC()
	}
	stats.Intervals = intervalStats(events)

	return stats
}

// intervalStats 计算已排序时间序列的相邻间隔分布
func intervalStats(events []time.Time) models.IntervalStats {
	var out models.IntervalStats
	if len(events) < 2 {
		return out
	}

	gaps := make([]float64, 0, len(events)-1)
	var sum float64
	for i := 1; i < len(events); i++ {
		gap := events[i].Sub(events[i-1]).Seconds()
		gaps = append(gaps, gap)
		sum += gap
	}
	sort.Float64s(gaps)

	out.Count = len(gaps)
	out.MinSeconds = gaps[0]
	out.MaxSeconds = gaps[len(gaps)-1]
	out.MeanSeconds = sum / float64(len(gaps))
	out.MedianSeconds = median(gaps)
	out.SpanSeconds = events[len(events)-1].Sub(events[0]).Seconds()
	return out
}

// median 已排序切片的中位数
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sortedTransactions(in []models.NormalTransaction) []models.NormalTransaction {
	out := append([]models.NormalTransaction(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func sortedTransfers(in []models.TokenTransfer) []models.TokenTransfer {
	out := append([]models.TokenTransfer(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	return v
}
