package stats

import (
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"trustscore/internal/units"
	"trustscore/pkg/models"
)

// HistoricalMedianNative 从当前余额出发按时间倒序回放交易，重建每笔交易前后的余额序列，
// 返回其中位数（原生单位）。失败交易不影响余额；手续费无法从列表中得到，忽略不计。
// 回放出现负余额时按0处理。
func HistoricalMedianNative(address string, current *big.Int, txs []models.NormalTransaction, converter units.Converter) decimal.Decimal {
	if current == nil {
		current = new(big.Int)
	}
	address = strings.ToLower(address)
	ordered := sortedTransactions(txs)

	balance := new(big.Int).Set(current)
	points := []*big.Int{clampZero(balance)}

	for i := len(ordered) - 1; i >= 0; i-- {
		tx := &ordered[i]
		if tx.IsError || tx.Value == nil {
			continue
		}
		from := strings.EqualFold(tx.From, address)
		to := strings.EqualFold(tx.To, address)
		switch {
		case from && to:
			continue
		case from:
			balance.Add(balance, tx.Value)
		case to:
			balance.Sub(balance, tx.Value)
		default:
			continue
		}
		points = append(points, clampZero(balance))
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Cmp(points[j]) < 0 })

	n := len(points)
	if n%2 == 1 {
		return converter.ToNative(points[n/2])
	}
	lo := converter.ToNative(points[n/2-1])
	hi := converter.ToNative(points[n/2])
	return lo.Add(hi).Div(decimal.NewFromInt(2))
}

func clampZero(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
