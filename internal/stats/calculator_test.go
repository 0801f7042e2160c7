package stats

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustscore/internal/units"
	"trustscore/pkg/models"
)

const testAddress = "0xAbC0000000000000000000000000000000000001"

var (
	peerA = "0x000000000000000000000000000000000000000a"
	peerB = "0x000000000000000000000000000000000000000b"
	start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func eth(t *testing.T, s string) *big.Int {
	t.Helper()
	return units.NewConverter("ETH", 18).ToRaw(decimal.RequireFromString(s))
}

// tenTxsOverThirtyDays 10笔交易均匀分布在30天内
func tenTxsOverThirtyDays(t *testing.T) []models.NormalTransaction {
	step := 30 * 24 * time.Hour / 9
	txs := make([]models.NormalTransaction, 0, 10)
	for i := 0; i < 10; i++ {
		tx := models.NormalTransaction{
			Hash:      "0xtx" + string(rune('0'+i)),
			Timestamp: start.Add(time.Duration(i) * step),
			Value:     eth(t, "0.1"),
		}
		peer := peerA
		if i%2 == 1 {
			peer = peerB
		}
		if i%3 == 0 {
			tx.From, tx.To = testAddress, peer
		} else {
			tx.From, tx.To = peer, testAddress
		}
		txs = append(txs, tx)
	}
	return txs
}

func TestCalculate_EndToEndScenario(t *testing.T) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	in := Input{
		Address:       testAddress,
		Chain:         "ethereum",
		NativeBalance: eth(t, "2.5"),
		BalanceUSD:    7500,
		Transactions:  tenTxsOverThirtyDays(t),
	}

	stats := calc.Calculate(in)

	assert.Equal(t, "2.5", stats.NativeBalance.String())
	assert.Equal(t, 10, stats.TxCount)
	assert.Equal(t, 30*24*time.Hour, stats.Intervals.Span())
	assert.Equal(t, 9, stats.Intervals.Count)
	assert.InDelta(t, (80 * time.Hour).Seconds(), stats.Intervals.MeanSeconds, 1e-6)
	assert.InDelta(t, (80 * time.Hour).Seconds(), stats.Intervals.MedianSeconds, 1e-6)
	assert.Equal(t, start, stats.FirstActivity)
	assert.Equal(t, start.Add(30*24*time.Hour), stats.LastActivity)
	assert.Equal(t, 2, stats.DistinctCounterparties)
	assert.Zero(t, stats.DistinctTokens)
	assert.Equal(t, "ETH", stats.Symbol)
	// 下标0,3,6,9为转出
	assert.Equal(t, "0.4", stats.NativeSent.String())
	assert.Equal(t, "0.6", stats.NativeReceived.String())
	assert.False(t, stats.PrecisionReduced)

	again := calc.Calculate(in)
	assert.Equal(t, stats, again)
}

func TestCalculate_OrderIndependent(t *testing.T) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	txs := tenTxsOverThirtyDays(t)

	reversed := make([]models.NormalTransaction, len(txs))
	for i := range txs {
		reversed[len(txs)-1-i] = txs[i]
	}

	a := calc.Calculate(Input{Address: testAddress, Transactions: txs})
	b := calc.Calculate(Input{Address: testAddress, Transactions: reversed})
	assert.Equal(t, a, b)

	// 输入切片不被修改
	assert.Equal(t, "0xtx9", reversed[0].Hash)
}

func TestCalculate_Empty(t *testing.T) {
	calc := NewCalculator(units.NewConverter("SOL", 9))
	stats := calc.Calculate(Input{Address: "x"})

	assert.True(t, stats.NativeBalance.IsZero())
	assert.Zero(t, stats.TxCount)
	assert.Zero(t, stats.Intervals.Count)
	assert.True(t, stats.FirstActivity.IsZero())
	assert.False(t, stats.HasActivity())
}

func TestCalculate_TokensAndQualified(t *testing.T) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	txs := []models.NormalTransaction{
		{Hash: "0x1", Timestamp: start, From: testAddress, To: peerA, Value: big.NewInt(1)},
		{Hash: "0x2", Timestamp: start.Add(time.Hour), From: peerA, To: testAddress, Value: big.NewInt(5), IsError: true},
	}
	transfers := []models.TokenTransfer{
		// 与0x1同一笔交易，不增加活动时间点
		{Hash: "0x1", Timestamp: start, From: testAddress, To: peerB, ContractAddress: "0xTOKEN1", Value: big.NewInt(10)},
		{Hash: "0x3", Timestamp: start.Add(2 * time.Hour), From: peerB, To: testAddress, ContractAddress: "0xtoken1", Value: big.NewInt(10)},
		{Hash: "0x4", Timestamp: start.Add(3 * time.Hour), From: "0xc", To: testAddress, ContractAddress: "0xtoken2", Value: big.NewInt(10)},
	}
	balances := []models.TokenBalance{
		{ContractAddress: "0xtoken1", Balance: big.NewInt(3)},
		{ContractAddress: "0xtoken2", Balance: big.NewInt(0)},
	}
	qualified := []models.TransferQualifiedBalance{
		{TokenBalance: balances[0], Direction: models.DirectionOutgoing, InvocationType: "contract_call"},
		{TokenBalance: balances[0], Direction: models.DirectionIncoming, InvocationType: "transfer"},
		{TokenBalance: balances[1], Direction: models.DirectionIncoming, InvocationType: "transfer"},
	}

	stats := calc.Calculate(Input{
		Address:           testAddress,
		Transactions:      txs,
		TokenTransfers:    transfers,
		TokenBalances:     balances,
		QualifiedBalances: qualified,
		Degraded:          []string{models.DataTokenBalances, models.DataBalance},
	})

	assert.Equal(t, 2, stats.TxCount)
	assert.Equal(t, 1, stats.FailedTxCount)
	assert.Equal(t, 2, stats.DistinctTokens)
	assert.Equal(t, 1, stats.HeldTokens)
	assert.Equal(t, 3, stats.DistinctCounterparties)
	assert.Equal(t, 1, stats.QualifiedOutgoing)
	assert.Equal(t, 2, stats.QualifiedIncoming)
	assert.Equal(t, 3, stats.Intervals.Count)
	assert.Equal(t, []string{models.DataBalance, models.DataTokenBalances}, stats.Degraded)
	// 失败交易不计入收款
	assert.True(t, stats.NativeReceived.IsZero())
}

func TestCalculate_ReducedPrecisionBalance(t *testing.T) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	huge := new(big.Int).Mul(units.MaxRepresentable, big.NewInt(10))

	stats := calc.Calculate(Input{Address: testAddress, NativeBalance: huge})
	assert.True(t, stats.PrecisionReduced)
	assert.True(t, stats.NativeBalance.IsPositive())
}

func TestCalculate_NegativeUSDClamped(t *testing.T) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	stats := calc.Calculate(Input{Address: testAddress, BalanceUSD: -3, HistoricalMedianUSD: -1})
	assert.Zero(t, stats.BalanceUSD)
	assert.Zero(t, stats.MedianBalanceUSD)
}

func TestHistoricalMedianNative(t *testing.T) {
	conv := units.NewConverter("T", 0)
	txs := []models.NormalTransaction{
		{Hash: "a", Timestamp: start, From: peerA, To: testAddress, Value: big.NewInt(5)},
		{Hash: "b", Timestamp: start.Add(time.Hour), From: testAddress, To: peerA, Value: big.NewInt(3)},
		{Hash: "c", Timestamp: start.Add(2 * time.Hour), From: testAddress, To: peerA, Value: big.NewInt(100), IsError: true},
	}

	// 余额序列：当前10，b之前13，a之前8 → 中位数10
	got := HistoricalMedianNative(testAddress, big.NewInt(10), txs, conv)
	assert.Equal(t, "10", got.String())

	// 偶数个点取中间两个的平均
	got = HistoricalMedianNative(testAddress, big.NewInt(10), txs[1:], conv)
	assert.Equal(t, "11.5", got.String())

	// 没有交易时等于当前余额
	got = HistoricalMedianNative(testAddress, big.NewInt(7), nil, conv)
	assert.Equal(t, "7", got.String())

	got = HistoricalMedianNative(testAddress, nil, nil, conv)
	require.True(t, got.IsZero())
}

func TestHistoricalMedianNative_ClampsNegative(t *testing.T) {
	conv := units.NewConverter("T", 0)
	txs := []models.NormalTransaction{
		{Hash: "a", Timestamp: start, From: peerA, To: testAddress, Value: big.NewInt(50)},
	}
	// 回放得到-40，按0处理：序列[0,10] → 5
	got := HistoricalMedianNative(testAddress, big.NewInt(10), txs, conv)
	assert.Equal(t, "5", got.String())
}

func BenchmarkCalculate(b *testing.B) {
	calc := NewCalculator(units.NewConverter("ETH", 18))
	txs := make([]models.NormalTransaction, 500)
	for i := range txs {
		txs[i] = models.NormalTransaction{
			Hash:      "h",
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			From:      testAddress,
			To:        peerA,
			Value:     big.NewInt(int64(i)),
		}
	}
	in := Input{Address: testAddress, NativeBalance: big.NewInt(1), Transactions: txs}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = calc.Calculate(in)
	}
}
