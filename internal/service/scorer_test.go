package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustscore/internal/cache"
	"trustscore/internal/config"
	"trustscore/internal/errors"
	"trustscore/internal/metrics"
	"trustscore/internal/provider"
	"trustscore/internal/scoring"
	"trustscore/pkg/models"
)

const testAddress = "0x52908400098527886E0F7030069857D2E4169EE7"

var asOf = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls atomic.Int32
	data  *models.RawChainData
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, address string) (*models.RawChainData, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := *f.data
	out.Address = address
	return &out, nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func eth(v string) *big.Int {
	d := decimal.RequireFromString(v).Shift(18)
	return d.BigInt()
}

// sampleData 余额2.5 ETH，30天内10笔交易，两个对手方
func sampleData() *models.RawChainData {
	start := asOf.Add(-40 * 24 * time.Hour)
	txs := make([]models.NormalTransaction, 0, 10)
	for i := 0; i < 10; i++ {
		tx := models.NormalTransaction{
			Hash:      fmt.Sprintf("0x%02d", i),
			Timestamp: start.Add(time.Duration(i) * 80 * time.Hour),
			Value:     eth("0.1"),
		}
		if i%2 == 0 {
			tx.From, tx.To = testAddress, "0x1111111111111111111111111111111111111111"
		} else {
			tx.From, tx.To = "0x2222222222222222222222222222222222222222", testAddress
		}
		txs = append(txs, tx)
	}
	return &models.RawChainData{
		Chain:         "ethereum",
		Provider:      "fake",
		NativeBalance: eth("2.5"),
		Transactions:  txs,
	}
}

func newScorer(t *testing.T, fetcher provider.Fetcher, mutate func(*config.ScoringConfig)) *Scorer {
	t.Helper()
	scoringCfg := config.GetDefaultConfig().Scoring
	if mutate != nil {
		mutate(scoringCfg)
	}
	settings, err := scoring.SettingsFromConfig(scoringCfg)
	require.NoError(t, err)
	engine, err := scoring.NewEngine(settings)
	require.NoError(t, err)

	logger := quietLogger()
	scoreCache := cache.NewScoreCache(cache.NewMemoryStore(), time.Minute, logger)
	t.Cleanup(func() { _ = scoreCache.Close() })

	s, err := NewScorer(Options{
		Chains:   map[string]*config.ChainConfig{"ethereum": {Provider: "fake", NativePriceUSD: 3000}},
		Fetchers: map[string]provider.Fetcher{"ethereum": fetcher},
		Engine:   engine,
		Cache:    scoreCache,
		Metrics:  metrics.New("test"),
		Logger:   logger,
	})
	require.NoError(t, err)
	s.now = func() time.Time { return asOf }
	return s
}

func TestScore_EndToEnd(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	s := newScorer(t, fetcher, nil)

	first, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, first.Score, 0.0)
	assert.LessOrEqual(t, first.Score, 1.0)
	assert.Equal(t, models.ScoreTypeWallet, first.ScoreType)
	assert.Equal(t, testAddress, first.Address)
	assert.Nil(t, first.DiscountedMintFee)

	stats := first.Stats
	require.NotNil(t, stats)
	assert.True(t, stats.NativeBalance.Equal(decimal.RequireFromString("2.5")))
	assert.InDelta(t, 7500.0, stats.BalanceUSD, 1e-9)
	assert.Equal(t, 10, stats.TxCount)
	assert.Equal(t, 30*24*time.Hour, stats.Intervals.Span())
	assert.Equal(t, 2, stats.DistinctCounterparties)

	second, err := s.Score(context.Background(), testAddress, "ETHEREUM")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetcher.calls.Load())

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.Equal(t, string(a), string(b))
	assert.NotContains(t, string(a), "discounted_mint_fee")
}

func TestScore_Deterministic(t *testing.T) {
	one, err := newScorer(t, &fakeFetcher{data: sampleData()}, nil).Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	two, err := newScorer(t, &fakeFetcher{data: sampleData()}, nil).Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)

	assert.Equal(t, one.Score, two.Score)
}

func TestScore_NormalizesAddressForCache(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	s := newScorer(t, fetcher, nil)

	_, err := s.Score(context.Background(), "0x52908400098527886e0f7030069857d2e4169ee7", "ethereum")
	require.NoError(t, err)
	score, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)

	assert.Equal(t, testAddress, score.Address)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestScore_InvalidInput(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	s := newScorer(t, fetcher, nil)

	_, err := s.Score(context.Background(), "0x1234", "ethereum")
	assert.True(t, stderrors.Is(err, errors.ErrInvalidAddress))

	_, err = s.Score(context.Background(), testAddress, "dogecoin")
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedChain))

	// 已知链但没有配置数据源
	_, err = s.Score(context.Background(), testAddress, "polygon")
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedChain))

	assert.Zero(t, fetcher.calls.Load())
}

func TestScore_ProviderFailure(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	fetcher.setErr(errors.ProviderUnavailable("fake", 503, 3, stderrors.New("down")))
	s := newScorer(t, fetcher, nil)

	_, err := s.Score(context.Background(), testAddress, "ethereum")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrNoProviderData))
	assert.True(t, stderrors.Is(err, errors.ErrProviderUnavailable))
	assert.Contains(t, err.Error(), "ethereum")

	// 失败不缓存，恢复后重新获取
	fetcher.setErr(nil)
	_, err = s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetcher.calls.Load())

	assert.Equal(t, 1, s.recorder.Snapshot().TotalErrors)
}

func TestScore_Cancelled(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	fetcher.setErr(context.Canceled)
	s := newScorer(t, fetcher, nil)

	_, err := s.Score(context.Background(), testAddress, "ethereum")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, stderrors.Is(err, errors.ErrNoProviderData))
}

func TestScore_PartialData(t *testing.T) {
	data := sampleData()
	data.Transactions = nil
	data.MarkDegraded(models.DataTransactions)
	data.MarkDegraded(models.DataTokenTransfers)
	s := newScorer(t, &fakeFetcher{data: data}, nil)

	score, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)

	assert.Greater(t, score.Score, 0.0)
	assert.Equal(t, []string{models.DataTokenTransfers, models.DataTransactions}, score.Stats.Degraded)
	assert.Zero(t, score.Stats.TxCount)
}

func TestScore_MissingBalance(t *testing.T) {
	data := sampleData()
	data.NativeBalance = nil
	s := newScorer(t, &fakeFetcher{data: data}, nil)

	_, err := s.Score(context.Background(), testAddress, "ethereum")
	assert.True(t, stderrors.Is(err, errors.ErrNoProviderData))
}

func TestScore_Discount(t *testing.T) {
	s := newScorer(t, &fakeFetcher{data: sampleData()}, func(cfg *config.ScoringConfig) {
		cfg.EnableDiscount = true
		cfg.DiscountTiers = []*config.DiscountTierConfig{
			{Tier: "bronze", Threshold: 0, Fee: "0.0005"},
			{Tier: "platinum", Threshold: 1, Fee: "0.005"},
		}
	})

	score, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	require.Less(t, score.Score, 1.0)

	assert.Equal(t, "bronze", score.DiscountTier)
	require.NotNil(t, score.DiscountedMintFee)
	assert.Equal(t, "0.0005", score.DiscountedMintFee.String())
}

func TestScore_MedianModel(t *testing.T) {
	data := sampleData()
	median := 1234.5
	data.HistoricalMedianUSD = &median
	s := newScorer(t, &fakeFetcher{data: data}, func(cfg *config.ScoringConfig) {
		cfg.UseHistoricalMedian = true
	})

	score, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	assert.Equal(t, models.ScoreTypeWalletMedian, score.ScoreType)
	assert.Equal(t, 1234.5, score.Stats.MedianBalanceUSD)
}

func TestScore_MedianReconstructed(t *testing.T) {
	s := newScorer(t, &fakeFetcher{data: sampleData()}, nil)

	score, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	// 五进五出各0.1 ETH，回放后余额在2.4到2.5之间
	assert.GreaterOrEqual(t, score.Stats.MedianBalanceUSD, 2.4*3000-1e-6)
	assert.LessOrEqual(t, score.Stats.MedianBalanceUSD, 2.5*3000+1e-6)
}

func TestInvalidate(t *testing.T) {
	fetcher := &fakeFetcher{data: sampleData()}
	s := newScorer(t, fetcher, nil)

	_, err := s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)
	require.NoError(t, s.Invalidate(testAddress, "ethereum"))
	_, err = s.Score(context.Background(), testAddress, "ethereum")
	require.NoError(t, err)

	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Equal(t, []string{"ethereum"}, s.Chains())
}

func TestNewScorer_UnknownChain(t *testing.T) {
	settings, err := scoring.SettingsFromConfig(config.GetDefaultConfig().Scoring)
	require.NoError(t, err)
	engine, err := scoring.NewEngine(settings)
	require.NoError(t, err)

	_, err = NewScorer(Options{
		Fetchers: map[string]provider.Fetcher{"dogecoin": &fakeFetcher{}},
		Engine:   engine,
		Cache:    cache.NewScoreCache(cache.NewMemoryStore(), time.Minute, quietLogger()),
		Logger:   quietLogger(),
	})
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedChain))

	_, err = NewScorer(Options{Logger: quietLogger()})
	assert.Error(t, err)
}
