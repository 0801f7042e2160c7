package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trustscore/internal/errors"
	"trustscore/pkg/models"
)

// DefaultPageSize 单次拉取的最大记录数
const DefaultPageSize = 10000

// Fetcher 为单个地址获取原始链上数据
type Fetcher interface {
	Fetch(ctx context.Context, address string) (*models.RawChainData, error)
}

// BalanceSource 原生代币余额来源
type BalanceSource interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// explorerResponse Etherscan风格的响应信封
type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash        string `json:"hash"`
	BlockNumber string `json:"blockNumber"`
	TimeStamp   string `json:"timeStamp"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	IsError     string `json:"isError"`
	MethodID    string `json:"methodId"`
}

type explorerTokenTx struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	Value           string `json:"value"`
}

// ExplorerFetcher Etherscan兼容的区块浏览器数据源。
// 余额获取失败视为整体失败；交易或代币转账获取失败时返回部分数据并标记降级。
type ExplorerFetcher struct {
	chain    string
	client   *Client
	balance  BalanceSource
	pageSize int
	logger   *logrus.Logger
	now      func() time.Time
}

// NewExplorerFetcher 创建区块浏览器数据源。balance为nil时从浏览器API读取余额
func NewExplorerFetcher(chain string, client *Client, balance BalanceSource, logger *logrus.Logger) *ExplorerFetcher {
	f := &ExplorerFetcher{
		chain:    chain,
		client:   client,
		balance:  balance,
		pageSize: DefaultPageSize,
		logger:   logger,
		now:      time.Now,
	}
	if f.balance == nil {
		f.balance = f
	}
	return f
}

// Fetch 并发获取余额、交易列表和代币转账
func (f *ExplorerFetcher) Fetch(ctx context.Context, address string) (*models.RawChainData, error) {
	data := &models.RawChainData{
		Address:  address,
		Chain:    f.chain,
		Provider: f.client.Name(),
	}

	var mu sync.Mutex
	degrade := func(kind string, err error) {
		mu.Lock()
		data.MarkDegraded(kind)
		mu.Unlock()
		f.logger.WithFields(logrus.Fields{
			"chain":    f.chain,
			"provider": f.client.Name(),
			"address":  address,
			"kind":     kind,
		}).Warnf("获取数据失败，按降级处理: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		balance, err := f.balance.Balance(gctx, address)
		if err != nil {
			return err
		}
		data.NativeBalance = balance
		return nil
	})
	g.Go(func() error {
		txs, err := f.Transactions(gctx, address)
		if err != nil {
			degrade(models.DataTransactions, err)
			return nil
		}
		data.Transactions = txs
		return nil
	})
	g.Go(func() error {
		transfers, err := f.TokenTransfers(gctx, address)
		if err != nil {
			degrade(models.DataTokenTransfers, err)
			return nil
		}
		data.TokenTransfers = transfers
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data.FetchedAt = f.now()
	return data, nil
}

// Balance 通过浏览器API读取原生代币余额
func (f *ExplorerFetcher) Balance(ctx context.Context, address string) (*big.Int, error) {
	params := url.Values{
		"module":  {"account"},
		"action":  {"balance"},
		"address": {address},
		"tag":     {"latest"},
	}
	var result string
	if err := f.call(ctx, "balance", params, &result); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(result), 10)
	if !ok {
		return nil, f.malformed("balance", fmt.Errorf("无法解析余额 %q", result))
	}
	return balance, nil
}

// Transactions 读取普通交易列表
func (f *ExplorerFetcher) Transactions(ctx context.Context, address string) ([]models.NormalTransaction, error) {
	var raw []explorerTx
	if err := f.call(ctx, "txlist", f.listParams("txlist", address), &raw); err != nil {
		return nil, err
	}

	txs := make([]models.NormalTransaction, 0, len(raw))
	for _, r := range raw {
		value, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			return nil, f.malformed("txlist", fmt.Errorf("交易 %s 的金额无效: %q", r.Hash, r.Value))
		}
		txs = append(txs, models.NormalTransaction{
			Hash:        r.Hash,
			BlockNumber: parseUint(r.BlockNumber),
			Timestamp:   parseUnix(r.TimeStamp),
			From:        r.From,
			To:          r.To,
			Value:       value,
			IsError:     r.IsError == "1",
			MethodID:    r.MethodID,
		})
	}
	return txs, nil
}

// TokenTransfers 读取ERC20代币转账
func (f *ExplorerFetcher) TokenTransfers(ctx context.Context, address string) ([]models.TokenTransfer, error) {
	var raw []explorerTokenTx
	if err := f.call(ctx, "tokentx", f.listParams("tokentx", address), &raw); err != nil {
		return nil, err
	}

	transfers := make([]models.TokenTransfer, 0, len(raw))
	for _, r := range raw {
		value, ok := new(big.Int).SetString(r.Value, 10)
		if !ok {
			return nil, f.malformed("tokentx", fmt.Errorf("转账 %s 的金额无效: %q", r.Hash, r.Value))
		}
		decimals, _ := strconv.ParseInt(r.TokenDecimal, 10, 32)
		transfers = append(transfers, models.TokenTransfer{
			Hash:            r.Hash,
			BlockNumber:     parseUint(r.BlockNumber),
			Timestamp:       parseUnix(r.TimeStamp),
			From:            r.From,
			To:              r.To,
			ContractAddress: r.ContractAddress,
			TokenSymbol:     r.TokenSymbol,
			TokenDecimals:   int32(decimals),
			Value:           value,
		})
	}
	return transfers, nil
}

func (f *ExplorerFetcher) listParams(action, address string) url.Values {
	return url.Values{
		"module":     {"account"},
		"action":     {action},
		"address":    {address},
		"startblock": {"0"},
		"endblock":   {"99999999"},
		"page":       {"1"},
		"offset":     {strconv.Itoa(f.pageSize)},
		"sort":       {"asc"},
	}
}

// call 发起调用并把result解码到target；"No transactions found"按空列表处理
func (f *ExplorerFetcher) call(ctx context.Context, action string, params url.Values, target interface{}) error {
	var envelope explorerResponse
	check := func(body []byte) error {
		envelope = explorerResponse{}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return f.malformed(action, err)
		}
		if envelope.Status == "1" || isEmptyResult(envelope) {
			return nil
		}
		return f.explorerError(action, envelope)
	}

	if _, err := f.client.Get(ctx, action, params, check); err != nil {
		return err
	}
	if isEmptyResult(envelope) {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, target); err != nil {
		return f.malformed(action, err)
	}
	return nil
}

func isEmptyResult(r explorerResponse) bool {
	return r.Status == "0" && strings.HasPrefix(strings.ToLower(r.Message), "no transactions found")
}

// explorerError 处理HTTP 200中携带的错误。限流提示按429处理以便重试
func (f *ExplorerFetcher) explorerError(action string, r explorerResponse) error {
	var detail string
	if err := json.Unmarshal(r.Result, &detail); err != nil {
		detail = string(r.Result)
	}
	cause := fmt.Errorf("%s: %s", r.Message, detail)

	if strings.Contains(strings.ToLower(detail), "rate limit") {
		return errors.WrapError(cause, errors.ErrorTypeRateLimit, errors.SeverityMedium, "PROVIDER_STATUS",
			fmt.Sprintf("数据源 %s 限流", f.client.Name())).
			WithStatus(http.StatusTooManyRequests).
			WithContext("provider", f.client.Name()).
			WithContext("action", action)
	}
	return errors.ProviderRejected(f.client.Name(), http.StatusOK, cause).
		WithContext("action", action)
}

func (f *ExplorerFetcher) malformed(action string, err error) error {
	return errors.ProviderRejected(f.client.Name(), http.StatusOK, fmt.Errorf("响应格式无效: %w", err)).
		WithContext("action", action)
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseUnix(s string) time.Time {
	v, _ := strconv.ParseInt(s, 10, 64)
	return time.Unix(v, 0).UTC()
}
