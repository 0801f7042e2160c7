package models

import (
	"math/big"
	"strings"
	"time"
)

// NormalTransaction 原生代币交易
type NormalTransaction struct {
	Hash        string    `json:"hash"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       *big.Int  `json:"value"` // 最小链上单位
	IsError     bool      `json:"is_error"`
	MethodID    string    `json:"method_id,omitempty"`
}

// TokenTransfer ERC20风格的代币转账
type TokenTransfer struct {
	Hash            string    `json:"hash"`
	BlockNumber     uint64    `json:"block_number"`
	Timestamp       time.Time `json:"timestamp"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	ContractAddress string    `json:"contract_address"`
	TokenSymbol     string    `json:"token_symbol,omitempty"`
	TokenDecimals   int32     `json:"token_decimals"`
	Value           *big.Int  `json:"value"`
}

// TokenBalance 代币持仓
type TokenBalance struct {
	ContractAddress string   `json:"contract_address"`
	TokenSymbol     string   `json:"token_symbol,omitempty"`
	TokenDecimals   int32    `json:"token_decimals"`
	Balance         *big.Int `json:"balance"`
}

// TransferDirection 转账方向
type TransferDirection string

const (
	DirectionOutgoing TransferDirection = "outgoing"
	DirectionIncoming TransferDirection = "incoming"
)

// TransferQualifiedBalance 带方向和调用类型标记的代币余额（例如经由合约调用转出的持仓）
type TransferQualifiedBalance struct {
	TokenBalance
	Direction      TransferDirection `json:"direction"`
	InvocationType string            `json:"invocation_type"`
}

// Counterparty 返回相对于address的对手方地址；与address无关的记录返回空字符串
func (t *NormalTransaction) Counterparty(address string) string {
	return counterparty(address, t.From, t.To)
}

// Counterparty 返回相对于address的对手方地址
func (t *TokenTransfer) Counterparty(address string) string {
	return counterparty(address, t.From, t.To)
}

// IsOutgoing 判断交易是否由address发出
func (t *NormalTransaction) IsOutgoing(address string) bool {
	return strings.EqualFold(t.From, address)
}

func counterparty(address, from, to string) string {
	switch {
	case strings.EqualFold(from, address):
		return strings.ToLower(to)
	case strings.EqualFold(to, address):
		return strings.ToLower(from)
	default:
		return ""
	}
}

// RawChainData 数据源为单个地址返回的原始链上数据
type RawChainData struct {
	Address           string                     `json:"address"`
	Chain             string                     `json:"chain"`
	Provider          string                     `json:"provider"`
	NativeBalance     *big.Int                   `json:"native_balance"`
	Transactions      []NormalTransaction        `json:"transactions"`
	TokenTransfers    []TokenTransfer            `json:"token_transfers"`
	TokenBalances     []TokenBalance             `json:"token_balances,omitempty"`
	QualifiedBalances []TransferQualifiedBalance `json:"qualified_balances,omitempty"`

	// HistoricalMedianUSD 数据源直接提供的历史中位余额（美元），为空时由统计模块根据交易历史重建
	HistoricalMedianUSD *float64 `json:"historical_median_usd,omitempty"`

	// Degraded 记录获取失败的数据种类，对应的子指标按零处理
	Degraded  []string  `json:"degraded,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MarkDegraded 记录一类获取失败的数据
func (d *RawChainData) MarkDegraded(kind string) {
	for _, k := range d.Degraded {
		if k == kind {
			return
		}
	}
	d.Degraded = append(d.Degraded, kind)
}

// IsDegraded 判断某类数据是否缺失
func (d *RawChainData) IsDegraded(kind string) bool {
	for _, k := range d.Degraded {
		if k == kind {
			return true
		}
	}
	return false
}

// 数据种类
const (
	DataBalance        = "balance"
	DataTransactions   = "transactions"
	DataTokenTransfers = "token_transfers"
	DataTokenBalances  = "token_balances"
)
