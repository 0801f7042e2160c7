package units

import (
	"sort"
	"strings"

	"trustscore/internal/errors"
)

// Family 地址格式族
type Family string

const (
	FamilyEVM     Family = "evm"
	FamilySolana  Family = "solana"
	FamilyTron    Family = "tron"
	FamilyBitcoin Family = "bitcoin"
)

// Chain 区块链定义
type Chain struct {
	Name     string
	Symbol   string
	Decimals int32
	Family   Family
}

// Converter 返回该链的单位换算器
func (c Chain) Converter() Converter {
	return NewConverter(c.Symbol, c.Decimals)
}

var catalogue = map[string]Chain{
	"ethereum": {Name: "ethereum", Symbol: "ETH", Decimals: 18, Family: FamilyEVM},
	"bsc":      {Name: "bsc", Symbol: "BNB", Decimals: 18, Family: FamilyEVM},
	"polygon":  {Name: "polygon", Symbol: "POL", Decimals: 18, Family: FamilyEVM},
	"arbitrum": {Name: "arbitrum", Symbol: "ETH", Decimals: 18, Family: FamilyEVM},
	"base":     {Name: "base", Symbol: "ETH", Decimals: 18, Family: FamilyEVM},
	"solana":   {Name: "solana", Symbol: "SOL", Decimals: 9, Family: FamilySolana},
	"tron":     {Name: "tron", Symbol: "TRX", Decimals: 6, Family: FamilyTron},
	"bitcoin":  {Name: "bitcoin", Symbol: "BTC", Decimals: 8, Family: FamilyBitcoin},
}

// Lookup 按名称查找区块链，名称不区分大小写
func Lookup(name string) (Chain, error) {
	chain, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Chain{}, errors.NewScoreError(errors.ErrorTypeUnsupportedChain, errors.SeverityLow,
			errors.ErrUnsupportedChain.Code, "不支持的区块链: "+name).
			WithContext("chain", name)
	}
	return chain, nil
}

// Names 返回所有支持的区块链名称（已排序）
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
