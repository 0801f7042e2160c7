package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ScoreType 评分类型
type ScoreType string

const (
	// ScoreTypeWallet 使用即时余额的钱包评分
	ScoreTypeWallet ScoreType = "wallet"
	// ScoreTypeWalletMedian 使用历史中位余额的钱包评分
	ScoreTypeWalletMedian ScoreType = "wallet_median"
)

// Valid 是否为已知的评分类型
func (t ScoreType) Valid() bool {
	return t == ScoreTypeWallet || t == ScoreTypeWalletMedian
}

// Metadata 外部协作方提供的透传数据，评分流程不解析其内容
type Metadata struct {
	Migration json.RawMessage `json:"migration,omitempty"`
	Mint      json.RawMessage `json:"mint,omitempty"`
	DID       json.RawMessage `json:"did,omitempty"`
}

// IsEmpty 是否没有任何透传数据
func (m *Metadata) IsEmpty() bool {
	return m == nil || (len(m.Migration) == 0 && len(m.Mint) == 0 && len(m.DID) == 0)
}

// WalletScore 钱包评分结果。构造后不可修改，缓存中的条目只会被替换
type WalletScore struct {
	Address   string    `json:"address"`
	Chain     string    `json:"chain"`
	Score     float64   `json:"score"`
	ScoreType ScoreType `json:"score_type"`

	// 仅在启用折扣且命中档位时出现
	DiscountTier      string           `json:"discount_tier,omitempty"`
	DiscountedMintFee *decimal.Decimal `json:"discounted_mint_fee,omitempty"`

	Metadata     *Metadata `json:"metadata,omitempty"`
	ReferralCode string    `json:"referral_code,omitempty"`
	ReferrerCode string    `json:"referrer_code,omitempty"`

	Stats      *WalletStats `json:"stats"`
	ComputedAt time.Time    `json:"computed_at"`
}

// Annotations 调用方附加到评分结果上的透传信息
type Annotations struct {
	Metadata     *Metadata
	ReferralCode string
	ReferrerCode string
}

// Annotate 返回附加了透传信息的副本，原结果不变
func (s *WalletScore) Annotate(a Annotations) *WalletScore {
	out := *s
	if !a.Metadata.IsEmpty() {
		out.Metadata = a.Metadata
	}
	if a.ReferralCode != "" {
		out.ReferralCode = a.ReferralCode
	}
	if a.ReferrerCode != "" {
		out.ReferrerCode = a.ReferrerCode
	}
	return &out
}
