package scoring

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"trustscore/internal/config"
	"trustscore/internal/errors"
)

// Tier 折扣档位
type Tier struct {
	ID        string          `json:"tier"`
	Threshold float64         `json:"threshold"`
	Fee       decimal.Decimal `json:"fee"` // 该档位的折扣铸造费用
}

// DiscountTable 按阈值升序排列的折扣表，构造后只读
type DiscountTable struct {
	tiers []Tier
}

// NewDiscountTable 创建折扣表。阈值必须互不相同且位于[0,1]，
// 费用随阈值单调不减（档位越高折扣越大）。
func NewDiscountTable(tiers []Tier) (*DiscountTable, error) {
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })

	ids := make(map[string]bool, len(sorted))
	for i, tier := range sorted {
		if tier.ID == "" {
			return nil, tableError("折扣档位缺少名称")
		}
		if ids[tier.ID] {
			return nil, tableError(fmt.Sprintf("折扣档位重复: %s", tier.ID))
		}
		ids[tier.ID] = true

		if tier.Threshold < 0 || tier.Threshold > 1 {
			return nil, tableError(fmt.Sprintf("档位 %s 的阈值必须位于[0,1]", tier.ID))
		}
		if tier.Fee.IsNegative() {
			return nil, tableError(fmt.Sprintf("档位 %s 的费用不能为负", tier.ID))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.Threshold == tier.Threshold {
			return nil, tableError(fmt.Sprintf("档位 %s 与 %s 阈值相同", prev.ID, tier.ID))
		}
		if tier.Fee.LessThan(prev.Fee) {
			return nil, tableError(fmt.Sprintf("档位 %s 的折扣小于更低档位 %s", tier.ID, prev.ID))
		}
	}
	return &DiscountTable{tiers: sorted}, nil
}

// DiscountTableFromConfig 从配置构造折扣表
func DiscountTableFromConfig(tiers []*config.DiscountTierConfig) (*DiscountTable, error) {
	out := make([]Tier, 0, len(tiers))
	for _, t := range tiers {
		if t == nil {
			continue
		}
		fee, err := decimal.NewFromString(t.Fee)
		if err != nil {
			return nil, tableError(fmt.Sprintf("档位 %s 的费用无法解析: %q", t.Tier, t.Fee))
		}
		out = append(out, Tier{ID: t.Tier, Threshold: t.Threshold, Fee: fee})
	}
	return NewDiscountTable(out)
}

// Lookup 取阈值不高于score的最高档位；低于最低档位时没有折扣
func (t *DiscountTable) Lookup(score float64) (Tier, bool) {
	if t == nil || len(t.tiers) == 0 {
		return Tier{}, false
	}
	// 第一个阈值大于score的位置
	i := sort.Search(len(t.tiers), func(i int) bool { return t.tiers[i].Threshold > score })
	if i == 0 {
		return Tier{}, false
	}
	return t.tiers[i-1], true
}

// LookupTier 按外部给定的档位名称查找
func (t *DiscountTable) LookupTier(id string) (Tier, bool) {
	if t == nil {
		return Tier{}, false
	}
	for _, tier := range t.tiers {
		if tier.ID == id {
			return tier, true
		}
	}
	return Tier{}, false
}

// Tiers 返回档位副本
func (t *DiscountTable) Tiers() []Tier {
	if t == nil {
		return nil
	}
	return append([]Tier(nil), t.tiers...)
}

func tableError(reason string) error {
	return errors.NewScoreError(errors.ErrorTypeConfig, errors.SeverityCritical,
		errors.ErrConfigInvalid.Code, reason).WithComponent("discount_table")
}
