// Package units 在链上最小单位与原生代币单位之间转换。
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PrecisionShift 超出可表示范围的原始数额在转换前先除以 10^PrecisionShift
const PrecisionShift int32 = 9

var (
	// MaxRepresentable 可直接精确转换的最大原始数额（96位尾数上限 2^96-1）
	MaxRepresentable = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(1))

	shiftFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(PrecisionShift)), nil)
)

// Converter 单条链的单位换算参数，值对象，可安全并发使用
type Converter struct {
	Symbol   string
	Decimals int32
}

// NewConverter 创建换算器
func NewConverter(symbol string, decimals int32) Converter {
	return Converter{Symbol: symbol, Decimals: decimals}
}

// Reduced 判断原始数额是否需要走降精度路径
func Reduced(raw *big.Int) bool {
	if raw == nil {
		return false
	}
	return new(big.Int).Abs(raw).Cmp(MaxRepresentable) > 0
}

// ToNative 原始数额 → 原生单位。
// 超出可表示范围时先截断除以 10^PrecisionShift 再换算，不会报错也不会溢出。
func (c Converter) ToNative(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	if !Reduced(raw) {
		return decimal.NewFromBigInt(raw, -c.Decimals)
	}
	truncated := new(big.Int).Quo(raw, shiftFactor)
	return decimal.NewFromBigInt(truncated, PrecisionShift-c.Decimals)
}

// ToRaw 原生单位 → 原始数额，小数部分截断。
// 结果超出可表示范围时按与 ToNative 相同的方式舍去低 PrecisionShift 位，
// 因此 ToRaw(ToNative(x)) 在范围内等于 x，在范围外等于 floor(x/10^shift)*10^shift。
func (c Converter) ToRaw(amount decimal.Decimal) *big.Int {
	raw := amount.Shift(c.Decimals).BigInt()
	if !Reduced(raw) {
		return raw
	}
	raw.Quo(raw, shiftFactor)
	return raw.Mul(raw, shiftFactor)
}

// ToNativeFloat 原始数额 → 原生单位浮点数，仅用于评分等不需要精确值的场景
func (c Converter) ToNativeFloat(raw *big.Int) float64 {
	f, _ := c.ToNative(raw).Float64()
	return f
}
