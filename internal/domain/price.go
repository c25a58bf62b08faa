package domain

import (
	"math"
	"strconv"
)

// Price 价格值对象（固定精度：1e-4）
//
// tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。为了让策略/执行层不丢精度，
// 内部统一用 1e-4 作为最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01
//   - 10000 pips = 1.0
type Price struct {
	Pips int
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// ToDecimal 转换为小数（例如 6000 pips = 0.6000）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// IsZero 是否为零价（通常表示"缺失"）
func (p Price) IsZero() bool {
	return p.Pips == 0
}

// Add 价格相加
func (p Price) Add(other Price) Price {
	return Price{Pips: p.Pips + other.Pips}
}

// Subtract 价格相减
func (p Price) Subtract(other Price) Price {
	return Price{Pips: p.Pips - other.Pips}
}

// GreaterThan 检查是否大于
func (p Price) GreaterThan(other Price) bool {
	return p.Pips > other.Pips
}

// LessThan 检查是否小于
func (p Price) LessThan(other Price) bool {
	return p.Pips < other.Pips
}

// GreaterThanOrEqual 检查是否大于等于
func (p Price) GreaterThanOrEqual(other Price) bool {
	return p.Pips >= other.Pips
}

// LessThanOrEqual 检查是否小于等于
func (p Price) LessThanOrEqual(other Price) bool {
	return p.Pips <= other.Pips
}

// String 返回十进制字符串（去掉多余的 0，如 "0.62"）
func (p Price) String() string {
	return strconv.FormatFloat(p.ToDecimal(), 'f', -1, 64)
}

// MinPrice 返回两者中较小的价格
func MinPrice(a, b Price) Price {
	if a.Pips < b.Pips {
		return a
	}
	return b
}

// MaxPrice 返回两者中较大的价格
func MaxPrice(a, b Price) Price {
	if a.Pips > b.Pips {
		return a
	}
	return b
}
