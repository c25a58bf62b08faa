package marketmath

import "math"

// 入场/退出报价的纯函数。全部用 pips（price * 10000）表达，
// 由调用方保证入参已经换算。

// TpPips 止盈价：入场价加最小增量，但不超过上限。
//
//	tp = min(entry + increment, maxTp)
func TpPips(entryPips, incrementPips, maxTpPips int) int {
	tp := entryPips + incrementPips
	if tp > maxTpPips {
		return maxTpPips
	}
	return tp
}

// SlTriggerPips 止损触发价：入场价减偏移，但不低于保底。
//
//	trigger = max(entry - offset, floor)
func SlTriggerPips(entryPips, offsetPips, floorPips int) int {
	trigger := entryPips - offsetPips
	if trigger < floorPips {
		return floorPips
	}
	return trigger
}

// SharesForCap 给定资金上限与价格，返回可买的整数股数。
//
//	shares = floor(capUSD / price)
//
// 价格或上限非正时返回 0。商按 pips 计算并留 1e-9 容差：
// 7.0/0.70 这类本该整除的组合不能因为二进制浮点掉到 9。
func SharesForCap(capUSD float64, pricePips int) float64 {
	if capUSD <= 0 || pricePips <= 0 {
		return 0
	}
	return math.Floor(capUSD*10000.0/float64(pricePips) + 1e-9)
}

// ImproveAtLeast 判断新 bid 相对原入场价的改善是否达到阈值。
//
// 改善 = bid - entry，只有 >= minImprove 才值得撤单重挂。
func ImproveAtLeast(entryPips, bidPips, minImprovePips int) bool {
	return bidPips-entryPips >= minImprovePips
}
