package marketmath

import "math"

// 成交金额与已实现盈亏的清点函数。价格仍用 pips 表达，
// 数量与金额用 float64（交易所的数量本来就是字符串转出来的浮点）。

// NotionalUSD 一笔成交的名义金额。
//
//	notional = price * size
func NotionalUSD(pricePips int, size float64) float64 {
	return float64(pricePips) / 10000.0 * size
}

// UsdToCents USD → 分（四舍五入）。熔断器的当日亏损统计用整数分，
// 避免一天几百笔浮点累加漂移。
func UsdToCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

// VwapUSD 成交流水的量加权均价。总量为 0 时返回 0。
func VwapUSD(notionalUSD, size float64) float64 {
	if size <= 0 {
		return 0
	}
	return notionalUSD / size
}
