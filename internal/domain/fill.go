package domain

import (
	"fmt"
	"time"

	"github.com/betbot/bucketmm/clob/types"
)

// FillStatus 成交的链下/链上状态
type FillStatus string

const (
	FillMatched   FillStatus = "matched"   // 撮合完成（乐观）
	FillRetrying  FillStatus = "retrying"  // 上链重试中
	FillMined     FillStatus = "mined"     // 已上链
	FillConfirmed FillStatus = "confirmed" // 已确认
	FillFailed    FillStatus = "failed"    // 上链失败（需回滚乐观仓位）
)

// rank 状态只进不退：confirmed/failed 为终态
var fillStatusRank = map[FillStatus]float64{
	FillMatched:   1.0,
	FillRetrying:  1.5,
	FillMined:     2.0,
	FillConfirmed: 3.0,
	FillFailed:    3.0,
}

// Rank 返回状态序（用于只进不退的状态合并）
func (s FillStatus) Rank() float64 {
	return fillStatusRank[s]
}

// ParseFillStatus 解析交易所返回的状态字符串
func ParseFillStatus(raw string) FillStatus {
	switch raw {
	case "MATCHED", "matched":
		return FillMatched
	case "RETRYING", "retrying":
		return FillRetrying
	case "MINED", "mined":
		return FillMined
	case "CONFIRMED", "confirmed":
		return FillConfirmed
	case "FAILED", "failed":
		return FillFailed
	}
	// 未知状态按乐观撮合处理，等待后续更新纠正
	return FillMatched
}

// FillEvent 一次成交（或成交状态更新）
//
// ID 在 taker/maker 两种角色下都唯一：{trade_id}:{taker|maker}:{order_id}。
// 同一 ID 可能被多次投递（WS 与 REST 合流），记账层按 ID 去重。
type FillEvent struct {
	ID      string     // 去重键
	TradeID string     // 交易所 trade ID
	OrderID string     // 关联的交易所订单 ID
	AssetID string     // 资产 ID
	Leg     Leg        // YES/NO 侧
	Side    types.Side // 买/卖
	Price   Price      // 成交价格
	Size    float64    // 成交数量
	Status  FillStatus // matched/retrying/mined/confirmed/failed
	At      time.Time  // 成交时间
}

// FillID 构造成交去重键
func FillID(tradeID, role, orderID string) string {
	return fmt.Sprintf("%s:%s:%s", tradeID, role, orderID)
}
