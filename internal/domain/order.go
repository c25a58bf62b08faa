package domain

import (
	"time"

	"github.com/betbot/bucketmm/clob/types"
)

// OrderPurpose 订单在回合中的角色
type OrderPurpose string

const (
	PurposeEntry   OrderPurpose = "entry"   // 入场买单
	PurposeTp      OrderPurpose = "tp"      // 止盈卖单
	PurposeSl      OrderPurpose = "sl"      // 止损卖单
	PurposeLateSl  OrderPurpose = "late_sl" // 晚盘止损卖单
	PurposeFlatten OrderPurpose = "flatten" // 回合前清理外部仓位
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // 已提交，未确认
	OrderStatusOpen     OrderStatus = "open"     // 挂单中
	OrderStatusPartial  OrderStatus = "partial"  // 部分成交
	OrderStatusFilled   OrderStatus = "filled"   // 已成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
	OrderStatusFailed   OrderStatus = "failed"   // 失败
)

// Order 订单领域模型
type Order struct {
	ClientID   string          // 本地生成的 uuid（提交前就有，贯穿日志/审计）
	ExchangeID string          // 交易所订单 ID（提交成功后回填）
	MarketSlug string          // 所属市场周期（btc-updown-15m-xxxx）
	AssetID    string          // 资产 ID
	Leg        Leg             // YES/NO 侧
	Side       types.Side      // 买/卖
	Price      Price           // 限价
	Size       float64         // 订单原始数量
	FilledSize float64         // 已成交数量（partial fill 累计）
	Purpose    OrderPurpose    // entry/tp/sl/late_sl/flatten
	Status     OrderStatus     // 订单状态
	OrderType  types.OrderType // GTC/FAK/FOK（默认 GTC）
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsLive 订单是否仍在场上（可能继续成交）
func (o *Order) IsLive() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderStatusPending, OrderStatusOpen, OrderStatusPartial:
		return true
	}
	return false
}

// IsFilled 检查订单是否全部成交
func (o *Order) IsFilled() bool {
	return o != nil && o.Status == OrderStatusFilled
}

// IsFinal 检查订单是否为最终状态（filled/canceled/failed）
// 最终状态不应该被中间状态（open/pending）覆盖
func (o *Order) IsFinal() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusFailed:
		return true
	}
	return false
}

// Remaining 剩余未成交数量
func (o *Order) Remaining() float64 {
	if o == nil {
		return 0
	}
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}
