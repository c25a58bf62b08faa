// Package ledger 维护单个回合的账本：订单、成交去重、乐观/链上两套仓位视图。
package ledger

import (
	"sort"
	"sync"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
)

// Position 某条腿的持仓视图
type Position struct {
	Size     float64
	AvgPrice float64
}

// IsFlat 是否没有持仓
func (p Position) IsFlat() bool {
	return p.Size <= 0
}

// Ledger 回合账本。每个回合新建一个。
//
// 成交按 ID 恰好记账一次：WS 和 REST 合流后同一成交会被重复投递，
// 状态只进不退（rank 相同或更低的更新是 no-op）。failed 把该笔成交
// 从两套仓位视图中剔除，等于自动回滚乐观记账。
type Ledger struct {
	mu     sync.RWMutex
	fills  map[string]domain.FillEvent // fill ID -> 最新状态
	orders map[string]domain.Order     // exchange ID -> 订单
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{
		fills:  make(map[string]domain.FillEvent),
		orders: make(map[string]domain.Order),
	}
}

// Apply 合并一次成交投递；返回 true 表示账本状态有变化（新成交或状态推进）
func (l *Ledger) Apply(fill domain.FillEvent) bool {
	if fill.ID == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, ok := l.fills[fill.ID]
	if !ok {
		l.fills[fill.ID] = fill
		return true
	}

	if fill.Status.Rank() <= existing.Status.Rank() {
		// 重复投递或状态回退，忽略
		return false
	}

	existing.Status = fill.Status
	if !fill.At.IsZero() {
		existing.At = fill.At
	}
	l.fills[fill.ID] = existing
	return true
}

// RecordOrder 登记一张订单（以交易所 ID 为键；没有交易所 ID 的订单不登记）
func (l *Ledger) RecordOrder(o domain.Order) {
	if o.ExchangeID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[o.ExchangeID] = o
}

// ApplyOrderStatus 更新订单状态。
// 最终状态不会被中间状态覆盖（WS 乱序重放时 filled 不能退回 open）。
func (l *Ledger) ApplyOrderStatus(exchangeID string, status domain.OrderStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[exchangeID]
	if !ok {
		return false
	}
	if o.IsFinal() {
		return false
	}
	o.Status = status
	l.orders[exchangeID] = o
	return true
}

// Order 按交易所 ID 取订单副本；FilledSize 按账本成交刷新
func (l *Ledger) Order(exchangeID string) (domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	o, ok := l.orders[exchangeID]
	if !ok {
		return domain.Order{}, false
	}
	o.FilledSize = l.filledSizeLocked(exchangeID)
	return o, true
}

// OpenOrders 返回仍在场上的订单副本
func (l *Ledger) OpenOrders() []domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.Order
	for id, o := range l.orders {
		if !o.IsLive() {
			continue
		}
		o.FilledSize = l.filledSizeLocked(id)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// FilledSize 返回某订单的累计成交数量（不含 failed）
func (l *Ledger) FilledSize(orderID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filledSizeLocked(orderID)
}

func (l *Ledger) filledSizeLocked(orderID string) float64 {
	total := 0.0
	for _, f := range l.fills {
		if f.OrderID != orderID || f.Status == domain.FillFailed {
			continue
		}
		total += f.Size
	}
	return total
}

// RiskPosition 乐观仓位：matched 起就计入（等待上链的也算）
func (l *Ledger) RiskPosition(leg domain.Leg) Position {
	return l.position(leg, func(s domain.FillStatus) bool {
		return s != domain.FillFailed
	})
}

// OnChainPosition 链上仓位：只计 mined/confirmed
func (l *Ledger) OnChainPosition(leg domain.Leg) Position {
	return l.position(leg, func(s domain.FillStatus) bool {
		return s == domain.FillMined || s == domain.FillConfirmed
	})
}

func (l *Ledger) position(leg domain.Leg, include func(domain.FillStatus) bool) Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var size, buySize, buyNotional float64
	for _, f := range l.fills {
		if f.Leg != leg || !include(f.Status) {
			continue
		}
		switch f.Side {
		case types.SideBuy:
			size += f.Size
			buySize += f.Size
			buyNotional += f.Size * f.Price.ToDecimal()
		case types.SideSell:
			size -= f.Size
		}
	}

	p := Position{Size: size}
	if buySize > 0 {
		// 均价取买入加权平均；卖出减仓不改变均价
		p.AvgPrice = buyNotional / buySize
	}
	return p
}

// Fills 返回全部成交副本（按时间升序，记流水用）
func (l *Ledger) Fills() []domain.FillEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.FillEvent, 0, len(l.fills))
	for _, f := range l.fills {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}
