// Package risk 提供下单熔断：认证失败或连续错误过多时停止一切下单。
package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrBreakerOpen 表示熔断器已打开，禁止继续下单。
var ErrBreakerOpen = fmt.Errorf("breaker open")

// BreakerConfig 熔断器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type BreakerConfig struct {
	// MaxConsecutiveErrors 连续执行失败上限。
	MaxConsecutiveErrors int64

	// DailyLossLimitCents 当日最大亏损（分）。达到或超过时立即熔断。
	DailyLossLimitCents int64
}

// Breaker 高频快路径全部走原子变量。
//
// 认证失败直接熔断：凭证坏了重试只会继续 401，必须人工介入。
// PnL 统计由上层在确认成交处调用 AddPnLCents() 喂入。
type Breaker struct {
	halted atomic.Bool
	reason atomic.Value // string

	consecutiveErrors atomic.Int64
	dailyPnlCents     atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors atomic.Int64
	dailyLossLimitCents  atomic.Int64
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	b := &Breaker{}
	b.reason.Store("")
	b.SetConfig(cfg)
	return b
}

func (b *Breaker) SetConfig(cfg BreakerConfig) {
	if b == nil {
		return
	}
	b.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	b.dailyLossLimitCents.Store(cfg.DailyLossLimitCents)
}

// Halt 手动熔断（人工介入或上层检测到严重异常）。
func (b *Breaker) Halt(reason string) {
	if b == nil {
		return
	}
	b.reason.Store(reason)
	b.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）。
func (b *Breaker) Resume() {
	if b == nil {
		return
	}
	b.halted.Store(false)
	b.reason.Store("")
	b.consecutiveErrors.Store(0)
}

// Halted 返回当前是否处于熔断状态。
func (b *Breaker) Halted() bool {
	if b == nil {
		return false
	}
	return b.halted.Load()
}

// HaltReason 返回熔断原因；未熔断时为空串。
func (b *Breaker) HaltReason() string {
	if b == nil {
		return ""
	}
	if r, ok := b.reason.Load().(string); ok {
		return r
	}
	return ""
}

// AllowTrading 快路径检查是否允许下单。
func (b *Breaker) AllowTrading() error {
	if b == nil {
		return nil
	}

	if b.halted.Load() {
		return ErrBreakerOpen
	}

	// 连续错误熔断
	maxErr := b.maxConsecutiveErrors.Load()
	if maxErr > 0 && b.consecutiveErrors.Load() >= maxErr {
		b.Halt(fmt.Sprintf("连续 %d 次执行失败", b.consecutiveErrors.Load()))
		return ErrBreakerOpen
	}

	// 当日亏损熔断（若启用）
	limit := b.dailyLossLimitCents.Load()
	if limit > 0 {
		b.rollDayIfNeeded()
		pnl := b.dailyPnlCents.Load()
		if pnl <= -limit {
			b.Halt(fmt.Sprintf("当日亏损 %d 分达到上限", -pnl))
			return ErrBreakerOpen
		}
	}

	return nil
}

// OnSuccess 在一次关键执行成功后调用，清空连续错误计数。
func (b *Breaker) OnSuccess() {
	if b == nil {
		return
	}
	b.consecutiveErrors.Store(0)
}

// OnError 在一次关键执行失败后调用，累计连续错误计数。
func (b *Breaker) OnError() {
	if b == nil {
		return
	}
	b.consecutiveErrors.Add(1)
}

// OnAuthFailure 认证失败立即熔断。
func (b *Breaker) OnAuthFailure(err error) {
	if b == nil {
		return
	}
	b.Halt(fmt.Sprintf("认证失败: %v", err))
}

// AddPnLCents 增量更新当日 PnL（分）。负数为亏损。
func (b *Breaker) AddPnLCents(delta int64) {
	if b == nil {
		return
	}
	b.rollDayIfNeeded()
	b.dailyPnlCents.Add(delta)
}

func (b *Breaker) rollDayIfNeeded() {
	// YYYYMMDD（本地时间即可，风控用途不要求跨时区精确）
	now := time.Now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := b.dayKey.Load()
	if prev == key {
		return
	}
	// 切换成功者负责清零当日 PnL
	if b.dayKey.CompareAndSwap(prev, key) {
		b.dailyPnlCents.Store(0)
	}
}
