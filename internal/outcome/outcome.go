// Package outcome 把每个回合的结果投递给外部收集端。
// 投递是尽力而为：失败只记日志，绝不阻塞下一个回合。
package outcome

import (
	"context"
	"time"
)

// 回合结果分类
const (
	ResultWin    = "win"     // 止盈成交
	ResultSl     = "sl"      // 常规止损
	ResultLateSl = "late_sl" // 晚盘止损
	ResultHold   = "hold"    // 持仓到期，等链上结算
	ResultDust   = "dust"    // 残余并入灰尘，未再下单
	ResultFlat   = "flat"    // 整个回合未入场
	ResultHalt   = "halt"    // 熔断终止
	ResultSkip   = "skip"    // 合约未上线，回合跳过
)

// Record 单个回合的结果记录。schema 由外部收集端拥有，json 字段名固定。
type Record struct {
	Version  int    `json:"version"`
	BucketTS int64  `json:"bucket_ts"`
	Slug     string `json:"slug"`
	Leg      string `json:"leg,omitempty"`
	Result   string `json:"result"`

	EntryPrice float64 `json:"entry_price,omitempty"`
	EntrySize  float64 `json:"entry_size,omitempty"`
	ExitPrice  float64 `json:"exit_price,omitempty"`
	ExitSize   float64 `json:"exit_size,omitempty"`

	// CashDeltaUSD 本回合成交的现金流（卖出-买入）；持仓到期的回合不含结算
	CashDeltaUSD float64 `json:"cash_delta_usd"`

	DustCarrySize     float64 `json:"dust_carry_size,omitempty"`
	DustCarryAvgPrice float64 `json:"dust_carry_avg_price,omitempty"`

	LateReentries int            `json:"late_reentries,omitempty"`
	Suppressions  map[string]int `json:"suppressions,omitempty"`
	HaltReason    string         `json:"halt_reason,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// SchemaVersion 当前记录格式版本
const SchemaVersion = 1

// Sink 回合结果投递端
type Sink interface {
	Report(ctx context.Context, rec Record) error
}

// NopSink 丢弃所有记录（未配置 report_url 时使用）
type NopSink struct{}

func (NopSink) Report(context.Context, Record) error { return nil }
