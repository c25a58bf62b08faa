// Package round 实现单个 15 分钟桶的做市回合状态机。
//
// 状态机不自己睡眠：调度器以 ~200ms 间隔调用 Tick，每次 Tick 是
// 纯决策加有界 I/O。非法状态组合靠显式的状态迁移函数排除，
// 每个迁移函数显式返回下一个状态。
package round

import (
	"time"

	"github.com/betbot/bucketmm/internal/config"
	"github.com/betbot/bucketmm/internal/domain"
)

// State 回合状态
type State string

const (
	StateIdle         State = "idle"          // 等待入场条件
	StateEntryPending State = "entry_pending" // 入场单在场上
	StateEntryFilled  State = "entry_filled"  // 入场成交，等待挂出口
	StateTpPending    State = "tp_pending"    // 止盈单在场上，同时盯止损
	StateSlArmed      State = "sl_armed"      // 激进卖单在场上追止损
	StateLateHold     State = "late_hold"     // 晚盘持有到期，只配晚盘止损
	StateDust         State = "dust"          // 残余低于最小交易量，折入灰尘
	StateExitFilled   State = "exit_filled"   // 出场完成，清点残余
	StateDone         State = "done"          // 回合终结
)

// 腿选择模式
const (
	LegModeHighestBid = "highest_bid"
	LegModeYesOnly    = "yes_only"
	LegModeNoOnly     = "no_only"
)

// Params 回合策略参数（从配置文档折出，进程内不再变化）
type Params struct {
	EntryBidThreshold float64 // 入场买一价下限
	MinTpIncrement    float64 // 止盈相对入场价的最小增量
	SlOffset          float64 // 止损触发相对入场价的偏移
	SlFloor           float64 // 止损触发价下限
	MaxTpPrice        float64 // 止盈价上限
	SlOrderPrice      float64 // 止损卖单的深价（几乎必成交）

	ContractDuration time.Duration // 桶长
	LateWindow       time.Duration // 晚盘窗口（桶尾）
	EntryRequoteWait time.Duration // 入场单未成交多久后考虑重报
	ExitDelay        time.Duration // 入场成交到挂止盈的延迟

	LateSlTrigger             float64 // 晚盘止损触发价
	LateReentryEntryThreshold float64 // 晚盘再入场的买一价下限（同时决定是否持有到期）
	EnableLateReentry         bool
	MaxLateReentries          int

	CapSchedule     domain.CapSchedule
	MinTradeSize    float64
	EnableDustMerge bool

	EntryRequoteMinImprove float64 // 重报要求的最小价格改善
	LegSelectionMode       string
}

// ParamsFromConfig 从已校验的配置文档折出回合参数
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		EntryBidThreshold: cfg.EntryExit.EntryBidThreshold,
		MinTpIncrement:    cfg.EntryExit.MinTpIncrement,
		SlOffset:          cfg.EntryExit.SlOffset,
		SlFloor:           cfg.EntryExit.SlFloor,
		MaxTpPrice:        cfg.EntryExit.MaxTpPrice,
		SlOrderPrice:      cfg.EntryExit.SlOrderPrice,

		ContractDuration: time.Duration(cfg.TimeWindows.ContractDurationSec) * time.Second,
		LateWindow:       time.Duration(cfg.TimeWindows.LateWindowSec) * time.Second,
		EntryRequoteWait: time.Duration(cfg.TimeWindows.EntryRequoteWaitSec * float64(time.Second)),
		ExitDelay:        time.Duration(cfg.MicroTuning.ExitDelaySec * float64(time.Second)),

		LateSlTrigger:             cfg.LateMode.LateSlTrigger,
		LateReentryEntryThreshold: cfg.LateMode.LateReentryEntryThreshold,
		EnableLateReentry:         cfg.LateMode.EnableLateReentry,
		MaxLateReentries:          cfg.LateMode.MaxLateReentries,

		CapSchedule:     cfg.PositionControl.CapSchedule,
		MinTradeSize:    cfg.PositionControl.MinTradeSize,
		EnableDustMerge: cfg.PositionControl.EnableDustMerge,

		EntryRequoteMinImprove: cfg.MicroTuning.EntryRequoteMinImprove,
		LegSelectionMode:       cfg.MicroTuning.LegSelectionMode,
	}
}

// 抑制动作的分类（审计用，每次被拦下的动作都计数）
const (
	SuppressThreshold = "threshold" // 买一价未到入场阈值
	SuppressCap       = "cap"       // 当前时段资金上限为 0
	SuppressSize      = "size"      // 按上限算出的数量低于最小交易量
	SuppressStaleness = "staleness" // 行情过期或缺失
	SuppressHalt      = "halt"      // 熔断
)

// Suppressions 被抑制动作的计数器
type Suppressions struct {
	Threshold int
	Cap       int
	Size      int
	Staleness int
	Halt      int
}

func (s *Suppressions) bump(kind string) {
	switch kind {
	case SuppressThreshold:
		s.Threshold++
	case SuppressCap:
		s.Cap++
	case SuppressSize:
		s.Size++
	case SuppressStaleness:
		s.Staleness++
	case SuppressHalt:
		s.Halt++
	}
}

// Map 返回非零计数（塞进结果记录）
func (s Suppressions) Map() map[string]int {
	out := make(map[string]int)
	if s.Threshold > 0 {
		out[SuppressThreshold] = s.Threshold
	}
	if s.Cap > 0 {
		out[SuppressCap] = s.Cap
	}
	if s.Size > 0 {
		out[SuppressSize] = s.Size
	}
	if s.Staleness > 0 {
		out[SuppressStaleness] = s.Staleness
	}
	if s.Halt > 0 {
		out[SuppressHalt] = s.Halt
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
