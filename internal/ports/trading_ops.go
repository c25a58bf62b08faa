package ports

import (
	"context"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/ledger"
)

// Small capability interfaces shared across layers (round/sched/execution).

type OrderSubmitter interface {
	// SubmitLimit 提交 GTC 限价单，返回已带交易所 ID 的订单
	SubmitLimit(ctx context.Context, leg domain.Leg, side types.Side, price domain.Price, size float64, purpose domain.OrderPurpose) (domain.Order, error)
}

type OrderCanceler interface {
	// Cancel 幂等撤单：已成交/已取消/不存在都算成功
	Cancel(ctx context.Context, exchangeID string) error
}

type FillPoller interface {
	// PollFills 汇集自上次调用以来的成交事件（WS + REST 合流，去重由账本负责）
	PollFills(ctx context.Context) ([]domain.FillEvent, error)
}

type RemotePositioner interface {
	// QueryRemotePosition 查询链上权威仓位
	QueryRemotePosition(ctx context.Context, leg domain.Leg) (ledger.Position, error)
}

// Executor 回合状态机需要的全部交易能力（*execution.Client 实现）。
type Executor interface {
	OrderSubmitter
	OrderCanceler
	FillPoller
	RemotePositioner

	// Halted 熔断器是否已跳闸；跳闸后回合必须终止并上报
	Halted() bool
	// HaltReason 跳闸原因（未跳闸时为空串）
	HaltReason() string
}
