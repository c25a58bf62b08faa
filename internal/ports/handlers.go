package ports

import (
	"github.com/betbot/bucketmm/internal/domain"
)

// RoundRecorder 回合过程的流水钩子（journal 实现）。
//
// NOTE: This interface is intentionally defined in a "neutral" package to avoid
// circular dependencies between round, sched, and journal. Implementations must
// be best-effort: a failed write logs and returns, it never blocks trading.
type RoundRecorder interface {
	RecordOrder(bucketTS int64, o domain.Order)
	RecordFill(bucketTS int64, f domain.FillEvent)
	RecordSuppression(bucketTS int64, kind, detail string)
}

// NopRecorder 丢弃所有流水（journal 未配置时使用）。
type NopRecorder struct{}

func (NopRecorder) RecordOrder(int64, domain.Order)         {}
func (NopRecorder) RecordFill(int64, domain.FillEvent)      {}
func (NopRecorder) RecordSuppression(int64, string, string) {}
