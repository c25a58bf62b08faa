// Package metrics 暴露进程内部计数器（expvar）和 pprof 调试端口。
// 默认不监听，由环境变量控制开关。
package metrics

import "expvar"

var (
	RoundsStarted   = expvar.NewInt("rounds_started")
	RoundsSkipped   = expvar.NewInt("rounds_skipped")
	RoundsCompleted = expvar.NewInt("rounds_completed")

	FlattenRuns   = expvar.NewInt("flatten_runs")
	FlattenErrors = expvar.NewInt("flatten_errors")

	SnapshotSaves = expvar.NewInt("snapshot_saves")
	SnapshotLoads = expvar.NewInt("snapshot_loads")
)
