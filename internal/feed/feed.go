// Package feed 提供盘口行情通道：单写者发布 TopOfBook 快照，任意多读者取最新值。
//
// 两种后端：
//   - ShmRing：mmap 共享内存环，跨进程（feedwriter 写，mmbot/feedwatch 读）
//   - AtomicSlot：进程内 seqlock，单进程部署和测试用
//
// 读者永远只关心"最新快照 + 新鲜度"，不消费历史帧。
package feed

import (
	"time"

	"github.com/betbot/bucketmm/internal/domain"
)

// ReadStatus 读取结果的新鲜度分类
type ReadStatus int

const (
	ReadOK    ReadStatus = iota // 快照有效且新鲜
	ReadStale                   // 快照存在但超过了 staleAfter
	ReadEmpty                   // 还没有任何快照
)

// String 返回状态名
func (s ReadStatus) String() string {
	switch s {
	case ReadOK:
		return "ok"
	case ReadStale:
		return "stale"
	case ReadEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Source 提供最新快照；ok=false 表示尚无数据
type Source interface {
	Load() (domain.TopOfBook, bool)
}

// Writer 发布快照（单写者）
type Writer interface {
	WriteSnapshot(tob domain.TopOfBook) error
}

// Channel 在 Source 之上加新鲜度判定
type Channel struct {
	source     Source
	staleAfter time.Duration
	now        func() time.Time
}

// NewChannel 创建行情通道，staleAfter 为快照的最大可信年龄
func NewChannel(source Source, staleAfter time.Duration) *Channel {
	return &Channel{
		source:     source,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// ReadLatest 返回最新快照和新鲜度
//
// 零价快照（两腿 bid 都缺失）按 empty 处理，避免把"未初始化"当成行情。
func (c *Channel) ReadLatest() (domain.TopOfBook, ReadStatus) {
	tob, ok := c.source.Load()
	if !ok || tob.IsZero() {
		return domain.TopOfBook{}, ReadEmpty
	}
	if tob.YesBid.IsZero() && tob.NoBid.IsZero() {
		return domain.TopOfBook{}, ReadEmpty
	}

	age := c.now().UnixMilli() - tob.TsMs
	if age > c.staleAfter.Milliseconds() {
		return tob, ReadStale
	}
	return tob, ReadOK
}
