package feed

import (
	"sync/atomic"

	"github.com/betbot/bucketmm/internal/domain"
)

// AtomicSlot 进程内的 seqlock 快照槽。
//
// 目标：
//   - 高频写入（WS 泵）与高频读取（策略 tick）解耦
//   - 读取时拿到一致快照（避免多字段撕裂）
//
// seq 为奇数表示写入进行中；读者在复制前后各读一次 seq，
// 不一致或为奇数就重试。单写者，所以写侧不需要 CAS。
// 字段本身也是原子的，跨字段一致性由 seq 保证。
type AtomicSlot struct {
	seq atomic.Uint64

	tsMs     atomic.Int64
	bucketTS atomic.Int64
	yesBid   atomic.Int64
	yesAsk   atomic.Int64
	noBid    atomic.Int64
	noAsk    atomic.Int64
}

// NewAtomicSlot 创建空槽
func NewAtomicSlot() *AtomicSlot {
	return &AtomicSlot{}
}

// WriteSnapshot 发布一份快照（只允许单写者调用）
func (s *AtomicSlot) WriteSnapshot(tob domain.TopOfBook) error {
	seq := s.seq.Load()
	s.seq.Store(seq + 1) // 进入写临界区（奇数）

	s.tsMs.Store(tob.TsMs)
	s.bucketTS.Store(tob.BucketTS)
	s.yesBid.Store(int64(tob.YesBid.Pips))
	s.yesAsk.Store(int64(tob.YesAsk.Pips))
	s.noBid.Store(int64(tob.NoBid.Pips))
	s.noAsk.Store(int64(tob.NoAsk.Pips))

	s.seq.Store(seq + 2) // 发布（偶数）
	return nil
}

// Load 返回最新快照；ok=false 表示还没写过
func (s *AtomicSlot) Load() (domain.TopOfBook, bool) {
	for {
		seq1 := s.seq.Load()
		if seq1 == 0 {
			return domain.TopOfBook{}, false
		}
		if seq1&1 == 1 {
			// 写入进行中，立刻重读
			continue
		}

		tob := domain.TopOfBook{
			Seq:      seq1 >> 1,
			TsMs:     s.tsMs.Load(),
			BucketTS: s.bucketTS.Load(),
			YesBid:   domain.Price{Pips: int(s.yesBid.Load())},
			YesAsk:   domain.Price{Pips: int(s.yesAsk.Load())},
			NoBid:    domain.Price{Pips: int(s.noBid.Load())},
			NoAsk:    domain.Price{Pips: int(s.noAsk.Load())},
		}

		if s.seq.Load() == seq1 {
			return tob, true
		}
		// 复制期间被写者追上，丢弃重试
	}
}

// Reset 原地清空（上层会缓存槽指针，不能换新对象）
func (s *AtomicSlot) Reset() {
	seq := s.seq.Load()
	s.seq.Store(seq + 1)
	s.tsMs.Store(0)
	s.bucketTS.Store(0)
	s.yesBid.Store(0)
	s.yesAsk.Store(0)
	s.noBid.Store(0)
	s.noAsk.Store(0)
	s.seq.Store(seq + 2)
}
