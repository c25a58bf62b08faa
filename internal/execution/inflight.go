package execution

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 表示同一 key 的请求仍在 in-flight（或在 TTL 窗口内）。
// 200ms tick 下同一意图可能被连续触发，靠它挡住重复下单。
var ErrDuplicateInFlight = fmt.Errorf("duplicate in-flight")

// InFlightDeduper 提供短时间窗口内的确定性去重。
//
// 不允许误判（哈希冲突导致的误跳过下单代价太高），
// 因此用分片 map 而不是位图；清理惰性进行，开销可控。
type InFlightDeduper struct {
	ttl    time.Duration
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

// NewInFlightDeduper 创建去重器。
// ttl 建议取 500ms~5s（覆盖一次决策到下单完成的典型窗口）。
func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]inFlightShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]time.Time)
	}
	return &InFlightDeduper{ttl: ttl, shards: shards}
}

// TryAcquire 尝试获取 key 的 in-flight 令牌。
// - 成功返回 nil
// - 失败返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	if d == nil {
		return nil
	}
	if key == "" {
		return nil
	}
	now := time.Now()
	sh := d.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// 惰性清理：仅清理本 shard 中过期项，且仅在发生访问时进行
	for k, exp := range sh.m {
		if !exp.After(now) {
			delete(sh.m, k)
		}
	}

	if exp, ok := sh.m[key]; ok && exp.After(now) {
		return ErrDuplicateInFlight
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Release 提前释放 key（允许更快再次进入）。
func (d *InFlightDeduper) Release(key string) {
	if d == nil || key == "" {
		return
	}
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32()) % len(d.shards)
	return &d.shards[idx]
}

