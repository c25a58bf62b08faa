package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// TokenBucket 令牌桶速率限制器
type TokenBucket struct {
	capacity   int           // 桶容量
	tokens     int           // 当前令牌数
	refillRate int           // 每秒补充的令牌数
	windowSize time.Duration // 时间窗口大小
	lastRefill time.Time     // 上次补充时间
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶
func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill)

	tokensToAdd := int(elapsed.Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		tb.mu.Lock()
		tb.refill()
		waitTime := tb.windowSize
		if tb.refillRate > 0 {
			waitTime = time.Second / time.Duration(tb.refillRate)
		}
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

// GetResetTime 获取重置时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		needed := tb.capacity - tb.tokens
		seconds := float64(needed) / float64(tb.refillRate)
		return time.Now().Add(time.Duration(seconds * float64(time.Second)))
	}
	return time.Now()
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.evict(now)

	if len(sw.requests) >= sw.limit {
		return false
	}

	sw.requests = append(sw.requests, now)
	return true
}

// evict 移除窗口外的请求（requests 按时间递增，找到第一个在窗口内的即可）
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for ; i < len(sw.requests); i++ {
		if sw.requests[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if w := sw.windowSize - time.Since(sw.requests[0]); w > waitTime {
				waitTime = w
			}
		}
		sw.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(time.Now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 获取重置时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.requests) == 0 {
		return time.Now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// RateLimitManager 速率限制管理器
//
// key 约定 "<服务>:<资源>:<动作>"，与各 API 官方限额对应。
type RateLimitManager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// NewRateLimitManager 创建新的速率限制管理器
func NewRateLimitManager() *RateLimitManager {
	manager := &RateLimitManager{
		limiters: make(map[string]RateLimiter),
		// 未注册端点共用一个兜底限制器
		fallback: NewSlidingWindow(750, 10*time.Second),
	}
	manager.initDefaultLimiters()
	return manager
}

// initDefaultLimiters 初始化本系统会触达的端点限额
func (rlm *RateLimitManager) initDefaultLimiters() {
	// CLOB API
	rlm.limiters["clob:order:post"] = NewTokenBucket(2400, 240, 10*time.Second)   // 2400/10s
	rlm.limiters["clob:order:delete"] = NewTokenBucket(2400, 240, 10*time.Second) // 2400/10s
	rlm.limiters["clob:orders:get"] = NewSlidingWindow(150, 10*time.Second)       // 150/10s
	rlm.limiters["clob:trades:get"] = NewSlidingWindow(150, 10*time.Second)       // 150/10s
	rlm.limiters["clob:book:get"] = NewSlidingWindow(200, 10*time.Second)         // 200/10s

	// Gamma API
	rlm.limiters["gamma:markets:get"] = NewSlidingWindow(125, 10*time.Second) // 125/10s

	// Data API
	rlm.limiters["data:positions:get"] = NewSlidingWindow(150, 10*time.Second) // 150/10s
	rlm.limiters["data:general"] = NewSlidingWindow(200, 10*time.Second)       // 200/10s
}

// GetLimiter 获取指定端点的速率限制器（未注册时返回共享兜底限制器）
func (rlm *RateLimitManager) GetLimiter(endpoint string) RateLimiter {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	if limiter, exists := rlm.limiters[endpoint]; exists {
		return limiter
	}
	return rlm.fallback
}

// Wait 等待直到允许请求
func (rlm *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return rlm.GetLimiter(endpoint).Wait(ctx)
}

// Allow 检查是否允许请求
func (rlm *RateLimitManager) Allow(endpoint string) bool {
	return rlm.GetLimiter(endpoint).Allow()
}

// GetRemaining 获取剩余请求数
func (rlm *RateLimitManager) GetRemaining(endpoint string) int {
	return rlm.GetLimiter(endpoint).GetRemaining()
}
