package marketspec

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Timeframe 表示市场周期（用于 polymarket updown market slug）。
// 支持：15m / 1h / 4h
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

func ParseTimeframe(v string) (Timeframe, error) {
	s := strings.ToLower(strings.TrimSpace(v))
	switch s {
	case "15m", "15min", "15mins", "15-minute", "15minutes":
		return Timeframe15m, nil
	case "1h", "1hour", "1-hour", "60m", "60min", "60mins":
		return Timeframe1h, nil
	case "4h", "4hour", "4-hour", "240m", "240min", "240mins":
		return Timeframe4h, nil
	default:
		return "", fmt.Errorf("不支持的 timeframe: %q（支持: 15m/1h/4h）", v)
	}
}

func (t Timeframe) String() string { return string(t) }

func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return 1 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		// 未知值按 15m 处理，避免 panic（Validate 会兜底）
		return 15 * time.Minute
	}
}

// DurationSec 周期长度（秒）
func (t Timeframe) DurationSec() int64 {
	return int64(t.Duration().Seconds())
}

// MarketSpec 表示要交易/订阅的 polymarket updown 市场规格。
type MarketSpec struct {
	Symbol    string // e.g. "btc", "eth"
	Kind      string // e.g. "updown"
	Timeframe Timeframe
}

var symbolRe = regexp.MustCompile(`^[a-z0-9]+$`)

func New(symbol, timeframe, kind string) (MarketSpec, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return MarketSpec{}, err
	}
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btc"
	}
	if !symbolRe.MatchString(s) {
		return MarketSpec{}, fmt.Errorf("无效的 symbol: %q（仅允许小写字母/数字）", symbol)
	}
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = "updown"
	}
	return MarketSpec{Symbol: s, Kind: k, Timeframe: tf}, nil
}

func (m MarketSpec) Duration() time.Duration { return m.Timeframe.Duration() }

// BucketStartUnix 返回包含 now 的桶起点：floor(unix / duration) * duration。
//
// 纯 Unix 对齐，不依赖本地时区。slug 里的周期时间戳就是这个值。
func (m MarketSpec) BucketStartUnix(now time.Time) int64 {
	sec := m.Timeframe.DurationSec()
	return (now.Unix() / sec) * sec
}

// CurrentPeriodStartUnix 兼容旧命名（等价于 BucketStartUnix）。
func (m MarketSpec) CurrentPeriodStartUnix(now time.Time) int64 {
	return m.BucketStartUnix(now)
}

// BucketEndUnix 返回桶的结束时间（下一桶起点）。
func (m MarketSpec) BucketEndUnix(bucketStartUnix int64) int64 {
	return bucketStartUnix + m.Timeframe.DurationSec()
}

// ElapsedSec 桶内已经过的秒数（now 早于桶起点时返回 0）。
func (m MarketSpec) ElapsedSec(bucketStartUnix int64, now time.Time) int64 {
	e := now.Unix() - bucketStartUnix
	if e < 0 {
		return 0
	}
	return e
}

// RemainingSec 桶内剩余秒数（桶已结束时返回 0）。
func (m MarketSpec) RemainingSec(bucketStartUnix int64, now time.Time) int64 {
	r := m.BucketEndUnix(bucketStartUnix) - now.Unix()
	if r < 0 {
		return 0
	}
	return r
}

func (m MarketSpec) Slug(periodStartUnix int64) string {
	// 约定：polymarket slug 使用小写 symbol / kind / timeframe
	return fmt.Sprintf("%s-%s-%s-%d", m.Symbol, m.Kind, m.Timeframe.String(), periodStartUnix)
}

func (m MarketSpec) SlugPrefix() string {
	return fmt.Sprintf("%s-%s-%s-", m.Symbol, m.Kind, m.Timeframe.String())
}

func (m MarketSpec) NextPeriodStartUnix(periodStartUnix int64) int64 {
	return periodStartUnix + m.Timeframe.DurationSec()
}

func (m MarketSpec) NextSlugs(count int) []string {
	if count <= 0 {
		return nil
	}
	start := m.BucketStartUnix(time.Now())
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ts := start + int64(i)*m.Timeframe.DurationSec()
		out = append(out, m.Slug(ts))
	}
	return out
}
