package marketspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("15m")
	require.NoError(t, err)
	assert.Equal(t, Timeframe15m, tf)

	tf, err = ParseTimeframe("1Hour")
	require.NoError(t, err)
	assert.Equal(t, Timeframe1h, tf)

	_, err = ParseTimeframe("3m")
	assert.Error(t, err)
}

func TestBucketStartUnix(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	require.NoError(t, err)

	// 1700000000 = 2023-11-14 22:13:20 UTC；所在 15m 桶起点 1699999200 = 22:00:00
	now := time.Unix(1700000000, 0)
	start := spec.BucketStartUnix(now)
	assert.Equal(t, int64(1699999200), start)
	assert.Equal(t, int64(0), start%900)

	// 桶边界本身属于新桶
	assert.Equal(t, int64(1700000100), spec.BucketStartUnix(time.Unix(1700000100, 0)))

	// 时区无关：同一时刻换个 Location 结果不变
	loc := time.FixedZone("X", 5*3600+45*60)
	assert.Equal(t, start, spec.BucketStartUnix(now.In(loc)))
}

func TestBucketElapsedRemaining(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	require.NoError(t, err)

	start := int64(1699999200)
	assert.Equal(t, int64(800), spec.ElapsedSec(start, time.Unix(start+800, 0)))
	assert.Equal(t, int64(100), spec.RemainingSec(start, time.Unix(start+800, 0)))
	assert.Equal(t, int64(0), spec.ElapsedSec(start, time.Unix(start-5, 0)))
	assert.Equal(t, int64(0), spec.RemainingSec(start, time.Unix(start+901, 0)))
	assert.Equal(t, start+900, spec.BucketEndUnix(start))
}

func TestSlug(t *testing.T) {
	spec, err := New("btc", "15m", "updown")
	require.NoError(t, err)

	assert.Equal(t, "btc-updown-15m-1699999200", spec.Slug(1699999200))
	assert.Equal(t, "btc-updown-15m-", spec.SlugPrefix())
	assert.Equal(t, int64(1700000100), spec.NextPeriodStartUnix(1699999200))
}

func TestNewValidation(t *testing.T) {
	_, err := New("BTC!", "15m", "updown")
	assert.Error(t, err)

	spec, err := New("", "15m", "")
	require.NoError(t, err)
	assert.Equal(t, "btc", spec.Symbol)
	assert.Equal(t, "updown", spec.Kind)
}
