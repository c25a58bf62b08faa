package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInFlightDeduper(t *testing.T) {
	d := NewInFlightDeduper(time.Second, 8)

	assert.NoError(t, d.TryAcquire("k1"))
	assert.ErrorIs(t, d.TryAcquire("k1"), ErrDuplicateInFlight)
	assert.NoError(t, d.TryAcquire("k2"), "不同 key 互不影响")

	d.Release("k1")
	assert.NoError(t, d.TryAcquire("k1"), "释放后可立即重入")
}

func TestInFlightDeduperTTL(t *testing.T) {
	d := NewInFlightDeduper(30*time.Millisecond, 8)

	assert.NoError(t, d.TryAcquire("k1"))
	assert.ErrorIs(t, d.TryAcquire("k1"), ErrDuplicateInFlight)

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, d.TryAcquire("k1"), "TTL 过期后自动放行")
}

func TestInFlightDeduperEdgeCases(t *testing.T) {
	var nilDeduper *InFlightDeduper
	assert.NoError(t, nilDeduper.TryAcquire("k"))
	nilDeduper.Release("k")

	d := NewInFlightDeduper(0, 0) // 回落到默认值
	assert.NoError(t, d.TryAcquire(""))
	assert.NoError(t, d.TryAcquire(""), "空 key 不去重")
}
