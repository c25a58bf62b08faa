package execution

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/clob/client"
)

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"401 认证", 401, "Unauthorized", IsAuth},
		{"403 认证", 403, "forbidden", IsAuth},
		{"404 拒单", 404, "order not found", IsRejected},
		{"429 瞬时", 429, "too many requests", IsTransient},
		{"500 瞬时", 500, "internal server error", IsTransient},
		{"503 瞬时", 503, "service unavailable", IsTransient},
		{"400 余额不足", 400, "not enough balance / allowance", IsRejected},
		{"400 签名错误", 400, "invalid signature", IsAuth},
		{"400 未知响应体", 400, "something odd", IsRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(&client.HTTPError{StatusCode: tc.status, Body: tc.body})
			require.Error(t, err)
			assert.True(t, tc.check(err), "分类错误: %v", err)
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.True(t, IsTransient(Classify(context.DeadlineExceeded)))
	assert.True(t, IsTransient(Classify(&net.DNSError{Err: "lookup failed", IsTimeout: true})))
	assert.True(t, IsTransient(Classify(errors.New("dial tcp: connection refused"))))
	// 来历不明的错误兜底按瞬时
	assert.True(t, IsTransient(Classify(errors.New("出乎意料"))))
	assert.NoError(t, Classify(nil))
}

func TestClassifyVenueReject(t *testing.T) {
	assert.True(t, IsRejected(ClassifyVenueReject("not enough balance / allowance")))
	assert.True(t, IsRejected(ClassifyVenueReject("order size lower than the minimum")))
	assert.True(t, IsAuth(ClassifyVenueReject("invalid signature")))
	assert.True(t, IsTransient(ClassifyVenueReject("request timed out")))
	// venue 明确说 no 但原因未知，按拒单
	assert.True(t, IsRejected(ClassifyVenueReject("computer says no")))
}

func TestClassifyIdempotent(t *testing.T) {
	re := &RejectedError{Reason: "min size"}
	assert.Same(t, error(re), Classify(re))

	ae := &AuthError{Reason: "bad key"}
	assert.Same(t, error(ae), Classify(ae))

	te := &TransientError{Err: errors.New("x")}
	assert.Same(t, error(te), Classify(te))
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &client.HTTPError{StatusCode: 500, Body: "oops"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryDoesNotRetryRejected(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return &client.HTTPError{StatusCode: 400, Body: "invalid amount"}
	})
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, calls, "拒单不应重试")
}

func TestRetryDoesNotRetryAuth(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func() error {
		calls++
		return &client.HTTPError{StatusCode: 401, Body: "Unauthorized"}
	})
	assert.True(t, IsAuth(err))
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	calls := 0
	start := time.Now()
	err := Retry(context.Background(), func() error {
		calls++
		return &client.HTTPError{StatusCode: 503, Body: "unavailable"}
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
	// 退避 250ms + 500ms
	assert.GreaterOrEqual(t, time.Since(start), 700*time.Millisecond)
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, func() error {
		calls++
		return &client.HTTPError{StatusCode: 500, Body: "oops"}
	})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 1, calls, "上下文取消后不再发起新尝试")
}
