package execution

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/bucketmm/clob/client"
)

// 错误分类：
// - RejectedError  交易所明确拒单（价格越界/数量低于下限/余额不足），重试无意义
// - AuthError      凭证或签名问题，重试只会继续失败，应当熔断
// - TransientError 网络/超时/5xx/限流，可以有界重试
//
// 分类依据 HTTP 状态码优先，其次是 venue 返回的 errorMsg 关键词。

// RejectedError 交易所拒单
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "订单被拒: " + e.Reason
}

// AuthError 认证/签名失败
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "认证失败: " + e.Reason
}

// TransientError 瞬时错误（可重试）
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "瞬时错误: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsRejected 是否为拒单错误
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// IsAuth 是否为认证错误
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient 是否为瞬时错误
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Classify 把底层错误归入三类之一。已分类的错误原样返回。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRejected(err) || IsAuth(err) || IsTransient(err) {
		return err
	}

	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return &AuthError{Reason: httpErr.Body}
		case httpErr.StatusCode == 404:
			return &RejectedError{Reason: "not found: " + httpErr.Body}
		case httpErr.StatusCode == 429 || httpErr.StatusCode >= 500:
			return &TransientError{Err: err}
		case httpErr.StatusCode >= 400:
			// 4xx 先看响应体，认证类关键词可能藏在 400 里；无法识别按拒单
			if c := classifyMessage(httpErr.Body, nil); c != nil {
				return c
			}
			return &RejectedError{Reason: httpErr.Body}
		}
		return &TransientError{Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TransientError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	return classifyMessage(err.Error(), err)
}

// ClassifyVenueReject 处理 HTTP 200 但 success=false 的响应：
// venue 已经明确表态，默认按拒单处理。
func ClassifyVenueReject(errorMsg string) error {
	if c := classifyMessage(errorMsg, nil); c != nil {
		return c
	}
	return &RejectedError{Reason: errorMsg}
}

var authKeywords = []string{
	"unauthorized", "invalid signature", "api key", "apikey",
	"invalid api", "credential", "passphrase", "poly_",
}

var rejectKeywords = []string{
	"not enough balance", "allowance", "minimum", "min size",
	"invalid amount", "invalid price", "tick size", "closed",
	"not accepting", "paused", "duplicate", "invalid order",
	"lower than the minimum", "out of bounds",
}

var transientKeywords = []string{
	"timeout", "timed out", "too many requests", "rate limit",
	"service unavailable", "bad gateway", "gateway timeout",
	"internal server error", "connection refused", "connection reset",
	"eof", "no such host",
}

func classifyMessage(msg string, cause error) error {
	lower := strings.ToLower(msg)
	for _, kw := range authKeywords {
		if strings.Contains(lower, kw) {
			return &AuthError{Reason: msg}
		}
	}
	for _, kw := range rejectKeywords {
		if strings.Contains(lower, kw) {
			return &RejectedError{Reason: msg}
		}
	}
	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			if cause == nil {
				cause = errors.New(msg)
			}
			return &TransientError{Err: cause}
		}
	}
	if cause == nil {
		return nil
	}
	// 来历不明的错误按瞬时处理，交给有界重试兜底
	return &TransientError{Err: cause}
}

const (
	retryAttempts = 3
	retryBase     = 250 * time.Millisecond
)

// Retry 有界重试：只重试 TransientError，退避 250ms×attempt。
// 返回的错误已经过 Classify。
func Retry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = Classify(op())
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-time.After(retryBase * time.Duration(attempt)):
		case <-ctx.Done():
			return &TransientError{Err: ctx.Err()}
		}
	}
	return err
}
