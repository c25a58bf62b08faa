package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/betbot/bucketmm/clob/signing"
	"github.com/betbot/bucketmm/clob/types"
)

// CreateOrDeriveAPIKey 创建或推导 API 密钥（L1 方法）
// 先尝试推导已有密钥；服务端返回 400 表示账号还没有密钥，转为创建。
func (c *Client) CreateOrDeriveAPIKey(ctx context.Context, nonce *int64) (*types.ApiKeyCreds, error) {
	if err := c.CanL1Auth(); err != nil {
		return nil, err
	}

	var n int64 = 0
	if nonce != nil {
		n = *nonce
	}

	headers, err := signing.CreateL1Headers(
		c.authConfig.PrivateKey,
		c.authConfig.ChainID,
		&n,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("创建 L1 认证头失败: %w", err)
	}
	headerMap := l1HeaderMap(headers)

	resp, err := c.httpClient.get(EndpointDeriveAPIKey, headerMap, nil)
	if err == nil && resp != nil {
		switch {
		case resp.StatusCode == http.StatusOK:
			var apiKeyRaw types.ApiKeyRaw
			if perr := parseResponse(resp, &apiKeyRaw); perr != nil {
				return nil, fmt.Errorf("解析 API 密钥响应失败: %w", perr)
			}
			return &types.ApiKeyCreds{
				Key:        apiKeyRaw.ApiKey,
				Secret:     apiKeyRaw.Secret,
				Passphrase: apiKeyRaw.Passphrase,
			}, nil
		case resp.StatusCode == http.StatusBadRequest:
			// 400：没有现有 API 密钥，继续走创建
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		default:
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("推导 API 密钥失败: HTTP %d: %s", resp.StatusCode, string(bodyBytes))
		}
	}

	resp, err = c.httpClient.post(EndpointCreateAPIKey, headerMap, map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("创建 API 密钥失败: %w", err)
	}

	var apiKeyRaw types.ApiKeyRaw
	if err := parseResponse(resp, &apiKeyRaw); err != nil {
		return nil, fmt.Errorf("解析 API 密钥响应失败: %w", err)
	}

	return &types.ApiKeyCreds{
		Key:        apiKeyRaw.ApiKey,
		Secret:     apiKeyRaw.Secret,
		Passphrase: apiKeyRaw.Passphrase,
	}, nil
}

// DeriveAPIKey 推导现有 API 密钥
func (c *Client) DeriveAPIKey(ctx context.Context, nonce int64) (*types.ApiKeyCreds, error) {
	return c.CreateOrDeriveAPIKey(ctx, &nonce)
}

// CreateAPIKey 创建新的 API 密钥
func (c *Client) CreateAPIKey(ctx context.Context) (*types.ApiKeyCreds, error) {
	return c.CreateOrDeriveAPIKey(ctx, nil)
}
