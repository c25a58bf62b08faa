package client

import (
	"crypto/ecdsa"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/pkg/ratelimit"
)

// Client CLOB 客户端
type Client struct {
	host        string
	chainID     types.Chain
	authConfig  *AuthConfig
	httpClient  *httpClient
	rateLimiter *ratelimit.RateLimitManager

	mu        sync.RWMutex
	tickSizes types.TickSizes
	negRisk   types.NegRisk
}

// NewClient 创建新的 CLOB 客户端
func NewClient(
	host string,
	chainID types.Chain,
	privateKey *ecdsa.PrivateKey,
	creds *types.ApiKeyCreds,
) *Client {
	authConfig := &AuthConfig{
		PrivateKey: privateKey,
		ChainID:    chainID,
		Creds:      creds,
	}

	// 解析代理 URL（仅在环境变量设置时使用代理）
	proxyStr := getProxyURL()
	var proxyURL *url.URL
	useProxy := false
	if proxyStr != "" {
		if parsed, err := url.Parse(proxyStr); err == nil {
			proxyURL = parsed
			useProxy = true
		}
	}

	httpClient := newHTTPClient(host, authConfig, useProxy, proxyURL)

	return &Client{
		host:        strings.TrimSuffix(host, "/"),
		chainID:     chainID,
		authConfig:  authConfig,
		httpClient:  httpClient,
		rateLimiter: ratelimit.NewRateLimitManager(),
		tickSizes:   make(types.TickSizes),
		negRisk:     make(types.NegRisk),
	}
}

// SetCreds 更新 L2 凭证（首次启动时通过 CreateOrDeriveAPIKey 拿到后再注入）
func (c *Client) SetCreds(creds *types.ApiKeyCreds) {
	c.authConfig.Creds = creds
}

// getProxyURL 从环境变量获取代理 URL，未设置则返回空串（不使用代理）
func getProxyURL() string {
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}
	for _, v := range proxyVars {
		if val := os.Getenv(v); val != "" {
			return val
		}
	}
	return ""
}

// GetHost 获取主机地址
func (c *Client) GetHost() string {
	return c.host
}

// GetChainID 获取链 ID
func (c *Client) GetChainID() types.Chain {
	return c.chainID
}
