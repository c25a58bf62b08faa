package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/betbot/bucketmm/pkg/ratelimit"
	sdkhttp "github.com/betbot/bucketmm/pkg/sdk/http"
)

// GammaMarket Gamma API 市场数据结构
type GammaMarket struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIDs string `json:"clobTokenIds"`
	EndDate      string `json:"endDate"`
	StartDate    string `json:"startDate"`
	Closed       bool   `json:"closed"`
	Active       bool   `json:"active"`
}

// TokenIDs 解析 clobTokenIds 字段（JSON 字符串数组，[yes, no] 顺序）
func (m *GammaMarket) TokenIDs() ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err != nil {
		return nil, fmt.Errorf("解析 clobTokenIds 失败: %w", err)
	}
	if len(ids) < 2 {
		return nil, fmt.Errorf("clobTokenIds 数量不足: %d", len(ids))
	}
	return ids, nil
}

// GammaClient Gamma API 客户端（市场元数据，无需认证）
type GammaClient struct {
	http        *sdkhttp.Client
	rateLimiter *ratelimit.RateLimitManager
}

// NewGammaClient 创建 Gamma API 客户端
func NewGammaClient(host string) *GammaClient {
	return &GammaClient{
		http:        sdkhttp.NewClient(host),
		rateLimiter: ratelimit.NewRateLimitManager(),
	}
}

// ErrMarketNotFound 表示指定 slug 的市场尚未上架
var ErrMarketNotFound = fmt.Errorf("gamma: market not found")

// FetchMarketBySlug 按 slug 查询市场，尚未上架时返回 ErrMarketNotFound
func (g *GammaClient) FetchMarketBySlug(ctx context.Context, slug string) (*GammaMarket, error) {
	if err := g.rateLimiter.Wait(ctx, "gamma:markets:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	var markets []GammaMarket
	resp, err := g.http.DoRequest(ctx, http.MethodGet, "/markets", &sdkhttp.RequestOptions{
		Params: map[string]any{
			"slug":   slug,
			"closed": "false",
		},
	}, &markets)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		return nil, fmt.Errorf("获取市场数据失败: %w", err)
	}

	if len(markets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, slug)
	}

	return &markets[0], nil
}
