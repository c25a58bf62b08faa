package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/betbot/bucketmm/pkg/ratelimit"
	sdkhttp "github.com/betbot/bucketmm/pkg/sdk/http"
)

// DataPosition Data API 持仓记录
type DataPosition struct {
	ProxyWallet string  `json:"proxyWallet"`
	Asset       string  `json:"asset"`
	ConditionID string  `json:"conditionId"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avgPrice"`
	CurPrice    float64 `json:"curPrice"`
	CashPnl     float64 `json:"cashPnl"`
	Redeemable  bool    `json:"redeemable"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Outcome     string  `json:"outcome"`
}

// DataClient Data API 客户端（链上持仓快照，按地址查询，无需认证）
type DataClient struct {
	http        *sdkhttp.Client
	rateLimiter *ratelimit.RateLimitManager
}

// NewDataClient 创建 Data API 客户端
func NewDataClient(host string) *DataClient {
	return &DataClient{
		http:        sdkhttp.NewClient(host),
		rateLimiter: ratelimit.NewRateLimitManager(),
	}
}

// GetPositions 查询地址在指定市场（conditionId）下的持仓；market 为空则查全部
func (d *DataClient) GetPositions(ctx context.Context, user string, conditionID string) ([]DataPosition, error) {
	if err := d.rateLimiter.Wait(ctx, "data:positions:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	params := map[string]any{
		"user":          user,
		"sizeThreshold": "0",
	}
	if conditionID != "" {
		params["market"] = conditionID
	}

	var positions []DataPosition
	resp, err := d.http.DoRequest(ctx, http.MethodGet, "/positions", &sdkhttp.RequestOptions{
		Params: params,
	}, &positions)
	if err := sdkhttp.ParseHTTPError(resp, err); err != nil {
		return nil, fmt.Errorf("获取持仓失败: %w", err)
	}

	return positions, nil
}
