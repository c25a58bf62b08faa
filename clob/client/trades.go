package client

import (
	"context"
	"fmt"

	"github.com/betbot/bucketmm/clob/types"
)

// GetTrades 查询本账号的成交记录
// 同一笔撮合会随状态推进（MATCHED→MINED→CONFIRMED）重复出现，调用方按 trade ID 去重。
func (c *Client) GetTrades(ctx context.Context, params *types.TradeParams) ([]types.Trade, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:trades:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := make(map[string]string)
	if params != nil {
		if params.ID != nil {
			queryParams["id"] = *params.ID
		}
		if params.MakerAddress != nil {
			queryParams["maker_address"] = *params.MakerAddress
		}
		if params.Market != nil {
			queryParams["market"] = *params.Market
		}
		if params.AssetID != nil {
			queryParams["asset_id"] = *params.AssetID
		}
		if params.Before != nil {
			queryParams["before"] = *params.Before
		}
		if params.After != nil {
			queryParams["after"] = *params.After
		}
	}

	headerMap, err := c.createL2HeaderMap("GET", EndpointGetTrades, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(EndpointGetTrades, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取成交记录失败: %w", err)
	}

	var trades []types.Trade
	if err := parseResponse(resp, &trades); err != nil {
		return nil, err
	}

	return trades, nil
}
