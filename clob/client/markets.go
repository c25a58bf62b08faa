package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/betbot/bucketmm/clob/types"
)

// GetOrderBook 获取订单簿
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*types.OrderBookSummary, error) {
	if err := c.rateLimiter.Wait(ctx, "clob:book:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := map[string]string{
		"token_id": tokenID,
	}

	resp, err := c.httpClient.get(EndpointGetOrderBook, nil, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取订单簿失败: %w", err)
	}

	var book types.OrderBookSummary
	if err := parseResponse(resp, &book); err != nil {
		return nil, err
	}

	return &book, nil
}

// GetTickSize 获取代币最小价格步长（带进程内缓存，tick size 只会变粗不会变细）
func (c *Client) GetTickSize(ctx context.Context, tokenID string) (types.TickSize, error) {
	c.mu.RLock()
	if ts, ok := c.tickSizes[tokenID]; ok {
		c.mu.RUnlock()
		return ts, nil
	}
	c.mu.RUnlock()

	queryParams := map[string]string{
		"token_id": tokenID,
	}

	resp, err := c.httpClient.get(EndpointGetTickSize, nil, queryParams)
	if err != nil {
		return "", fmt.Errorf("获取 tick size 失败: %w", err)
	}

	var tickResp struct {
		MinimumTickSize json.Number `json:"minimum_tick_size"`
	}
	if err := parseResponse(resp, &tickResp); err != nil {
		return "", err
	}

	ts, err := parseTickSize(tickResp.MinimumTickSize.String())
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.tickSizes[tokenID] = ts
	c.mu.Unlock()

	return ts, nil
}

// GetNegRisk 查询代币是否属于 NegRisk 市场（带进程内缓存）
func (c *Client) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	c.mu.RLock()
	if nr, ok := c.negRisk[tokenID]; ok {
		c.mu.RUnlock()
		return nr, nil
	}
	c.mu.RUnlock()

	queryParams := map[string]string{
		"token_id": tokenID,
	}

	resp, err := c.httpClient.get(EndpointGetNegRisk, nil, queryParams)
	if err != nil {
		return false, fmt.Errorf("获取 neg risk 失败: %w", err)
	}

	var negResp struct {
		NegRisk bool `json:"neg_risk"`
	}
	if err := parseResponse(resp, &negResp); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.negRisk[tokenID] = negResp.NegRisk
	c.mu.Unlock()

	return negResp.NegRisk, nil
}

// parseTickSize 将数值形式的 tick size 映射为枚举
func parseTickSize(raw string) (types.TickSize, error) {
	switch raw {
	case "0.1":
		return types.TickSize01, nil
	case "0.01":
		return types.TickSize001, nil
	case "0.001":
		return types.TickSize0001, nil
	case "0.0001":
		return types.TickSize00001, nil
	default:
		return "", fmt.Errorf("无法识别的 tick size: %q", raw)
	}
}
