package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/betbot/bucketmm/clob/types"
)

// PostOrder 提交订单
func (c *Client) PostOrder(ctx context.Context, order *types.SignedOrder, orderType types.OrderType, deferExec bool) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	// 速率限制：等待直到允许请求
	if err := c.rateLimiter.Wait(ctx, "clob:order:post"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	// 订单载荷：order 字段是完整的 SignedOrder，owner 是 API key
	orderPayload := types.NewOrder{
		Order:     *order,
		Owner:     c.authConfig.Creds.Key,
		OrderType: orderType,
		DeferExec: deferExec,
	}

	// L2 签名要覆盖请求体
	bodyBytes, err := json.Marshal(orderPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化订单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.createL2HeaderMap("POST", EndpointPostOrder, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.post(EndpointPostOrder, headerMap, orderPayload)
	if err != nil {
		return nil, fmt.Errorf("提交订单失败: %w", err)
	}

	var orderResp types.OrderResponse
	if err := parseResponse(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("解析订单响应失败: %w", err)
	}

	if httpDebug {
		respBytes, _ := json.Marshal(orderResp)
		fmt.Printf("[HTTP DEBUG] Order Response: %s\n", string(respBytes))
	}

	return &orderResp, nil
}

// CancelOrder 取消订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx, "clob:order:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	body := map[string]string{"orderID": orderID}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化取消请求失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.createL2HeaderMap("DELETE", EndpointCancelOrder, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.delete(EndpointCancelOrder, headerMap, nil, body)
	if err != nil {
		return nil, fmt.Errorf("取消订单失败: %w (orderID=%s)", err, orderID)
	}

	var cancelResp types.CancelResponse
	if err := parseResponse(resp, &cancelResp); err != nil {
		return nil, fmt.Errorf("解析取消响应失败: %w (orderID=%s)", err, orderID)
	}

	return &cancelResp, nil
}

// CancelOrders 批量取消订单
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}

	if err := c.rateLimiter.Wait(ctx, "clob:order:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	bodyBytes, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, fmt.Errorf("序列化取消请求失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headerMap, err := c.createL2HeaderMap("DELETE", EndpointCancelOrders, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.delete(EndpointCancelOrders, headerMap, nil, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("批量取消订单失败: %w", err)
	}

	var cancelResp types.CancelResponse
	if err := parseResponse(resp, &cancelResp); err != nil {
		return nil, fmt.Errorf("解析取消响应失败: %w", err)
	}

	return &cancelResp, nil
}

// CancelAll 取消账号下全部订单
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx, "clob:order:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	headerMap, err := c.createL2HeaderMap("DELETE", EndpointCancelAll, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.delete(EndpointCancelAll, headerMap, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("取消全部订单失败: %w", err)
	}

	var cancelResp types.CancelResponse
	if err := parseResponse(resp, &cancelResp); err != nil {
		return nil, fmt.Errorf("解析取消响应失败: %w", err)
	}

	return &cancelResp, nil
}

// GetOpenOrders 获取开放订单
func (c *Client) GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) (types.OpenOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := make(map[string]string)
	if params != nil {
		if params.ID != nil {
			queryParams["id"] = *params.ID
		}
		if params.Market != nil {
			queryParams["market"] = *params.Market
		}
		if params.AssetID != nil {
			queryParams["asset_id"] = *params.AssetID
		}
	}

	headerMap, err := c.createL2HeaderMap("GET", EndpointGetOpenOrders, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(EndpointGetOpenOrders, headerMap, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取开放订单失败: %w", err)
	}

	var apiResp types.OpenOrdersAPIResponse
	if err := parseResponse(resp, &apiResp); err != nil {
		return nil, err
	}

	return types.OpenOrdersResponse(apiResp.Data), nil
}

// GetOrder 获取订单详情
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OpenOrder, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	endpoint := EndpointGetOrder + orderID

	headerMap, err := c.createL2HeaderMap("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(endpoint, headerMap, nil)
	if err != nil {
		return nil, fmt.Errorf("获取订单详情失败: %w", err)
	}

	var order types.OpenOrder
	if err := parseResponse(resp, &order); err != nil {
		return nil, err
	}

	return &order, nil
}

// CreateOrder 创建签名订单
func (c *Client) CreateOrder(ctx context.Context, req *types.UserOrder, options *types.CreateOrderOptions) (*types.SignedOrder, error) {
	return c.CreateOrderWithFunder(ctx, req, options, "", types.SignatureTypeBrowser)
}

// CreateOrderWithFunder 创建签名订单（支持指定 funderAddress 和 signatureType）
func (c *Client) CreateOrderWithFunder(ctx context.Context, req *types.UserOrder, options *types.CreateOrderOptions, funderAddress string, signatureType types.SignatureType) (*types.SignedOrder, error) {
	if c.authConfig.PrivateKey == nil {
		return nil, fmt.Errorf("私钥未设置，无法创建订单")
	}

	builder := NewOrderBuilder(c, signatureType, funderAddress)
	return builder.BuildOrder(ctx, req, options)
}

// PlaceLimitOrder 下限价单（GTC），订单留在订单簿中直到成交或取消
func (c *Client) PlaceLimitOrder(ctx context.Context, tokenID string, side types.Side, size float64, price float64, options *types.CreateOrderOptions) (*types.OrderResponse, error) {
	return c.PlaceLimitOrderWithFunder(ctx, tokenID, side, size, price, options, "", types.SignatureTypeBrowser)
}

// PlaceLimitOrderWithFunder 下限价单（GTC），资金账户与签名账户可分离
func (c *Client) PlaceLimitOrderWithFunder(ctx context.Context, tokenID string, side types.Side, size float64, price float64, options *types.CreateOrderOptions, funderAddress string, signatureType types.SignatureType) (*types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}

	userOrder := &types.UserOrder{
		TokenID: tokenID,
		Side:    side,
		Size:    size,
		Price:   price,
	}

	signedOrder, err := c.CreateOrderWithFunder(ctx, userOrder, options, funderAddress, signatureType)
	if err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	return c.PostOrder(ctx, signedOrder, types.OrderTypeGTC, false)
}
