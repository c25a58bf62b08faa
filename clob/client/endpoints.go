package client

// API 端点常量
const (
	// Server Time
	EndpointTime = "/time"

	// API Key endpoints
	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	// Markets
	EndpointGetOrderBook = "/book"
	EndpointGetTickSize  = "/tick-size"
	EndpointGetNegRisk   = "/neg-risk"

	// Order endpoints
	EndpointPostOrder     = "/order"
	EndpointCancelOrder   = "/order"
	EndpointCancelOrders  = "/orders"
	EndpointCancelAll     = "/cancel-all"
	EndpointGetOrder      = "/data/order/"
	EndpointGetOpenOrders = "/data/orders"
	EndpointGetTrades     = "/data/trades"
)
