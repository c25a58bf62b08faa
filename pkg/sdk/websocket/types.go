// Package websocket 提供 CLOB 实时数据客户端：market 频道（盘口）和 user 频道（成交/订单）。
package websocket

import (
	"bytes"
	"strconv"
	"time"
)

const (
	// WebSocket 端点
	wsMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	wsUserURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 10 * time.Second // 官方要求每 10 秒一次 PING

	// 订阅批处理大小（每批最多 100 个资产）
	maxBatchSize = 100

	// 消息通道缓冲区大小
	defaultMessageBufferSize = 1000
	defaultErrorBufferSize   = 100

	// 连接重试设置
	defaultMaxRetries = 3
)

// EventType 表示 WebSocket 事件类型
type EventType string

const (
	// 市场频道事件类型
	EventBook           EventType = "book"             // 订单簿快照
	EventPriceChange    EventType = "price_change"     // 价格档位变化
	EventLastTradePrice EventType = "last_trade_price" // 最新成交价
	EventTickSizeChange EventType = "tick_size_change" // tick size 变化

	// 用户频道事件类型
	EventTrade EventType = "trade" // 成交事件
	EventOrder EventType = "order" // 订单事件
)

// MsTimestamp 毫秒时间戳；venue 有时发字符串有时发数字，有时还是秒级
type MsTimestamp int64

// UnmarshalJSON 兼容字符串/数字两种形式，秒级自动换算成毫秒
func (t *MsTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// 小数形式的秒（罕见），截断取整
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return err
		}
		v = int64(f)
	}
	if v > 0 && v < 1e12 {
		v *= 1000
	}
	*t = MsTimestamp(v)
	return nil
}

// Ms 返回毫秒值
func (t MsTimestamp) Ms() int64 { return int64(t) }

// BookLevel 订单簿中的一个价格档位
type BookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// LevelChange price_change 事件里的单档变化；size 为 "0" 表示该档位被移除
type LevelChange struct {
	Price string `json:"price"`
	Side  string `json:"side"` // "BUY" / "SELL"
	Size  string `json:"size"`
}

// AssetPriceChange 新版 price_change 载荷（按资产聚合，自带盘口最优价）
type AssetPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Side    string `json:"side"`
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// MarketMessage 市场频道消息（各事件类型共用一个结构，未用字段为零值）
type MarketMessage struct {
	EventType EventType   `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Market    string      `json:"market"`
	Timestamp MsTimestamp `json:"timestamp"`
	Hash      string      `json:"hash,omitempty"`

	// book：完整快照（新旧两种字段名都见过）
	Bids  []BookLevel `json:"bids,omitempty"`
	Asks  []BookLevel `json:"asks,omitempty"`
	Buys  []BookLevel `json:"buys,omitempty"`
	Sells []BookLevel `json:"sells,omitempty"`

	// price_change：增量（旧格式 changes，新格式 price_changes）
	Changes      []LevelChange      `json:"changes,omitempty"`
	PriceChanges []AssetPriceChange `json:"price_changes,omitempty"`

	// last_trade_price
	Price string `json:"price,omitempty"`
	Side  string `json:"side,omitempty"`

	// tick_size_change
	OldTickSize string `json:"old_tick_size,omitempty"`
	NewTickSize string `json:"new_tick_size,omitempty"`
}

// BidLevels 返回 book 快照的买盘档位，兼容两种字段名
func (m *MarketMessage) BidLevels() []BookLevel {
	if len(m.Bids) > 0 {
		return m.Bids
	}
	return m.Buys
}

// AskLevels 返回 book 快照的卖盘档位，兼容两种字段名
func (m *MarketMessage) AskLevels() []BookLevel {
	if len(m.Asks) > 0 {
		return m.Asks
	}
	return m.Sells
}

// UserTradeMessage 用户频道的成交消息
//
// 同一笔撮合会随结算状态推进（MATCHED→MINED→CONFIRMED）重复下发，
// 消费方必须按 trade ID + 角色去重。
type UserTradeMessage struct {
	EventType    EventType        `json:"event_type"`
	ID           string           `json:"id"`
	TakerOrderID string           `json:"taker_order_id"`
	Market       string           `json:"market"`
	AssetID      string           `json:"asset_id"`
	Side         string           `json:"side"`
	Size         string           `json:"size"`
	Price        string           `json:"price"`
	Status       string           `json:"status"`
	MatchTime    string           `json:"match_time"`
	Outcome      string           `json:"outcome"`
	Owner        string           `json:"owner"`
	MakerOrders  []UserMakerOrder `json:"maker_orders,omitempty"`
	TradeOwner   string           `json:"trade_owner"`
	Type         string           `json:"type"`
}

// UserMakerOrder 成交中被动成交的挂单明细
type UserMakerOrder struct {
	OrderID       string `json:"order_id"`
	Owner         string `json:"owner"`
	MakerAddress  string `json:"maker_address"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	AssetID       string `json:"asset_id"`
	Outcome       string `json:"outcome"`
}

// UserOrderMessage 用户频道的订单状态消息
type UserOrderMessage struct {
	EventType    EventType `json:"event_type"`
	ID           string    `json:"id"`
	Market       string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Side         string    `json:"side"`
	Price        string    `json:"price"`
	OriginalSize string    `json:"original_size"`
	SizeMatched  string    `json:"size_matched"`
	Status       string    `json:"status"`
	Owner        string    `json:"owner"`
	Type         string    `json:"type"` // PLACEMENT / UPDATE / CANCELLATION
	CreatedAt    string    `json:"created_at"`
	Timestamp    string    `json:"timestamp"`
}

// Config 是 WebSocket 客户端配置
type Config struct {
	ProxyURL string // 代理 URL（可选）

	ReconnectEnabled     bool          // 是否启用自动重连
	ReconnectDelay       time.Duration // 重连延迟
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 最大重连尝试次数

	PingInterval time.Duration // Ping 间隔

	MessageBufferSize int // 消息通道缓冲区大小
	ErrorBufferSize   int // 错误通道缓冲区大小

	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 10,
		PingInterval:         defaultPingInterval,
		MessageBufferSize:    defaultMessageBufferSize,
		ErrorBufferSize:      defaultErrorBufferSize,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		HandshakeTimeout:     15 * time.Second,
	}
}
