package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/types"
)

var userLog = logrus.WithField("component", "ws.user")

// UserClient 管理 user 频道连接（需要 L2 凭证），按 condition ID 订阅本账户的成交和订单事件
type UserClient struct {
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	creds     *types.ApiKeyCreds
	running   bool
	runningMu sync.RWMutex

	markets map[string]bool // condition_id -> 是否已订阅
	subMu   sync.RWMutex

	tradeChan chan UserTradeMessage
	orderChan chan UserOrderMessage
	errChan   chan error

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectAttempts int
	reconnectMu       sync.Mutex
	lastPong          time.Time
	lastPongMu        sync.RWMutex
}

// NewUserClient 创建 user 频道客户端；creds 不能为空
func NewUserClient(creds *types.ApiKeyCreds, config *Config) (*UserClient, error) {
	if creds == nil || creds.Key == "" {
		return nil, fmt.Errorf("user 频道需要 API 凭证")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &UserClient{
		url:       wsUserURL,
		config:    config,
		creds:     creds,
		markets:   make(map[string]bool),
		tradeChan: make(chan UserTradeMessage, config.MessageBufferSize),
		orderChan: make(chan UserOrderMessage, config.MessageBufferSize),
		errChan:   make(chan error, config.ErrorBufferSize),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		lastPong:  time.Now(),
	}, nil
}

// Start 连接、认证并开始收消息
func (c *UserClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("user 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	userLog.Infof("已连接 %s", c.url)
	return nil
}

// Stop 优雅关闭连接
func (c *UserClient) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		userLog.Warn("关闭超时")
	}
}

// SubscribeMarkets 订阅指定市场的本账户活动
func (c *UserClient) SubscribeMarkets(conditionIDs ...string) error {
	c.subMu.Lock()
	newSubs := make([]string, 0)
	for _, id := range conditionIDs {
		if !c.markets[id] {
			c.markets[id] = true
			newSubs = append(newSubs, id)
		}
	}
	c.subMu.Unlock()

	if len(newSubs) == 0 {
		return nil
	}
	return c.sendSubscription(newSubs)
}

// UnsubscribeMarkets 从本地订阅表移除市场
//
// venue 不支持显式退订，这里只影响重连后的恢复列表。
func (c *UserClient) UnsubscribeMarkets(conditionIDs ...string) {
	c.subMu.Lock()
	for _, id := range conditionIDs {
		delete(c.markets, id)
	}
	c.subMu.Unlock()
}

// Trades 返回成交消息通道
func (c *UserClient) Trades() <-chan UserTradeMessage {
	return c.tradeChan
}

// Orders 返回订单状态消息通道
func (c *UserClient) Orders() <-chan UserOrderMessage {
	return c.orderChan
}

// Errors 返回错误通道
func (c *UserClient) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *UserClient) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

func (c *UserClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	if c.config.ProxyURL != "" {
		proxyURL, err := url.Parse(c.config.ProxyURL)
		if err != nil {
			return fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "bucketmm/1.0")

	var conn *websocket.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, _, err = dialer.Dial(c.url, headers)
		if err == nil {
			break
		}
		if i < defaultMaxRetries-1 {
			userLog.Warnf("连接尝试 %d/%d 失败: %v", i+1, defaultMaxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn
	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	// 认证随订阅消息一起发（venue 不走握手头认证）
	if err := c.writeSubscribeMessage(conn, nil); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("认证失败: %w", err)
	}

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	return nil
}

func (c *UserClient) writeSubscribeMessage(conn *websocket.Conn, conditionIDs []string) error {
	msg := map[string]interface{}{
		"auth": map[string]string{
			"apiKey":     c.creds.Key,
			"secret":     c.creds.Secret,
			"passphrase": c.creds.Passphrase,
		},
		"type": "USER",
	}
	if len(conditionIDs) > 0 {
		msg["markets"] = conditionIDs
	}
	return conn.WriteJSON(msg)
}

func (c *UserClient) sendSubscription(conditionIDs []string) error {
	if len(conditionIDs) == 0 {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("未连接")
	}
	return c.writeSubscribeMessage(c.conn, conditionIDs)
}

// resubscribe 重连后恢复所有订阅
func (c *UserClient) resubscribe() error {
	c.subMu.RLock()
	conditionIDs := make([]string, 0, len(c.markets))
	for id := range c.markets {
		conditionIDs = append(conditionIDs, id)
	}
	c.subMu.RUnlock()

	if len(conditionIDs) == 0 {
		return nil
	}
	return c.sendSubscription(conditionIDs)
}

func (c *UserClient) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if c.config.ReconnectEnabled {
				c.reconnect()
			}
			time.Sleep(time.Second)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			userLog.Warnf("读取错误: %v，重连中", err)
			if c.config.ReconnectEnabled {
				c.reconnect()
			} else {
				time.Sleep(time.Second)
			}
			continue
		}

		c.handleMessage(message)
	}
}

func (c *UserClient) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				userLog.Warnf("PING 发送失败: %v", err)
				if c.config.ReconnectEnabled {
					c.reconnect()
				}
			}
		}
	}
}

func (c *UserClient) reconnect() {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		select {
		case c.errChan <- fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts):
		default:
		}
		return
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}

	userLog.Infof("%v 后重连 (尝试 %d/%d)", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		userLog.Warnf("重连失败: %v", err)
		return
	}
	if err := c.resubscribe(); err != nil {
		userLog.Warnf("重新订阅失败: %v", err)
	}
}

// handleMessage 按 event_type 把消息分发到 trade/order 通道
func (c *UserClient) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] != '{' && trimmed[0] != '[' {
		if text := string(trimmed); text == "PONG" || text == "pong" {
			c.lastPongMu.Lock()
			c.lastPong = time.Now()
			c.lastPongMu.Unlock()
		}
		return
	}

	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			c.reportError(fmt.Errorf("解析用户消息失败: %w", err))
			return
		}
	} else {
		raws = []json.RawMessage{trimmed}
	}

	for _, raw := range raws {
		var head struct {
			EventType EventType `json:"event_type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			c.reportError(fmt.Errorf("解析用户消息失败: %w", err))
			continue
		}

		switch head.EventType {
		case EventTrade:
			var trade UserTradeMessage
			if err := json.Unmarshal(raw, &trade); err != nil {
				c.reportError(fmt.Errorf("解析成交消息失败: %w", err))
				continue
			}
			select {
			case c.tradeChan <- trade:
			default:
				c.reportError(fmt.Errorf("成交通道已满，丢弃 trade %s", trade.ID))
			}
		case EventOrder:
			var order UserOrderMessage
			if err := json.Unmarshal(raw, &order); err != nil {
				c.reportError(fmt.Errorf("解析订单消息失败: %w", err))
				continue
			}
			select {
			case c.orderChan <- order:
			default:
				c.reportError(fmt.Errorf("订单通道已满，丢弃 order %s", order.ID))
			}
		}
	}
}

func (c *UserClient) reportError(err error) {
	select {
	case c.errChan <- err:
	default:
	}
}
