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
)

var marketLog = logrus.WithField("component", "ws.market")

// MarketClient 管理 market 频道连接，按 asset ID 订阅盘口事件
type MarketClient struct {
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	running   bool
	runningMu sync.RWMutex

	subscriptions map[string]bool // asset_id -> 是否已订阅
	subMu         sync.RWMutex

	msgChan chan MarketMessage
	errChan chan error

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectAttempts int
	reconnectMu       sync.Mutex
	lastPong          time.Time
	lastPongMu        sync.RWMutex
}

// NewMarketClient 创建 market 频道客户端
func NewMarketClient(config *Config) *MarketClient {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MarketClient{
		url:           wsMarketURL,
		config:        config,
		subscriptions: make(map[string]bool),
		msgChan:       make(chan MarketMessage, config.MessageBufferSize),
		errChan:       make(chan error, config.ErrorBufferSize),
		ctx:           ctx,
		cancel:        cancel,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		lastPong:      time.Now(),
	}
}

// Start 连接并开始收消息
func (c *MarketClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("market 客户端已在运行")
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

	marketLog.Infof("已连接 %s", c.url)
	return nil
}

// Stop 优雅关闭连接
func (c *MarketClient) Stop() {
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
		marketLog.Warn("关闭超时")
	}
}

// Subscribe 订阅资产的盘口事件
func (c *MarketClient) Subscribe(assetIDs ...string) error {
	c.subMu.Lock()
	newSubs := make([]string, 0)
	for _, id := range assetIDs {
		if !c.subscriptions[id] {
			c.subscriptions[id] = true
			newSubs = append(newSubs, id)
		}
	}
	c.subMu.Unlock()

	if len(newSubs) == 0 {
		return nil
	}
	return c.sendSubscription(newSubs)
}

// Unsubscribe 取消订阅
func (c *MarketClient) Unsubscribe(assetIDs ...string) error {
	c.subMu.Lock()
	toRemove := make([]string, 0)
	for _, id := range assetIDs {
		if c.subscriptions[id] {
			delete(c.subscriptions, id)
			toRemove = append(toRemove, id)
		}
	}
	c.subMu.Unlock()

	if len(toRemove) == 0 {
		return nil
	}

	msg := map[string]interface{}{
		"type":       "unsubscribe",
		"assets_ids": toRemove,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("未连接")
	}
	return c.conn.WriteJSON(msg)
}

// SubscriptionCount 返回活跃订阅数
func (c *MarketClient) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Messages 返回市场消息通道
func (c *MarketClient) Messages() <-chan MarketMessage {
	return c.msgChan
}

// Errors 返回错误通道
func (c *MarketClient) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *MarketClient) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

func (c *MarketClient) connect() error {
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
			marketLog.Warnf("连接尝试 %d/%d 失败: %v", i+1, defaultMaxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn
	// 心跳用 "PING"/"PONG" 文本，不用 WS 标准 ping 帧
	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	return nil
}

func (c *MarketClient) sendSubscription(assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	for i := 0; i < len(assetIDs); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(assetIDs) {
			end = len(assetIDs)
		}

		msg := map[string]interface{}{
			"type":       "market",
			"assets_ids": assetIDs[i:end],
		}

		c.connMu.Lock()
		if c.conn == nil {
			c.connMu.Unlock()
			return fmt.Errorf("未连接")
		}
		err := c.conn.WriteJSON(msg)
		c.connMu.Unlock()

		if err != nil {
			return fmt.Errorf("发送订阅失败: %w", err)
		}
	}

	marketLog.Infof("已订阅 %d 个资产", len(assetIDs))
	return nil
}

// resubscribe 重连后恢复所有订阅
func (c *MarketClient) resubscribe() error {
	c.subMu.RLock()
	assetIDs := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		assetIDs = append(assetIDs, id)
	}
	c.subMu.RUnlock()

	if len(assetIDs) == 0 {
		return nil
	}
	return c.sendSubscription(assetIDs)
}

func (c *MarketClient) readLoop() {
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
			// 出错的连接立刻清掉，避免对失败连接重复读
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			marketLog.Warnf("读取错误: %v，重连中", err)
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

func (c *MarketClient) pingLoop() {
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
				marketLog.Warnf("PING 发送失败: %v", err)
				if c.config.ReconnectEnabled {
					c.reconnect()
				}
			}
		}
	}
}

// reconnect 带线性退避的重连；重连成功后恢复订阅
func (c *MarketClient) reconnect() {
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

	marketLog.Infof("%v 后重连 (尝试 %d/%d)", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		marketLog.Warnf("重连失败: %v", err)
		return
	}
	if err := c.resubscribe(); err != nil {
		marketLog.Warnf("重新订阅失败: %v", err)
	}
}

// handleMessage 解析消息并投递；venue 可能发单条对象或消息数组
func (c *MarketClient) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	// 文本心跳响应
	if trimmed[0] != '{' && trimmed[0] != '[' {
		if text := string(trimmed); text == "PONG" || text == "pong" {
			c.lastPongMu.Lock()
			c.lastPong = time.Now()
			c.lastPongMu.Unlock()
		}
		return
	}

	var msgs []MarketMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			c.reportParseError(trimmed, err)
			return
		}
	} else {
		var msg MarketMessage
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			c.reportParseError(trimmed, err)
			return
		}
		msgs = []MarketMessage{msg}
	}

	for _, msg := range msgs {
		// 只有 price_changes 没有 event_type 的新版载荷
		if msg.EventType == "" && len(msg.PriceChanges) > 0 {
			msg.EventType = EventPriceChange
		}
		if msg.EventType == "" {
			continue
		}

		select {
		case c.msgChan <- msg:
		default:
			select {
			case c.errChan <- fmt.Errorf("消息通道已满，丢弃 %s 消息", msg.EventType):
			default:
			}
		}
	}
}

func (c *MarketClient) reportParseError(data []byte, err error) {
	preview := string(data)
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	select {
	case c.errChan <- fmt.Errorf("解析消息失败: %v, 数据: %s", err, preview):
	default:
	}
}
