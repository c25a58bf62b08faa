// Package execution 封装交易所 REST + 用户 WS，对上层暴露四个操作：
// 下限价单、撤单（幂等）、拉取成交、查询远端仓位。
package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/ledger"
	"github.com/betbot/bucketmm/internal/risk"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

var log = logrus.WithField("component", "execution")

// OrderAPI 下单/撤单/查成交所需的交易所能力（*client.Client 实现）
type OrderAPI interface {
	PlaceLimitOrderWithFunder(ctx context.Context, tokenID string, side types.Side, size float64, price float64, options *types.CreateOrderOptions, funderAddress string, signatureType types.SignatureType) (*types.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*types.CancelResponse, error)
	GetTrades(ctx context.Context, params *types.TradeParams) ([]types.Trade, error)
}

// PositionAPI 链上持仓查询能力（*client.DataClient 实现）
type PositionAPI interface {
	GetPositions(ctx context.Context, user string, conditionID string) ([]client.DataPosition, error)
}

// Options 执行客户端配置
type Options struct {
	Funder           string              // 资金地址（代理钱包）
	SignatureType    types.SignatureType // 签名类型
	OwnerAPIKey      string              // 本账户 api key（成交里区分 maker/taker 角色）
	PosSizeThreshold float64             // 远端仓位低于此值按 0 处理（data-api 的灰尘）
	RestPollInterval time.Duration       // REST 成交兜底轮询间隔
}

// Client 执行客户端。
//
// 成交采集走两条链路：用户 WS 推送（主）+ REST 轮询（兜底）。
// 两条链路产出同一套去重键，重复由账本层吸收。
type Client struct {
	rest    OrderAPI
	data    PositionAPI
	trades  <-chan websocket.UserTradeMessage
	breaker *risk.Breaker

	opts     Options
	inflight *InFlightDeduper

	mu           sync.Mutex
	market       domain.Market
	roundStart   time.Time
	lastRestPoll time.Time
}

// New 创建执行客户端。trades 可为 nil（只走 REST 轮询）。
func New(rest OrderAPI, data PositionAPI, trades <-chan websocket.UserTradeMessage, breaker *risk.Breaker, opts Options) *Client {
	if opts.RestPollInterval <= 0 {
		opts.RestPollInterval = time.Second
	}
	return &Client{
		rest:     rest,
		data:     data,
		trades:   trades,
		breaker:  breaker,
		opts:     opts,
		inflight: NewInFlightDeduper(2*time.Second, 16),
	}
}

// BeginRound 切换到新回合的市场；REST 轮询从 start 起过滤成交
func (c *Client) BeginRound(market domain.Market, start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.market = market
	c.roundStart = start
	c.lastRestPoll = time.Time{}
}

// Market 当前回合的市场
func (c *Client) Market() domain.Market {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market
}

// Halted 熔断器是否已跳闸
func (c *Client) Halted() bool {
	return c.breaker.Halted()
}

// HaltReason 熔断原因
func (c *Client) HaltReason() string {
	return c.breaker.HaltReason()
}

// SubmitLimit 提交 GTC 限价单。
// 熔断打开时直接拒绝；同参数请求在短窗口内去重，防止一个 tick 内重复下单。
func (c *Client) SubmitLimit(ctx context.Context, leg domain.Leg, side types.Side, price domain.Price, size float64, purpose domain.OrderPurpose) (domain.Order, error) {
	if err := c.breaker.AllowTrading(); err != nil {
		return domain.Order{}, err
	}

	market := c.Market()
	if !market.IsValid() {
		return domain.Order{}, fmt.Errorf("市场未设置，无法下单")
	}
	if !leg.Valid() {
		return domain.Order{}, fmt.Errorf("非法 leg: %s", leg)
	}

	assetID := market.AssetIDFor(leg)
	key := fmt.Sprintf("%s|%s|%s|%s|%d|%.4f", market.Slug, purpose, leg, side, price.Pips, size)
	if err := c.inflight.TryAcquire(key); err != nil {
		return domain.Order{}, err
	}
	defer c.inflight.Release(key)

	order := domain.Order{
		ClientID:   uuid.NewString(),
		MarketSlug: market.Slug,
		AssetID:    assetID,
		Leg:        leg,
		Side:       side,
		Price:      price,
		Size:       size,
		Purpose:    purpose,
		Status:     domain.OrderStatusPending,
		OrderType:  types.OrderTypeGTC,
		CreatedAt:  time.Now(),
	}

	negRisk := false
	orderOpts := &types.CreateOrderOptions{
		TickSize: types.TickSize0001,
		NegRisk:  &negRisk,
	}

	var resp *types.OrderResponse
	err := Retry(ctx, func() error {
		var opErr error
		resp, opErr = c.rest.PlaceLimitOrderWithFunder(ctx, assetID, side, size, price.ToDecimal(), orderOpts, c.opts.Funder, c.opts.SignatureType)
		return opErr
	})
	if err == nil && resp != nil && !resp.Success {
		err = ClassifyVenueReject(resp.ErrorMsg)
	}
	if err != nil {
		c.noteFailure(err)
		log.WithError(err).WithFields(logrus.Fields{
			"leg": leg, "side": side, "price": price.String(), "size": size, "purpose": purpose,
		}).Warn("下单失败")
		return domain.Order{}, err
	}

	c.breaker.OnSuccess()
	order.ExchangeID = resp.OrderID
	order.Status = mapSubmitStatus(resp.Status)
	order.UpdatedAt = time.Now()
	log.WithFields(logrus.Fields{
		"order_id": resp.OrderID, "leg": leg, "side": side,
		"price": price.String(), "size": size, "purpose": purpose,
	}).Info("✅ 下单成功")
	return order, nil
}

// Cancel 撤单。幂等：已成交/已取消/不存在都按成功处理。
func (c *Client) Cancel(ctx context.Context, exchangeID string) error {
	if exchangeID == "" {
		return nil
	}

	var resp *types.CancelResponse
	err := Retry(ctx, func() error {
		var opErr error
		resp, opErr = c.rest.CancelOrder(ctx, exchangeID)
		return opErr
	})
	if err != nil {
		// 404/已取消/已成交都意味着订单已离场，撤单目的已达成
		if IsRejected(err) && cancelReasonIsFinal(err.Error()) {
			return nil
		}
		if IsAuth(err) {
			c.breaker.OnAuthFailure(err)
		}
		return err
	}

	if resp != nil {
		if reason, ok := resp.NotCanceled[exchangeID]; ok {
			if cancelReasonIsFinal(reason) {
				return nil
			}
			return &RejectedError{Reason: reason}
		}
	}
	return nil
}

// PollFills 汇集自上次调用以来的成交事件。
// WS 通道随到随取；REST 按间隔兜底轮询。调用方（账本）负责按 ID 去重。
func (c *Client) PollFills(ctx context.Context) ([]domain.FillEvent, error) {
	market := c.Market()
	if !market.IsValid() {
		return nil, nil
	}

	var fills []domain.FillEvent

	// WS 链路：把通道里积压的全部取走
	if c.trades != nil {
	drain:
		for {
			select {
			case msg, ok := <-c.trades:
				if !ok {
					break drain
				}
				fills = append(fills, fillsFromUserTrade(msg, market, c.opts.OwnerAPIKey)...)
			default:
				break drain
			}
		}
	}

	// REST 兜底：限频，失败不影响 WS 结果
	if c.restPollDue() {
		restFills, err := c.pollRestTrades(ctx, market)
		if err != nil {
			if IsAuth(err) {
				c.breaker.OnAuthFailure(err)
				return fills, err
			}
			log.WithError(err).Debug("REST 成交轮询失败")
		} else {
			fills = append(fills, restFills...)
		}
	}

	return fills, nil
}

func (c *Client) restPollDue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRestPoll) < c.opts.RestPollInterval {
		return false
	}
	c.lastRestPoll = time.Now()
	return true
}

func (c *Client) pollRestTrades(ctx context.Context, market domain.Market) ([]domain.FillEvent, error) {
	params := &types.TradeParams{Market: &market.ConditionID}
	c.mu.Lock()
	if !c.roundStart.IsZero() {
		after := fmt.Sprintf("%d", c.roundStart.Unix())
		params.After = &after
	}
	c.mu.Unlock()

	var trades []types.Trade
	err := Retry(ctx, func() error {
		var opErr error
		trades, opErr = c.rest.GetTrades(ctx, params)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	var fills []domain.FillEvent
	for _, t := range trades {
		fills = append(fills, fillsFromTrade(t, market, c.opts.OwnerAPIKey)...)
	}
	return fills, nil
}

// QueryRemotePosition 查询某条腿的链上权威仓位。
// 低于阈值的灰尘仓位按 0 返回（data-api 会残留极小数）。
func (c *Client) QueryRemotePosition(ctx context.Context, leg domain.Leg) (ledger.Position, error) {
	market := c.Market()
	if !market.IsValid() {
		return ledger.Position{}, fmt.Errorf("市场未设置")
	}

	var positions []client.DataPosition
	err := Retry(ctx, func() error {
		var opErr error
		positions, opErr = c.data.GetPositions(ctx, c.opts.Funder, market.ConditionID)
		return opErr
	})
	if err != nil {
		return ledger.Position{}, err
	}

	assetID := market.AssetIDFor(leg)
	for _, p := range positions {
		if p.Asset != assetID {
			continue
		}
		if p.Size < c.opts.PosSizeThreshold {
			return ledger.Position{}, nil
		}
		return ledger.Position{Size: p.Size, AvgPrice: p.AvgPrice}, nil
	}
	return ledger.Position{}, nil
}

func (c *Client) noteFailure(err error) {
	if IsAuth(err) {
		c.breaker.OnAuthFailure(err)
		return
	}
	c.breaker.OnError()
}

// mapSubmitStatus 翻译下单响应的状态。matched 表示吃单即成交，
// 成交明细随后从成交链路到达，这里统一先记 open。
func mapSubmitStatus(status string) domain.OrderStatus {
	switch strings.ToLower(status) {
	case "live", "matched", "":
		return domain.OrderStatusOpen
	case "delayed":
		return domain.OrderStatusPending
	default:
		return domain.OrderStatusOpen
	}
}

// cancelReasonIsFinal 判断撤单失败原因是否意味着订单已经离场
func cancelReasonIsFinal(reason string) bool {
	lower := strings.ToLower(reason)
	for _, kw := range []string{"already canceled", "already cancelled", "not found", "filled", "matched", "does not exist"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
