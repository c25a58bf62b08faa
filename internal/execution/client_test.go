package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/clob/client"
	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/risk"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

// fakeOrderAPI 按脚本逐次返回预置的响应/错误
type fakeOrderAPI struct {
	placeResps []*types.OrderResponse
	placeErrs  []error
	placeCalls int
	lastToken  string
	lastSide   types.Side
	lastPrice  float64
	lastSize   float64

	cancelResp  *types.CancelResponse
	cancelErr   error
	cancelCalls int

	trades     []types.Trade
	tradesErr  error
	tradeCalls int
	lastAfter  string
}

func (f *fakeOrderAPI) PlaceLimitOrderWithFunder(_ context.Context, tokenID string, side types.Side, size float64, price float64, _ *types.CreateOrderOptions, _ string, _ types.SignatureType) (*types.OrderResponse, error) {
	i := f.placeCalls
	f.placeCalls++
	f.lastToken, f.lastSide, f.lastPrice, f.lastSize = tokenID, side, price, size
	var err error
	if i < len(f.placeErrs) {
		err = f.placeErrs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(f.placeResps) {
		return f.placeResps[i], nil
	}
	return &types.OrderResponse{Success: true, OrderID: "x-default", Status: "live"}, nil
}

func (f *fakeOrderAPI) CancelOrder(_ context.Context, _ string) (*types.CancelResponse, error) {
	f.cancelCalls++
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelResp != nil {
		return f.cancelResp, nil
	}
	return &types.CancelResponse{Canceled: []string{"x1"}}, nil
}

func (f *fakeOrderAPI) GetTrades(_ context.Context, params *types.TradeParams) ([]types.Trade, error) {
	f.tradeCalls++
	if params != nil && params.After != nil {
		f.lastAfter = *params.After
	}
	return f.trades, f.tradesErr
}

type fakePositionAPI struct {
	positions []client.DataPosition
	err       error
	calls     int
}

func (f *fakePositionAPI) GetPositions(_ context.Context, _ string, _ string) ([]client.DataPosition, error) {
	f.calls++
	return f.positions, f.err
}

func newTestClient(rest *fakeOrderAPI, data *fakePositionAPI, trades <-chan websocket.UserTradeMessage) (*Client, *risk.Breaker) {
	br := risk.NewBreaker(risk.BreakerConfig{MaxConsecutiveErrors: 2})
	c := New(rest, data, trades, br, Options{
		Funder:           "0x1234567890abcdef1234567890abcdef12345678",
		SignatureType:    types.SignatureTypeMagic,
		OwnerAPIKey:      ownerKey,
		PosSizeThreshold: 0.9,
	})
	c.BeginRound(fillsMarket(), time.Unix(1755870300, 0))
	return c, br
}

func TestSubmitLimitSuccess(t *testing.T) {
	rest := &fakeOrderAPI{placeResps: []*types.OrderResponse{{Success: true, OrderID: "x1", Status: "live"}}}
	c, br := newTestClient(rest, &fakePositionAPI{}, nil)

	o, err := c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	require.NoError(t, err)

	assert.Equal(t, "x1", o.ExchangeID)
	assert.NotEmpty(t, o.ClientID)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Equal(t, types.OrderTypeGTC, o.OrderType)
	assert.Equal(t, "tok-yes", rest.lastToken)
	assert.Equal(t, types.SideBuy, rest.lastSide)
	assert.InDelta(t, 0.62, rest.lastPrice, 1e-9)
	assert.InDelta(t, 10.0, rest.lastSize, 1e-9)
	assert.False(t, br.Halted())
}

func TestSubmitLimitVenueReject(t *testing.T) {
	rest := &fakeOrderAPI{placeResps: []*types.OrderResponse{
		{Success: false, ErrorMsg: "not enough balance / allowance"},
	}}
	c, _ := newTestClient(rest, &fakePositionAPI{}, nil)

	_, err := c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, rest.placeCalls, "拒单不重试")
}

func TestSubmitLimitAuthHaltsBreaker(t *testing.T) {
	rest := &fakeOrderAPI{placeErrs: []error{&client.HTTPError{StatusCode: 401, Body: "Unauthorized"}}}
	c, br := newTestClient(rest, &fakePositionAPI{}, nil)

	_, err := c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	assert.True(t, IsAuth(err))
	assert.True(t, br.Halted(), "认证失败立即熔断")

	// 熔断后不再触达交易所
	_, err = c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	assert.ErrorIs(t, err, risk.ErrBreakerOpen)
	assert.Equal(t, 1, rest.placeCalls)
}

func TestSubmitLimitConsecutiveErrorsHalt(t *testing.T) {
	rest := &fakeOrderAPI{placeResps: []*types.OrderResponse{
		{Success: false, ErrorMsg: "invalid amount"},
		{Success: false, ErrorMsg: "invalid amount"},
	}}
	c, br := newTestClient(rest, &fakePositionAPI{}, nil)

	_, err := c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	assert.True(t, IsRejected(err))
	assert.False(t, br.Halted())

	_, _ = c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.63), 10, domain.PurposeEntry)

	// 第三次触发快路径检查，熔断生效，不再触达交易所
	_, err = c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.64), 10, domain.PurposeEntry)
	assert.ErrorIs(t, err, risk.ErrBreakerOpen)
	assert.True(t, br.Halted(), "连续错误达到阈值后熔断")
	assert.Equal(t, 2, rest.placeCalls)
}

func TestSubmitLimitTransientRetries(t *testing.T) {
	rest := &fakeOrderAPI{
		placeErrs:  []error{&client.HTTPError{StatusCode: 502, Body: "bad gateway"}, nil},
		placeResps: []*types.OrderResponse{nil, {Success: true, OrderID: "x2", Status: "live"}},
	}
	c, _ := newTestClient(rest, &fakePositionAPI{}, nil)

	o, err := c.SubmitLimit(context.Background(), domain.LegNo, types.SideBuy, domain.PriceFromDecimal(0.38), 5, domain.PurposeEntry)
	require.NoError(t, err)
	assert.Equal(t, "x2", o.ExchangeID)
	assert.Equal(t, 2, rest.placeCalls)
}

func TestSubmitLimitWithoutMarket(t *testing.T) {
	c := New(&fakeOrderAPI{}, &fakePositionAPI{}, nil, risk.NewBreaker(risk.BreakerConfig{}), Options{})
	_, err := c.SubmitLimit(context.Background(), domain.LegYes, types.SideBuy, domain.PriceFromDecimal(0.62), 10, domain.PurposeEntry)
	assert.Error(t, err)
}

func TestCancelIdempotent(t *testing.T) {
	t.Run("404 视为成功", func(t *testing.T) {
		rest := &fakeOrderAPI{cancelErr: &client.HTTPError{StatusCode: 404, Body: "order not found"}}
		c, _ := newTestClient(rest, &fakePositionAPI{}, nil)
		assert.NoError(t, c.Cancel(context.Background(), "x1"))
	})

	t.Run("已取消视为成功", func(t *testing.T) {
		rest := &fakeOrderAPI{cancelResp: &types.CancelResponse{
			NotCanceled: map[string]string{"x1": "order already canceled"},
		}}
		c, _ := newTestClient(rest, &fakePositionAPI{}, nil)
		assert.NoError(t, c.Cancel(context.Background(), "x1"))
	})

	t.Run("已成交视为成功", func(t *testing.T) {
		rest := &fakeOrderAPI{cancelResp: &types.CancelResponse{
			NotCanceled: map[string]string{"x1": "order is filled"},
		}}
		c, _ := newTestClient(rest, &fakePositionAPI{}, nil)
		assert.NoError(t, c.Cancel(context.Background(), "x1"))
	})

	t.Run("其他原因是错误", func(t *testing.T) {
		rest := &fakeOrderAPI{cancelResp: &types.CancelResponse{
			NotCanceled: map[string]string{"x1": "market paused"},
		}}
		c, _ := newTestClient(rest, &fakePositionAPI{}, nil)
		assert.Error(t, c.Cancel(context.Background(), "x1"))
	})

	t.Run("空 ID 直接成功", func(t *testing.T) {
		rest := &fakeOrderAPI{}
		c, _ := newTestClient(rest, &fakePositionAPI{}, nil)
		assert.NoError(t, c.Cancel(context.Background(), ""))
		assert.Equal(t, 0, rest.cancelCalls)
	})
}

func TestPollFillsMergesWSAndRest(t *testing.T) {
	trades := make(chan websocket.UserTradeMessage, 4)
	trades <- websocket.UserTradeMessage{
		ID: "t-ws", TakerOrderID: "ord-1", AssetID: "tok-yes",
		Side: "BUY", Size: "3", Price: "0.62", Status: "MATCHED", Owner: ownerKey,
	}

	rest := &fakeOrderAPI{trades: []types.Trade{{
		ID: "t-rest", AssetID: "tok-yes", Side: types.SideBuy, Status: "MINED", TraderSide: "MAKER",
		MakerOrders: []types.MakerOrder{
			{OrderID: "ord-2", Owner: ownerKey, AssetID: "tok-yes", Price: "0.61", MatchedAmount: "2"},
		},
	}}}
	c, _ := newTestClient(rest, &fakePositionAPI{}, trades)

	fills, err := c.PollFills(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "t-ws:taker:ord-1", fills[0].ID)
	assert.Equal(t, "t-rest:maker:ord-2", fills[1].ID)
	assert.Equal(t, "1755870300", rest.lastAfter, "REST 轮询带回合起点过滤")

	// 第二次轮询：WS 空、REST 未到间隔
	fills, err = c.PollFills(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, 1, rest.tradeCalls)
}

func TestPollFillsWithoutMarket(t *testing.T) {
	rest := &fakeOrderAPI{}
	c := New(rest, &fakePositionAPI{}, nil, risk.NewBreaker(risk.BreakerConfig{}), Options{})

	fills, err := c.PollFills(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, fills)
	assert.Equal(t, 0, rest.tradeCalls)
}

func TestQueryRemotePosition(t *testing.T) {
	data := &fakePositionAPI{positions: []client.DataPosition{
		{Asset: "tok-yes", Size: 12, AvgPrice: 0.61},
		{Asset: "tok-no", Size: 0.5, AvgPrice: 0.40},
	}}
	c, _ := newTestClient(&fakeOrderAPI{}, data, nil)

	yes, err := c.QueryRemotePosition(context.Background(), domain.LegYes)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, yes.Size, 1e-9)
	assert.InDelta(t, 0.61, yes.AvgPrice, 1e-9)

	// 低于阈值按 0
	no, err := c.QueryRemotePosition(context.Background(), domain.LegNo)
	require.NoError(t, err)
	assert.True(t, no.IsFlat())
}

func TestQueryRemotePositionMissingAsset(t *testing.T) {
	c, _ := newTestClient(&fakeOrderAPI{}, &fakePositionAPI{}, nil)
	p, err := c.QueryRemotePosition(context.Background(), domain.LegYes)
	require.NoError(t, err)
	assert.True(t, p.IsFlat())
}

func TestQueryRemotePositionError(t *testing.T) {
	data := &fakePositionAPI{err: &client.HTTPError{StatusCode: 400, Body: "invalid order"}}
	c, _ := newTestClient(&fakeOrderAPI{}, data, nil)

	_, err := c.QueryRemotePosition(context.Background(), domain.LegYes)
	assert.Error(t, err)
	assert.Equal(t, 1, data.calls)
}
