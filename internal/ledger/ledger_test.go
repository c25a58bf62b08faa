package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
)

func mkFill(tradeID, orderID string, leg domain.Leg, side types.Side, price, size float64, status domain.FillStatus, at int64) domain.FillEvent {
	return domain.FillEvent{
		ID:      domain.FillID(tradeID, "taker", orderID),
		TradeID: tradeID,
		OrderID: orderID,
		AssetID: "asset-" + string(leg),
		Leg:     leg,
		Side:    side,
		Price:   domain.PriceFromDecimal(price),
		Size:    size,
		Status:  status,
		At:      time.UnixMilli(at),
	}
}

func TestLedgerApplyDedupe(t *testing.T) {
	l := New()

	f := mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 10, domain.FillMatched, 1000)
	assert.True(t, l.Apply(f), "首次投递应记账")
	assert.False(t, l.Apply(f), "重复投递应为 no-op")
	assert.False(t, l.Apply(f))

	// 去重后仓位只记一次
	p := l.RiskPosition(domain.LegYes)
	assert.InDelta(t, 10.0, p.Size, 1e-9)
	assert.InDelta(t, 0.62, p.AvgPrice, 1e-9)
}

func TestLedgerApplyEmptyID(t *testing.T) {
	l := New()
	assert.False(t, l.Apply(domain.FillEvent{Size: 5}))
	assert.True(t, l.RiskPosition(domain.LegYes).IsFlat())
}

func TestLedgerStatusForwardOnly(t *testing.T) {
	l := New()

	assert.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 10, domain.FillMatched, 1000)))
	assert.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 10, domain.FillConfirmed, 2000)))

	// confirmed 之后 matched/mined 的迟到重放不能回退
	assert.False(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 10, domain.FillMatched, 3000)))
	assert.False(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 10, domain.FillMined, 3000)))

	fills := l.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, domain.FillConfirmed, fills[0].Status)

	p := l.OnChainPosition(domain.LegYes)
	assert.InDelta(t, 10.0, p.Size, 1e-9)
}

func TestLedgerFailedRollsBack(t *testing.T) {
	l := New()

	assert.True(t, l.Apply(mkFill("t1", "o1", domain.LegNo, types.SideBuy, 0.40, 25, domain.FillMatched, 1000)))

	// 乐观仓位已计入，链上还没有
	assert.InDelta(t, 25.0, l.RiskPosition(domain.LegNo).Size, 1e-9)
	assert.True(t, l.OnChainPosition(domain.LegNo).IsFlat())

	// 上链失败：乐观仓位自动回滚
	assert.True(t, l.Apply(mkFill("t1", "o1", domain.LegNo, types.SideBuy, 0.40, 25, domain.FillFailed, 2000)))
	assert.True(t, l.RiskPosition(domain.LegNo).IsFlat())
	assert.True(t, l.OnChainPosition(domain.LegNo).IsFlat())
	assert.InDelta(t, 0.0, l.FilledSize("o1"), 1e-9)
}

func TestLedgerRiskVsOnChain(t *testing.T) {
	l := New()

	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMatched, 1000)))
	require.True(t, l.Apply(mkFill("t2", "o1", domain.LegYes, types.SideBuy, 0.61, 5, domain.FillMined, 1100)))

	risk := l.RiskPosition(domain.LegYes)
	chain := l.OnChainPosition(domain.LegYes)
	assert.InDelta(t, 15.0, risk.Size, 1e-9, "matched+mined 都计入乐观仓位")
	assert.InDelta(t, 5.0, chain.Size, 1e-9, "链上仓位只计 mined/confirmed")

	// matched 上链后两套视图收敛
	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillConfirmed, 2000)))
	assert.InDelta(t, 15.0, l.OnChainPosition(domain.LegYes).Size, 1e-9)
}

func TestLedgerAvgPriceWeighted(t *testing.T) {
	l := New()

	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMatched, 1000)))
	require.True(t, l.Apply(mkFill("t2", "o1", domain.LegYes, types.SideBuy, 0.66, 20, domain.FillMatched, 1100)))

	p := l.RiskPosition(domain.LegYes)
	assert.InDelta(t, 30.0, p.Size, 1e-9)
	assert.InDelta(t, 0.64, p.AvgPrice, 1e-9, "(10*0.60+20*0.66)/30")

	// 卖出减仓但不改均价
	require.True(t, l.Apply(mkFill("t3", "o2", domain.LegYes, types.SideSell, 0.70, 5, domain.FillMatched, 1200)))
	p = l.RiskPosition(domain.LegYes)
	assert.InDelta(t, 25.0, p.Size, 1e-9)
	assert.InDelta(t, 0.64, p.AvgPrice, 1e-9)
}

func TestLedgerPositionsPerLeg(t *testing.T) {
	l := New()

	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMined, 1000)))
	require.True(t, l.Apply(mkFill("t2", "o2", domain.LegNo, types.SideBuy, 0.40, 7, domain.FillMined, 1100)))

	assert.InDelta(t, 10.0, l.OnChainPosition(domain.LegYes).Size, 1e-9)
	assert.InDelta(t, 7.0, l.OnChainPosition(domain.LegNo).Size, 1e-9)
}

func TestLedgerFilledSize(t *testing.T) {
	l := New()

	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMatched, 1000)))
	require.True(t, l.Apply(mkFill("t2", "o1", domain.LegYes, types.SideBuy, 0.60, 4, domain.FillMatched, 1100)))
	require.True(t, l.Apply(mkFill("t3", "o2", domain.LegYes, types.SideBuy, 0.60, 99, domain.FillFailed, 1200)))

	assert.InDelta(t, 14.0, l.FilledSize("o1"), 1e-9)
	assert.InDelta(t, 0.0, l.FilledSize("o2"), 1e-9, "failed 不计入成交量")
	assert.InDelta(t, 0.0, l.FilledSize("o9"), 1e-9)
}

func TestLedgerOrderLifecycle(t *testing.T) {
	l := New()

	now := time.Now()
	l.RecordOrder(domain.Order{
		ClientID:   "c1",
		ExchangeID: "x1",
		Leg:        domain.LegYes,
		Side:       types.SideBuy,
		Price:      domain.PriceFromDecimal(0.62),
		Size:       10,
		Purpose:    domain.PurposeEntry,
		Status:     domain.OrderStatusOpen,
		CreatedAt:  now,
	})
	l.RecordOrder(domain.Order{ClientID: "c2"}) // 没有交易所 ID，不登记

	o, ok := l.Order("x1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	assert.True(t, l.ApplyOrderStatus("x1", domain.OrderStatusFilled))
	assert.False(t, l.ApplyOrderStatus("x1", domain.OrderStatusOpen), "终态不能被中间状态覆盖")
	assert.False(t, l.ApplyOrderStatus("x9", domain.OrderStatusOpen), "未知订单")

	o, ok = l.Order("x1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)

	_, ok = l.Order("x9")
	assert.False(t, ok)
}

func TestLedgerOrderFilledSizeRefreshed(t *testing.T) {
	l := New()

	l.RecordOrder(domain.Order{ExchangeID: "x1", Leg: domain.LegYes, Status: domain.OrderStatusOpen, Size: 10, CreatedAt: time.Now()})
	require.True(t, l.Apply(mkFill("t1", "x1", domain.LegYes, types.SideBuy, 0.62, 4, domain.FillMatched, 1000)))

	o, ok := l.Order("x1")
	require.True(t, ok)
	assert.InDelta(t, 4.0, o.FilledSize, 1e-9)
	assert.InDelta(t, 6.0, o.Remaining(), 1e-9)
}

func TestLedgerOpenOrders(t *testing.T) {
	l := New()

	base := time.Now()
	l.RecordOrder(domain.Order{ExchangeID: "x2", Status: domain.OrderStatusPartial, CreatedAt: base.Add(time.Second)})
	l.RecordOrder(domain.Order{ExchangeID: "x1", Status: domain.OrderStatusOpen, CreatedAt: base})
	l.RecordOrder(domain.Order{ExchangeID: "x3", Status: domain.OrderStatusFilled, CreatedAt: base.Add(2 * time.Second)})
	l.RecordOrder(domain.Order{ExchangeID: "x4", Status: domain.OrderStatusCanceled, CreatedAt: base.Add(3 * time.Second)})

	open := l.OpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, "x1", open[0].ExchangeID, "按创建时间升序")
	assert.Equal(t, "x2", open[1].ExchangeID)
}

func TestLedgerFillsSorted(t *testing.T) {
	l := New()

	require.True(t, l.Apply(mkFill("t2", "o1", domain.LegYes, types.SideBuy, 0.62, 1, domain.FillMatched, 2000)))
	require.True(t, l.Apply(mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.62, 1, domain.FillMatched, 1000)))
	require.True(t, l.Apply(mkFill("t3", "o1", domain.LegYes, types.SideBuy, 0.62, 1, domain.FillMatched, 3000)))

	fills := l.Fills()
	require.Len(t, fills, 3)
	assert.Equal(t, "t1", fills[0].TradeID)
	assert.Equal(t, "t2", fills[1].TradeID)
	assert.Equal(t, "t3", fills[2].TradeID)
}

// 任意顺序、任意次数的重复投递都收敛到同一仓位
func TestLedgerDeliveryOrderIndependent(t *testing.T) {
	deliveries := []domain.FillEvent{
		mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMatched, 1000),
		mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillMined, 1500),
		mkFill("t1", "o1", domain.LegYes, types.SideBuy, 0.60, 10, domain.FillConfirmed, 2000),
		mkFill("t2", "o1", domain.LegYes, types.SideBuy, 0.64, 6, domain.FillMatched, 1200),
		mkFill("t3", "o2", domain.LegYes, types.SideBuy, 0.66, 8, domain.FillFailed, 1300),
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		batch := make([]domain.FillEvent, 0, len(deliveries)*2)
		batch = append(batch, deliveries...)
		batch = append(batch, deliveries...) // 每条都重复投递
		rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })

		l := New()
		for _, f := range batch {
			l.Apply(f)
		}

		risk := l.RiskPosition(domain.LegYes)
		assert.InDelta(t, 16.0, risk.Size, 1e-9)
		assert.InDelta(t, (10*0.60+6*0.64)/16, risk.AvgPrice, 1e-9)
		assert.InDelta(t, 10.0, l.OnChainPosition(domain.LegYes).Size, 1e-9)
	}
}
