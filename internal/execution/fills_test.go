package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

const ownerKey = "api-key-self"

func fillsMarket() domain.Market {
	return domain.Market{
		Slug:        "btc-updown-15m-1755870300",
		ConditionID: "0xcond",
		YesAssetID:  "tok-yes",
		NoAssetID:   "tok-no",
		BucketTS:    1755870300,
	}
}

func TestFillsFromTradeTaker(t *testing.T) {
	trade := types.Trade{
		ID:           "t1",
		TakerOrderID: "ord-1",
		AssetID:      "tok-yes",
		Side:         types.SideBuy,
		Size:         "12.5",
		Price:        "0.62",
		Status:       "MINED",
		MatchTime:    "1755870400",
		TraderSide:   "TAKER",
	}

	fills := fillsFromTrade(trade, fillsMarket(), ownerKey)
	require.Len(t, fills, 1)

	f := fills[0]
	assert.Equal(t, "t1:taker:ord-1", f.ID)
	assert.Equal(t, domain.LegYes, f.Leg)
	assert.Equal(t, types.SideBuy, f.Side)
	assert.InDelta(t, 0.62, f.Price.ToDecimal(), 1e-9)
	assert.InDelta(t, 12.5, f.Size, 1e-9)
	assert.Equal(t, domain.FillMined, f.Status)
	assert.Equal(t, time.Unix(1755870400, 0), f.At)
}

func TestFillsFromTradeMaker(t *testing.T) {
	trade := types.Trade{
		ID:         "t2",
		AssetID:    "tok-yes",
		Side:       types.SideBuy,
		Status:     "matched",
		MatchTime:  "1755870410",
		TraderSide: "MAKER",
		MakerOrders: []types.MakerOrder{
			{OrderID: "m1", Owner: ownerKey, AssetID: "tok-yes", Price: "0.61", MatchedAmount: "5"},
			{OrderID: "m2", Owner: "someone-else", AssetID: "tok-yes", Price: "0.61", MatchedAmount: "3"},
		},
	}

	fills := fillsFromTrade(trade, fillsMarket(), ownerKey)
	require.Len(t, fills, 1, "只展开自己的挂单")

	f := fills[0]
	assert.Equal(t, "t2:maker:m1", f.ID)
	// 同资产撮合，maker 在 taker 对侧
	assert.Equal(t, types.SideSell, f.Side)
	assert.InDelta(t, 5.0, f.Size, 1e-9)
	assert.Equal(t, domain.FillMatched, f.Status)
}

func TestFillsFromTradeMakerExplicitSide(t *testing.T) {
	trade := types.Trade{
		ID:         "t3",
		AssetID:    "tok-yes",
		Side:       types.SideBuy,
		Status:     "matched",
		TraderSide: "MAKER",
		MakerOrders: []types.MakerOrder{
			// REST 明细自带方向时直接采用
			{OrderID: "m1", Owner: ownerKey, AssetID: "tok-no", Side: types.SideBuy, Price: "0.38", MatchedAmount: "5"},
		},
	}

	fills := fillsFromTrade(trade, fillsMarket(), ownerKey)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.LegNo, fills[0].Leg)
	assert.Equal(t, types.SideBuy, fills[0].Side)
}

func TestFillsFromTradeUnknownAsset(t *testing.T) {
	trade := types.Trade{
		ID:           "t4",
		TakerOrderID: "ord-1",
		AssetID:      "tok-other",
		Side:         types.SideBuy,
		TraderSide:   "TAKER",
	}
	assert.Empty(t, fillsFromTrade(trade, fillsMarket(), ownerKey))
}

func TestFillsFromUserTradeTaker(t *testing.T) {
	msg := websocket.UserTradeMessage{
		ID:           "t5",
		TakerOrderID: "ord-9",
		AssetID:      "tok-no",
		Side:         "buy",
		Size:         "8",
		Price:        "0.41",
		Status:       "MATCHED",
		MatchTime:    "1755870500",
		Owner:        ownerKey,
	}

	fills := fillsFromUserTrade(msg, fillsMarket(), ownerKey)
	require.Len(t, fills, 1)

	f := fills[0]
	assert.Equal(t, "t5:taker:ord-9", f.ID)
	assert.Equal(t, domain.LegNo, f.Leg)
	assert.Equal(t, types.SideBuy, f.Side)
	assert.InDelta(t, 8.0, f.Size, 1e-9)
}

func TestFillsFromUserTradeSelfMatch(t *testing.T) {
	// 自己的吃单撮合了自己的挂单：两条事件，ID 不同，账本各记一次
	msg := websocket.UserTradeMessage{
		ID:           "t6",
		TakerOrderID: "ord-t",
		AssetID:      "tok-yes",
		Side:         "BUY",
		Size:         "4",
		Price:        "0.63",
		Status:       "MATCHED",
		Owner:        ownerKey,
		MakerOrders: []websocket.UserMakerOrder{
			{OrderID: "ord-m", Owner: ownerKey, AssetID: "tok-yes", Price: "0.63", MatchedAmount: "4"},
		},
	}

	fills := fillsFromUserTrade(msg, fillsMarket(), ownerKey)
	require.Len(t, fills, 2)
	assert.Equal(t, "t6:taker:ord-t", fills[0].ID)
	assert.Equal(t, "t6:maker:ord-m", fills[1].ID)
	assert.Equal(t, types.SideBuy, fills[0].Side)
	assert.Equal(t, types.SideSell, fills[1].Side)
}

func TestFillsFromUserTradeCrossAssetMaker(t *testing.T) {
	// taker 买 YES 撞上我们挂的 NO 买单（铸造撮合）：maker 与 taker 同向
	msg := websocket.UserTradeMessage{
		ID:        "t7",
		AssetID:   "tok-yes",
		Side:      "BUY",
		Status:    "CONFIRMED",
		Owner:     "someone-else",
		MakerOrders: []websocket.UserMakerOrder{
			{OrderID: "ord-m", Owner: ownerKey, AssetID: "tok-no", Price: "0.37", MatchedAmount: "6"},
		},
	}

	fills := fillsFromUserTrade(msg, fillsMarket(), ownerKey)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.LegNo, fills[0].Leg)
	assert.Equal(t, types.SideBuy, fills[0].Side)
	assert.Equal(t, domain.FillConfirmed, fills[0].Status)
}

func TestFillsFromUserTradeNotOurs(t *testing.T) {
	msg := websocket.UserTradeMessage{
		ID:      "t8",
		AssetID: "tok-yes",
		Side:    "BUY",
		Owner:   "someone-else",
		MakerOrders: []websocket.UserMakerOrder{
			{OrderID: "x", Owner: "third-party", AssetID: "tok-yes", MatchedAmount: "1"},
		},
	}
	assert.Empty(t, fillsFromUserTrade(msg, fillsMarket(), ownerKey))
}

func TestMakerSideFor(t *testing.T) {
	assert.Equal(t, types.SideSell, makerSideFor("a", "a", types.SideBuy))
	assert.Equal(t, types.SideBuy, makerSideFor("a", "a", types.SideSell))
	assert.Equal(t, types.SideBuy, makerSideFor("a", "b", types.SideBuy))
	assert.Equal(t, types.SideSell, makerSideFor("a", "b", types.SideSell))
}

func TestParseUnixLoose(t *testing.T) {
	assert.Equal(t, time.Unix(1755870400, 0), parseUnixLoose("1755870400"))
	assert.Equal(t, time.UnixMilli(1755870400123), parseUnixLoose("1755870400123"))
	assert.Equal(t, time.Unix(1755870400, 0), parseUnixLoose("1755870400.5"))
	assert.True(t, parseUnixLoose("").IsZero())
	assert.True(t, parseUnixLoose("垃圾").IsZero())
	assert.True(t, parseUnixLoose("0").IsZero())
}
