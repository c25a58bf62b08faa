package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/pkg/sdk/websocket"
)

func testMarket() domain.Market {
	return domain.Market{
		Slug:        "btc-updown-15m-1755870300",
		ConditionID: "0xcond",
		YesAssetID:  "tok-yes",
		NoAssetID:   "tok-no",
		BucketTS:    1755870300,
	}
}

func newTestPump(t *testing.T) (*Pump, *AtomicSlot) {
	t.Helper()
	slot := NewAtomicSlot()
	pump := NewPump(websocket.NewMarketClient(nil), slot)
	require.NoError(t, pump.SetMarket(testMarket()))
	return pump, slot
}

func TestPumpFoldBookSnapshot(t *testing.T) {
	pump, slot := newTestPump(t)

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-yes",
		Bids: []websocket.BookLevel{
			{Price: "0.60", Size: "50"},
			{Price: "0.62", Size: "10"},
			{Price: "0.55", Size: "200"},
		},
		Asks: []websocket.BookLevel{
			{Price: "0.64", Size: "30"},
			{Price: "0.70", Size: "90"},
		},
	})

	tob, ok := slot.Load()
	require.True(t, ok)
	assert.Equal(t, 6200, tob.YesBid.Pips, "买一取最高买价")
	assert.Equal(t, 6400, tob.YesAsk.Pips, "卖一取最低卖价")
	assert.True(t, tob.NoBid.IsZero(), "NO 侧还没有数据")
	assert.Equal(t, int64(1755870300), tob.BucketTS)

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-no",
		Bids:      []websocket.BookLevel{{Price: "0.36", Size: "40"}},
		Asks:      []websocket.BookLevel{{Price: "0.38", Size: "15"}},
	})

	tob, _ = slot.Load()
	assert.Equal(t, 3600, tob.NoBid.Pips)
	assert.Equal(t, 3800, tob.NoAsk.Pips)
	assert.True(t, tob.HasPrices())
}

func TestPumpFoldPriceChanges(t *testing.T) {
	pump, slot := newTestPump(t)

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-yes",
		Bids:      []websocket.BookLevel{{Price: "0.60", Size: "50"}},
		Asks:      []websocket.BookLevel{{Price: "0.64", Size: "30"}},
	})

	// 新版载荷：更高的买档进来
	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventPriceChange,
		PriceChanges: []websocket.AssetPriceChange{
			{AssetID: "tok-yes", Price: "0.62", Side: "BUY", Size: "20"},
		},
	})
	tob, _ := slot.Load()
	assert.Equal(t, 6200, tob.YesBid.Pips)

	// size 归零移除档位，买一退回 0.60
	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventPriceChange,
		PriceChanges: []websocket.AssetPriceChange{
			{AssetID: "tok-yes", Price: "0.62", Side: "BUY", Size: "0"},
		},
	})
	tob, _ = slot.Load()
	assert.Equal(t, 6000, tob.YesBid.Pips)

	// 旧版载荷：asset_id 在消息头，changes 里只有档位
	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventPriceChange,
		AssetID:   "tok-yes",
		Changes: []websocket.LevelChange{
			{Price: "0.63", Side: "SELL", Size: "5"},
		},
	})
	tob, _ = slot.Load()
	assert.Equal(t, 6300, tob.YesAsk.Pips, "更低的卖档成为卖一")
}

func TestPumpIgnoresUnknownAsset(t *testing.T) {
	pump, slot := newTestPump(t)

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-other",
		Bids:      []websocket.BookLevel{{Price: "0.99", Size: "1"}},
	})

	_, ok := slot.Load()
	assert.False(t, ok, "无关资产的消息不应该发布快照")
}

func TestPumpSetMarketResetsBooks(t *testing.T) {
	pump, slot := newTestPump(t)

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-yes",
		Bids:      []websocket.BookLevel{{Price: "0.60", Size: "50"}},
	})
	_, ok := slot.Load()
	require.True(t, ok)

	next := domain.Market{
		Slug:       "btc-updown-15m-1755871200",
		YesAssetID: "tok-yes-2",
		NoAssetID:  "tok-no-2",
		BucketTS:   1755871200,
	}
	require.NoError(t, pump.SetMarket(next))

	// 旧资产的消息不再被接受
	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-yes",
		Bids:      []websocket.BookLevel{{Price: "0.70", Size: "10"}},
	})

	pump.fold(websocket.MarketMessage{
		EventType: websocket.EventBook,
		AssetID:   "tok-yes-2",
		Bids:      []websocket.BookLevel{{Price: "0.55", Size: "10"}},
	})
	tob, _ := slot.Load()
	assert.Equal(t, 5500, tob.YesBid.Pips)
	assert.Equal(t, int64(1755871200), tob.BucketTS)
}
