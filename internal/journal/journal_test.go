package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/bucketmm/clob/types"
	"github.com/betbot/bucketmm/internal/domain"
	"github.com/betbot/bucketmm/internal/outcome"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenCreatesSchema(t *testing.T) {
	j := openTemp(t)

	// 所有表都建好了：空查询不报错
	recs, err := j.RecentRounds(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	totals, err := j.SuppressionTotals(context.Background(), 1755870300)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestRoundReportRoundtrip(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	rec := outcome.Record{
		BucketTS:      1755870300,
		Slug:          "btc-updown-15m-1755870300",
		Leg:           "yes",
		Result:        outcome.ResultSl,
		EntryPrice:    0.95,
		EntrySize:     21,
		ExitPrice:     0.01,
		ExitSize:      21,
		CashDeltaUSD:  -19.74,
		DustCarrySize: 0,
		LateReentries: 1,
		Suppressions:  map[string]int{"staleness": 3},
		StartedAt:     time.Unix(1755870300, 0).UTC(),
		EndedAt:       time.Unix(1755870420, 0).UTC(),
	}
	require.NoError(t, j.Report(ctx, rec))

	got, err := j.RecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.Slug, got[0].Slug)
	assert.Equal(t, rec.Result, got[0].Result)
	assert.Equal(t, rec.EntryPrice, got[0].EntryPrice)
	assert.Equal(t, rec.CashDeltaUSD, got[0].CashDeltaUSD)
	assert.Equal(t, rec.LateReentries, got[0].LateReentries)
	assert.Equal(t, map[string]int{"staleness": 3}, got[0].Suppressions)
	assert.True(t, rec.StartedAt.Equal(got[0].StartedAt))

	// 同一个桶重报覆盖旧行（重启后重放不会堆出重复）
	rec.Result = outcome.ResultHalt
	require.NoError(t, j.Report(ctx, rec))
	got, err = j.RecentRounds(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, outcome.ResultHalt, got[0].Result)
}

func TestRecentRoundsOrder(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 300, 200} {
		require.NoError(t, j.Report(ctx, outcome.Record{
			BucketTS: ts, Slug: "s", Result: outcome.ResultFlat,
			StartedAt: time.Unix(ts, 0), EndedAt: time.Unix(ts+900, 0),
		}))
	}
	got, err := j.RecentRounds(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(300), got[0].BucketTS)
	assert.Equal(t, int64(200), got[1].BucketTS)
}

func TestRecordOrderAndFillIdempotent(t *testing.T) {
	j := openTemp(t)

	o := domain.Order{
		ClientID:   "c-1",
		ExchangeID: "x-1",
		MarketSlug: "btc-updown-15m-1755870300",
		Leg:        domain.LegYes,
		Side:       types.SideBuy,
		Price:      domain.PriceFromDecimal(0.62),
		Size:       32,
		Purpose:    domain.PurposeEntry,
		Status:     domain.OrderStatusOpen,
	}
	j.RecordOrder(1755870300, o)
	j.RecordOrder(1755870300, o) // 重放不报错、不堆行

	f := domain.FillEvent{
		ID:      "t-1:taker:x-1",
		TradeID: "t-1",
		OrderID: "x-1",
		Leg:     domain.LegYes,
		Side:    types.SideBuy,
		Price:   domain.PriceFromDecimal(0.62),
		Size:    32,
		Status:  domain.FillMatched,
		At:      time.Unix(1755870310, 0),
	}
	j.RecordFill(1755870300, f)
	f.Status = domain.FillConfirmed // 状态推进覆盖旧行
	j.RecordFill(1755870300, f)

	var orders, fills int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&orders))
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM fills`).Scan(&fills))
	assert.Equal(t, 1, orders)
	assert.Equal(t, 1, fills)

	var status string
	require.NoError(t, j.db.QueryRow(`SELECT status FROM fills WHERE id=?`, f.ID).Scan(&status))
	assert.Equal(t, string(domain.FillConfirmed), status)
}

func TestSuppressionTotals(t *testing.T) {
	j := openTemp(t)

	j.RecordSuppression(1755870300, "staleness", "stale")
	j.RecordSuppression(1755870300, "staleness", "empty")
	j.RecordSuppression(1755870300, "threshold", "yes=0.58")
	j.RecordSuppression(1755871200, "cap", "elapsed=10s") // 别的桶不掺和

	totals, err := j.SuppressionTotals(context.Background(), 1755870300)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"staleness": 2, "threshold": 1}, totals)
}
