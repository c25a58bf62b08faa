package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapScheduleValidate(t *testing.T) {
	tests := []struct {
		name     string
		schedule CapSchedule
		duration int
		wantErr  bool
	}{
		{
			name: "标准三段",
			schedule: CapSchedule{
				{StartSec: 0, EndSec: 300, CapUSD: 7.0},
				{StartSec: 300, EndSec: 600, CapUSD: 7.5},
				{StartSec: 600, EndSec: 900, CapUSD: 8.0},
			},
			duration: 900,
			wantErr:  false,
		},
		{
			name:     "空表",
			schedule: CapSchedule{},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "区间重叠",
			schedule: CapSchedule{
				{StartSec: 0, EndSec: 400, CapUSD: 7.0},
				{StartSec: 300, EndSec: 900, CapUSD: 7.5},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "区间有空洞",
			schedule: CapSchedule{
				{StartSec: 0, EndSec: 300, CapUSD: 7.0},
				{StartSec: 400, EndSec: 900, CapUSD: 7.5},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "未覆盖起点",
			schedule: CapSchedule{
				{StartSec: 100, EndSec: 900, CapUSD: 7.0},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "未覆盖末尾",
			schedule: CapSchedule{
				{StartSec: 0, EndSec: 600, CapUSD: 7.0},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "区间颠倒",
			schedule: CapSchedule{
				{StartSec: 300, EndSec: 100, CapUSD: 7.0},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "负的上限",
			schedule: CapSchedule{
				{StartSec: 0, EndSec: 900, CapUSD: -1},
			},
			duration: 900,
			wantErr:  true,
		},
		{
			name: "乱序但合法",
			schedule: CapSchedule{
				{StartSec: 600, EndSec: 900, CapUSD: 8.0},
				{StartSec: 0, EndSec: 300, CapUSD: 7.0},
				{StartSec: 300, EndSec: 600, CapUSD: 7.5},
			},
			duration: 900,
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate(tt.duration)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCapScheduleCapFor(t *testing.T) {
	s := CapSchedule{
		{StartSec: 0, EndSec: 300, CapUSD: 7.0},
		{StartSec: 300, EndSec: 600, CapUSD: 7.5},
		{StartSec: 600, EndSec: 900, CapUSD: 8.0},
	}
	require.NoError(t, s.Validate(900))

	assert.Equal(t, 7.0, s.CapFor(0))
	assert.Equal(t, 7.0, s.CapFor(299))
	assert.Equal(t, 7.5, s.CapFor(300))
	assert.Equal(t, 8.0, s.CapFor(600))
	assert.Equal(t, 8.0, s.CapFor(899))
	// 超出桶长沿用末段
	assert.Equal(t, 8.0, s.CapFor(1000))
}

func TestDustMerge(t *testing.T) {
	// 3 股 @0.60 并入 4 股 @0.70 → 7 股 @(1.8+2.8)/7
	d := Dust{Size: 3, AvgPrice: 0.60}
	merged := d.Merge(4, 0.70)
	assert.InDelta(t, 7.0, merged.Size, 1e-9)
	assert.InDelta(t, (3*0.60+4*0.70)/7, merged.AvgPrice, 1e-9)

	// 并入空仓不变
	assert.Equal(t, d, d.Merge(0, 0.99))

	// 空残余直接取并入侧
	empty := Dust{}
	got := empty.Merge(5, 0.55)
	assert.Equal(t, Dust{Size: 5, AvgPrice: 0.55}, got)
}

func TestPriceRoundTrip(t *testing.T) {
	p := PriceFromDecimal(0.62)
	assert.Equal(t, 6200, p.Pips)
	assert.InDelta(t, 0.62, p.ToDecimal(), 1e-9)
	assert.Equal(t, "0.62", p.String())

	assert.Equal(t, PriceFromDecimal(0.63), p.Add(PriceFromDecimal(0.01)))
	assert.True(t, PriceFromDecimal(0.75).GreaterThan(p))
	assert.Equal(t, PriceFromDecimal(0.62), MinPrice(p, PriceFromDecimal(0.99)))
	assert.Equal(t, PriceFromDecimal(0.75), MaxPrice(p, PriceFromDecimal(0.75)))
}

func TestFillStatusRankForwardOnly(t *testing.T) {
	// matched < retrying < mined < confirmed；failed 与 confirmed 同级（都是终态）
	assert.Less(t, FillMatched.Rank(), FillRetrying.Rank())
	assert.Less(t, FillRetrying.Rank(), FillMined.Rank())
	assert.Less(t, FillMined.Rank(), FillConfirmed.Rank())
	assert.Equal(t, FillConfirmed.Rank(), FillFailed.Rank())
}

func TestLegHelpers(t *testing.T) {
	assert.Equal(t, LegNo, LegYes.Other())
	assert.Equal(t, LegYes, LegNo.Other())
	assert.True(t, LegYes.IsYes())
	assert.False(t, Leg("maybe").Valid())

	m := &Market{Slug: "btc-updown-15m-1700000000", YesAssetID: "111", NoAssetID: "222", BucketTS: 1700000000}
	assert.True(t, m.IsValid())
	assert.Equal(t, "111", m.AssetIDFor(LegYes))
	leg, ok := m.LegForAssetID("222")
	assert.True(t, ok)
	assert.Equal(t, LegNo, leg)
	_, ok = m.LegForAssetID("333")
	assert.False(t, ok)
}
