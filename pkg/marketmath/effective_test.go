package marketmath

import (
	"math"
	"testing"
	"testing/quick"
)

func TestNotionalUSD(t *testing.T) {
	// 10 股 @0.62 → 6.2 USD
	if got := NotionalUSD(6200, 10); math.Abs(got-6.2) > 1e-9 {
		t.Fatalf("NotionalUSD got=%v want=6.2", got)
	}
	if got := NotionalUSD(6200, 0); got != 0 {
		t.Fatalf("NotionalUSD zero size got=%v want=0", got)
	}
}

func TestUsdToCents(t *testing.T) {
	if got := UsdToCents(0.625); got != 63 {
		t.Fatalf("UsdToCents got=%d want=63", got)
	}
	if got := UsdToCents(-0.62); got != -62 {
		t.Fatalf("UsdToCents got=%d want=-62", got)
	}
}

func TestVwapUSD(t *testing.T) {
	// 3@0.60 + 4@0.70 → (1.8+2.8)/7
	notional := NotionalUSD(6000, 3) + NotionalUSD(7000, 4)
	want := (3*0.60 + 4*0.70) / 7
	if got := VwapUSD(notional, 7); math.Abs(got-want) > 1e-9 {
		t.Fatalf("VwapUSD got=%v want=%v", got, want)
	}
	if got := VwapUSD(4.6, 0); got != 0 {
		t.Fatal("VwapUSD zero size should be 0")
	}
}

// **Property: 均价落在成交价区间内**
func TestPropertyVwapWithinPriceRange(t *testing.T) {
	property := func(p1, p2 uint16, s1, s2 uint8) bool {
		pips1 := int(p1%9900) + 100
		pips2 := int(p2%9900) + 100
		size1 := float64(s1%50) + 1
		size2 := float64(s2%50) + 1

		notional := NotionalUSD(pips1, size1) + NotionalUSD(pips2, size2)
		vwap := VwapUSD(notional, size1+size2)
		lo := math.Min(float64(pips1), float64(pips2)) / 10000.0
		hi := math.Max(float64(pips1), float64(pips2)) / 10000.0
		return vwap >= lo-1e-9 && vwap <= hi+1e-9
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
