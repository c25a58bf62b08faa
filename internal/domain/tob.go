package domain

// TopOfBook 两条腿的盘口快照
//
// Seq 是发布序号（单调递增），读者可以据此判断"自上次 tick 以来有没有新数据"。
// 价格为 0 表示该字段缺失（盘口一侧为空或尚未收到数据）。
type TopOfBook struct {
	Seq      uint64
	TsMs     int64 // 快照时间（Unix 毫秒）
	BucketTS int64 // 所属桶的起始时间（Unix 秒）

	YesBid Price
	YesAsk Price
	NoBid  Price
	NoAsk  Price
}

// BidFor 按 leg 取买一价
func (t TopOfBook) BidFor(leg Leg) Price {
	if leg == LegYes {
		return t.YesBid
	}
	return t.NoBid
}

// AskFor 按 leg 取卖一价
func (t TopOfBook) AskFor(leg Leg) Price {
	if leg == LegYes {
		return t.YesAsk
	}
	return t.NoAsk
}

// HasPrices 两条腿是否都有买一价（highest_bid 模式选腿的前提）
func (t TopOfBook) HasPrices() bool {
	return !t.YesBid.IsZero() && !t.NoBid.IsZero()
}

// IsZero 是否为空快照
func (t TopOfBook) IsZero() bool {
	return t.TsMs == 0
}
