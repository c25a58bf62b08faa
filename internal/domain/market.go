package domain

// Leg 二元市场的一侧（YES/NO token）
type Leg string

const (
	LegYes Leg = "yes"
	LegNo  Leg = "no"
)

// IsYes 是否为 YES 侧
func (l Leg) IsYes() bool {
	return l == LegYes
}

// Other 返回对侧
func (l Leg) Other() Leg {
	if l == LegYes {
		return LegNo
	}
	return LegYes
}

// Valid 检查是否为合法的 leg
func (l Leg) Valid() bool {
	return l == LegYes || l == LegNo
}

// Market 一个 15 分钟桶对应的市场
type Market struct {
	Slug        string // 市场 slug（btc-updown-15m-<bucket>）
	ConditionID string // 条件 ID（data-api 按此过滤持仓）
	YesAssetID  string // YES token 资产 ID
	NoAssetID   string // NO token 资产 ID
	Question    string // 问题描述
	BucketTS    int64  // 桶起始时间（Unix 秒）
}

// IsValid 验证市场是否可交易
func (m *Market) IsValid() bool {
	return m.Slug != "" && m.YesAssetID != "" && m.NoAssetID != "" && m.BucketTS > 0
}

// AssetIDFor 按 leg 取资产 ID
func (m *Market) AssetIDFor(leg Leg) string {
	if leg == LegYes {
		return m.YesAssetID
	}
	return m.NoAssetID
}

// LegForAssetID 按资产 ID 反查 leg；未知资产返回 false
func (m *Market) LegForAssetID(assetID string) (Leg, bool) {
	switch assetID {
	case m.YesAssetID:
		return LegYes, true
	case m.NoAssetID:
		return LegNo, true
	}
	return "", false
}
