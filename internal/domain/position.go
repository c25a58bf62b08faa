package domain

// RemotePosition 交易所视角的某一侧持仓（data-api 返回，权威数据）
type RemotePosition struct {
	Leg      Leg
	Size     float64 // 持仓数量（shares）
	AvgPrice float64 // 平均成本价
}

// IsFlat 是否可视为空仓（低于噪声阈值）
func (p RemotePosition) IsFlat(threshold float64) bool {
	return p.Size <= threshold
}

// Dust 低于最小下单量、无法挂单退出的残余仓位
//
// 残余会跨回合结转：下一回合把它并入有效仓位一起退出，
// 或继续结转直到凑够最小下单量。
type Dust struct {
	Size     float64 // 残余数量（shares）
	AvgPrice float64 // 成本加权均价
}

// IsZero 是否没有残余
func (d Dust) IsZero() bool {
	return d.Size <= 0
}

// Merge 按数量加权合并另一块仓位，返回合并结果
//
// 均价 = (size1*avg1 + size2*avg2) / (size1+size2)。
// 任一侧数量为 0 时直接取另一侧。
func (d Dust) Merge(size, avgPrice float64) Dust {
	if size <= 0 {
		return d
	}
	if d.Size <= 0 {
		return Dust{Size: size, AvgPrice: avgPrice}
	}
	total := d.Size + size
	cost := d.Size*d.AvgPrice + size*avgPrice
	return Dust{
		Size:     total,
		AvgPrice: cost / total,
	}
}

// Notional 残余名义价值（USDC）
func (d Dust) Notional() float64 {
	return d.Size * d.AvgPrice
}
