package domain

import (
	"fmt"
	"sort"
)

// CapWindow 一段桶内时间的资金上限
//
// [StartSec, EndSec) 为相对桶起点的秒数区间。
type CapWindow struct {
	StartSec int     `yaml:"start_sec" json:"start_sec"`
	EndSec   int     `yaml:"end_sec" json:"end_sec"`
	CapUSD   float64 `yaml:"cap_usd" json:"cap_usd"`
}

// CapSchedule 按桶内时间分段的资金上限表
type CapSchedule []CapWindow

// Validate 校验上限表：非空、区间合法、有序、无重叠、无空洞，
// 且整体覆盖 [0, durationSec)。违反任何一条都在加载期报错。
func (s CapSchedule) Validate(durationSec int) error {
	if len(s) == 0 {
		return fmt.Errorf("cap_schedule 为空")
	}
	sorted := make(CapSchedule, len(s))
	copy(sorted, s)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	for i, w := range sorted {
		if w.StartSec < 0 || w.EndSec <= w.StartSec {
			return fmt.Errorf("cap_schedule[%d] 区间非法: [%d,%d)", i, w.StartSec, w.EndSec)
		}
		if w.CapUSD < 0 {
			return fmt.Errorf("cap_schedule[%d] cap_usd 非法: %v", i, w.CapUSD)
		}
	}
	if sorted[0].StartSec != 0 {
		return fmt.Errorf("cap_schedule 未覆盖桶起点: 首段从 %d 开始", sorted[0].StartSec)
	}
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.StartSec < prev.EndSec {
			return fmt.Errorf("cap_schedule 区间重叠: [%d,%d) 与 [%d,%d)",
				prev.StartSec, prev.EndSec, cur.StartSec, cur.EndSec)
		}
		if cur.StartSec > prev.EndSec {
			return fmt.Errorf("cap_schedule 区间有空洞: [%d,%d) 之后直接跳到 [%d,%d)",
				prev.StartSec, prev.EndSec, cur.StartSec, cur.EndSec)
		}
	}
	if last := sorted[len(sorted)-1]; last.EndSec != durationSec {
		return fmt.Errorf("cap_schedule 未覆盖整个桶: 末段止于 %d, 桶长 %d", last.EndSec, durationSec)
	}
	return nil
}

// CapFor 返回 elapsed 秒时生效的资金上限
//
// elapsed 超出末段（理论上不该发生）时沿用末段上限。
func (s CapSchedule) CapFor(elapsedSec int) float64 {
	if len(s) == 0 {
		return 0
	}
	for _, w := range s {
		if elapsedSec >= w.StartSec && elapsedSec < w.EndSec {
			return w.CapUSD
		}
	}
	return s[len(s)-1].CapUSD
}
