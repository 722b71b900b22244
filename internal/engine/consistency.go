package engine

import (
	"math"

	"vecbt/internal/frame"
)

// 浮点相对容差，对齐实盘校验用的阈值。
const consistencyRtol = 1e-5

// AssertConsistentSignals 逐列比对批量产出与增量产出。增量列表比批量
// 短一行（末根 K 线的结果在线上尚不可见），批量侧截掉尾行后对齐；
// NaN 与 NaN 视为相等，数值按相对容差比较。首个分歧包装成
// ConsistencyError 返回，点名策略与列，调用方必须终止本次回测。
func AssertConsistentSignals(strategy string, batch *frame.Frame, inc *Incremental) error {
	rows := inc.Results()
	for _, name := range ResultColumns {
		vec := batch.Col(name)
		if vec == nil {
			return structuralErrf("批量产出缺少 %s 列，无法做一致性校验", name)
		}
		if len(vec) != len(rows)+1 {
			return structuralErrf("批量产出 %d 行，增量产出 %d 行，二者应恰好相差一行",
				len(vec), len(rows))
		}
		ev := inc.Column(name)
		for i := range ev {
			if !closeEnough(vec[i], ev[i]) {
				return &ConsistencyError{
					Strategy:    strategy,
					Column:      name,
					Row:         i,
					Vectorized:  vec[i],
					EventDriven: ev[i],
				}
			}
		}
	}
	return nil
}

func closeEnough(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	return diff <= consistencyRtol*scale
}
