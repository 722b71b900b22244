package frame

import "math"

// 向量算子集合。语义对齐 pandas：NaN 表示缺失，diff 遇 NaN 视为变化，
// groupby 排除 NaN 键。

// NaNs 返回长度为 n 的全 NaN 切片。
func NaNs(n int) []float64 {
	out := make([]float64, n)
	nan := math.NaN()
	for i := range out {
		out[i] = nan
	}
	return out
}

// Shift1 向后平移一位，队首补 NaN。
func Shift1(x []float64) []float64 {
	out := NaNs(len(x))
	if len(x) > 1 {
		copy(out[1:], x[:len(x)-1])
	}
	return out
}

// FFill 前向填充缺失值。
func FFill(x []float64) []float64 {
	out := make([]float64, len(x))
	last := math.NaN()
	for i, v := range x {
		if !math.IsNaN(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

// FillNA 以 v 替换缺失值（返回新切片）。
func FillNA(x []float64, v float64) []float64 {
	out := make([]float64, len(x))
	for i, e := range x {
		if math.IsNaN(e) {
			out[i] = v
		} else {
			out[i] = e
		}
	}
	return out
}

// CumSum 累加，NaN 位置保持 NaN 且不中断累计。
func CumSum(x []float64) []float64 {
	out := make([]float64, len(x))
	sum := 0.0
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		sum += v
		out[i] = sum
	}
	return out
}

// ChangedNeZero 等价于 x.diff().ne(0)：相邻差为 0 时 false，
// 非零或 NaN 差（含队首）为 true。
func ChangedNeZero(x []float64) []bool {
	out := make([]bool, len(x))
	for i := range x {
		if i == 0 {
			out[i] = true
			continue
		}
		d := x[i] - x[i-1]
		out[i] = d != 0 || math.IsNaN(d)
	}
	return out
}

// FirstValid 返回第一个非 NaN 下标，找不到返回 -1。
func FirstValid(x []float64) int {
	for i, v := range x {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}

// Sign 与 np.sign 对齐：NaN 传染，0 归 0。
func Sign(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return math.NaN()
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Run 表示键列上一段取值相同的连续区间 [Start, End)。
type Run struct {
	Key        float64
	Start, End int
}

// RunsByKey 按键列切分连续分组，NaN 键不进组（pandas groupby 行为）。
// 流水号列单调不减，因此相同键必然连续。
func RunsByKey(key []float64) []Run {
	var runs []Run
	n := len(key)
	for i := 0; i < n; {
		if math.IsNaN(key[i]) {
			i++
			continue
		}
		j := i + 1
		for j < n && key[j] == key[i] {
			j++
		}
		runs = append(runs, Run{Key: key[i], Start: i, End: j})
		i = j
	}
	return runs
}

// GroupTransform 对每个非 NaN 键分组应用 fn（入参为组内子切片，返回等长结果），
// NaN 键的行保持 NaN。
func GroupTransform(key, x []float64, fn func([]float64) []float64) []float64 {
	out := NaNs(len(x))
	for _, r := range RunsByKey(key) {
		res := fn(x[r.Start:r.End])
		copy(out[r.Start:r.End], res)
	}
	return out
}

// GroupTransformBool 同 GroupTransform，但返回布尔列（NaN 键行为 false）。
func GroupTransformBool(key, x []float64, fn func([]float64) []bool) []bool {
	out := make([]bool, len(x))
	for _, r := range RunsByKey(key) {
		res := fn(x[r.Start:r.End])
		copy(out[r.Start:r.End], res)
	}
	return out
}
