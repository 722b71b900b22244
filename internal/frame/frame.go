package frame

import (
	"fmt"
	"math"
	"sort"

	"vecbt/internal/market"
)

// 索引列固定为 (ts, product, resolution)，与行情表保持一致。
// 其余列一律是 float64，NaN 表示缺失。

// Frame 是按列存储的行情/回测结果表，一行对应一根 K 线。
type Frame struct {
	TS         []int64
	Product    []string
	Resolution []string
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64

	cols  map[string][]float64
	order []string
}

// New 创建一个预分配 n 行的空 Frame。
func New(n int) *Frame {
	return &Frame{
		TS:         make([]int64, 0, n),
		Product:    make([]string, 0, n),
		Resolution: make([]string, 0, n),
		Open:       make([]float64, 0, n),
		High:       make([]float64, 0, n),
		Low:        make([]float64, 0, n),
		Close:      make([]float64, 0, n),
		Volume:     make([]float64, 0, n),
		cols:       make(map[string][]float64),
	}
}

// FromCandles 由单一 (product, resolution) 的 K 线序列构建 Frame。
func FromCandles(product, resolution string, candles []market.Candle) *Frame {
	f := New(len(candles))
	for _, c := range candles {
		f.AppendBar(c.OpenTime, product, resolution, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return f
}

// AppendBar 追加一行行情；已有的扩展列同步补 NaN。
func (f *Frame) AppendBar(ts int64, product, resolution string, open, high, low, close, volume float64) {
	f.TS = append(f.TS, ts)
	f.Product = append(f.Product, product)
	f.Resolution = append(f.Resolution, resolution)
	f.Open = append(f.Open, open)
	f.High = append(f.High, high)
	f.Low = append(f.Low, low)
	f.Close = append(f.Close, close)
	f.Volume = append(f.Volume, volume)
	for _, name := range f.order {
		f.cols[name] = append(f.cols[name], math.NaN())
	}
}

func (f *Frame) Len() int { return len(f.TS) }

// Col 返回命名列，不存在时返回 nil。
func (f *Frame) Col(name string) []float64 {
	if f.cols == nil {
		return nil
	}
	return f.cols[name]
}

// HasCol 判断命名列是否存在。
func (f *Frame) HasCol(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// SetCol 写入命名列，长度必须与行数一致。
func (f *Frame) SetCol(name string, values []float64) error {
	if len(values) != f.Len() {
		return fmt.Errorf("column %s: length %d != rows %d", name, len(values), f.Len())
	}
	if f.cols == nil {
		f.cols = make(map[string][]float64)
	}
	if _, ok := f.cols[name]; !ok {
		f.order = append(f.order, name)
	}
	f.cols[name] = values
	return nil
}

// DropCol 删除命名列，不存在时无操作。
func (f *Frame) DropCol(name string) {
	if !f.HasCol(name) {
		return
	}
	delete(f.cols, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// EnsureCol 返回命名列，不存在时创建全 NaN 列。
func (f *Frame) EnsureCol(name string) []float64 {
	if col := f.Col(name); col != nil {
		return col
	}
	col := NaNs(f.Len())
	_ = f.SetCol(name, col)
	return col
}

// Columns 按插入顺序返回扩展列名。
func (f *Frame) Columns() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Clone 深拷贝整个表。
func (f *Frame) Clone() *Frame {
	c := &Frame{
		TS:         append([]int64(nil), f.TS...),
		Product:    append([]string(nil), f.Product...),
		Resolution: append([]string(nil), f.Resolution...),
		Open:       append([]float64(nil), f.Open...),
		High:       append([]float64(nil), f.High...),
		Low:        append([]float64(nil), f.Low...),
		Close:      append([]float64(nil), f.Close...),
		Volume:     append([]float64(nil), f.Volume...),
		cols:       make(map[string][]float64, len(f.cols)),
		order:      append([]string(nil), f.order...),
	}
	for name, col := range f.cols {
		c.cols[name] = append([]float64(nil), col...)
	}
	return c
}

// SortByIndex 按 (product, resolution, ts) 升序稳定排序。
func (f *Frame) SortByIndex() {
	n := f.Len()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if f.Product[i] != f.Product[j] {
			return f.Product[i] < f.Product[j]
		}
		if f.Resolution[i] != f.Resolution[j] {
			return f.Resolution[i] < f.Resolution[j]
		}
		return f.TS[i] < f.TS[j]
	})
	f.TS = reorderInt64(f.TS, idx)
	f.Product = reorderString(f.Product, idx)
	f.Resolution = reorderString(f.Resolution, idx)
	f.Open = reorderFloat(f.Open, idx)
	f.High = reorderFloat(f.High, idx)
	f.Low = reorderFloat(f.Low, idx)
	f.Close = reorderFloat(f.Close, idx)
	f.Volume = reorderFloat(f.Volume, idx)
	for name, col := range f.cols {
		f.cols[name] = reorderFloat(col, idx)
	}
}

// Group 表示排序后的一个 (product, resolution) 连续分组。
type Group struct {
	Product    string
	Resolution string
	Start, End int // [Start, End)
}

// Groups 返回排序后表中的连续分组；分组边界不会切开同一 (product, resolution)。
func (f *Frame) Groups() []Group {
	var groups []Group
	n := f.Len()
	for start := 0; start < n; {
		end := start + 1
		for end < n && f.Product[end] == f.Product[start] && f.Resolution[end] == f.Resolution[start] {
			end++
		}
		groups = append(groups, Group{
			Product:    f.Product[start],
			Resolution: f.Resolution[start],
			Start:      start,
			End:        end,
		})
		start = end
	}
	return groups
}

// Slice 返回 [start, end) 的视图；列切片共享底层数组，对视图的列写入
// 会直接落到原表上，分组并行时各视图互不重叠。
func (f *Frame) Slice(start, end int) *Frame {
	v := &Frame{
		TS:         f.TS[start:end],
		Product:    f.Product[start:end],
		Resolution: f.Resolution[start:end],
		Open:       f.Open[start:end],
		High:       f.High[start:end],
		Low:        f.Low[start:end],
		Close:      f.Close[start:end],
		Volume:     f.Volume[start:end],
		cols:       make(map[string][]float64, len(f.cols)),
		order:      append([]string(nil), f.order...),
	}
	for name, col := range f.cols {
		v.cols[name] = col[start:end]
	}
	return v
}

// Concat 依序拼接多个表（列并集，缺列补 NaN）。
func Concat(frames ...*Frame) *Frame {
	total := 0
	for _, f := range frames {
		total += f.Len()
	}
	out := New(total)
	for _, f := range frames {
		for _, name := range f.order {
			if !out.HasCol(name) {
				_ = out.SetCol(name, NaNs(out.Len()))
			}
		}
		out.TS = append(out.TS, f.TS...)
		out.Product = append(out.Product, f.Product...)
		out.Resolution = append(out.Resolution, f.Resolution...)
		out.Open = append(out.Open, f.Open...)
		out.High = append(out.High, f.High...)
		out.Low = append(out.Low, f.Low...)
		out.Close = append(out.Close, f.Close...)
		out.Volume = append(out.Volume, f.Volume...)
		for _, name := range out.order {
			col := out.cols[name]
			if src := f.Col(name); src != nil {
				col = append(col, src...)
			} else {
				col = append(col, NaNs(f.Len())...)
			}
			out.cols[name] = col
		}
	}
	return out
}

// Chunks 将排序后的表按分组边界拆成至多 n 份，供上层并行调度；
// 同一 (product, resolution) 永远不会被拆到两份里。
func (f *Frame) Chunks(n int) []*Frame {
	groups := f.Groups()
	if n <= 1 || len(groups) <= 1 {
		if f.Len() == 0 {
			return nil
		}
		return []*Frame{f.Slice(0, f.Len())}
	}
	if n > len(groups) {
		n = len(groups)
	}
	per := (len(groups) + n - 1) / n
	var out []*Frame
	for i := 0; i < len(groups); i += per {
		j := i + per
		if j > len(groups) {
			j = len(groups)
		}
		out = append(out, f.Slice(groups[i].Start, groups[j-1].End))
	}
	return out
}

func reorderInt64(src []int64, idx []int) []int64 {
	out := make([]int64, len(src))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func reorderString(src []string, idx []int) []string {
	out := make([]string, len(src))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func reorderFloat(src []float64, idx []int) []float64 {
	out := make([]float64, len(src))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}
