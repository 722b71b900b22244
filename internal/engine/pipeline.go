package engine

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"vecbt/internal/frame"
)

// Pipeline 持有一张行情表，按 信号 → 下单 → 平仓 → 止盈止损 的顺序
// 对其做整段模拟。四个阶段也可以单独调用，Run 则按 (product,
// resolution) 分组完整跑一遍并做收尾清理。
type Pipeline struct {
	cfg Config
	f   *frame.Frame
}

// NewPipeline 校验配置后构造 Pipeline，表会先按索引排序。
func NewPipeline(f *frame.Frame, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.SortByIndex()
	return &Pipeline{cfg: cfg, f: f}, nil
}

// Frame 返回 Pipeline 持有的表。
func (p *Pipeline) Frame() *frame.Frame { return p.f }

// Config 返回构造时的配置副本。
func (p *Pipeline) Config() Config { return p.cfg }

func (p *Pipeline) CreateSignal(in SignalInput) error { return CreateSignal(p.f, p.cfg, in) }
func (p *Pipeline) OpenPosition(in OpenInput) error   { return OpenPosition(p.f, p.cfg, in) }
func (p *Pipeline) ClosePosition() error              { return ClosePosition(p.f, p.cfg) }
func (p *Pipeline) EvaluateStops() error              { return EvaluateStops(p.f, p.cfg) }

// Run 对每个 (product, resolution) 分组独立执行四个阶段。
// 输入序列与整表等长，按分组切片后下发；分组之间互不影响，
// 同一输入重复 Run 的产出逐字节一致。
func (p *Pipeline) Run(sig SignalInput, open OpenInput) error {
	for _, g := range p.f.Groups() {
		view := p.f.Slice(g.Start, g.End)
		gSig := SignalInput{
			Buy:       sliceBool(sig.Buy, g.Start, g.End),
			Sell:      sliceBool(sig.Sell, g.Start, g.End),
			Signal:    sliceFloat(sig.Signal, g.Start, g.End),
			FirstOnly: sig.FirstOnly,
		}
		gOpen := OpenInput{
			OrderPrice: sliceFloat(open.OrderPrice, g.Start, g.End),
			OrderQty:   sliceFloat(open.OrderQty, g.Start, g.End),
		}
		if err := CreateSignal(view, p.cfg, gSig); err != nil {
			return err
		}
		if err := OpenPosition(view, p.cfg, gOpen); err != nil {
			return err
		}
		if err := ClosePosition(view, p.cfg); err != nil {
			return err
		}
		if err := EvaluateStops(view, p.cfg); err != nil {
			return err
		}
		// 视图上新建的列切片不共享底层数组，逐列拷回原表。
		for _, name := range view.Columns() {
			dst := p.f.EnsureCol(name)
			copy(dst[g.Start:g.End], view.Col(name))
		}
	}
	p.finish()
	return nil
}

// RunVectorized 是批量驱动入口：按分组边界把表拆成至多 workers 块，
// 各块在独立副本上完整跑一遍管道，最后按原顺序拼接返回。块边界永远
// 不切开同一 (product, resolution)，因此结果与串行执行逐字节一致。
// 单块时直接在 f 上原地执行。
func RunVectorized(ctx context.Context, f *frame.Frame, cfg Config, sig SignalInput, open OpenInput, workers int) (*frame.Frame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.SortByIndex()
	groups := f.Groups()
	if workers <= 1 || len(groups) <= 1 {
		p, err := NewPipeline(f, cfg)
		if err != nil {
			return nil, err
		}
		if err := p.Run(sig, open); err != nil {
			return nil, err
		}
		return f, nil
	}
	if workers > len(groups) {
		workers = len(groups)
	}
	per := (len(groups) + workers - 1) / workers
	type span struct{ start, end int }
	var spans []span
	for i := 0; i < len(groups); i += per {
		j := i + per
		if j > len(groups) {
			j = len(groups)
		}
		spans = append(spans, span{start: groups[i].Start, end: groups[j-1].End})
	}
	chunks := make([]*frame.Frame, len(spans))
	for i, sp := range spans {
		chunks[i] = f.Slice(sp.start, sp.end).Clone()
	}
	eg, egCtx := errgroup.WithContext(ctx)
	for i, sp := range spans {
		i, sp := i, sp
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			p, err := NewPipeline(chunks[i], cfg)
			if err != nil {
				return err
			}
			return p.Run(SignalInput{
				Buy:       sliceBool(sig.Buy, sp.start, sp.end),
				Sell:      sliceBool(sig.Sell, sp.start, sp.end),
				Signal:    sliceFloat(sig.Signal, sp.start, sp.end),
				FirstOnly: sig.FirstOnly,
			}, OpenInput{
				OrderPrice: sliceFloat(open.OrderPrice, sp.start, sp.end),
				OrderQty:   sliceFloat(open.OrderQty, sp.start, sp.end),
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return frame.Concat(chunks...), nil
}

// finish 丢弃内部暂存列，并保证价格与数量成对出现。
func (p *Pipeline) finish() {
	p.f.DropCol(colRawTradeSize)
	pairNaN(p.f.Col(ColOrderPrice), p.f.Col(ColOrderSize))
	pairNaN(p.f.Col(ColTradePrice), p.f.Col(ColTradeSize))
}

func pairNaN(a, b []float64) {
	if a == nil || b == nil {
		return
	}
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			a[i] = math.NaN()
			b[i] = math.NaN()
		}
	}
}

func sliceBool(x []bool, start, end int) []bool {
	if x == nil {
		return nil
	}
	return x[start:end]
}

func sliceFloat(x []float64, start, end int) []float64 {
	if x == nil {
		return nil
	}
	return x[start:end]
}
