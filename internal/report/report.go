package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"
	colorBuy           = "#34d399"
	colorSell          = "#f87171"

	chartWidthPx    = 1400
	equityHeightPx  = 520
	drawdownHeight  = 260
	positionHeight  = 260
)

// Point 是资金曲线上的一个采样。
type Point struct {
	TS       int64
	Equity   float64
	Drawdown float64
	Position float64
}

// Marker 是一笔成交在图上的标记。
type Marker struct {
	TS     int64
	Price  float64
	Size   float64
	Reason string
}

// Input 汇集一次回测的可视化素材。
type Input struct {
	Title    string
	Subtitle string
	Points   []Point
	Trades   []Marker
}

// Render 生成单页 HTML 报告：资金曲线（叠加成交标记）、回撤、仓位。
func Render(w io.Writer, in Input) error {
	if len(in.Points) == 0 {
		return fmt.Errorf("报告没有资金曲线数据")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := make([]string, len(in.Points))
	for i, p := range in.Points {
		xAxis[i] = time.UnixMilli(p.TS).UTC().Format("01-02 15:04")
	}

	page.AddCharts(
		buildEquityChart(in, xAxis),
		buildDrawdownChart(in, xAxis),
		buildPositionChart(in, xAxis),
	)
	return page.Render(w)
}

func buildEquityChart(in Input, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         in.Title,
			Subtitle:      in.Subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	data := make([]opts.LineData, len(in.Points))
	for i, p := range in.Points {
		data[i] = opts.LineData{Value: p.Equity}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
	)
	if markers := buildTradeMarkers(in); markers != nil {
		line.Overlap(markers)
	}
	return line
}

// buildTradeMarkers 把成交对齐到最近的资金曲线采样上，买卖分色。
func buildTradeMarkers(in Input) *charts.Scatter {
	if len(in.Trades) == 0 {
		return nil
	}
	buys := make([]opts.ScatterData, 0, len(in.Trades))
	sells := make([]opts.ScatterData, 0, len(in.Trades))
	for _, t := range in.Trades {
		idx := nearestIndex(in.Points, t.TS)
		if idx < 0 {
			continue
		}
		d := opts.ScatterData{
			Value:      []interface{}{idx, in.Points[idx].Equity},
			Symbol:     "triangle",
			SymbolSize: 10,
			Name:       fmt.Sprintf("%s %.4f", strings.ToUpper(t.Reason), t.Size),
		}
		if t.Size >= 0 {
			buys = append(buys, d)
		} else {
			d.SymbolRotate = 180
			sells = append(sells, d)
		}
	}
	scatter := charts.NewScatter()
	if len(buys) > 0 {
		scatter.AddSeries("Buy", buys, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorBuy}))
	}
	if len(sells) > 0 {
		scatter.AddSeries("Sell", sells, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSell}))
	}
	return scatter
}

func buildDrawdownChart(in Input, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeight),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.LineData, len(in.Points))
	for i, p := range in.Points {
		data[i] = opts.LineData{Value: -p.Drawdown}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Drawdown", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.2)}),
	)
	return line
}

func buildPositionChart(in Input, xAxis []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", positionHeight),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Position", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.BarData, len(in.Points))
	for i, p := range in.Points {
		color := colorBuy
		if p.Position < 0 {
			color = colorSell
		}
		data[i] = opts.BarData{
			Value:     p.Position,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Position", data)
	return bar
}

func nearestIndex(points []Point, ts int64) int {
	lo, hi := 0, len(points)-1
	if hi < 0 {
		return -1
	}
	for lo < hi {
		mid := (lo + hi) / 2
		if points[mid].TS < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
