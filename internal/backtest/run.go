package backtest

import (
	"encoding/json"
	"time"

	"vecbt/internal/engine"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// EngineParams 是 engine.Config 的 JSON 快照，持久化后可精确重放。
type EngineParams struct {
	FillRatio      float64 `json:"fill_ratio"`
	Slippage       float64 `json:"slippage"`
	StopLoss       float64 `json:"stop_loss"`
	TakeProfit     float64 `json:"take_profit"`
	LongOnly       bool    `json:"long_only"`
	ShortOnly      bool    `json:"short_only"`
	FirstTradeOnly bool    `json:"first_trade_only"`
	NaNSignal      bool    `json:"nan_signal"`
	IgnoreSizing   bool    `json:"ignore_sizing"`
	Closing        string  `json:"closing"`
}

// ToEngine 还原为引擎配置。
func (p EngineParams) ToEngine() engine.Config {
	cfg := engine.Config{
		FillRatio:      p.FillRatio,
		Slippage:       p.Slippage,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		LongOnly:       p.LongOnly,
		ShortOnly:      p.ShortOnly,
		FirstTradeOnly: p.FirstTradeOnly,
		NaNSignal:      p.NaNSignal,
		IgnoreSizing:   p.IgnoreSizing,
		Closing:        engine.ClosingMode(p.Closing),
	}
	if cfg.FillRatio == 0 {
		cfg.FillRatio = 1
	}
	if cfg.Closing == "" {
		cfg.Closing = engine.ClosingVectorized
	}
	return cfg
}

// EngineParamsFrom 生成快照。
func EngineParamsFrom(cfg engine.Config) EngineParams {
	return EngineParams{
		FillRatio:      cfg.FillRatio,
		Slippage:       cfg.Slippage,
		StopLoss:       cfg.StopLoss,
		TakeProfit:     cfg.TakeProfit,
		LongOnly:       cfg.LongOnly,
		ShortOnly:      cfg.ShortOnly,
		FirstTradeOnly: cfg.FirstTradeOnly,
		NaNSignal:      cfg.NaNSignal,
		IgnoreSizing:   cfg.IgnoreSizing,
		Closing:        string(cfg.Closing),
	}
}

// RunConfig 记录本次模拟的参数快照，便于重放。
type RunConfig struct {
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	StartTS        int64              `json:"start_ts"`
	EndTS          int64              `json:"end_ts"`
	Strategy       string             `json:"strategy"`
	StrategyParams map[string]float64 `json:"strategy_params,omitempty"`
	InitialBalance float64            `json:"initial_balance"`
	Engine         EngineParams       `json:"engine"`
	Notes          string             `json:"notes,omitempty"`
}

// RunStats 汇总收益与一致性指标，供前端展示。
type RunStats struct {
	Bars            int       `json:"bars"`
	Orders          int       `json:"orders"`
	Trades          int       `json:"trades"`
	Flips           int       `json:"flips"`
	StopExits       int       `json:"stop_exits"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	WinRatePct      float64   `json:"win_rate_pct"`
	FinalBalance    float64   `json:"final_balance"`
	Profit          float64   `json:"profit"`
	ReturnPct       float64   `json:"return_pct"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	EquityPeak      float64   `json:"equity_peak"`
	EquityValley    float64   `json:"equity_valley"`
	ConsistencyOK   bool      `json:"consistency_ok"`
	ConsistencyNote string    `json:"consistency_note,omitempty"`
	Notes           []string  `json:"notes,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Run 表示一次模拟任务。
type Run struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	Strategy       string    `json:"strategy"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Stats          RunStats  `json:"stats"`
	Trades         int       `json:"trades"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalStats 返回 stats JSON。
func (r Run) MarshalStats() ([]byte, error) {
	return json.Marshal(r.Stats)
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Trade 记录一笔成交（含止损/止盈触发的平仓）。
type Trade struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Side     int     `json:"side"` // 1 多 / -1 空 / 0 平
	Position float64 `json:"position"`
	AvgPrice float64 `json:"avg_price,omitempty"`
	Reason   string  `json:"reason"` // signal/flip/stop_loss/take_profit
}

// EquityPoint 保存资金曲线上的一个点。
type EquityPoint struct {
	ID       int64   `json:"id"`
	RunID    string  `json:"run_id"`
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
	Position float64 `json:"position"`
}

// RunRequest 为 HTTP 提交使用。Profile 指向策略 profile，
// 其字段可被请求内显式值覆盖。
type RunRequest struct {
	Profile        string             `json:"profile"`
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	StartTS        int64              `json:"start_ts" binding:"required"`
	EndTS          int64              `json:"end_ts" binding:"required"`
	Strategy       string             `json:"strategy"`
	StrategyParams map[string]float64 `json:"strategy_params"`
	InitialBalance float64            `json:"initial_balance"`
	Engine         *EngineParams      `json:"engine"`
	Notes          string             `json:"notes"`
}
