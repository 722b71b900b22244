package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vecbt/internal/engine"
	"vecbt/internal/frame"
	"vecbt/internal/logger"
)

type SimulatorConfig struct {
	CandleStore *Store
	ResultStore *ResultStore
	Fetcher     *Service
	// Defaults 作为 run 未显式覆盖时的引擎参数。
	Defaults EngineParams
	// Workers 批量驱动的并行分块数。
	Workers       int
	MaxConcurrent int
	// InitialBalance 是请求未指定时的默认初始资金。
	InitialBalance float64
}

// Simulator 负责把历史 K 线 + 信号策略推演成成交、仓位与资金曲线。
// 每个 run 同时走批量与逐笔两条路径，并在落库前做一致性校验，
// 任何一列出现分歧立即终止。
type Simulator struct {
	store    *Store
	results  *ResultStore
	fetcher  *Service
	defaults EngineParams
	workers  int
	balance  float64

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.CandleStore == nil {
		return nil, fmt.Errorf("candle store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if err := cfg.Defaults.ToEngine().Validate(); err != nil {
		return nil, fmt.Errorf("默认引擎参数非法: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	balance := cfg.InitialBalance
	if balance <= 0 {
		balance = 10000
	}
	return &Simulator{
		store:    cfg.CandleStore,
		results:  cfg.ResultStore,
		fetcher:  cfg.Fetcher,
		defaults: cfg.Defaults,
		workers:  workers,
		balance:  balance,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	if req.Symbol == "" {
		return Run{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(req.Timeframe)
	if err != nil {
		return Run{}, fmt.Errorf("timeframe 无效: %w", err)
	}
	start, end := tf.AlignRange(req.StartTS, req.EndTS)
	if start <= 0 || end <= 0 || end <= start {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	// 提前构造一次策略，参数错误在提交时就暴露。
	if _, err := NewStrategyRunner(req.Strategy, req.StrategyParams); err != nil {
		return Run{}, err
	}
	params := s.defaults
	if req.Engine != nil {
		params = *req.Engine
	}
	engineCfg := params.ToEngine()
	if err := engineCfg.Validate(); err != nil {
		return Run{}, err
	}
	initialBalance := req.InitialBalance
	if initialBalance <= 0 {
		initialBalance = s.balance
	}

	cfg := RunConfig{
		Symbol:         strings.ToUpper(req.Symbol),
		Timeframe:      tf.Key,
		StartTS:        start,
		EndTS:          end,
		Strategy:       req.Strategy,
		StrategyParams: req.StrategyParams,
		InitialBalance: initialBalance,
		Engine:         EngineParamsFrom(engineCfg),
		Notes:          req.Notes,
	}
	run := Run{
		ID:             uuid.NewString(),
		Symbol:         cfg.Symbol,
		Timeframe:      cfg.Timeframe,
		Strategy:       cfg.Strategy,
		Status:         RunStatusPending,
		StartTS:        start,
		EndTS:          end,
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		Config:         cfg,
		Stats:          RunStats{FinalBalance: initialBalance},
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "准备数据…")
	runner := newSimRunner(s.store, s.results, s.fetcher, cfg, s.workers)
	if err := runner.Run(ctx, runID); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

type simRunner struct {
	store   *Store
	results *ResultStore
	fetcher *Service
	cfg     RunConfig
	workers int
}

func newSimRunner(store *Store, results *ResultStore, fetcher *Service, cfg RunConfig, workers int) *simRunner {
	return &simRunner{store: store, results: results, fetcher: fetcher, cfg: cfg, workers: workers}
}

func (r *simRunner) Run(ctx context.Context, runID string) error {
	tf, err := ParseTimeframe(r.cfg.Timeframe)
	if err != nil {
		return err
	}
	strat, err := NewStrategyRunner(r.cfg.Strategy, r.cfg.StrategyParams)
	if err != nil {
		return err
	}
	// 预热段放在 StartTS 之前，保证首个可交易 K 线就有信号可看。
	warmStart := r.cfg.StartTS - int64(strat.MinBars()+5)*tf.durationMillis()
	if warmStart < 0 {
		warmStart = 0
	}
	if err := r.ensureTimeframeData(ctx, runID, tf, warmStart, r.cfg.EndTS); err != nil {
		return err
	}
	candles, err := r.store.RangeCandles(ctx, r.cfg.Symbol, tf.Key, warmStart, r.cfg.EndTS)
	if err != nil {
		return err
	}
	if len(candles) < strat.MinBars()+2 {
		return fmt.Errorf("%s %s 数据不足: 只有 %d 条，预热需要 %d", r.cfg.Symbol, tf.Key, len(candles), strat.MinBars())
	}

	f := frame.FromCandles(r.cfg.Symbol, tf.Key, candles)
	engineCfg := r.cfg.Engine.ToEngine()
	sig := strat.BatchInput(f.Close)

	_ = r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, fmt.Sprintf("批量模拟 %d 根 K 线…", f.Len()))
	batch, err := engine.RunVectorized(ctx, f, engineCfg, sig, engine.OpenInput{}, r.workers)
	if err != nil {
		return err
	}

	_ = r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "逐笔重放…")
	inc, err := engine.NewIncremental(engineCfg, false)
	if err != nil {
		return err
	}
	strat.Reset()
	for i, c := range candles {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		bar := engine.Bar{TS: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
		if _, err := inc.Step(bar, strat.BarInput(c.Close)); err != nil {
			return err
		}
	}

	if err := engine.AssertConsistentSignals(strat.Name(), batch, inc); err != nil {
		var cerr *engine.ConsistencyError
		if errors.As(err, &cerr) {
			logger.Errorf("[backtest] run %s 一致性校验失败: %v", runID, cerr)
		}
		return err
	}

	trades, equity, stats := r.settle(batch)
	stats.ConsistencyOK = true
	stats.FinishedAt = time.Now()

	if err := r.results.InsertTrades(ctx, runID, trades); err != nil {
		return err
	}
	if err := r.results.InsertEquity(ctx, runID, equity); err != nil {
		return err
	}
	if err := r.results.UpdateRunSummary(ctx, runID, RunStatusDone, stats, "完成"); err != nil {
		return err
	}
	logger.Infof("[backtest] run %s 完成: trades=%d return=%.2f%% maxDD=%.2f%%", runID, stats.Trades, stats.ReturnPct, stats.MaxDrawdownPct)
	return nil
}

// settle 把批量产出的列折算为成交明细、资金曲线与汇总指标。
// 现金按 decimal 精确累计，避免长序列上的浮点漂移。
func (r *simRunner) settle(f *frame.Frame) ([]Trade, []EquityPoint, RunStats) {
	n := f.Len()
	orderSize := f.Col(engine.ColOrderSize)
	tradePrice := f.Col(engine.ColTradePrice)
	tradeSize := f.Col(engine.ColTradeSize)
	position := f.Col(engine.ColPosition)
	avgPrice := f.Col(engine.ColAvgPrice)
	slPrice := f.Col(engine.ColSLPrice)
	tpPrice := f.Col(engine.ColTPPrice)

	initial := decimal.NewFromFloat(r.cfg.InitialBalance)
	cash := initial
	peak := r.cfg.InitialBalance
	valley := r.cfg.InitialBalance
	maxDD := 0.0

	var trades []Trade
	var equity []EquityPoint
	stats := RunStats{Bars: n}

	prevSide := 0.0
	prevPos := 0.0
	lastAvg := math.NaN()
	for i := 0; i < n; i++ {
		if orderSize != nil && !math.IsNaN(orderSize[i]) {
			stats.Orders++
		}
		if tradeSize != nil && !math.IsNaN(tradeSize[i]) && !math.IsNaN(tradePrice[i]) {
			cost := decimal.NewFromFloat(tradePrice[i]).Mul(decimal.NewFromFloat(tradeSize[i]))
			cash = cash.Sub(cost)
			reason := r.tradeReason(i, tradeSize[i], position[i], prevSide, slPrice, tpPrice, tradePrice[i])
			if reason == "stop_loss" || reason == "take_profit" {
				stats.StopExits++
			}
			if reason == "flip" {
				stats.Flips++
			}
			// 离场成交按上一 streak 的均价结算已实现盈亏，计入胜率。
			if reason != "signal" && prevSide != 0 && !math.IsNaN(lastAvg) {
				closed := math.Min(math.Abs(tradeSize[i]), math.Abs(prevPos))
				realized := (tradePrice[i] - lastAvg) * closed * prevSide
				if realized > 0 {
					stats.Wins++
				} else if realized < 0 {
					stats.Losses++
				}
			}
			avg := 0.0
			if avgPrice != nil && !math.IsNaN(avgPrice[i]) {
				avg = avgPrice[i]
			}
			trades = append(trades, Trade{
				TS:       f.TS[i],
				Price:    tradePrice[i],
				Size:     tradeSize[i],
				Side:     int(frame.Sign(tradeSize[i])),
				Position: position[i],
				AvgPrice: avg,
				Reason:   reason,
			})
		}
		if position != nil && position[i] != 0 {
			prevSide = frame.Sign(position[i])
			prevPos = position[i]
		} else if position != nil {
			prevSide = 0
			prevPos = 0
		}
		if avgPrice != nil && !math.IsNaN(avgPrice[i]) {
			lastAvg = avgPrice[i]
		}

		pos := 0.0
		if position != nil {
			pos = position[i]
		}
		eq := cash.Add(decimal.NewFromFloat(pos).Mul(decimal.NewFromFloat(f.Close[i]))).InexactFloat64()
		if eq > peak {
			peak = eq
		}
		if eq < valley {
			valley = eq
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - eq) / peak * 100
		}
		if dd > maxDD {
			maxDD = dd
		}
		if f.TS[i] >= r.cfg.StartTS {
			equity = append(equity, EquityPoint{TS: f.TS[i], Equity: eq, Drawdown: dd, Position: pos})
		}
	}

	final := r.cfg.InitialBalance
	if len(equity) > 0 {
		final = equity[len(equity)-1].Equity
	}
	stats.Trades = len(trades)
	stats.FinalBalance = final
	stats.Profit = final - r.cfg.InitialBalance
	if r.cfg.InitialBalance > 0 {
		stats.ReturnPct = stats.Profit / r.cfg.InitialBalance * 100
	}
	stats.MaxDrawdownPct = maxDD
	stats.EquityPeak = peak
	stats.EquityValley = valley
	if exits := stats.Wins + stats.Losses; exits > 0 {
		stats.WinRatePct = float64(stats.Wins) / float64(exits) * 100
	}
	return trades, equity, stats
}

// tradeReason 给成交打标签：止盈止损优先，其次反手/平仓，兜底为信号单。
func (r *simRunner) tradeReason(i int, size, posAfter, prevSide float64, slPrice, tpPrice []float64, price float64) string {
	if slPrice != nil && !math.IsNaN(slPrice[i]) && slPrice[i] == price && posAfter == 0 {
		return "stop_loss"
	}
	if tpPrice != nil && !math.IsNaN(tpPrice[i]) && tpPrice[i] == price && posAfter == 0 {
		return "take_profit"
	}
	sd := frame.Sign(size)
	if prevSide != 0 && sd != 0 && sd != prevSide {
		if posAfter == 0 {
			return "close"
		}
		return "flip"
	}
	return "signal"
}

func (r *simRunner) ensureTimeframeData(ctx context.Context, runID string, tf Timeframe, start, end int64) error {
	report, err := r.store.CheckIntegrity(ctx, r.cfg.Symbol, tf.Key, tf, start, end)
	if err != nil {
		return err
	}
	if report.Complete() {
		return nil
	}
	if r.fetcher == nil {
		return fmt.Errorf("%s %s 数据缺失（%d 段），未配置拉取服务", r.cfg.Symbol, tf.Key, len(report.Gaps))
	}
	job, err := r.fetcher.SubmitFetch(FetchParams{
		Symbol:    r.cfg.Symbol,
		Timeframe: tf.Key,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return err
	}
	return r.waitFetchJob(ctx, runID, job, tf, start, end)
}

func (r *simRunner) waitFetchJob(ctx context.Context, runID string, job FetchJob, tf Timeframe, start, end int64) error {
	updateProgress := func(j FetchJob) {
		message := fmt.Sprintf("下载 %s %s: %s", j.Params.Symbol, j.Params.Timeframe, j.Status)
		if j.Total > 0 {
			percent := float64(j.Completed) / float64(j.Total) * 100
			message = fmt.Sprintf("下载 %s %s: %.1f%%", j.Params.Symbol, j.Params.Timeframe, percent)
		}
		if err := r.results.UpdateRunStatus(ctx, runID, RunStatusRunning, message); err != nil {
			logger.Debugf("update run status failed: %v", err)
		}
	}

	checkFinal := func() error {
		finalReport, err := r.store.CheckIntegrity(ctx, r.cfg.Symbol, tf.Key, tf, start, end)
		if err != nil {
			return err
		}
		if !finalReport.Complete() {
			return fmt.Errorf("%s %s 数据仍缺失（%d 段）", r.cfg.Symbol, tf.Key, len(finalReport.Gaps))
		}
		return nil
	}

	updateProgress(job)
	if job.Status == JobStatusDone {
		return checkFinal()
	}
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, ok := r.fetcher.JobSnapshot(job.ID)
			if !ok {
				continue
			}
			updateProgress(snap)
			switch snap.Status {
			case JobStatusDone:
				return checkFinal()
			case JobStatusFailed:
				if snap.Message != "" {
					return fmt.Errorf("下载 %s %s 失败: %s", r.cfg.Symbol, tf.Key, snap.Message)
				}
				return fmt.Errorf("下载 %s %s 失败", r.cfg.Symbol, tf.Key)
			case JobStatusPartial:
				return fmt.Errorf("下载 %s %s 未完成，缺口=%d", r.cfg.Symbol, tf.Key, len(snap.Missing))
			}
		}
	}
}
