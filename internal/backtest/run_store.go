package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ResultStore 管理 runs/trades/equity 三张表，基于 Gorm + SQLite。
type ResultStore struct {
	db   *gorm.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &equityModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type runModel struct {
	ID             string  `gorm:"column:id;primaryKey"`
	Symbol         string  `gorm:"column:symbol;index"`
	Timeframe      string  `gorm:"column:timeframe"`
	Strategy       string  `gorm:"column:strategy"`
	Status         string  `gorm:"column:status;index"`
	StartTS        int64   `gorm:"column:start_ts"`
	EndTS          int64   `gorm:"column:end_ts"`
	InitialBalance float64 `gorm:"column:initial_balance"`
	FinalBalance   float64 `gorm:"column:final_balance"`
	Profit         float64 `gorm:"column:profit"`
	ReturnPct      float64 `gorm:"column:return_pct"`
	MaxDrawdownPct float64 `gorm:"column:max_drawdown"`
	Trades         int     `gorm:"column:trades"`
	ConfigJSON     string  `gorm:"column:config_json"`
	StatsJSON      string  `gorm:"column:stats_json"`
	Message        string  `gorm:"column:message"`
	CreatedAtUnix  int64   `gorm:"column:created_at;index"`
	UpdatedAtUnix  int64   `gorm:"column:updated_at"`
	CompletedUnix  int64   `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Price    float64 `gorm:"column:price"`
	Size     float64 `gorm:"column:size"`
	Side     int     `gorm:"column:side"`
	Position float64 `gorm:"column:position"`
	AvgPrice float64 `gorm:"column:avg_price"`
	Reason   string  `gorm:"column:reason"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type equityModel struct {
	ID       int64   `gorm:"column:id;primaryKey"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Drawdown float64 `gorm:"column:drawdown"`
	Position float64 `gorm:"column:position"`
}

func (equityModel) TableName() string { return "backtest_equity" }

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	statsJSON, err := run.MarshalStats()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	model := runModel{
		ID:             run.ID,
		Symbol:         run.Symbol,
		Timeframe:      run.Timeframe,
		Strategy:       run.Strategy,
		Status:         run.Status,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialBalance: run.InitialBalance,
		FinalBalance:   run.FinalBalance,
		Profit:         run.Profit,
		ReturnPct:      run.ReturnPct,
		MaxDrawdownPct: run.MaxDrawdownPct,
		Trades:         run.Trades,
		ConfigJSON:     string(cfgJSON),
		StatsJSON:      string(statsJSON),
		Message:        run.Message,
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	if !run.CompletedAt.IsZero() {
		model.CompletedUnix = run.CompletedAt.UnixMilli()
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunSummary 更新状态与最终指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	payload := map[string]interface{}{
		"status":        status,
		"final_balance": stats.FinalBalance,
		"profit":        stats.Profit,
		"return_pct":    stats.ReturnPct,
		"max_drawdown":  stats.MaxDrawdownPct,
		"trades":        stats.Trades,
		"stats_json":    string(statsJSON),
		"message":       message,
		"updated_at":    now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		payload["completed_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	now := time.Now().UnixMilli()
	payload := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		payload["completed_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// InsertTrades 批量写入成交明细。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []Trade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	if len(trades) == 0 {
		return nil
	}
	models := make([]tradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, tradeModel{
			RunID:    runID,
			TS:       t.TS,
			Price:    t.Price,
			Size:     t.Size,
			Side:     t.Side,
			Position: t.Position,
			AvgPrice: t.AvgPrice,
			Reason:   t.Reason,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 200).Error
}

// InsertEquity 批量写入资金曲线。
func (s *ResultStore) InsertEquity(ctx context.Context, runID string, points []EquityPoint) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	if len(points) == 0 {
		return nil
	}
	models := make([]equityModel, 0, len(points))
	for _, p := range points {
		models = append(models, equityModel{
			RunID:    runID,
			TS:       p.TS,
			Equity:   p.Equity,
			Drawdown: p.Drawdown,
			Position: p.Position,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 500).Error
}

// ListRuns 按创建时间倒序返回 run 列表。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := runModelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// GetRun 按 ID 读取单条 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	if s == nil || s.db == nil {
		return Run{}, fmt.Errorf("result store 未初始化")
	}
	var model runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		return Run{}, err
	}
	return runModelToRun(model)
}

// RunExists 判断 run 是否存在。
func (s *ResultStore) RunExists(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("result store 未初始化")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListTrades 按写入顺序返回成交明细。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]Trade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 2000 {
		limit = 500
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(models))
	for _, m := range models {
		out = append(out, Trade{
			ID:       m.ID,
			RunID:    runID,
			TS:       m.TS,
			Price:    m.Price,
			Size:     m.Size,
			Side:     m.Side,
			Position: m.Position,
			AvgPrice: m.AvgPrice,
			Reason:   m.Reason,
		})
	}
	return out, nil
}

// ListEquity 按时间顺序返回资金曲线。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquityPoint, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store 未初始化")
	}
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []equityModel
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]EquityPoint, 0, len(models))
	for _, m := range models {
		out = append(out, EquityPoint{
			ID:       m.ID,
			RunID:    runID,
			TS:       m.TS,
			Equity:   m.Equity,
			Drawdown: m.Drawdown,
			Position: m.Position,
		})
	}
	return out, nil
}

// DeleteRun 删除 run 及其明细。
func (s *ResultStore) DeleteRun(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store 未初始化")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&tradeModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&equityModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&runModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// IsNotFound 判断是否为记录不存在错误。
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func runModelToRun(m runModel) (Run, error) {
	run := Run{
		ID:             m.ID,
		Symbol:         m.Symbol,
		Timeframe:      m.Timeframe,
		Strategy:       m.Strategy,
		Status:         m.Status,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialBalance: m.InitialBalance,
		FinalBalance:   m.FinalBalance,
		Profit:         m.Profit,
		ReturnPct:      m.ReturnPct,
		MaxDrawdownPct: m.MaxDrawdownPct,
		Trades:         m.Trades,
		Message:        m.Message,
		CreatedAt:      millisToTime(m.CreatedAtUnix),
		UpdatedAt:      millisToTime(m.UpdatedAtUnix),
	}
	if m.CompletedUnix > 0 {
		run.CompletedAt = millisToTime(m.CompletedUnix)
	}
	if m.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(m.ConfigJSON), &run.Config); err != nil {
			return Run{}, err
		}
	}
	if m.StatsJSON != "" {
		if err := json.Unmarshal([]byte(m.StatsJSON), &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func millisToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
