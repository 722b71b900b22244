package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"vecbt/internal/logger"
	"vecbt/internal/market"
)

// ServiceConfig 配置数据补齐服务。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 管理 K 线补数任务：先做完整性检查，只对缺口区间限速拉取并写库，
// 同时对外暴露任务进度。回测开始前数据必须就绪，模拟核心内部不做任何 I/O。
type Service struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	slots   chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		perSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource, len(cfg.Sources)),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(perSec, maxBatch),
		slots:           make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for name, src := range cfg.Sources {
		svc.sources[strings.ToLower(name)] = src
	}
	if svc.defaultExchange == "" {
		for name := range svc.sources {
			svc.defaultExchange = name
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) resolveSource(exchange string) (CandleSource, error) {
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return nil, fmt.Errorf("未知数据源: %s", exchange)
	}
	return src, nil
}

// SubmitFetch 提交补数任务。区间先对齐到周期网格；已完整的区间直接标记完成，
// 不会触发远端拉取。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	src, err := s.resolveSource(params.Exchange)
	if err != nil {
		return FetchJob{}, err
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	params.Start = start
	params.End = end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	total := report.Expected
	completed := report.Present
	if completed > total {
		completed = total
	}
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     total,
		Completed: completed,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[data] 任务 %s 提交：%s %s [%d,%d] 预计=%d 缺口=%d", job.ID, params.Symbol, params.Timeframe, start, end, total, len(report.Gaps))

	if total == 0 || report.Complete() {
		s.markJob(job.ID, JobStatusDone, "数据已完整，无需重新拉取", report.Gaps)
		return job.copy(), nil
	}

	go s.executeJob(job.ID, tf, report, src)
	return job.copy(), nil
}

func (s *Service) executeJob(jobID string, tf Timeframe, report IntegrityReport, source CandleSource) {
	select {
	case s.slots <- struct{}{}:
	case <-s.ctx().Done():
		s.markJob(jobID, JobStatusFailed, "服务已关闭", nil)
		return
	}
	defer func() { <-s.slots }()

	job := s.lookupJob(jobID)
	if job == nil {
		return
	}
	logger.Infof("[data] 任务 %s 开始，缺口=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	var warnings []string
	for _, gap := range report.Gaps {
		ws, err := s.fillGap(ctx, jobID, params, tf, gap, source)
		warnings = append(warnings, ws...)
		if err != nil {
			s.markJob(jobID, JobStatusFailed, err.Error(), nil)
			return
		}
	}

	finalReport, err := s.store.CheckIntegrity(ctx, params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status := JobStatusDone
	message := "拉取完成"
	if err != nil {
		status = JobStatusFailed
		warnings = append(warnings, "完整性检查失败: "+err.Error())
	} else if !finalReport.Complete() {
		status = JobStatusPartial
		message = "已完成，但仍存在缺口"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, finalReport.Gaps...)
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[data] 任务 %s 完成，状态=%s，缺口=%d", jobID, status, len(finalReport.Gaps))
}

// fillGap 从 gap.From 向后逐批补齐到 gap.To。返回的 error 视为任务级失败；
// 拉取为空或写入零行只记 warning 并放弃当前缺口。
func (s *Service) fillGap(ctx context.Context, jobID string, params FetchParams, tf Timeframe, gap Gap, source CandleSource) ([]string, error) {
	step := tf.durationMillis()
	var warnings []string
	for cursor := gap.From; cursor <= gap.To; {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return warnings, err
		}
		data, err := source.Fetch(ctx, FetchRequest{
			Symbol:   params.Symbol,
			Interval: tf.SourceInterval,
			Start:    cursor,
			End:      gap.To,
			Limit:    s.batchLimit(cursor, gap.To, step),
		})
		if err != nil {
			return warnings, fmt.Errorf("%s 拉取失败: %w", source.Name(), err)
		}
		if len(data) == 0 {
			warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
			break
		}
		inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
		if err != nil {
			return warnings, fmt.Errorf("写入失败: %w", err)
		}
		cursor = data[len(data)-1].OpenTime + step
		s.updateJob(jobID, func(j *FetchJob) {
			j.Completed += int64(inserted)
			j.UpdatedAt = time.Now()
			if len(warnings) > 0 {
				j.Warnings = warnings
			}
		})
		if inserted == 0 {
			break
		}
	}
	return warnings, nil
}

func (s *Service) batchLimit(cursor, end, step int64) int {
	n := int((end-cursor)/step) + 1
	if n < 1 {
		n = 1
	}
	if n > s.maxBatch {
		n = s.maxBatch
	}
	return n
}

func (s *Service) markJob(jobID, status, message string, gaps []Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) lookupJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}

// AllCandles 返回完整数据集。
func (s *Service) AllCandles(ctx context.Context, symbol, timeframe string) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.ListAllCandles(ctx, symbol, timeframe)
}
