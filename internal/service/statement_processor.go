package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
	"xapi_sync_backend/pkg/logger"
	"xapi_sync_backend/pkg/monitoring"
)

// LRSClient 处理器只依赖提交能力
type LRSClient interface {
	PostStatement(ctx context.Context, st *model.XAPIStatement) (string, error)
}

// BatchResult 批处理按成员分区的结果
type BatchResult struct {
	Successful []*model.XAPIStatement
	Failed     []BatchFailure
}

// BatchFailure 失败成员及其原因
type BatchFailure struct {
	Statement *model.XAPIStatement
	Err       error
}

// StatementProcessor 校验并提交 statement，广播处理状态与课程进度
type StatementProcessor struct {
	lrs         LRSClient
	validator   *StatementValidator
	maxAttempts int

	totalAttempts atomic.Int64
	processed     atomic.Int64
	failed        atomic.Int64

	mu                sync.Mutex
	updateObservers   []func(model.StatementUpdate)
	progressObservers []func(model.ProgressUpdate)
}

func NewStatementProcessor(lrs LRSClient, validator *StatementValidator, maxAttempts int) *StatementProcessor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &StatementProcessor{
		lrs:         lrs,
		validator:   validator,
		maxAttempts: maxAttempts,
	}
}

// ProcessStatement 校验 → 提交 → 广播。校验失败不触达 LRS
func (p *StatementProcessor) ProcessStatement(ctx context.Context, st *model.XAPIStatement) error {
	p.broadcastUpdate(st, model.ProcessingInProgress, "")

	if result := p.validator.ValidateStatement(st); !result.IsValid {
		err := fmt.Errorf("%w: %v", util.ErrInvalidStatement, result.Errors)
		p.failed.Add(1)
		monitoring.StatementsFailed.Inc()
		p.broadcastUpdate(st, model.ProcessingFailed, err.Error())
		return err
	}

	p.totalAttempts.Add(1)
	if _, err := p.lrs.PostStatement(ctx, st); err != nil {
		p.failed.Add(1)
		monitoring.StatementsFailed.Inc()
		p.broadcastUpdate(st, model.ProcessingFailed, err.Error())
		return err
	}

	p.processed.Add(1)
	monitoring.StatementsSynced.Inc()
	p.broadcastUpdate(st, model.ProcessingProcessed, "")
	p.emitProgress(st)
	return nil
}

// ProcessBatch 去重后逐条独立处理：单条失败不影响其余成员，
// 结果按成功/失败分区返回
func (p *StatementProcessor) ProcessBatch(ctx context.Context, statements []*model.XAPIStatement) *BatchResult {
	statements = p.DeduplicateStatements(statements)

	result := &BatchResult{}
	for _, st := range statements {
		if err := p.ProcessStatement(ctx, st); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Statement: st, Err: err})
			continue
		}
		result.Successful = append(result.Successful, st)
	}
	return result
}

// ProcessWithRetry 连续重试，不做退避延迟。退避由同步管理器的失败重试路径负责。
// 超过上限返回 ErrMaxRetriesExceeded，原始错误挂在链上
func (p *StatementProcessor) ProcessWithRetry(ctx context.Context, st *model.XAPIStatement) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = p.ProcessStatement(ctx, st)
		if lastErr == nil {
			return nil
		}

		// 校验错误重试不会变好
		if isValidationError(lastErr) {
			return lastErr
		}

		logger.Log.Debug("statement submission failed, retrying",
			zap.String("statementId", st.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return fmt.Errorf("%w: %v", util.ErrMaxRetriesExceeded, lastErr)
}

// ProcessQueue 把内存队列按批排空。单批失败继续下一批
func (p *StatementProcessor) ProcessQueue(ctx context.Context, queue *StatementQueue, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 10
	}

	var processedTotal int
	var firstErr error
	for {
		if ctx.Err() != nil {
			return processedTotal, ctx.Err()
		}

		batch := queue.DequeueBatch(batchSize)
		if len(batch) == 0 {
			break
		}

		res := p.ProcessBatch(ctx, batch)
		processedTotal += len(res.Successful)
		if firstErr == nil && len(res.Failed) > 0 {
			firstErr = res.Failed[0].Err
		}
	}
	return processedTotal, firstErr
}

// DeduplicateStatements 按 ID 去重，保留首次出现
func (p *StatementProcessor) DeduplicateStatements(statements []*model.XAPIStatement) []*model.XAPIStatement {
	seen := make(map[string]bool, len(statements))
	out := make([]*model.XAPIStatement, 0, len(statements))
	for _, st := range statements {
		if st.ID != "" && seen[st.ID] {
			continue
		}
		seen[st.ID] = true
		out = append(out, st)
	}
	return out
}

// TotalAttempts 提交 LRS 的总次数 (含重试)
func (p *StatementProcessor) TotalAttempts() int64 {
	return p.totalAttempts.Load()
}

func (p *StatementProcessor) ProcessedCount() int64 {
	return p.processed.Load()
}

func (p *StatementProcessor) FailedCount() int64 {
	return p.failed.Load()
}

// OnStatementUpdate 注册处理状态观察者
func (p *StatementProcessor) OnStatementUpdate(fn func(model.StatementUpdate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateObservers = append(p.updateObservers, fn)
}

// OnProgressUpdate 注册课程进度观察者
func (p *StatementProcessor) OnProgressUpdate(fn func(model.ProgressUpdate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progressObservers = append(p.progressObservers, fn)
}

func (p *StatementProcessor) broadcastUpdate(st *model.XAPIStatement, status model.ProcessingStatus, errMsg string) {
	update := model.StatementUpdate{
		Statement: st,
		Status:    status,
		Timestamp: time.Now(),
		Error:     errMsg,
	}

	p.mu.Lock()
	observers := p.updateObservers
	p.mu.Unlock()
	for _, fn := range observers {
		fn(update)
	}
}

// emitProgress completed / passed 推满进度，progressed 从扩展里取百分比
func (p *StatementProcessor) emitProgress(st *model.XAPIStatement) {
	courseID := courseIDOf(st)
	if courseID == "" {
		return
	}

	var progress float64
	switch st.Verb.ID {
	case model.VerbCompleted.ID, model.VerbPassed.ID:
		progress = 1.0
	case model.VerbProgressed.ID:
		if st.Result == nil || st.Result.Extensions == nil {
			return
		}
		raw, ok := st.Result.Extensions["https://w3id.org/xapi/cmi5/result/extensions/progress"]
		if !ok {
			return
		}
		pct, ok := raw.(float64)
		if !ok {
			return
		}
		progress = pct / 100.0
	default:
		return
	}

	update := model.ProgressUpdate{
		CourseID:  courseID,
		Progress:  progress,
		Timestamp: time.Now(),
	}

	p.mu.Lock()
	observers := p.progressObservers
	p.mu.Unlock()
	for _, fn := range observers {
		fn(update)
	}
}

func courseIDOf(st *model.XAPIStatement) string {
	if st.Context == nil || st.Context.Extensions == nil {
		return ""
	}
	if id, ok := st.Context.Extensions[model.CourseIDExtension].(string); ok {
		return id
	}
	return ""
}

func isValidationError(err error) bool {
	return errors.Is(err, util.ErrInvalidStatement)
}
