package service

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/repository"
	"xapi_sync_backend/internal/util"
	"xapi_sync_backend/pkg/logger"
	"xapi_sync_backend/pkg/monitoring"
	"xapi_sync_backend/pkg/network"
	"xapi_sync_backend/pkg/tracing"
)

// SyncManager 离线存储与远程 LRS 之间的同步状态机。
// idle → syncing → idle，无网络时停在 waiting
type SyncManager struct {
	cfg       *config.Config
	repo      *repository.StatementRepository
	processor *StatementProcessor
	resolver  *ConflictResolver
	netmon    network.Monitor

	mu           sync.Mutex
	state        model.SyncState
	progress     float64
	lowPowerMode bool
	cancelSync   context.CancelFunc

	totalSynced   int
	totalFailed   int
	lastSyncDate  *time.Time
	syncDurations []float64

	stateObservers    []func(model.SyncState)
	progressObservers []func(float64)

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewSyncManager(
	cfg *config.Config,
	repo *repository.StatementRepository,
	processor *StatementProcessor,
	resolver *ConflictResolver,
	netmon network.Monitor,
) *SyncManager {
	m := &SyncManager{
		cfg:       cfg,
		repo:      repo,
		processor: processor,
		resolver:  resolver,
		netmon:    netmon,
		state:     model.SyncStateIdle,
		stopCh:    make(chan struct{}),
	}

	// 网络恢复时自动触发一轮同步
	netmon.Subscribe(func(available bool) {
		if available {
			go m.TriggerSync(context.Background())
		} else {
			m.setState(model.SyncStateWaiting)
		}
	})

	return m
}

func (m *SyncManager) State() model.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SyncManager) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// SetLowPowerMode 低电量模式缩小批次
func (m *SyncManager) SetLowPowerMode(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowPowerMode = on
}

func (m *SyncManager) batchSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lowPowerMode {
		return m.cfg.Sync.LowPowerBatchSize
	}
	return m.cfg.Sync.BatchSize
}

// TriggerSync 同一时刻只允许一轮同步；并发触发返回 ErrSyncInProgress
func (m *SyncManager) TriggerSync(ctx context.Context) error {
	if !m.netmon.IsAvailable() {
		m.setState(model.SyncStateWaiting)
		return util.ErrNetworkUnavailable
	}

	m.mu.Lock()
	if m.state == model.SyncStateSyncing {
		m.mu.Unlock()
		return util.ErrSyncInProgress
	}
	syncCtx, cancel := context.WithCancel(ctx)
	m.cancelSync = cancel
	m.state = model.SyncStateSyncing
	m.progress = 0
	observers := m.stateObservers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(model.SyncStateSyncing)
	}

	err := m.performSync(syncCtx)
	cancel()

	if err != nil && err == util.ErrNetworkUnavailable {
		m.setState(model.SyncStateWaiting)
	} else {
		m.setState(model.SyncStateIdle)
	}
	return err
}

// CancelSync 取消进行中的一轮。批次间生效，不打断在途请求
func (m *SyncManager) CancelSync() {
	m.mu.Lock()
	cancel := m.cancelSync
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// performSync 逐批推进：每批前复查网络与取消信号
func (m *SyncManager) performSync(ctx context.Context) error {
	ctx, span := tracing.Tracer.Start(ctx, "sync.perform")
	defer span.End()

	start := time.Now()

	// 上次进程异常退出遗留的 syncing 复位
	if reset, err := m.repo.ResetStuckSyncing(); err != nil {
		logger.Log.Error("failed to reset stuck statements", zap.Error(err))
	} else if reset > 0 {
		logger.Log.Warn("reset stuck syncing statements", zap.Int64("count", reset))
	}

	total, err := m.repo.PendingCount()
	if err != nil {
		return err
	}
	if total == 0 {
		m.setProgress(1.0)
		m.recordPass(start, 0, 0)
		return nil
	}

	var synced, failed int
	var done int64

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("sync cancelled",
				zap.Int("synced", synced),
				zap.Int("failed", failed),
			)
			m.recordPass(start, synced, failed)
			return ctx.Err()
		default:
		}

		if !m.netmon.IsAvailable() {
			m.recordPass(start, synced, failed)
			return util.ErrNetworkUnavailable
		}

		batch, err := m.repo.GetPendingBatch(m.batchSize())
		if err != nil {
			m.recordPass(start, synced, failed)
			return err
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]string, len(batch))
		for i, p := range batch {
			ids[i] = p.StatementID
		}
		if err := m.repo.MarkSyncing(ids); err != nil {
			m.recordPass(start, synced, failed)
			return err
		}

		byID := make(map[string]*model.PendingStatement, len(batch))
		decoded := make([]*model.XAPIStatement, 0, len(batch))
		for _, p := range batch {
			st, err := p.Statement()
			if err != nil {
				// 损坏的记录标记失败，不阻塞批次
				_ = m.repo.MarkFailed(p.StatementID, "corrupt statement payload: "+err.Error())
				failed++
				done++
				continue
			}
			byID[p.StatementID] = p
			decoded = append(decoded, st)
		}

		// 批内同 ID 先裁决。存储主键已保证唯一，这里兜底队列绕过存储的路径
		for _, st := range m.resolver.ResolveBatch(decoded) {
			p := byID[st.ID]

			if err := m.processor.ProcessWithRetry(ctx, st); err != nil {
				// 取消不算失败：未发送的记录回退 pending，不消耗重试次数
				if ctx.Err() != nil {
					m.revertUnsent()
					m.recordPass(start, synced, failed)
					return ctx.Err()
				}
				_ = m.repo.MarkFailed(p.StatementID, err.Error())
				failed++
			} else {
				_ = m.repo.MarkSynced(p.StatementID)
				synced++
			}
			done++
			m.setProgress(float64(done) / float64(total))
		}
	}

	m.setProgress(1.0)
	m.recordPass(start, synced, failed)
	logger.Log.Info("sync pass finished",
		zap.Int("synced", synced),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// revertUnsent 把本轮标记 syncing 但尚未发送的记录回退为 pending
func (m *SyncManager) revertUnsent() {
	if reverted, err := m.repo.ResetStuckSyncing(); err != nil {
		logger.Log.Error("failed to revert unsent statements", zap.Error(err))
	} else if reverted > 0 {
		logger.Log.Info("reverted unsent statements after cancel", zap.Int64("count", reverted))
	}
}

// RetryFailedStatements 失败记录按 2^(retryCount-1) 秒退避后复位重试。
// 超过重试上限的记录跳过
func (m *SyncManager) RetryFailedStatements(ctx context.Context) (int, error) {
	failed, err := m.repo.GetByStatus(model.SyncStatusFailed)
	if err != nil {
		return 0, err
	}

	var retried int
	for _, p := range failed {
		if p.RetryCount >= m.cfg.Sync.MaxRetryAttempts {
			continue
		}

		delay := CalculateRetryDelay(p.RetryCount)
		select {
		case <-ctx.Done():
			return retried, ctx.Err()
		case <-time.After(delay):
		}

		if err := m.repo.ResetFailedToPending(p.StatementID); err != nil {
			logger.Log.Error("failed to reset statement for retry",
				zap.String("statementId", p.StatementID),
				zap.Error(err),
			)
			continue
		}
		retried++
	}

	if retried > 0 {
		return retried, m.TriggerSync(ctx)
	}
	return 0, nil
}

// CalculateRetryDelay 第 n 次重试等 2^(n-1) 秒: 1s, 2s, 4s, ...
func CalculateRetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return time.Duration(math.Pow(2, float64(retryCount-1))) * time.Second
}

// Statistics 成功率 = synced / (synced + failed)，无样本时为 0
func (m *SyncManager) Statistics() model.SyncStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := model.SyncStatistics{
		TotalSynced:  m.totalSynced,
		TotalFailed:  m.totalFailed,
		LastSyncDate: m.lastSyncDate,
	}

	if total := m.totalSynced + m.totalFailed; total > 0 {
		stats.SuccessRate = float64(m.totalSynced) / float64(total)
	}

	if len(m.syncDurations) > 0 {
		var sum float64
		for _, d := range m.syncDurations {
			sum += d
		}
		stats.AverageSyncTime = sum / float64(len(m.syncDurations))
	}

	return stats
}

// PendingCount 离线存储里待同步的数量
func (m *SyncManager) PendingCount() (int64, error) {
	return m.repo.PendingCount()
}

func (m *SyncManager) SyncedCount() (int64, error) {
	return m.repo.SyncedCount()
}

func (m *SyncManager) FailedCount() (int64, error) {
	return m.repo.FailedCount()
}

// OnStateChange 状态变更观察者
func (m *SyncManager) OnStateChange(fn func(model.SyncState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateObservers = append(m.stateObservers, fn)
}

// OnProgress 进度观察者，值域 [0, 1]
func (m *SyncManager) OnProgress(fn func(float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressObservers = append(m.progressObservers, fn)
}

// Run 周期触发同步并做保留期清理，直到 ctx 结束或 Stop
func (m *SyncManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Sync.Interval)
	defer ticker.Stop()

	// 启动即尝试一轮
	if err := m.TriggerSync(ctx); err != nil && err != util.ErrNetworkUnavailable {
		logger.Log.Warn("initial sync failed", zap.Error(err))
	}

	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.TriggerSync(ctx); err != nil {
				if err != util.ErrSyncInProgress && err != util.ErrNetworkUnavailable {
					logger.Log.Error("scheduled sync failed", zap.Error(err))
				}
			}
		case <-cleanupTicker.C:
			m.CleanupOldStatements()
		}
	}
}

// Stop 幂等停止后台循环
func (m *SyncManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.CancelSync()
}

// CleanupOldStatements 删除超过保留期的已同步记录
func (m *SyncManager) CleanupOldStatements() {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.Sync.RetentionDays)
	deleted, err := m.repo.DeleteOldSynced(cutoff)
	if err != nil {
		logger.Log.Error("retention cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Log.Info("retention cleanup",
			zap.Int64("deleted", deleted),
			zap.Int("retentionDays", m.cfg.Sync.RetentionDays),
		)
	}
}

func (m *SyncManager) setState(state model.SyncState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	observers := m.stateObservers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}

func (m *SyncManager) setProgress(p float64) {
	m.mu.Lock()
	m.progress = p
	observers := m.progressObservers
	m.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
}

func (m *SyncManager) recordPass(start time.Time, synced, failed int) {
	elapsed := time.Since(start).Seconds()
	monitoring.SyncPassDuration.Observe(elapsed)

	now := time.Now()
	m.mu.Lock()
	m.totalSynced += synced
	m.totalFailed += failed
	m.lastSyncDate = &now
	m.syncDurations = append(m.syncDurations, elapsed)
	if len(m.syncDurations) > 50 {
		m.syncDurations = m.syncDurations[len(m.syncDurations)-50:]
	}
	m.mu.Unlock()
}
