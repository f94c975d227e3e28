package repository

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
	"xapi_sync_backend/pkg/monitoring"
)

// StatementRepository pending_statements 表的持久化操作。
// 待同步数量变化时通知观察者
type StatementRepository struct {
	db *gorm.DB

	mu        sync.Mutex
	observers []func(pendingCount int64)
}

func NewStatementRepository(db *gorm.DB) *StatementRepository {
	return &StatementRepository{db: db}
}

// Save 同 ID 覆盖写入 (upsert)
func (r *StatementRepository) Save(p *model.PendingStatement) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "statement_id"}},
		UpdateAll: true,
	}).Create(p).Error
	if err != nil {
		return err
	}
	r.notifyPendingCount()
	return nil
}

// SaveStatement statement 编码后入库
func (r *StatementRepository) SaveStatement(st *model.XAPIStatement, priority model.Priority) (*model.PendingStatement, error) {
	p, err := model.NewPendingStatement(st, priority)
	if err != nil {
		return nil, err
	}
	if err := r.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// BatchSave 逐条独立入库：单条失败不影响其余。
// 返回值与输入对齐，成功位置的 error 为 nil
func (r *StatementRepository) BatchSave(statements []*model.XAPIStatement, priority model.Priority) ([]*model.PendingStatement, []error) {
	saved := make([]*model.PendingStatement, len(statements))
	errs := make([]error, len(statements))
	for i, st := range statements {
		saved[i], errs[i] = r.SaveStatement(st, priority)
	}
	return saved, errs
}

// GetByID 不存在时返回 ErrStatementNotFound
func (r *StatementRepository) GetByID(statementID string) (*model.PendingStatement, error) {
	var p model.PendingStatement
	err := r.db.Where("statement_id = ?", statementID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrStatementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPendingBatch 按优先级降序、创建时间升序取一批 pending
func (r *StatementRepository) GetPendingBatch(limit int) ([]*model.PendingStatement, error) {
	var batch []*model.PendingStatement
	err := r.db.
		Where("sync_status = ?", model.SyncStatusPending).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// GetPendingByPriority 某优先级的 pending 记录，创建时间升序
func (r *StatementRepository) GetPendingByPriority(priority model.Priority) ([]*model.PendingStatement, error) {
	var out []*model.PendingStatement
	err := r.db.
		Where("sync_status = ? AND priority = ?", model.SyncStatusPending, priority).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByStatus 某状态的全部记录
func (r *StatementRepository) GetByStatus(status model.SyncStatus) ([]*model.PendingStatement, error) {
	var out []*model.PendingStatement
	err := r.db.
		Where("sync_status = ?", status).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSyncing pending -> syncing，供同步批次独占
func (r *StatementRepository) MarkSyncing(statementIDs []string) error {
	if len(statementIDs) == 0 {
		return nil
	}
	return r.db.Model(&model.PendingStatement{}).
		Where("statement_id IN ?", statementIDs).
		Update("sync_status", model.SyncStatusSyncing).Error
}

// MarkSynced 记录成功时间并清掉错误
func (r *StatementRepository) MarkSynced(statementID string) error {
	now := time.Now()
	err := r.db.Model(&model.PendingStatement{}).
		Where("statement_id = ?", statementID).
		Updates(map[string]interface{}{
			"sync_status": model.SyncStatusSynced,
			"synced_at":   &now,
			"last_error":  "",
		}).Error
	if err != nil {
		return err
	}
	r.notifyPendingCount()
	return nil
}

// MarkFailed 累加重试计数并保留最后一次错误
func (r *StatementRepository) MarkFailed(statementID, lastError string) error {
	err := r.db.Model(&model.PendingStatement{}).
		Where("statement_id = ?", statementID).
		Updates(map[string]interface{}{
			"sync_status": model.SyncStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  lastError,
		}).Error
	if err != nil {
		return err
	}
	r.notifyPendingCount()
	return nil
}

// ResetFailedToPending 失败重试前复位，保留 retry_count
func (r *StatementRepository) ResetFailedToPending(statementID string) error {
	err := r.db.Model(&model.PendingStatement{}).
		Where("statement_id = ? AND sync_status = ?", statementID, model.SyncStatusFailed).
		Update("sync_status", model.SyncStatusPending).Error
	if err != nil {
		return err
	}
	r.notifyPendingCount()
	return nil
}

// ResetStuckSyncing 进程崩溃后把遗留的 syncing 复位成 pending
func (r *StatementRepository) ResetStuckSyncing() (int64, error) {
	result := r.db.Model(&model.PendingStatement{}).
		Where("sync_status = ?", model.SyncStatusSyncing).
		Update("sync_status", model.SyncStatusPending)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		r.notifyPendingCount()
	}
	return result.RowsAffected, nil
}

// Delete 不存在视为已删除
func (r *StatementRepository) Delete(statementID string) error {
	err := r.db.Where("statement_id = ?", statementID).
		Delete(&model.PendingStatement{}).Error
	if err != nil {
		return err
	}
	r.notifyPendingCount()
	return nil
}

// DeleteAllPending 批量清空尚未同步的记录
func (r *StatementRepository) DeleteAllPending() (int64, error) {
	result := r.db.
		Where("sync_status = ?", model.SyncStatusPending).
		Delete(&model.PendingStatement{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		r.notifyPendingCount()
	}
	return result.RowsAffected, nil
}

// DeleteOldSynced 按 synced_at 清理超过保留期的已同步记录
func (r *StatementRepository) DeleteOldSynced(olderThan time.Time) (int64, error) {
	result := r.db.
		Where("sync_status = ? AND synced_at < ?", model.SyncStatusSynced, olderThan).
		Delete(&model.PendingStatement{})
	return result.RowsAffected, result.Error
}

func (r *StatementRepository) CountByStatus(status model.SyncStatus) (int64, error) {
	var count int64
	err := r.db.Model(&model.PendingStatement{}).
		Where("sync_status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *StatementRepository) PendingCount() (int64, error) {
	return r.CountByStatus(model.SyncStatusPending)
}

func (r *StatementRepository) SyncedCount() (int64, error) {
	return r.CountByStatus(model.SyncStatusSynced)
}

func (r *StatementRepository) FailedCount() (int64, error) {
	return r.CountByStatus(model.SyncStatusFailed)
}

// GetAll 调试与导出用
func (r *StatementRepository) GetAll() ([]*model.PendingStatement, error) {
	var out []*model.PendingStatement
	err := r.db.Order("created_at ASC").Find(&out).Error
	return out, err
}

// OnPendingCountChange 注册待同步数量观察者
func (r *StatementRepository) OnPendingCountChange(fn func(pendingCount int64)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *StatementRepository) notifyPendingCount() {
	count, err := r.PendingCount()
	if err != nil {
		return
	}
	monitoring.PendingStatements.Set(float64(count))

	r.mu.Lock()
	observers := r.observers
	r.mu.Unlock()
	for _, fn := range observers {
		fn(count)
	}
}
