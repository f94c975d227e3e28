package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
)

func newTestRepo(t *testing.T) *StatementRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PendingStatement{}))
	return NewStatementRepository(db)
}

func testStatement(id string) *model.XAPIStatement {
	return &model.XAPIStatement{
		ID:    id,
		Actor: model.XAPIActor{Mbox: "mailto:u@lms.com"},
		Verb:  model.VerbCompleted,
		Object: model.XAPIActivity{
			ID: "https://lms.example.com/courses/" + id,
		},
		Version: model.XAPIVersion,
	}
}

func TestRepository_SaveAndGet(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityHigh)
	require.NoError(t, err)

	p, err := repo.GetByID("stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, p.SyncStatus)
	assert.Equal(t, model.PriorityHigh, p.Priority)

	st, err := p.Statement()
	require.NoError(t, err)
	assert.Equal(t, "stmt-1", st.ID)
	assert.Equal(t, model.VerbCompleted.ID, st.Verb.ID)
}

// 无 id 的 statement 不可入库
func TestRepository_SaveStatement_MissingIDRejected(t *testing.T) {
	repo := newTestRepo(t)

	st := testStatement("")
	_, err := repo.SaveStatement(st, model.PriorityNormal)

	assert.ErrorIs(t, err, util.ErrMissingStatementID)
	count, _ := repo.PendingCount()
	assert.Equal(t, int64(0), count)
}

// 批量保存逐条独立：坏成员不影响其余
func TestRepository_BatchSave_PartialFailure(t *testing.T) {
	repo := newTestRepo(t)

	good := testStatement("stmt-1")
	bad := testStatement("")
	saved, errs := repo.BatchSave([]*model.XAPIStatement{good, bad}, model.PriorityHigh)

	require.Len(t, saved, 2)
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.Equal(t, "stmt-1", saved[0].StatementID)
	assert.ErrorIs(t, errs[1], util.ErrMissingStatementID)
	assert.Nil(t, saved[1])

	count, _ := repo.PendingCount()
	assert.Equal(t, int64(1), count)
}

func TestRepository_GetPendingByPriority(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.SaveStatement(testStatement("stmt-high"), model.PriorityHigh)
	require.NoError(t, err)
	_, err = repo.SaveStatement(testStatement("stmt-low"), model.PriorityLow)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSynced("stmt-low"))

	high, err := repo.GetPendingByPriority(model.PriorityHigh)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "stmt-high", high[0].StatementID)

	low, err := repo.GetPendingByPriority(model.PriorityLow)
	require.NoError(t, err)
	assert.Empty(t, low, "synced records are not pending")
}

// 清空只影响 pending，不碰其它状态
func TestRepository_DeleteAllPending(t *testing.T) {
	repo := newTestRepo(t)

	for i := 0; i < 3; i++ {
		_, err := repo.SaveStatement(testStatement(fmt.Sprintf("stmt-%d", i)), model.PriorityNormal)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkSynced("stmt-0"))

	deleted, err := repo.DeleteAllPending()
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	pending, _ := repo.PendingCount()
	synced, _ := repo.SyncedCount()
	assert.Equal(t, int64(0), pending)
	assert.Equal(t, int64(1), synced)
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID("missing")
	assert.ErrorIs(t, err, util.ErrStatementNotFound)
}

func TestRepository_SaveIsUpsert(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityLow)
	require.NoError(t, err)
	_, err = repo.SaveStatement(testStatement("stmt-1"), model.PriorityHigh)
	require.NoError(t, err)

	count, err := repo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	p, err := repo.GetByID("stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityHigh, p.Priority)
}

// 取批按优先级降序，同级按创建时间升序
func TestRepository_GetPendingBatch_Ordering(t *testing.T) {
	repo := newTestRepo(t)

	for i, prio := range []model.Priority{model.PriorityLow, model.PriorityHigh, model.PriorityNormal, model.PriorityHigh} {
		p, err := model.NewPendingStatement(testStatement(fmt.Sprintf("stmt-%d", i)), prio)
		require.NoError(t, err)
		p.CreatedAt = time.Date(2025, 6, 1, 10, 0, i, 0, time.UTC)
		require.NoError(t, repo.Save(p))
	}

	batch, err := repo.GetPendingBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 4)
	assert.Equal(t, "stmt-1", batch[0].StatementID)
	assert.Equal(t, "stmt-3", batch[1].StatementID)
	assert.Equal(t, "stmt-2", batch[2].StatementID)
	assert.Equal(t, "stmt-0", batch[3].StatementID)

	limited, err := repo.GetPendingBatch(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRepository_StatusTransitions(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, repo.MarkSyncing([]string{"stmt-1"}))
	p, _ := repo.GetByID("stmt-1")
	assert.Equal(t, model.SyncStatusSyncing, p.SyncStatus)

	require.NoError(t, repo.MarkSynced("stmt-1"))
	p, _ = repo.GetByID("stmt-1")
	assert.Equal(t, model.SyncStatusSynced, p.SyncStatus)
	assert.NotNil(t, p.SyncedAt)
}

func TestRepository_MarkFailed_IncrementsRetryCount(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed("stmt-1", "timeout"))
	require.NoError(t, repo.MarkFailed("stmt-1", "connection refused"))

	p, err := repo.GetByID("stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, p.SyncStatus)
	assert.Equal(t, 2, p.RetryCount)
	assert.Equal(t, "connection refused", p.LastError)
}

func TestRepository_ResetFailedToPending_KeepsRetryCount(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed("stmt-1", "timeout"))

	require.NoError(t, repo.ResetFailedToPending("stmt-1"))

	p, err := repo.GetByID("stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, p.SyncStatus)
	assert.Equal(t, 1, p.RetryCount)
}

func TestRepository_ResetStuckSyncing(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityNormal)
	require.NoError(t, err)
	_, err = repo.SaveStatement(testStatement("stmt-2"), model.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSyncing([]string{"stmt-1", "stmt-2"}))

	reset, err := repo.ResetStuckSyncing()
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)

	count, _ := repo.PendingCount()
	assert.Equal(t, int64(2), count)
}

// 保留期清理按 synced_at 判断，而不是 created_at
func TestRepository_DeleteOldSynced(t *testing.T) {
	repo := newTestRepo(t)

	old, err := model.NewPendingStatement(testStatement("stmt-old"), model.PriorityNormal)
	require.NoError(t, err)
	oldDate := time.Now().AddDate(0, 0, -40)
	old.SyncStatus = model.SyncStatusSynced
	old.SyncedAt = &oldDate
	require.NoError(t, repo.Save(old))

	recent, err := model.NewPendingStatement(testStatement("stmt-recent"), model.PriorityNormal)
	require.NoError(t, err)
	recentDate := time.Now().AddDate(0, 0, -1)
	recent.SyncStatus = model.SyncStatusSynced
	recent.SyncedAt = &recentDate
	require.NoError(t, repo.Save(recent))

	// 超期但未同步的记录不能删
	pending, err := model.NewPendingStatement(testStatement("stmt-pending"), model.PriorityNormal)
	require.NoError(t, err)
	pending.CreatedAt = time.Now().AddDate(0, 0, -40)
	require.NoError(t, repo.Save(pending))

	deleted, err := repo.DeleteOldSynced(time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetByID("stmt-old")
	assert.ErrorIs(t, err, util.ErrStatementNotFound)
	_, err = repo.GetByID("stmt-recent")
	assert.NoError(t, err)
	_, err = repo.GetByID("stmt-pending")
	assert.NoError(t, err)
}

func TestRepository_Counts(t *testing.T) {
	repo := newTestRepo(t)
	for i := 0; i < 3; i++ {
		_, err := repo.SaveStatement(testStatement(fmt.Sprintf("stmt-%d", i)), model.PriorityNormal)
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkSynced("stmt-0"))
	require.NoError(t, repo.MarkFailed("stmt-1", "x"))

	pending, _ := repo.PendingCount()
	synced, _ := repo.SyncedCount()
	failed, _ := repo.FailedCount()
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(1), synced)
	assert.Equal(t, int64(1), failed)
}

func TestRepository_PendingCountObserver(t *testing.T) {
	repo := newTestRepo(t)

	var counts []int64
	repo.OnPendingCountChange(func(c int64) {
		counts = append(counts, c)
	})

	_, err := repo.SaveStatement(testStatement("stmt-1"), model.PriorityNormal)
	require.NoError(t, err)
	require.NoError(t, repo.MarkSynced("stmt-1"))

	require.Len(t, counts, 2)
	assert.Equal(t, int64(1), counts[0])
	assert.Equal(t, int64(0), counts[1])
}
