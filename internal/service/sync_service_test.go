package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/repository"
	"xapi_sync_backend/internal/util"
)

// fakeNetwork 可开关的网络探测
type fakeNetwork struct {
	mu        sync.Mutex
	available bool
	subs      []func(bool)
}

func (f *fakeNetwork) IsAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeNetwork) Subscribe(cb func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, cb)
}

func (f *fakeNetwork) set(available bool) {
	f.mu.Lock()
	f.available = available
	subs := f.subs
	f.mu.Unlock()
	for _, cb := range subs {
		cb(available)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			BatchSize:         10,
			LowPowerBatchSize: 5,
			MaxRetryAttempts:  3,
			Interval:          time.Minute,
			RetentionDays:     30,
			QueueMaxSize:      1000,
			ConflictLogSize:   100,
		},
	}
}

func newSyncFixture(t *testing.T, lrs LRSClient, online bool) (*SyncManager, *repository.StatementRepository, *fakeNetwork) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.PendingStatement{}))

	repo := repository.NewStatementRepository(db)
	processor := NewStatementProcessor(lrs, NewStatementValidator(), 3)
	net := &fakeNetwork{available: online}
	resolver := NewConflictResolver(model.StrategyLastWriteWins, 100)
	manager := NewSyncManager(testConfig(), repo, processor, resolver, net)
	return manager, repo, net
}

func TestSyncManager_InitialStateIdle(t *testing.T) {
	m, _, _ := newSyncFixture(t, &fakeLRS{}, true)
	assert.Equal(t, model.SyncStateIdle, m.State())
}

func TestSyncManager_SyncEmptyStore(t *testing.T) {
	m, _, _ := newSyncFixture(t, &fakeLRS{}, true)

	require.NoError(t, m.TriggerSync(context.Background()))

	assert.Equal(t, model.SyncStateIdle, m.State())
	assert.Equal(t, 1.0, m.Progress())
}

func TestSyncManager_SyncPendingStatements(t *testing.T) {
	lrs := &fakeLRS{}
	m, repo, _ := newSyncFixture(t, lrs, true)

	for _, id := range []string{"A", "B", "C"} {
		st := validStatement()
		st.ID = id
		_, err := repo.SaveStatement(st, model.PriorityNormal)
		require.NoError(t, err)
	}

	require.NoError(t, m.TriggerSync(context.Background()))

	synced, err := repo.SyncedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), synced)
	assert.Equal(t, 1.0, m.Progress())
	assert.Equal(t, model.SyncStateIdle, m.State())
}

func TestSyncManager_NetworkUnavailable_EntersWaiting(t *testing.T) {
	m, repo, _ := newSyncFixture(t, &fakeLRS{}, false)
	_, err := repo.SaveStatement(validStatement(), model.PriorityNormal)
	require.NoError(t, err)

	err = m.TriggerSync(context.Background())

	assert.ErrorIs(t, err, util.ErrNetworkUnavailable)
	assert.Equal(t, model.SyncStateWaiting, m.State())

	pending, _ := repo.PendingCount()
	assert.Equal(t, int64(1), pending)
}

func TestSyncManager_NetworkRestored_TriggersSync(t *testing.T) {
	lrs := &fakeLRS{}
	m, repo, net := newSyncFixture(t, lrs, false)
	_, err := repo.SaveStatement(validStatement(), model.PriorityNormal)
	require.NoError(t, err)

	net.set(true)

	require.Eventually(t, func() bool {
		synced, err := repo.SyncedCount()
		return err == nil && synced == 1
	}, 2*time.Second, 10*time.Millisecond)
	_ = m
}

// 两成一败：successRate = 2/3
func TestSyncManager_Statistics_SuccessRate(t *testing.T) {
	lrs := &fakeLRS{}
	m, repo, _ := newSyncFixture(t, lrs, true)

	for _, id := range []string{"A", "B"} {
		st := validStatement()
		st.ID = id
		_, err := repo.SaveStatement(st, model.PriorityNormal)
		require.NoError(t, err)
	}
	bad := validStatement()
	bad.ID = "C"
	bad.Verb.ID = "not an iri"
	_, err := repo.SaveStatement(bad, model.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, m.TriggerSync(context.Background()))

	stats := m.Statistics()
	assert.Equal(t, 2, stats.TotalSynced)
	assert.Equal(t, 1, stats.TotalFailed)
	assert.InDelta(t, 0.67, stats.SuccessRate, 0.01)
	assert.NotNil(t, stats.LastSyncDate)
	assert.GreaterOrEqual(t, stats.AverageSyncTime, 0.0)
}

func TestSyncManager_FailedStatementKeepsError(t *testing.T) {
	lrs := &fakeLRS{failures: 1000}
	m, repo, _ := newSyncFixture(t, lrs, true)
	_, err := repo.SaveStatement(validStatement(), model.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, m.TriggerSync(context.Background()))

	p, err := repo.GetByID("stmt-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, p.SyncStatus)
	assert.NotEmpty(t, p.LastError)
	assert.Equal(t, 1, p.RetryCount)
}

// cancelAfterLRS 首条提交成功后触发取消
type cancelAfterLRS struct {
	fakeLRS
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelAfterLRS) PostStatement(ctx context.Context, st *model.XAPIStatement) (string, error) {
	id, err := c.fakeLRS.PostStatement(ctx, st)
	if err == nil {
		c.once.Do(c.cancel)
	}
	return id, err
}

// 取消后批内未发送的记录回退 pending，不消耗重试次数
func TestSyncManager_CancelRevertsUnsentToPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lrs := &cancelAfterLRS{cancel: cancel}
	m, repo, _ := newSyncFixture(t, lrs, true)

	for _, id := range []string{"A", "B", "C"} {
		st := validStatement()
		st.ID = id
		_, err := repo.SaveStatement(st, model.PriorityNormal)
		require.NoError(t, err)
	}

	err := m.TriggerSync(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	synced, err := repo.SyncedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), synced)

	failedCount, err := repo.FailedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), failedCount)

	pending, err := repo.GetByStatus(model.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, p := range pending {
		assert.Zero(t, p.RetryCount)
		assert.Empty(t, p.LastError)
	}
}

func TestSyncManager_ConcurrentTriggerRejected(t *testing.T) {
	m, _, _ := newSyncFixture(t, &fakeLRS{}, true)

	m.mu.Lock()
	m.state = model.SyncStateSyncing
	m.mu.Unlock()

	err := m.TriggerSync(context.Background())
	assert.ErrorIs(t, err, util.ErrSyncInProgress)
}

func TestSyncManager_LowPowerModeShrinksBatch(t *testing.T) {
	m, _, _ := newSyncFixture(t, &fakeLRS{}, true)

	assert.Equal(t, 10, m.batchSize())
	m.SetLowPowerMode(true)
	assert.Equal(t, 5, m.batchSize())
	m.SetLowPowerMode(false)
	assert.Equal(t, 10, m.batchSize())
}

func TestCalculateRetryDelay_ExponentialBackoff(t *testing.T) {
	assert.Equal(t, time.Second, CalculateRetryDelay(1))
	assert.Equal(t, 2*time.Second, CalculateRetryDelay(2))
	assert.Equal(t, 4*time.Second, CalculateRetryDelay(3))
	assert.Equal(t, 8*time.Second, CalculateRetryDelay(4))
	// 0 以下按首轮处理
	assert.Equal(t, time.Second, CalculateRetryDelay(0))
}

func TestSyncManager_CleanupOldStatements(t *testing.T) {
	m, repo, _ := newSyncFixture(t, &fakeLRS{}, true)

	p, err := model.NewPendingStatement(validStatement(), model.PriorityNormal)
	require.NoError(t, err)
	oldDate := time.Now().AddDate(0, 0, -60)
	p.SyncStatus = model.SyncStatusSynced
	p.SyncedAt = &oldDate
	require.NoError(t, repo.Save(p))

	m.CleanupOldStatements()

	synced, err := repo.SyncedCount()
	require.NoError(t, err)
	assert.Equal(t, int64(0), synced)
}

func TestSyncManager_StateObserver(t *testing.T) {
	m, repo, _ := newSyncFixture(t, &fakeLRS{}, true)
	_, err := repo.SaveStatement(validStatement(), model.PriorityNormal)
	require.NoError(t, err)

	var mu sync.Mutex
	var states []model.SyncState
	m.OnStateChange(func(s model.SyncState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, m.TriggerSync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, states, 2)
	assert.Equal(t, model.SyncStateSyncing, states[0])
	assert.Equal(t, model.SyncStateIdle, states[1])
}

func TestSyncManager_ProgressReachesOne(t *testing.T) {
	m, repo, _ := newSyncFixture(t, &fakeLRS{}, true)
	for _, id := range []string{"A", "B"} {
		st := validStatement()
		st.ID = id
		_, err := repo.SaveStatement(st, model.PriorityNormal)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	var last float64
	m.OnProgress(func(p float64) {
		mu.Lock()
		last = p
		mu.Unlock()
	})

	require.NoError(t, m.TriggerSync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1.0, last)
}
