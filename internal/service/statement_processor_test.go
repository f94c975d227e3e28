package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/internal/util"
)

// fakeLRS 可编排的 LRS 客户端
type fakeLRS struct {
	mu       sync.Mutex
	calls    int
	failures int // 前 N 次调用失败
	received []*model.XAPIStatement
}

func (f *fakeLRS) PostStatement(ctx context.Context, st *model.XAPIStatement) (string, error) {
	ids, err := f.PostStatements(ctx, []*model.XAPIStatement{st})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (f *fakeLRS) PostStatements(ctx context.Context, statements []*model.XAPIStatement) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection refused")
	}
	f.received = append(f.received, statements...)
	ids := make([]string, len(statements))
	for i, st := range statements {
		ids[i] = st.ID
	}
	return ids, nil
}

func (f *fakeLRS) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestProcessor(lrs *fakeLRS, maxAttempts int) *StatementProcessor {
	return NewStatementProcessor(lrs, NewStatementValidator(), maxAttempts)
}

func TestProcessor_ProcessStatement(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	err := p.ProcessStatement(context.Background(), validStatement())

	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ProcessedCount())
	assert.Equal(t, int64(1), p.TotalAttempts())
	assert.Len(t, lrs.received, 1)
}

func TestProcessor_InvalidStatementNeverReachesLRS(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	st := validStatement()
	st.Actor.Mbox = ""
	err := p.ProcessStatement(context.Background(), st)

	assert.ErrorIs(t, err, util.ErrInvalidStatement)
	assert.Equal(t, 0, lrs.callCount())
	assert.Equal(t, int64(1), p.FailedCount())
}

func TestProcessor_ProcessWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	lrs := &fakeLRS{failures: 2}
	p := newTestProcessor(lrs, 3)

	err := p.ProcessWithRetry(context.Background(), validStatement())

	require.NoError(t, err)
	assert.Equal(t, 3, lrs.callCount())
	assert.Equal(t, int64(3), p.TotalAttempts())
}

func TestProcessor_ProcessWithRetry_ExhaustsAttempts(t *testing.T) {
	lrs := &fakeLRS{failures: 100}
	p := newTestProcessor(lrs, 3)

	err := p.ProcessWithRetry(context.Background(), validStatement())

	assert.ErrorIs(t, err, util.ErrMaxRetriesExceeded)
	assert.Equal(t, 3, lrs.callCount())
}

// 重试是立即的，退避只属于同步管理器的失败重试路径
func TestProcessor_ProcessWithRetry_NoDelayBetweenAttempts(t *testing.T) {
	lrs := &fakeLRS{failures: 100}
	p := newTestProcessor(lrs, 3)

	start := time.Now()
	_ = p.ProcessWithRetry(context.Background(), validStatement())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProcessor_ProcessWithRetry_ValidationErrorNotRetried(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	st := validStatement()
	st.Verb.ID = "bad"
	err := p.ProcessWithRetry(context.Background(), st)

	assert.ErrorIs(t, err, util.ErrInvalidStatement)
	assert.Equal(t, 0, lrs.callCount())
}

func TestProcessor_ProcessBatch_Deduplicates(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	a := validStatement()
	dup := validStatement() // same ID as a
	res := p.ProcessBatch(context.Background(), []*model.XAPIStatement{a, dup})

	assert.Len(t, res.Successful, 1)
	assert.Empty(t, res.Failed)
	assert.Len(t, lrs.received, 1)
}

func TestProcessor_ProcessBatch_SkipsInvalid(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	good := validStatement()
	bad := validStatement()
	bad.ID = "stmt-bad"
	bad.Actor.Mbox = ""

	res := p.ProcessBatch(context.Background(), []*model.XAPIStatement{good, bad})

	require.Len(t, res.Successful, 1)
	require.Len(t, res.Failed, 1)
	assert.Same(t, bad, res.Failed[0].Statement)
	assert.ErrorIs(t, res.Failed[0].Err, util.ErrInvalidStatement)
	require.Len(t, lrs.received, 1)
	assert.Equal(t, good.ID, lrs.received[0].ID)
	assert.Equal(t, int64(1), p.FailedCount())
}

// 单条传输失败不影响批内其余成员
func TestProcessor_ProcessBatch_PartialTransportFailure(t *testing.T) {
	lrs := &fakeLRS{failures: 1}
	p := newTestProcessor(lrs, 3)

	a := validStatement()
	b := validStatement()
	b.ID = "stmt-2"

	res := p.ProcessBatch(context.Background(), []*model.XAPIStatement{a, b})

	require.Len(t, res.Failed, 1)
	assert.Same(t, a, res.Failed[0].Statement)
	require.Len(t, res.Successful, 1)
	assert.Same(t, b, res.Successful[0])
	require.Len(t, lrs.received, 1)
	assert.Equal(t, "stmt-2", lrs.received[0].ID)
}

func TestProcessor_DeduplicateStatements_KeepsFirst(t *testing.T) {
	p := newTestProcessor(&fakeLRS{}, 3)

	a := stmt("A")
	b := stmt("B")
	a2 := stmt("A")
	out := p.DeduplicateStatements([]*model.XAPIStatement{a, b, a2})

	require.Len(t, out, 2)
	assert.Same(t, a, out[0])
	assert.Same(t, b, out[1])
}

func TestProcessor_ProcessQueue(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)
	q := NewStatementQueue(0)

	for _, id := range []string{"A", "B", "C"} {
		st := validStatement()
		st.ID = id
		q.Enqueue(st, model.PriorityNormal)
	}

	processed, err := p.ProcessQueue(context.Background(), q, 2)

	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.True(t, q.IsEmpty())
}

func TestProcessor_StatementUpdateObserver(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	var mu sync.Mutex
	var statuses []model.ProcessingStatus
	p.OnStatementUpdate(func(u model.StatementUpdate) {
		mu.Lock()
		statuses = append(statuses, u.Status)
		mu.Unlock()
	})

	require.NoError(t, p.ProcessStatement(context.Background(), validStatement()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, statuses, 2)
	assert.Equal(t, model.ProcessingInProgress, statuses[0])
	assert.Equal(t, model.ProcessingProcessed, statuses[1])
}

func TestProcessor_CompletedStatementEmitsFullProgress(t *testing.T) {
	lrs := &fakeLRS{}
	p := newTestProcessor(lrs, 3)

	var mu sync.Mutex
	var updates []model.ProgressUpdate
	p.OnProgressUpdate(func(u model.ProgressUpdate) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})

	st := validStatement()
	st.Context = &model.XAPIContext{
		Extensions: model.Extensions{model.CourseIDExtension: "course-42"},
	}
	require.NoError(t, p.ProcessStatement(context.Background(), st))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 1)
	assert.Equal(t, "course-42", updates[0].CourseID)
	assert.Equal(t, 1.0, updates[0].Progress)
}
