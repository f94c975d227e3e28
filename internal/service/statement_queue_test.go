package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xapi_sync_backend/internal/model"
)

func stmt(id string) *model.XAPIStatement {
	return &model.XAPIStatement{
		ID:    id,
		Actor: model.XAPIActor{Mbox: "mailto:u@lms.com"},
		Verb:  model.VerbLaunched,
		Object: model.XAPIActivity{
			ID: "https://lms.example.com/courses/" + id,
		},
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewStatementQueue(0)

	q.Enqueue(stmt("A"), model.PriorityLow)
	q.Enqueue(stmt("B"), model.PriorityHigh)
	q.Enqueue(stmt("C"), model.PriorityNormal)
	q.Enqueue(stmt("D"), model.PriorityHigh)

	// 高优先级先出，同级保持入队顺序
	assert.Equal(t, "B", q.Dequeue().ID)
	assert.Equal(t, "D", q.Dequeue().ID)
	assert.Equal(t, "C", q.Dequeue().ID)
	assert.Equal(t, "A", q.Dequeue().ID)
	assert.Nil(t, q.Dequeue())
}

func TestQueue_MaxSizeRejects(t *testing.T) {
	q := NewStatementQueue(3)

	assert.True(t, q.Enqueue(stmt("1"), model.PriorityNormal))
	assert.True(t, q.Enqueue(stmt("2"), model.PriorityNormal))
	assert.True(t, q.Enqueue(stmt("3"), model.PriorityNormal))
	assert.False(t, q.Enqueue(stmt("4"), model.PriorityHigh), "queue at capacity must reject regardless of priority")

	assert.Equal(t, 3, q.Size())
	assert.Equal(t, int64(1), q.Statistics().TotalDropped)

	// 出队腾出空间后可再入队
	q.Dequeue()
	assert.True(t, q.Enqueue(stmt("4"), model.PriorityHigh))
}

func TestQueue_DequeueBatch(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("A"), model.PriorityNormal)
	q.Enqueue(stmt("B"), model.PriorityHigh)
	q.Enqueue(stmt("C"), model.PriorityNormal)

	batch := q.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "B", batch[0].ID)
	assert.Equal(t, "A", batch[1].ID)
	assert.Equal(t, 1, q.Size())

	batch = q.DequeueBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "C", batch[0].ID)
	assert.Empty(t, q.DequeueBatch(5))
}

func TestQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("A"), model.PriorityNormal)

	assert.Equal(t, "A", q.Peek().ID)
	assert.Equal(t, 1, q.Size())
}

// PeekBatch 按出队顺序返回，但不移除
func TestQueue_PeekBatch(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("N"), model.PriorityNormal)
	q.Enqueue(stmt("H"), model.PriorityHigh)
	q.Enqueue(stmt("L"), model.PriorityLow)

	peeked := q.PeekBatch(2)
	require.Len(t, peeked, 2)
	assert.Equal(t, "H", peeked[0].ID)
	assert.Equal(t, "N", peeked[1].ID)
	assert.Equal(t, 3, q.Size())

	all := q.PeekBatch(10)
	require.Len(t, all, 3)
	assert.Equal(t, "L", all[2].ID)
	assert.Equal(t, 3, q.Size())
}

func TestQueue_EnqueueBatch_RespectsMaxSize(t *testing.T) {
	q := NewStatementQueue(2)

	accepted := q.EnqueueBatch([]*model.XAPIStatement{stmt("A"), stmt("B"), stmt("C")}, model.PriorityNormal)

	assert.Equal(t, 2, accepted)
	assert.Equal(t, 2, q.Size())
	assert.Equal(t, int64(1), q.Statistics().TotalDropped)
}

func TestQueue_Clear(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("A"), model.PriorityHigh)
	q.Enqueue(stmt("B"), model.PriorityLow)

	q.Clear()

	assert.True(t, q.IsEmpty())
	assert.Nil(t, q.Peek())
}

func TestQueue_ClearPriority(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("A"), model.PriorityHigh)
	q.Enqueue(stmt("B"), model.PriorityLow)

	q.ClearPriority(model.PriorityLow)

	assert.Equal(t, 1, q.Size())
	assert.Equal(t, "A", q.Peek().ID)
}

func TestQueue_Statistics(t *testing.T) {
	q := NewStatementQueue(0)
	q.Enqueue(stmt("A"), model.PriorityHigh)
	q.Enqueue(stmt("B"), model.PriorityNormal)
	q.Enqueue(stmt("C"), model.PriorityLow)
	q.Dequeue()

	stats := q.Statistics()
	assert.Equal(t, 2, stats.CurrentSize)
	assert.Equal(t, 0, stats.HighCount)
	assert.Equal(t, 1, stats.NormalCount)
	assert.Equal(t, 1, stats.LowCount)
	assert.Equal(t, int64(3), stats.TotalEnqueued)
	assert.Equal(t, int64(1), stats.TotalDequeued)
}

func TestQueue_SubscribeEvents(t *testing.T) {
	q := NewStatementQueue(0)

	var mu sync.Mutex
	var events []model.QueueEvent
	q.Subscribe(func(ev model.QueueEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	q.Enqueue(stmt("A"), model.PriorityNormal)
	q.Dequeue()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, model.QueueEventEnqueued, events[0].Type)
	assert.Equal(t, 1, events[0].ResultingCount)
	assert.Equal(t, model.QueueEventDequeued, events[1].Type)
	assert.Equal(t, 0, events[1].ResultingCount)
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	q := NewStatementQueue(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Enqueue(stmt("x"), model.Priority(n%3))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Size())
	assert.Len(t, q.DequeueBatch(1000), 1000)
}
