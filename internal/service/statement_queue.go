package service

import (
	"sync"

	"go.uber.org/zap"

	"xapi_sync_backend/internal/model"
	"xapi_sync_backend/pkg/logger"
	"xapi_sync_backend/pkg/monitoring"
)

// StatementQueue 内存优先级队列。高优先级先出，同级 FIFO
type StatementQueue struct {
	mu      sync.Mutex
	high    []*model.XAPIStatement
	normal  []*model.XAPIStatement
	low     []*model.XAPIStatement
	maxSize int

	totalEnqueued int64
	totalDequeued int64
	totalDropped  int64

	subscribers []func(model.QueueEvent)
}

// NewStatementQueue maxSize <= 0 表示不限
func NewStatementQueue(maxSize int) *StatementQueue {
	return &StatementQueue{maxSize: maxSize}
}

// Enqueue 队列满时拒绝入队并返回 false
func (q *StatementQueue) Enqueue(st *model.XAPIStatement, priority model.Priority) bool {
	q.mu.Lock()
	if q.maxSize > 0 && q.sizeLocked() >= q.maxSize {
		q.totalDropped++
		q.mu.Unlock()
		logger.Log.Warn("statement queue full, dropping",
			zap.String("statementId", st.ID),
			zap.Int("maxSize", q.maxSize),
		)
		return false
	}

	switch priority {
	case model.PriorityHigh:
		q.high = append(q.high, st)
	case model.PriorityLow:
		q.low = append(q.low, st)
	default:
		q.normal = append(q.normal, st)
	}
	q.totalEnqueued++
	count := q.sizeLocked()
	subs := q.subscribers
	q.mu.Unlock()

	monitoring.QueueDepth.Set(float64(count))
	q.notify(subs, model.QueueEvent{Type: model.QueueEventEnqueued, ResultingCount: count})
	return true
}

// EnqueueBatch 逐条入队，返回成功条数。满后剩余条目按丢弃计
func (q *StatementQueue) EnqueueBatch(statements []*model.XAPIStatement, priority model.Priority) int {
	var accepted int
	for _, st := range statements {
		if q.Enqueue(st, priority) {
			accepted++
		}
	}
	return accepted
}

// Dequeue 取最高优先级的队首，空时返回 nil
func (q *StatementQueue) Dequeue() *model.XAPIStatement {
	q.mu.Lock()
	st := q.dequeueLocked()
	if st == nil {
		q.mu.Unlock()
		return nil
	}
	q.totalDequeued++
	count := q.sizeLocked()
	subs := q.subscribers
	q.mu.Unlock()

	monitoring.QueueDepth.Set(float64(count))
	q.notify(subs, model.QueueEvent{Type: model.QueueEventDequeued, ResultingCount: count})
	return st
}

// DequeueBatch 最多取 n 条，仍按优先级顺序
func (q *StatementQueue) DequeueBatch(n int) []*model.XAPIStatement {
	if n <= 0 {
		return nil
	}

	q.mu.Lock()
	var batch []*model.XAPIStatement
	for len(batch) < n {
		st := q.dequeueLocked()
		if st == nil {
			break
		}
		batch = append(batch, st)
	}
	q.totalDequeued += int64(len(batch))
	count := q.sizeLocked()
	subs := q.subscribers
	q.mu.Unlock()

	if len(batch) > 0 {
		monitoring.QueueDepth.Set(float64(count))
		q.notify(subs, model.QueueEvent{Type: model.QueueEventDequeued, ResultingCount: count})
	}
	return batch
}

// Peek 只看不取
func (q *StatementQueue) Peek() *model.XAPIStatement {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		return q.high[0]
	}
	if len(q.normal) > 0 {
		return q.normal[0]
	}
	if len(q.low) > 0 {
		return q.low[0]
	}
	return nil
}

// PeekBatch 按出队顺序看前 n 条，不出队
func (q *StatementQueue) PeekBatch(n int) []*model.XAPIStatement {
	if n <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.XAPIStatement, 0, n)
	for _, bucket := range [][]*model.XAPIStatement{q.high, q.normal, q.low} {
		for _, st := range bucket {
			if len(out) == n {
				return out
			}
			out = append(out, st)
		}
	}
	return out
}

func (q *StatementQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

func (q *StatementQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Clear 清空全部优先级
func (q *StatementQueue) Clear() {
	q.mu.Lock()
	q.high = nil
	q.normal = nil
	q.low = nil
	subs := q.subscribers
	q.mu.Unlock()

	monitoring.QueueDepth.Set(0)
	q.notify(subs, model.QueueEvent{Type: model.QueueEventCleared, ResultingCount: 0})
}

// ClearPriority 只清掉某一档
func (q *StatementQueue) ClearPriority(priority model.Priority) {
	q.mu.Lock()
	switch priority {
	case model.PriorityHigh:
		q.high = nil
	case model.PriorityLow:
		q.low = nil
	default:
		q.normal = nil
	}
	count := q.sizeLocked()
	subs := q.subscribers
	q.mu.Unlock()

	monitoring.QueueDepth.Set(float64(count))
	q.notify(subs, model.QueueEvent{Type: model.QueueEventCleared, ResultingCount: count})
}

func (q *StatementQueue) Statistics() model.QueueStatistics {
	q.mu.Lock()
	defer q.mu.Unlock()

	return model.QueueStatistics{
		CurrentSize:   q.sizeLocked(),
		HighCount:     len(q.high),
		NormalCount:   len(q.normal),
		LowCount:      len(q.low),
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		TotalDropped:  q.totalDropped,
	}
}

// Subscribe 注册队列事件回调。回调在锁外执行
func (q *StatementQueue) Subscribe(fn func(model.QueueEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, fn)
}

func (q *StatementQueue) sizeLocked() int {
	return len(q.high) + len(q.normal) + len(q.low)
}

func (q *StatementQueue) dequeueLocked() *model.XAPIStatement {
	if len(q.high) > 0 {
		st := q.high[0]
		q.high = q.high[1:]
		return st
	}
	if len(q.normal) > 0 {
		st := q.normal[0]
		q.normal = q.normal[1:]
		return st
	}
	if len(q.low) > 0 {
		st := q.low[0]
		q.low = q.low[1:]
		return st
	}
	return nil
}

func (q *StatementQueue) notify(subs []func(model.QueueEvent), ev model.QueueEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}
