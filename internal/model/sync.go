package model

import "time"

// SyncState 同步管理器的状态机
type SyncState string

const (
	SyncStateIdle    SyncState = "idle"
	SyncStateSyncing SyncState = "syncing"
	SyncStateWaiting SyncState = "waiting" // 无网络
)

// SyncStatistics 每轮同步后重新计算的聚合指标
type SyncStatistics struct {
	TotalSynced     int        `json:"totalSynced"`
	TotalFailed     int        `json:"totalFailed"`
	SuccessRate     float64    `json:"successRate"`
	LastSyncDate    *time.Time `json:"lastSyncDate,omitempty"`
	AverageSyncTime float64    `json:"averageSyncTime"` // 秒
}

// QueueEventType 队列变更通知
type QueueEventType string

const (
	QueueEventEnqueued QueueEventType = "enqueued"
	QueueEventDequeued QueueEventType = "dequeued"
	QueueEventCleared  QueueEventType = "cleared"
)

type QueueEvent struct {
	Type           QueueEventType `json:"type"`
	ResultingCount int            `json:"resultingCount"`
}

// QueueStatistics 队列的运行统计
type QueueStatistics struct {
	CurrentSize   int   `json:"currentSize"`
	HighCount     int   `json:"highCount"`
	NormalCount   int   `json:"normalCount"`
	LowCount      int   `json:"lowCount"`
	TotalEnqueued int64 `json:"totalEnqueued"`
	TotalDequeued int64 `json:"totalDequeued"`
	TotalDropped  int64 `json:"totalDropped"`
}

// ProcessingStatus statement 在处理器内的状态
type ProcessingStatus string

const (
	ProcessingQueued     ProcessingStatus = "queued"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingProcessed  ProcessingStatus = "processed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// StatementUpdate 处理状态变更事件
type StatementUpdate struct {
	Statement *XAPIStatement   `json:"statement"`
	Status    ProcessingStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Error     string           `json:"error,omitempty"`
}

// ProgressUpdate 课程进度的旁路更新
type ProgressUpdate struct {
	CourseID  string    `json:"courseId"`
	Progress  float64   `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}
