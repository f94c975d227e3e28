package model

import (
	"encoding/json"
	"time"

	"xapi_sync_backend/internal/util"
)

// Priority 同步优先级，数值越大越先发送
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority API 层的字符串形式。未知值按 normal 处理
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// SyncStatus statement 的同步生命周期
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// PendingStatement 离线存储里的持久化记录
type PendingStatement struct {
	StatementID   string     `gorm:"primaryKey;type:varchar(36)" json:"statementId"`
	StatementJSON string     `gorm:"type:text" json:"-"`
	Priority      Priority   `gorm:"index:idx_pending_fetch,priority:2" json:"priority"`
	SyncStatus    SyncStatus `gorm:"type:varchar(16);index:idx_pending_fetch,priority:1" json:"syncStatus"`
	RetryCount    int        `gorm:"default:0" json:"retryCount"`
	LastError     string     `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	SyncedAt      *time.Time `json:"syncedAt,omitempty"`
}

func (PendingStatement) TableName() string {
	return "pending_statements"
}

// NewPendingStatement 把 statement 编码进持久化记录。无 id 的 statement 不可保存
func NewPendingStatement(st *XAPIStatement, priority Priority) (*PendingStatement, error) {
	if st.ID == "" {
		return nil, util.ErrMissingStatementID
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return &PendingStatement{
		StatementID:   st.ID,
		StatementJSON: string(data),
		Priority:      priority,
		SyncStatus:    SyncStatusPending,
		CreatedAt:     time.Now(),
	}, nil
}

// Statement 解码持久化的 statement
func (p *PendingStatement) Statement() (*XAPIStatement, error) {
	var st XAPIStatement
	if err := json.Unmarshal([]byte(p.StatementJSON), &st); err != nil {
		return nil, err
	}
	return &st, nil
}
