package model

import "time"

// ResolutionStrategy 重复 statement 的裁决策略
type ResolutionStrategy string

const (
	StrategyLastWriteWins  ResolutionStrategy = "lastWriteWins"
	StrategyMerge          ResolutionStrategy = "merge"
	StrategyLocalPriority  ResolutionStrategy = "localPriority"
	StrategyRemotePriority ResolutionStrategy = "remotePriority"
)

// ConflictLogEntry 审计用途，不是事实来源
type ConflictLogEntry struct {
	StatementID     string             `json:"statementId"`
	Strategy        ResolutionStrategy `json:"strategy"`
	Timestamp       time.Time          `json:"timestamp"`
	LocalTimestamp  *time.Time         `json:"localTimestamp,omitempty"`
	RemoteTimestamp *time.Time         `json:"remoteTimestamp,omitempty"`
}
